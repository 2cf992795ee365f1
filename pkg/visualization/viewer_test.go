package visualization

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"corrfield/internal/models"
)

func gradientVolume(w, h, d int) *models.Volume {
	vol := models.NewVolume(w, h, d)
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				vol.Set(x, y, z, float64(x+y+z))
			}
		}
	}
	return vol
}

// TestExtractSliceDimensions verifies the slice geometry per axis.
func TestExtractSliceDimensions(t *testing.T) {
	viewer := NewViewer(gradientVolume(6, 7, 8))

	cases := []struct {
		axis          string
		width, height int
	}{
		{"x", 8, 7},
		{"y", 6, 8},
		{"z", 6, 7},
	}
	for _, c := range cases {
		img, err := viewer.ExtractSlice(c.axis, 2)
		if err != nil {
			t.Fatalf("axis %s: ExtractSlice failed: %v", c.axis, err)
		}
		b := img.Bounds()
		if b.Dx() != c.width || b.Dy() != c.height {
			t.Errorf("axis %s: slice %dx%d, want %dx%d", c.axis, b.Dx(), b.Dy(), c.width, c.height)
		}
	}
}

// TestExtractSliceValidation verifies rejection of bad axes and
// positions.
func TestExtractSliceValidation(t *testing.T) {
	viewer := NewViewer(gradientVolume(4, 4, 4))

	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("invalid axis accepted")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("negative position accepted")
	}
	if _, err := viewer.ExtractSlice("z", 4); err == nil {
		t.Error("out-of-range position accepted")
	}
}

// TestExtractSliceKeypointOverlay verifies that a keypoint on the
// slice plane is marked green.
func TestExtractSliceKeypointOverlay(t *testing.T) {
	viewer := NewViewer(gradientVolume(8, 8, 8))
	viewer.SetKeypoints([][3]float64{{2, 3, 4}})

	img, err := viewer.ExtractSlice("z", 4)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}

	r, g, b, _ := img.At(2, 3).RGBA()
	if !(g > r && g > b) {
		t.Errorf("keypoint pixel not green: r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}

// TestExtractSliceAblationOutline verifies that the boundary of the
// ablation mask is drawn red and its interior is not.
func TestExtractSliceAblationOutline(t *testing.T) {
	viewer := NewViewer(gradientVolume(10, 10, 10))
	mask := models.NewVolume(10, 10, 10)
	for z := 3; z <= 7; z++ {
		for y := 3; y <= 7; y++ {
			for x := 3; x <= 7; x++ {
				mask.Set(x, y, z, 1)
			}
		}
	}
	viewer.SetAblationMask(mask)

	img, err := viewer.ExtractSlice("z", 5)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}

	r, g, b, _ := img.At(3, 5).RGBA()
	if !(r > g && r > b) {
		t.Errorf("boundary pixel not red: r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}

	// Center of the cube: surrounded by mask in all six directions.
	c := img.At(5, 5).(color.RGBA)
	if c.R != c.G || c.G != c.B {
		t.Errorf("interior pixel tinted: %+v", c)
	}
}

// TestSaveSliceSequence verifies that one file per slice is written.
func TestSaveSliceSequence(t *testing.T) {
	viewer := NewViewer(gradientVolume(4, 4, 3))
	dir := filepath.Join(t.TempDir(), "slices")

	if err := viewer.SaveSliceSequence("z", dir); err != nil {
		t.Fatalf("SaveSliceSequence failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to list output dir: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d slice files, want 3", len(entries))
	}
}
