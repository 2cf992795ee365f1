package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"corrfield/internal/models"
)

// Viewer exports axis-aligned slices of a registered volume, optionally
// overlaying keypoint positions and the ablation mask outline so a run
// can be inspected without the interactive tooling.
type Viewer struct {
	// volume is the scalar volume being sliced
	volume *models.Volume

	// keypoints to overlay, in voxel coordinates; may be nil
	keypoints [][3]float64

	// ablation mask to outline; may be nil
	ablation *models.Volume

	// intensity window for display normalization
	winLo, winHi float64
}

// NewViewer creates a viewer for the volume. The display window is set
// from the volume's intensity range.
func NewViewer(volume *models.Volume) *Viewer {
	lo, hi := volume.Data[0], volume.Data[0]
	for _, v := range volume.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return &Viewer{volume: volume, winLo: lo, winHi: hi}
}

// SetKeypoints attaches keypoints to overlay on exported slices.
func (v *Viewer) SetKeypoints(kpts [][3]float64) {
	v.keypoints = kpts
}

// SetAblationMask attaches an ablation mask whose outline is drawn on
// exported slices. The mask must share the volume's shape.
func (v *Viewer) SetAblationMask(mask *models.Volume) {
	v.ablation = mask
}

// ExtractSlice extracts a 2D slice from the volume along the specified
// axis as a grayscale image with any configured overlays drawn in.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var width, height int
	var voxel func(i, j int) (int, int, int)

	switch axis {
	case "x", "X":
		if position >= v.volume.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.volume.Width)
		}
		width, height = v.volume.Depth, v.volume.Height
		voxel = func(i, j int) (int, int, int) { return position, j, i }
	case "y", "Y":
		if position >= v.volume.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.volume.Height)
		}
		width, height = v.volume.Width, v.volume.Depth
		voxel = func(i, j int) (int, int, int) { return i, position, j }
	case "z", "Z":
		if position >= v.volume.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.volume.Depth)
		}
		width, height = v.volume.Width, v.volume.Height
		voxel = func(i, j int) (int, int, int) { return i, j, position }
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	span := v.winHi - v.winLo
	if span <= 0 {
		span = 1
	}

	for j := 0; j < height; j++ {
		for i := 0; i < width; i++ {
			x, y, z := voxel(i, j)
			gray := uint8(math.Max(0, math.Min(255, (v.volume.At(x, y, z)-v.winLo)/span*255)))
			c := color.RGBA{R: gray, G: gray, B: gray, A: 255}

			// Ablation outline: mask voxels adjacent to background.
			if v.ablation != nil && v.ablation.At(x, y, z) != 0 && v.onMaskBoundary(x, y, z) {
				c = color.RGBA{R: 255, G: 64, B: 64, A: 255}
			}
			img.SetRGBA(i, j, c)
		}
	}

	if v.keypoints != nil {
		v.drawKeypoints(img, axis, position, voxel, width, height)
	}

	return img, nil
}

// onMaskBoundary reports whether an ablation voxel touches background
// in the 6-neighbourhood.
func (v *Viewer) onMaskBoundary(x, y, z int) bool {
	return v.ablation.At(x-1, y, z) == 0 || v.ablation.At(x+1, y, z) == 0 ||
		v.ablation.At(x, y-1, z) == 0 || v.ablation.At(x, y+1, z) == 0 ||
		v.ablation.At(x, y, z-1) == 0 || v.ablation.At(x, y, z+1) == 0
}

// drawKeypoints marks keypoints lying within one voxel of the slice
// plane as small green crosses.
func (v *Viewer) drawKeypoints(img *image.RGBA, axis string, position int, voxel func(i, j int) (int, int, int), width, height int) {
	green := color.RGBA{R: 64, G: 255, B: 64, A: 255}

	for _, kp := range v.keypoints {
		var plane float64
		var pi, pj int
		switch axis {
		case "x", "X":
			plane = kp[0]
			pi, pj = int(math.Round(kp[2])), int(math.Round(kp[1]))
		case "y", "Y":
			plane = kp[1]
			pi, pj = int(math.Round(kp[0])), int(math.Round(kp[2]))
		default:
			plane = kp[2]
			pi, pj = int(math.Round(kp[0])), int(math.Round(kp[1]))
		}
		if math.Abs(plane-float64(position)) > 1 {
			continue
		}
		for _, off := range [][2]int{{0, 0}, {-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			ii, jj := pi+off[0], pj+off[1]
			if ii >= 0 && ii < width && jj >= 0 && jj < height {
				img.SetRGBA(ii, jj, green)
			}
		}
	}
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Width
	case "y", "Y":
		maxPos = v.volume.Height
	case "z", "Z":
		maxPos = v.volume.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
