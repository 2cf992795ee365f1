package nifti

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"corrfield/internal/models"
)

// TestWriteReadRoundTrip verifies that a volume survives a write and
// read cycle, compressed and uncompressed.
func TestWriteReadRoundTrip(t *testing.T) {
	vol := models.NewVolume(5, 4, 3)
	for i := range vol.Data {
		vol.Data[i] = float64(i - 20)
	}
	vol.VoxelSize.X = 1.5
	vol.VoxelSize.Y = 2.0
	vol.VoxelSize.Z = 2.5
	vol.Affine = [4][4]float64{
		{1.5, 0, 0, -10},
		{0, 2.0, 0, 4},
		{0, 0, 2.5, 0},
		{0, 0, 0, 1},
	}

	for _, name := range []string{"vol.nii", "vol.nii.gz"} {
		path := filepath.Join(t.TempDir(), name)

		if err := Write(path, vol); err != nil {
			t.Fatalf("%s: Write failed: %v", name, err)
		}
		got, err := Read(path)
		if err != nil {
			t.Fatalf("%s: Read failed: %v", name, err)
		}

		if !got.SameShape(vol) {
			t.Fatalf("%s: shape %dx%dx%d, want %dx%dx%d",
				name, got.Width, got.Height, got.Depth, vol.Width, vol.Height, vol.Depth)
		}
		for i := range vol.Data {
			if got.Data[i] != vol.Data[i] {
				t.Fatalf("%s: voxel %d: got %v, want %v", name, i, got.Data[i], vol.Data[i])
			}
		}
		if got.VoxelSize != vol.VoxelSize {
			t.Errorf("%s: voxel size %+v, want %+v", name, got.VoxelSize, vol.VoxelSize)
		}
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				if math.Abs(got.Affine[r][c]-vol.Affine[r][c]) > 1e-6 {
					t.Errorf("%s: affine (%d,%d): got %v, want %v",
						name, r, c, got.Affine[r][c], vol.Affine[r][c])
				}
			}
		}
	}
}

// TestReadRejectsGarbage verifies that a non-NIfTI file is refused.
func TestReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.nii")
	junk := models.NewVolume(2, 2, 2)
	if err := Write(path, junk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Corrupt the header magic by writing plain bytes over it.
	if err := writeJunkHeader(path); err != nil {
		t.Fatalf("failed to corrupt file: %v", err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("Read accepted a corrupted file")
	}
}

// writeJunkHeader overwrites the start of the file with zeros so both
// the sizeof_hdr and magic checks fail.
func writeJunkHeader(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(make([]byte, 64), 0)
	return err
}

// TestReadMissingFile verifies the error path for a nonexistent file.
func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "missing.nii.gz")); err == nil {
		t.Fatal("Read accepted a missing file")
	}
}
