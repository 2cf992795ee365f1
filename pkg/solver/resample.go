package solver

import (
	"math"

	"corrfield/internal/models"
)

// Warp resamples the moving volume through the displacement field onto
// the fixed grid: output voxel x reads the moving volume trilinearly at
// x + field(x). A zero field therefore returns the moving volume's
// content resampled unchanged. The inputs are not modified; the output
// is a freshly allocated volume of the field's (fixed grid) shape.
func Warp(moving *models.Volume, field *models.DisplacementField) *models.Volume {
	out := models.NewVolume(field.Width, field.Height, field.Depth)
	out.VoxelSize = moving.VoxelSize
	out.Affine = moving.Affine

	for z := 0; z < field.Depth; z++ {
		for y := 0; y < field.Height; y++ {
			for x := 0; x < field.Width; x++ {
				idx := field.Index(x, y, z)
				sx := float64(x) + field.Dx[idx]
				sy := float64(y) + field.Dy[idx]
				sz := float64(z) + field.Dz[idx]
				out.Data[idx] = sampleTrilinear(moving, sx, sy, sz)
			}
		}
	}
	return out
}

// SampleField evaluates the dense field trilinearly at sub-voxel
// keypoint positions, yielding the per-keypoint displacement used for
// the final correspondence list.
func SampleField(field *models.DisplacementField, kpts [][3]float64) []models.Displacement {
	out := make([]models.Displacement, len(kpts))
	vx := &models.Volume{Data: field.Dx, Width: field.Width, Height: field.Height, Depth: field.Depth}
	vy := &models.Volume{Data: field.Dy, Width: field.Width, Height: field.Height, Depth: field.Depth}
	vz := &models.Volume{Data: field.Dz, Width: field.Width, Height: field.Height, Depth: field.Depth}
	for i, kp := range kpts {
		out[i] = models.Displacement{
			Dx: sampleTrilinear(vx, kp[0], kp[1], kp[2]),
			Dy: sampleTrilinear(vy, kp[0], kp[1], kp[2]),
			Dz: sampleTrilinear(vz, kp[0], kp[1], kp[2]),
		}
	}
	return out
}

// sampleTrilinear interpolates the volume at a sub-voxel position with
// zero padding outside the grid.
func sampleTrilinear(vol *models.Volume, x, y, z float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	z0 := int(math.Floor(z))
	fx := x - float64(x0)
	fy := y - float64(y0)
	fz := z - float64(z0)

	c00 := vol.At(x0, y0, z0)*(1-fx) + vol.At(x0+1, y0, z0)*fx
	c10 := vol.At(x0, y0+1, z0)*(1-fx) + vol.At(x0+1, y0+1, z0)*fx
	c01 := vol.At(x0, y0, z0+1)*(1-fx) + vol.At(x0+1, y0, z0+1)*fx
	c11 := vol.At(x0, y0+1, z0+1)*(1-fx) + vol.At(x0+1, y0+1, z0+1)*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz
}
