package keypoints

import (
	"fmt"

	"corrfield/internal/models"
)

// BorderBand computes the binary band of background voxels within
// borderDist dilation steps of the ablation zone. Each step grows the
// zone by a 3x3x3 (Chebyshev radius 1) structuring element with
// implicit zero padding at the volume boundary, so the band is exactly
// the set of non-ablation voxels whose Chebyshev distance to the zone
// is at most borderDist.
//
// The band never overlaps the ablation mask and is monotonic in
// borderDist. An empty mask yields an empty band, as does a mask
// covering the whole volume. Pure function: the input mask is not
// modified and identical inputs always produce identical bands.
func BorderBand(ablation *models.Volume, borderDist int) (*models.Volume, error) {
	if borderDist <= 0 {
		return nil, fmt.Errorf("border band: borderDist must be positive, got %d: %w",
			borderDist, models.ErrInvalidParameter)
	}

	w, h, d := ablation.Width, ablation.Height, ablation.Depth
	n := w * h * d

	grown := make([]float64, n)
	copy(grown, ablation.Data)

	for i := 0; i < borderDist; i++ {
		grown = dilate3D(grown, w, h, d)
	}

	band := models.NewVolume(w, h, d)
	band.VoxelSize = ablation.VoxelSize
	band.Affine = ablation.Affine
	for i := 0; i < n; i++ {
		if grown[i] > 0 && ablation.Data[i] == 0 {
			band.Data[i] = 1
		}
	}
	return band, nil
}

// dilate3D performs one binary dilation step with a 3x3x3 structuring
// element. Separable: a voxel is set when any neighbor within Chebyshev
// distance 1 is set, which is three 1D max passes.
func dilate3D(data []float64, width, height, depth int) []float64 {
	out := maxFilterAxis(data, width, height, depth, 1, 0)
	out = maxFilterAxis(out, width, height, depth, 1, 1)
	out = maxFilterAxis(out, width, height, depth, 1, 2)
	return out
}

// maxFilterAxis replaces each voxel with the maximum over a window of
// the given radius along one axis (0=x, 1=y, 2=z), zero-padded.
func maxFilterAxis(data []float64, width, height, depth, radius, axis int) []float64 {
	out := make([]float64, len(data))

	var lineLen, lines1, lines2 int
	switch axis {
	case 0:
		lineLen, lines1, lines2 = width, height, depth
	case 1:
		lineLen, lines1, lines2 = height, width, depth
	default:
		lineLen, lines1, lines2 = depth, width, height
	}

	index := func(p, a, b int) int {
		switch axis {
		case 0:
			return b*width*height + a*width + p
		case 1:
			return b*width*height + p*width + a
		default:
			return p*width*height + b*width + a
		}
	}

	for b := 0; b < lines2; b++ {
		for a := 0; a < lines1; a++ {
			for p := 0; p < lineLen; p++ {
				maxVal := 0.0
				lo := p - radius
				hi := p + radius
				if lo < 0 {
					lo = 0
				}
				if hi >= lineLen {
					hi = lineLen - 1
				}
				for q := lo; q <= hi; q++ {
					if v := data[index(q, a, b)]; v > maxVal {
						maxVal = v
					}
				}
				out[index(p, a, b)] = maxVal
			}
		}
	}
	return out
}
