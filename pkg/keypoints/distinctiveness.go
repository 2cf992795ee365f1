// Package keypoints implements the ablation-aware sparse keypoint
// selection stage of the registration pipeline: a Förstner-operator
// distinctiveness map over the fixed volume, a morphological border
// band around the ablation zone, and a grid non-maximum-suppression
// selector that excludes the zone and boosts sampling density in the
// band.
package keypoints

import (
	"fmt"

	"corrfield/internal/models"
)

// gradFilter is the 5-tap central-difference derivative kernel used for
// all three axis gradients.
var gradFilter = []float64{1.0 / 12, -8.0 / 12, 0, 8.0 / 12, -1.0 / 12}

// minFilterExtent is the minimum volume dimension the gradient filter
// can operate on.
const minFilterExtent = 5

// DistinctivenessMap computes a per-voxel Förstner-style score for the
// volume: the local gradient covariance (structure tensor) is smoothed
// with a Gaussian of the given sigma and the score is the inverse trace
// of its inverse, which is large only where gradients are strong in
// multiple independent directions. Flat and rank-deficient (pure edge)
// neighborhoods score near zero.
//
// The result is a fresh volume of the same shape; the input is not
// modified. Returns ErrInvalidShape when any dimension of the volume is
// below the filter extent.
func DistinctivenessMap(vol *models.Volume, sigma float64) (*models.Volume, error) {
	if vol.Width < minFilterExtent || vol.Height < minFilterExtent || vol.Depth < minFilterExtent {
		return nil, fmt.Errorf("distinctiveness: %dx%dx%d volume below minimum extent %d: %w",
			vol.Width, vol.Height, vol.Depth, minFilterExtent, models.ErrInvalidShape)
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("distinctiveness: sigma must be positive, got %g: %w",
			sigma, models.ErrInvalidParameter)
	}

	w, h, d := vol.Width, vol.Height, vol.Depth
	n := w * h * d

	gx := convolveAxis(vol.Data, w, h, d, gradFilter, 0)
	gy := convolveAxis(vol.Data, w, h, d, gradFilter, 1)
	gz := convolveAxis(vol.Data, w, h, d, gradFilter, 2)

	// Six independent channels of the symmetric structure tensor.
	gxx := make([]float64, n)
	gyy := make([]float64, n)
	gzz := make([]float64, n)
	gxy := make([]float64, n)
	gxz := make([]float64, n)
	gyz := make([]float64, n)
	for i := 0; i < n; i++ {
		gxx[i] = gx[i] * gx[i]
		gyy[i] = gy[i] * gy[i]
		gzz[i] = gz[i] * gz[i]
		gxy[i] = gx[i] * gy[i]
		gxz[i] = gx[i] * gz[i]
		gyz[i] = gy[i] * gz[i]
	}

	gxx = smoothGaussian3D(gxx, w, h, d, sigma)
	gyy = smoothGaussian3D(gyy, w, h, d, sigma)
	gzz = smoothGaussian3D(gzz, w, h, d, sigma)
	gxy = smoothGaussian3D(gxy, w, h, d, sigma)
	gxz = smoothGaussian3D(gxz, w, h, d, sigma)
	gyz = smoothGaussian3D(gyz, w, h, d, sigma)

	out := models.NewVolume(w, h, d)
	out.VoxelSize = vol.VoxelSize
	out.Affine = vol.Affine

	for i := 0; i < n; i++ {
		out.Data[i] = structureTensorScore(gxx[i], gyy[i], gzz[i], gxy[i], gxz[i], gyz[i])
	}
	return out, nil
}

// structureTensorScore computes 1/trace(A^-1) for the symmetric 3x3
// tensor A. The trace of the inverse is the sum of diagonal cofactors
// over the determinant, so the score collapses to zero whenever A is
// singular or nearly so.
func structureTensorScore(axx, ayy, azz, axy, axz, ayz float64) float64 {
	det := axx*(ayy*azz-ayz*ayz) -
		axy*(axy*azz-ayz*axz) +
		axz*(axy*ayz-ayy*axz)

	// Diagonal cofactors of the adjugate: trace(A^-1) * det(A).
	cofSum := (ayy*azz - ayz*ayz) + (axx*azz - axz*axz) + (axx*ayy - axy*axy)

	const eps = 1e-12
	if det <= eps || cofSum <= eps {
		return 0
	}
	return det / cofSum
}
