package solver

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"corrfield/internal/models"
)

// RigidTransform fits the least-squares rigid transform (rotation plus
// translation) mapping src points onto dst points, via SVD of the
// centered covariance with a reflection guard. Returns the 3x4 matrix
// [R | t].
func RigidTransform(src, dst [][3]float64) ([3][4]float64, error) {
	var out [3][4]float64
	n := len(src)
	if n < 3 || len(dst) != n {
		return out, fmt.Errorf("rigid transform: need at least 3 matched points, got %d/%d: %w",
			len(src), len(dst), models.ErrSolverFailure)
	}

	var srcMean, dstMean [3]float64
	for i := 0; i < n; i++ {
		for a := 0; a < 3; a++ {
			srcMean[a] += src[i][a]
			dstMean[a] += dst[i][a]
		}
	}
	for a := 0; a < 3; a++ {
		srcMean[a] /= float64(n)
		dstMean[a] /= float64(n)
	}

	cov := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov.Set(r, c, cov.At(r, c)+(src[i][r]-srcMean[r])*(dst[i][c]-dstMean[c]))
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDFull) {
		return out, fmt.Errorf("rigid transform: SVD failed to converge: %w", models.ErrSolverFailure)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * U^T with the reflection case folded back into a rotation.
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	for i := 0; i < 3; i++ {
		t := dstMean[i]
		for j := 0; j < 3; j++ {
			t -= out[i][j] * srcMean[j]
		}
		out[i][3] = t
	}
	return out, nil
}

// RigidDense expands a rigid transform into a dense displacement field
// over the fixed grid: the displacement at voxel x is R*x + t - x.
func RigidDense(transform [3][4]float64, width, height, depth int) *models.DisplacementField {
	field := models.NewDisplacementField(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				fx := float64(x)
				fy := float64(y)
				fz := float64(z)
				idx := field.Index(x, y, z)
				field.Dx[idx] = transform[0][0]*fx + transform[0][1]*fy + transform[0][2]*fz + transform[0][3] - fx
				field.Dy[idx] = transform[1][0]*fx + transform[1][1]*fy + transform[1][2]*fz + transform[1][3] - fy
				field.Dz[idx] = transform[2][0]*fx + transform[2][1]*fy + transform[2][2]*fz + transform[2][3] - fz
			}
		}
	}
	return field
}
