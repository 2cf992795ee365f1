package solver

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"corrfield/internal/models"
)

// ThinPlateDense interpolates sparse per-keypoint displacements into a
// dense field over the fixed grid using a 3D thin plate spline with
// kernel U(r) = r and an affine part. lambda adds Tikhonov
// regularization on the kernel weights; zero lambda interpolates the
// keypoint displacements exactly.
func ThinPlateDense(kpts [][3]float64, flows []models.Displacement, width, height, depth int, lambda float64) (*models.DisplacementField, error) {
	n := len(kpts)
	if n == 0 {
		return nil, fmt.Errorf("thin plate spline: no control points: %w", models.ErrSolverFailure)
	}
	if len(flows) != n {
		return nil, fmt.Errorf("thin plate spline: %d keypoints but %d flows: %w",
			n, len(flows), models.ErrShapeMismatch)
	}
	if lambda < 0 {
		return nil, fmt.Errorf("thin plate spline: lambda must be non-negative, got %g: %w",
			lambda, models.ErrInvalidParameter)
	}

	// System matrix [[K + lambda*I, P], [P^T, 0]] with P = [1 x y z].
	size := n + 4
	a := mat.NewDense(size, size, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			r := dist3(kpts[i], kpts[j])
			v := r
			if i == j {
				v += lambda
			}
			a.Set(i, j, v)
		}
		a.Set(i, n, 1)
		a.Set(i, n+1, kpts[i][0])
		a.Set(i, n+2, kpts[i][1])
		a.Set(i, n+3, kpts[i][2])
		a.Set(n, i, 1)
		a.Set(n+1, i, kpts[i][0])
		a.Set(n+2, i, kpts[i][1])
		a.Set(n+3, i, kpts[i][2])
	}

	b := mat.NewDense(size, 3, nil)
	for i, f := range flows {
		b.Set(i, 0, f.Dx)
		b.Set(i, 1, f.Dy)
		b.Set(i, 2, f.Dz)
	}

	var coeffs mat.Dense
	if err := coeffs.Solve(a, b); err != nil {
		return nil, fmt.Errorf("thin plate spline: singular system: %w", models.ErrSolverFailure)
	}

	field := models.NewDisplacementField(width, height, depth)

	// Dense evaluation is independent per slice; spread it over cores.
	numWorkers := runtime.NumCPU()
	if numWorkers > depth {
		numWorkers = depth
	}
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for z := worker; z < depth; z += numWorkers {
				for y := 0; y < height; y++ {
					for x := 0; x < width; x++ {
						fx := float64(x)
						fy := float64(y)
						fz := float64(z)

						var dx, dy, dz float64
						for i := 0; i < n; i++ {
							u := dist3(kpts[i], [3]float64{fx, fy, fz})
							dx += coeffs.At(i, 0) * u
							dy += coeffs.At(i, 1) * u
							dz += coeffs.At(i, 2) * u
						}
						dx += coeffs.At(n, 0) + coeffs.At(n+1, 0)*fx + coeffs.At(n+2, 0)*fy + coeffs.At(n+3, 0)*fz
						dy += coeffs.At(n, 1) + coeffs.At(n+1, 1)*fx + coeffs.At(n+2, 1)*fy + coeffs.At(n+3, 1)*fz
						dz += coeffs.At(n, 2) + coeffs.At(n+1, 2)*fx + coeffs.At(n+2, 2)*fy + coeffs.At(n+3, 2)*fz

						idx := field.Index(x, y, z)
						field.Dx[idx] = dx
						field.Dy[idx] = dy
						field.Dz[idx] = dz
					}
				}
			}
		}(w)
	}
	wg.Wait()

	return field, nil
}

func dist3(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
