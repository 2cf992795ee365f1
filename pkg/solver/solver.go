// Package solver turns a sparse keypoint set into displacement
// estimates and densifies them into a per-voxel field. Per-keypoint
// costs are patch SSDs over MIND descriptor volumes evaluated on a
// quantized displacement grid; a minimum-spanning-tree belief
// propagation regularizes the costs before the soft correspondence is
// read out.
package solver

import (
	"fmt"
	"math"

	"corrfield/internal/models"
)

// Config holds the request-scoped solver parameters for one stage.
type Config struct {
	// Alpha scales the data term against the regularizer.
	Alpha float64

	// Beta is the intensity weighting of the keypoint graph edges.
	Beta float64

	// Gamma is the softmax sharpness of the soft correspondence.
	Gamma float64

	// SearchRadius is the maximum displacement in voxels (L).
	SearchRadius int

	// Quantisation is the displacement grid step in voxels (Q).
	Quantisation int

	// PatchRadius is the half extent of the similarity patch (R).
	PatchRadius int

	// KNearest is the neighbor count of the keypoint graph the
	// spanning tree is drawn from.
	KNearest int
}

// Solver computes regularized correspondence marginals for keypoint
// sets. All methods are pure functions of their inputs and the
// configuration.
type Solver struct {
	cfg Config
}

// New creates a solver for one stage configuration.
func New(cfg Config) (*Solver, error) {
	if cfg.SearchRadius <= 0 || cfg.Quantisation <= 0 || cfg.Quantisation > cfg.SearchRadius {
		return nil, fmt.Errorf("solver: search radius %d / quantisation %d out of range: %w",
			cfg.SearchRadius, cfg.Quantisation, models.ErrInvalidParameter)
	}
	if cfg.PatchRadius < 0 {
		return nil, fmt.Errorf("solver: patch radius %d out of range: %w",
			cfg.PatchRadius, models.ErrInvalidParameter)
	}
	if cfg.KNearest <= 0 {
		cfg.KNearest = 32
	}
	return &Solver{cfg: cfg}, nil
}

// Displacements returns the quantized displacement grid in a fixed
// deterministic order (z, then y, then x, each from -L to +L in steps
// of Q). The order is symmetric: entry m and entry len-1-m are exact
// negations, which the orchestrator relies on when it mirrors backward
// marginals.
func (s *Solver) Displacements() []models.Displacement {
	r := s.cfg.SearchRadius / s.cfg.Quantisation
	q := 2*r + 1
	disps := make([]models.Displacement, 0, q*q*q)
	for iz := -r; iz <= r; iz++ {
		for iy := -r; iy <= r; iy++ {
			for ix := -r; ix <= r; ix++ {
				disps = append(disps, models.Displacement{
					Dx: float64(ix * s.cfg.Quantisation),
					Dy: float64(iy * s.cfg.Quantisation),
					Dz: float64(iz * s.cfg.Quantisation),
				})
			}
		}
	}
	return disps
}

// gridSize returns the per-axis size of the displacement grid.
func (s *Solver) gridSize() int {
	return 2*(s.cfg.SearchRadius/s.cfg.Quantisation) + 1
}

// SoftFlow reads a soft correspondence out of per-keypoint marginals:
// the displacement expectation under softmax(-gamma * marginal).
func (s *Solver) SoftFlow(marginals [][]float64) []models.Displacement {
	disps := s.Displacements()
	flows := make([]models.Displacement, len(marginals))
	for k, marg := range marginals {
		minVal := math.Inf(1)
		for _, v := range marg {
			if v < minVal {
				minVal = v
			}
		}

		var sumW, sx, sy, sz float64
		for m, v := range marg {
			w := math.Exp(-s.cfg.Gamma * (v - minVal))
			sumW += w
			sx += w * disps[m].Dx
			sy += w * disps[m].Dy
			sz += w * disps[m].Dz
		}
		if sumW > 0 {
			flows[k] = models.Displacement{Dx: sx / sumW, Dy: sy / sumW, Dz: sz / sumW}
		}
	}
	return flows
}

// MirrorMarginals flips each keypoint's marginal across the
// displacement grid, mapping the cost of displacement d onto -d. Used
// to fold backward marginals into the symmetric estimate.
func MirrorMarginals(marginals [][]float64) [][]float64 {
	out := make([][]float64, len(marginals))
	for k, marg := range marginals {
		rev := make([]float64, len(marg))
		for m := range marg {
			rev[m] = marg[len(marg)-1-m]
		}
		out[k] = rev
	}
	return out
}

// AverageMarginals combines forward and mirrored backward marginals
// into the symmetric estimate.
func AverageMarginals(a, b [][]float64) [][]float64 {
	out := make([][]float64, len(a))
	for k := range a {
		avg := make([]float64, len(a[k]))
		for m := range a[k] {
			avg[m] = 0.5 * (a[k][m] + b[k][m])
		}
		out[k] = avg
	}
	return out
}
