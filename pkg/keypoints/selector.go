package keypoints

import (
	"fmt"
	"math"
	"sort"

	"corrfield/internal/models"
)

// SelectorConfig holds the request-scoped parameters of the
// ablation-aware keypoint selector. The zero value is not usable;
// populate every field or start from the registration defaults.
type SelectorConfig struct {
	// Sigma is the Gaussian scale of the Förstner structure tensor.
	Sigma float64

	// CubeLength is the edge length of the non-maximum-suppression
	// window in voxels.
	CubeLength int

	// BorderDist is the width of the border band around the ablation
	// zone in dilation steps.
	BorderDist int

	// BorderDensity is the keypoint density factor applied inside the
	// border band. 1.0 reproduces the unmodified selector's count.
	BorderDensity float64
}

// Selector picks sparse keypoints from a fixed volume while excluding
// the ablation zone and compensating the information loss with a
// denser sampling in the band around it.
type Selector struct {
	cfg SelectorConfig
}

// NewSelector creates a selector with the provided configuration.
func NewSelector(cfg SelectorConfig) *Selector {
	return &Selector{cfg: cfg}
}

// Select runs the full ablation-aware selection. The unmodified grid
// non-maximum suppression runs once on the raw distinctiveness map;
// its keypoints outside the ablation zone and border band are kept
// verbatim, keypoints inside the zone are dropped, and keypoints
// inside the band set a per-cell budget for a denser re-selection:
// each CubeLength cell that received m unmodified keypoints in the
// band contributes the ceil(BorderDensity * m) highest-scoring band
// voxels instead. The valid mask and ablation mask must share the
// fixed volume's shape exactly.
//
// Guarantees: no returned keypoint lies inside the ablation mask,
// selection outside the zone and band matches the unmodified selector
// exactly, band keypoint counts are non-decreasing in BorderDensity,
// and with an all-zero ablation mask the result is identical to the
// unmodified selector on the same inputs.
//
// Returns ErrInvalidParameter for out-of-range border parameters,
// ErrShapeMismatch for disagreeing mask shapes, and ErrEmptyKeypointSet
// when nothing survives the exclusion (for example when the ablation
// zone covers the entire valid region).
func (s *Selector) Select(fixed, valid, ablation *models.Volume) ([]models.Keypoint, error) {
	if s.cfg.BorderDist <= 0 {
		return nil, fmt.Errorf("selector: borderDist must be positive, got %d: %w",
			s.cfg.BorderDist, models.ErrInvalidParameter)
	}
	if s.cfg.BorderDensity <= 0 {
		return nil, fmt.Errorf("selector: borderDensity must be positive, got %g: %w",
			s.cfg.BorderDensity, models.ErrInvalidParameter)
	}
	if s.cfg.CubeLength <= 0 {
		return nil, fmt.Errorf("selector: cubeLength must be positive, got %d: %w",
			s.cfg.CubeLength, models.ErrInvalidParameter)
	}
	if !fixed.SameShape(valid) || !fixed.SameShape(ablation) {
		return nil, fmt.Errorf("selector: fixed %dx%dx%d, valid %dx%dx%d, ablation %dx%dx%d: %w",
			fixed.Width, fixed.Height, fixed.Depth,
			valid.Width, valid.Height, valid.Depth,
			ablation.Width, ablation.Height, ablation.Depth,
			models.ErrShapeMismatch)
	}

	score, err := DistinctivenessMap(fixed, s.cfg.Sigma)
	if err != nil {
		return nil, err
	}

	band, err := BorderBand(ablation, s.cfg.BorderDist)
	if err != nil {
		return nil, err
	}

	base := s.SelectBase(score, valid)

	selected := make([]bool, len(score.Data))
	budget := make(map[int]int)
	for _, k := range base {
		i := score.Index(k.X, k.Y, k.Z)
		switch {
		case ablation.Data[i] != 0:
			// dropped: inside the ablation zone
		case band.Data[i] != 0:
			budget[s.cellIndex(k.X, k.Y, k.Z, score.Width, score.Height)]++
		default:
			selected[i] = true
		}
	}
	s.fillBandCells(score, valid, ablation, band, budget, selected)

	var kpts []models.Keypoint
	for z := 0; z < score.Depth; z++ {
		for y := 0; y < score.Height; y++ {
			for x := 0; x < score.Width; x++ {
				if selected[score.Index(x, y, z)] {
					kpts = append(kpts, models.Keypoint{X: x, Y: y, Z: z})
				}
			}
		}
	}
	if len(kpts) == 0 {
		return nil, fmt.Errorf("selector: no keypoint survived ablation exclusion: %w",
			models.ErrEmptyKeypointSet)
	}
	return kpts, nil
}

type bandCandidate struct {
	score float64
	index int
}

// fillBandCells re-selects keypoints inside the border band cell by
// cell. A cell whose budget holds m unmodified keypoints contributes
// its ceil(BorderDensity * m) highest-scoring valid band voxels, ties
// broken by scan order. Cells that received no unmodified keypoint
// stay empty, so the band count scales with BorderDensity against the
// unmodified baseline.
func (s *Selector) fillBandCells(score, valid, ablation, band *models.Volume, budget map[int]int, selected []bool) {
	if len(budget) == 0 {
		return
	}

	candidates := make(map[int][]bandCandidate)
	for z := 0; z < score.Depth; z++ {
		for y := 0; y < score.Height; y++ {
			for x := 0; x < score.Width; x++ {
				i := score.Index(x, y, z)
				if band.Data[i] == 0 || valid.Data[i] == 0 || ablation.Data[i] != 0 {
					continue
				}
				if score.Data[i] <= 0 {
					continue
				}
				c := s.cellIndex(x, y, z, score.Width, score.Height)
				if budget[c] == 0 {
					continue
				}
				candidates[c] = append(candidates[c], bandCandidate{score: score.Data[i], index: i})
			}
		}
	}

	for c, m := range budget {
		cands := candidates[c]
		sort.Slice(cands, func(a, b int) bool {
			if cands[a].score != cands[b].score {
				return cands[a].score > cands[b].score
			}
			return cands[a].index < cands[b].index
		})
		take := int(math.Ceil(s.cfg.BorderDensity * float64(m)))
		if take > len(cands) {
			take = len(cands)
		}
		for j := 0; j < take; j++ {
			selected[cands[j].index] = true
		}
	}
}

// cellIndex maps a voxel to its CubeLength grid cell.
func (s *Selector) cellIndex(x, y, z, w, h int) int {
	n := s.cfg.CubeLength
	cw := (w + n - 1) / n
	ch := (h + n - 1) / n
	return (z/n*ch+y/n)*cw + x/n
}

// SelectBase performs the unmodified grid non-maximum suppression: a
// voxel becomes a keypoint when its score is positive, equals the
// maximum over the surrounding cube, and the valid mask allows it.
// Keypoints are emitted in deterministic z, y, x scan order.
func (s *Selector) SelectBase(score, valid *models.Volume) []models.Keypoint {
	w, h, d := score.Width, score.Height, score.Depth
	radius := s.cfg.CubeLength / 2
	if radius < 1 {
		radius = 1
	}

	localMax := maxFilterAxis(score.Data, w, h, d, radius, 0)
	localMax = maxFilterAxis(localMax, w, h, d, radius, 1)
	localMax = maxFilterAxis(localMax, w, h, d, radius, 2)

	var kpts []models.Keypoint
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := score.Index(x, y, z)
				if valid.Data[i] == 0 {
					continue
				}
				v := score.Data[i]
				if v > 0 && v == localMax[i] {
					kpts = append(kpts, models.Keypoint{X: x, Y: y, Z: z})
				}
			}
		}
	}
	return kpts
}
