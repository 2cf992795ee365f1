package solver

import (
	"runtime"
	"sync"

	"corrfield/pkg/mind"
)

// Costs computes the data term: for every keypoint and every
// displacement on the quantized grid, the mean squared MIND descriptor
// difference between a patch around the keypoint in the source volume
// and the displaced patch in the target volume, scaled by alpha.
// Keypoints are sub-voxel positions in the fixed grid; descriptor
// values are sampled trilinearly.
func (s *Solver) Costs(kpts [][3]float64, src, dst *mind.Descriptor) [][]float64 {
	disps := s.Displacements()
	r := s.cfg.PatchRadius

	// Patch offsets with stride 2 beyond radius 2 keep the patch sum
	// tractable for the larger first-stage radii.
	stride := 1
	if r > 2 {
		stride = 2
	}
	var patch [][3]int
	for pz := -r; pz <= r; pz += stride {
		for py := -r; py <= r; py += stride {
			for px := -r; px <= r; px += stride {
				patch = append(patch, [3]int{px, py, pz})
			}
		}
	}

	norm := s.cfg.Alpha / float64(len(patch)*src.NumChannels())
	cost := make([][]float64, len(kpts))

	// Keypoints are independent; fan the outer loop across cores.
	numWorkers := runtime.NumCPU()
	if numWorkers > len(kpts) {
		numWorkers = len(kpts)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for k := worker; k < len(kpts); k += numWorkers {
				kp := kpts[k]
				row := make([]float64, len(disps))

				// Source patch is displacement independent.
				srcPatch := make([]float64, len(patch)*src.NumChannels())
				for pi, p := range patch {
					px := kp[0] + float64(p[0])
					py := kp[1] + float64(p[1])
					pz := kp[2] + float64(p[2])
					for c := 0; c < src.NumChannels(); c++ {
						srcPatch[pi*src.NumChannels()+c] = src.Sample(c, px, py, pz)
					}
				}

				for m, d := range disps {
					sum := 0.0
					for pi, p := range patch {
						px := kp[0] + float64(p[0]) + d.Dx
						py := kp[1] + float64(p[1]) + d.Dy
						pz := kp[2] + float64(p[2]) + d.Dz
						for c := 0; c < src.NumChannels(); c++ {
							diff := srcPatch[pi*src.NumChannels()+c] - dst.Sample(c, px, py, pz)
							sum += diff * diff
						}
					}
					row[m] = sum * norm
				}
				cost[k] = row
			}
		}(w)
	}
	wg.Wait()

	return cost
}
