// Package mind computes MIND-SSC (Modality Independent Neighbourhood
// Descriptor, Self-Similarity Context) feature volumes. The descriptor
// encodes, per voxel, the pattern of local self-similarities across the
// six-neighbourhood, which makes correspondence costs robust against
// the intensity shifts between pre- and post-treatment CT scans.
package mind

import (
	"fmt"
	"math"

	"corrfield/internal/models"
)

// numChannels is the number of self-similarity pairs in the SSC
// variant: the twelve edges between six-neighbourhood points at
// squared distance 2 from each other.
const numChannels = 12

// sixNeighbourhood lists the offsets of the 6-connected neighbours.
var sixNeighbourhood = [6][3]int{
	{-1, 0, 0},
	{1, 0, 0},
	{0, -1, 0},
	{0, 1, 0},
	{0, 0, -1},
	{0, 0, 1},
}

// sscPairs holds the ordered (i, j) index pairs into sixNeighbourhood
// forming the descriptor channels.
var sscPairs = buildPairs()

func buildPairs() [][2]int {
	var pairs [][2]int
	for i := 0; i < len(sixNeighbourhood); i++ {
		for j := i + 1; j < len(sixNeighbourhood); j++ {
			dx := sixNeighbourhood[i][0] - sixNeighbourhood[j][0]
			dy := sixNeighbourhood[i][1] - sixNeighbourhood[j][1]
			dz := sixNeighbourhood[i][2] - sixNeighbourhood[j][2]
			if dx*dx+dy*dy+dz*dz == 2 {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}

// Descriptor is a stack of per-voxel feature channels sharing the
// source volume's grid.
type Descriptor struct {
	Channels [][]float64
	Width    int
	Height   int
	Depth    int
}

// NumChannels returns the channel count of the descriptor.
func (d *Descriptor) NumChannels() int { return len(d.Channels) }

// At returns channel c at integer voxel (x, y, z), zero outside the
// grid.
func (d *Descriptor) At(c, x, y, z int) float64 {
	if x < 0 || x >= d.Width || y < 0 || y >= d.Height || z < 0 || z >= d.Depth {
		return 0
	}
	return d.Channels[c][z*d.Width*d.Height+y*d.Width+x]
}

// Sample returns channel c trilinearly interpolated at a sub-voxel
// position, zero-padded outside the grid.
func (d *Descriptor) Sample(c int, x, y, z float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	z0 := int(math.Floor(z))
	fx := x - float64(x0)
	fy := y - float64(y0)
	fz := z - float64(z0)

	v000 := d.At(c, x0, y0, z0)
	v100 := d.At(c, x0+1, y0, z0)
	v010 := d.At(c, x0, y0+1, z0)
	v110 := d.At(c, x0+1, y0+1, z0)
	v001 := d.At(c, x0, y0, z0+1)
	v101 := d.At(c, x0+1, y0, z0+1)
	v011 := d.At(c, x0, y0+1, z0+1)
	v111 := d.At(c, x0+1, y0+1, z0+1)

	c00 := v000*(1-fx) + v100*fx
	c10 := v010*(1-fx) + v110*fx
	c01 := v001*(1-fx) + v101*fx
	c11 := v011*(1-fx) + v111*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz
}

// SSC computes the twelve-channel MIND-SSC descriptor of a volume.
// delta is the neighbourhood step in voxels, sigma the Gaussian scale
// of the patch distance smoothing. The per-voxel channel responses are
// normalized by the channel mean (clamped against degenerate variance)
// and mapped through exp(-d), so each channel lies in (0, 1].
func SSC(vol *models.Volume, delta int, sigma float64) (*Descriptor, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("mind: delta must be positive, got %d: %w", delta, models.ErrInvalidParameter)
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("mind: sigma must be positive, got %g: %w", sigma, models.ErrInvalidParameter)
	}

	w, h, d := vol.Width, vol.Height, vol.Depth
	n := w * h * d

	desc := &Descriptor{
		Channels: make([][]float64, numChannels),
		Width:    w,
		Height:   h,
		Depth:    d,
	}

	// Patch SSD per channel: squared difference of the two shifted
	// copies, smoothed over the local patch.
	for c, pair := range sscPairs {
		o1 := sixNeighbourhood[pair[0]]
		o2 := sixNeighbourhood[pair[1]]

		diff := make([]float64, n)
		for z := 0; z < d; z++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					a := vol.At(x+o1[0]*delta, y+o1[1]*delta, z+o1[2]*delta)
					b := vol.At(x+o2[0]*delta, y+o2[1]*delta, z+o2[2]*delta)
					diff[z*w*h+y*w+x] = (a - b) * (a - b)
				}
			}
		}
		desc.Channels[c] = smoothVolume(diff, w, h, d, sigma)
	}

	// Per-voxel normalization: divide by the channel mean, clamped to
	// avoid blowing up in homogeneous regions, then exp(-d).
	globalMean := 0.0
	for _, ch := range desc.Channels {
		for _, v := range ch {
			globalMean += v
		}
	}
	globalMean /= float64(n * numChannels)
	if globalMean <= 0 {
		globalMean = 1e-6
	}
	lo := globalMean * 0.001
	hi := globalMean * 1000

	for i := 0; i < n; i++ {
		mean := 0.0
		for c := 0; c < numChannels; c++ {
			mean += desc.Channels[c][i]
		}
		mean /= numChannels
		if mean < lo {
			mean = lo
		} else if mean > hi {
			mean = hi
		}
		for c := 0; c < numChannels; c++ {
			desc.Channels[c][i] = math.Exp(-desc.Channels[c][i] / mean)
		}
	}

	return desc, nil
}

// smoothVolume applies separable Gaussian smoothing with zero padding.
func smoothVolume(data []float64, width, height, depth int, sigma float64) []float64 {
	kernel := gaussKernel(sigma)
	out := conv1D(data, width, height, depth, kernel, 0)
	out = conv1D(out, width, height, depth, kernel, 1)
	out = conv1D(out, width, height, depth, kernel, 2)
	return out
}

func gaussKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func conv1D(data []float64, width, height, depth int, kernel []float64, axis int) []float64 {
	out := make([]float64, len(data))
	radius := len(kernel) / 2

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
				sum := 0.0
				for k, wgt := range kernel {
					q := p + k - radius
					if q >= 0 && q < lineLen {
						sum += wgt * data[index(q, a, b)]
					}
				}
				out[index(p, a, b)] = sum
			}
		}
	}
	return out
}
