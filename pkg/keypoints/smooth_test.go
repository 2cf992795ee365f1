package keypoints

import (
	"math"
	"math/rand"
	"testing"
)

// TestGaussianKernelProperties verifies normalization, symmetry and
// odd length of the 1D Gaussian kernel.
func TestGaussianKernelProperties(t *testing.T) {
	for _, sigma := range []float64{0.5, 1.0, 1.4, 3.0} {
		kernel := gaussianKernel(sigma)

		if len(kernel)%2 != 1 {
			t.Errorf("sigma %g: kernel length %d is even", sigma, len(kernel))
		}

		sum := 0.0
		for _, v := range kernel {
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("sigma %g: kernel sums to %v, want 1", sigma, sum)
		}

		for i := 0; i < len(kernel)/2; i++ {
			if kernel[i] != kernel[len(kernel)-1-i] {
				t.Errorf("sigma %g: kernel not symmetric at %d", sigma, i)
			}
		}
	}
}

// TestFFTConvolveMatchesDirect verifies that the frequency-domain line
// convolution agrees with the direct loop on lines long enough to take
// the FFT path.
func TestFFTConvolveMatchesDirect(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	line := make([]float64, 300)
	for i := range line {
		line[i] = rng.Float64()*2 - 1
	}
	kernel := gaussianKernel(1.4)

	direct := directConvolveLine(line, kernel)
	viaFFT := fftConvolveLine(line, kernel)

	for i := range line {
		if math.Abs(direct[i]-viaFFT[i]) > 1e-9 {
			t.Fatalf("position %d: direct %v, FFT %v", i, direct[i], viaFFT[i])
		}
	}
}

// TestConvolveAxisIdentityKernel verifies that the single-tap identity
// kernel leaves the volume unchanged on every axis.
func TestConvolveAxisIdentityKernel(t *testing.T) {
	w, h, d := 5, 6, 7
	data := make([]float64, w*h*d)
	rng := rand.New(rand.NewSource(7))
	for i := range data {
		data[i] = rng.Float64()
	}
	identity := []float64{1}

	for axis := 0; axis < 3; axis++ {
		out := convolveAxis(data, w, h, d, identity, axis)
		for i := range data {
			if out[i] != data[i] {
				t.Fatalf("axis %d: value changed at index %d", axis, i)
			}
		}
	}
}

// TestSmoothGaussian3DPreservesConstant verifies that smoothing a
// constant interior stays constant away from the padded boundary.
func TestSmoothGaussian3DPreservesConstant(t *testing.T) {
	size := 20
	data := make([]float64, size*size*size)
	for i := range data {
		data[i] = 3.0
	}

	out := smoothGaussian3D(data, size, size, size, 1.0)

	margin := 4
	for z := margin; z < size-margin; z++ {
		for y := margin; y < size-margin; y++ {
			for x := margin; x < size-margin; x++ {
				v := out[z*size*size+y*size+x]
				if math.Abs(v-3.0) > 1e-12 {
					t.Fatalf("interior voxel (%d,%d,%d) drifted to %v", x, y, z, v)
				}
			}
		}
	}
}
