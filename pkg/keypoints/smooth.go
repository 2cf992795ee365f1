package keypoints

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// gaussianKernel builds a normalized 1D Gaussian kernel truncated at
// 3 sigma (odd length).
func gaussianKernel(sigma float64) []float64 {
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

// smoothGaussian3D applies separable Gaussian smoothing with implicit
// zero padding to a volume stored in row-major order. The input is not
// modified.
func smoothGaussian3D(data []float64, width, height, depth int, sigma float64) []float64 {
	kernel := gaussianKernel(sigma)

	out := convolveAxis(data, width, height, depth, kernel, 0)
	out = convolveAxis(out, width, height, depth, kernel, 1)
	out = convolveAxis(out, width, height, depth, kernel, 2)
	return out
}

// fftConvolveThreshold is the line length above which per-line FFT
// convolution beats the direct loop for the kernels used here.
const fftConvolveThreshold = 256

// convolveAxis convolves every 1D line of the volume along the given
// axis (0=x, 1=y, 2=z) with the kernel, using zero padding. Long lines
// go through the frequency domain.
func convolveAxis(data []float64, width, height, depth int, kernel []float64, axis int) []float64 {
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

	// index computes the flat offset of position p along the axis for
	// line (a, b) in the two remaining dimensions.
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

	useFFT := lineLen >= fftConvolveThreshold && lineLen > len(kernel)

	line := make([]float64, lineLen)
	for b := 0; b < lines2; b++ {
		for a := 0; a < lines1; a++ {
			for p := 0; p < lineLen; p++ {
				line[p] = data[index(p, a, b)]
			}

			var conv []float64
			if useFFT {
				conv = fftConvolveLine(line, kernel)
			} else {
				conv = directConvolveLine(line, kernel)
			}

			for p := 0; p < lineLen; p++ {
				out[index(p, a, b)] = conv[p]
			}
		}
	}
	return out
}

// directConvolveLine performs zero-padded same-size 1D convolution.
func directConvolveLine(line, kernel []float64) []float64 {
	n := len(line)
	radius := len(kernel) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for k, w := range kernel {
			j := i + k - radius
			if j >= 0 && j < n {
				sum += w * line[j]
			}
		}
		out[i] = sum
	}
	return out
}

// fftConvolveLine performs the same zero-padded convolution through the
// frequency domain using gonum's real FFT. The line and kernel are
// zero-extended to a power-of-two length covering the full linear
// convolution so no circular wrap-around leaks back into the result.
func fftConvolveLine(line, kernel []float64) []float64 {
	n := len(line)
	radius := len(kernel) / 2

	size := 1
	for size < n+len(kernel)-1 {
		size <<= 1
	}

	fft := fourier.NewFFT(size)

	padLine := make([]float64, size)
	copy(padLine, line)
	padKernel := make([]float64, size)
	copy(padKernel, kernel)

	coeffLine := fft.Coefficients(nil, padLine)
	coeffKernel := fft.Coefficients(nil, padKernel)

	for i := range coeffLine {
		coeffLine[i] *= coeffKernel[i]
	}

	full := fft.Sequence(nil, coeffLine)

	// The linear convolution is shifted by the kernel radius; rescale by
	// the FFT length since gonum's Sequence is unnormalized.
	out := make([]float64, n)
	scale := 1.0 / float64(size)
	for i := 0; i < n; i++ {
		out[i] = full[i+radius] * scale
	}
	return out
}
