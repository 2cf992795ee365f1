package registration

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"corrfield/internal/models"
)

// ValidationMetrics holds registration quality metrics computed between
// the warped moving volume and the fixed volume inside the valid mask.
type ValidationMetrics struct {
	// MI approximates the mutual information between warped and fixed
	// intensities. Higher values indicate better alignment.
	MI float64

	// EntropyDiff is the difference in information content between the
	// two volumes. Lower values indicate better intensity agreement.
	EntropyDiff float64

	// RMSE is the root mean square intensity error.
	RMSE float64

	// SSIM is the structural similarity index over the masked region.
	SSIM float64
}

// calculateValidationMetrics gathers the masked intensities of both
// volumes and computes the quality metrics.
func calculateValidationMetrics(fixed, warped, valid *models.Volume) ValidationMetrics {
	var a, b []float64
	for i := range valid.Data {
		if valid.Data[i] != 0 {
			a = append(a, fixed.Data[i])
			b = append(b, warped.Data[i])
		}
	}
	if len(a) == 0 {
		return ValidationMetrics{}
	}
	return ValidationMetrics{
		MI:          calculateMutualInformation(a, b),
		EntropyDiff: math.Abs(calculateEntropy(a) - calculateEntropy(b)),
		RMSE:        calculateRMSE(a, b),
		SSIM:        calculateSSIM(a, b),
	}
}

// calculateMutualInformation computes a Gaussian approximation of the
// mutual information between two intensity samples.
func calculateMutualInformation(x, y []float64) float64 {
	varX := stat.Variance(x, nil)
	varY := stat.Variance(y, nil)
	covar := stat.Covariance(x, y, nil)

	// MI ≈ 0.5 * log(var(X) * var(Y) / (var(X) * var(Y) - cov(X,Y)²))
	if varX > 0 && varY > 0 {
		determinant := varX*varY - covar*covar
		if determinant > 0 {
			return 0.5 * math.Log(varX*varY/determinant)
		}
	}
	return 0
}

// calculateRMSE computes the root mean square error.
func calculateRMSE(x, y []float64) float64 {
	mse := 0.0
	for i := range x {
		diff := x[i] - y[i]
		mse += diff * diff
	}
	mse /= float64(len(x))
	return math.Sqrt(mse)
}

// calculateSSIM computes the Structural Similarity Index over the
// sample as a whole.
func calculateSSIM(x, y []float64) float64 {
	const L = 1.0 // dynamic range of normalized intensities
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// calculateEntropy computes the Shannon entropy of a sample over a
// 256-bin histogram.
func calculateEntropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal <= minVal {
		return 0
	}

	const numBins = 256
	hist := make([]float64, numBins)
	binWidth := (maxVal - minVal) / float64(numBins)
	for _, v := range data {
		binIdx := int((v - minVal) / binWidth)
		if binIdx >= numBins {
			binIdx = numBins - 1
		} else if binIdx < 0 {
			binIdx = 0
		}
		hist[binIdx]++
	}

	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
