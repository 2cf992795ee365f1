package registration

import (
	"math"
	"testing"

	"corrfield/internal/models"
)

// TestCalculateRMSE verifies the root mean square error on known
// samples.
func TestCalculateRMSE(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{1, 2, 3, 4}
	if got := calculateRMSE(x, y); got != 0 {
		t.Errorf("identical samples: RMSE %v, want 0", got)
	}

	y = []float64{2, 3, 4, 5}
	if got := calculateRMSE(x, y); math.Abs(got-1) > 1e-12 {
		t.Errorf("unit offset: RMSE %v, want 1", got)
	}
}

// TestCalculateSSIMIdentical verifies that identical samples score a
// perfect structural similarity.
func TestCalculateSSIMIdentical(t *testing.T) {
	x := []float64{0.1, 0.5, 0.9, 0.3, 0.7}
	if got := calculateSSIM(x, x); math.Abs(got-1) > 1e-12 {
		t.Errorf("SSIM of identical samples %v, want 1", got)
	}
}

// TestCalculateEntropy verifies the degenerate cases of the histogram
// entropy.
func TestCalculateEntropy(t *testing.T) {
	if got := calculateEntropy(nil); got != 0 {
		t.Errorf("empty sample: entropy %v, want 0", got)
	}
	if got := calculateEntropy([]float64{3, 3, 3}); got != 0 {
		t.Errorf("constant sample: entropy %v, want 0", got)
	}

	// Two equally filled bins carry exactly one bit.
	var bimodal []float64
	for i := 0; i < 100; i++ {
		bimodal = append(bimodal, 0, 1)
	}
	if got := calculateEntropy(bimodal); math.Abs(got-1) > 1e-12 {
		t.Errorf("bimodal sample: entropy %v, want 1", got)
	}
}

// TestValidationMetricsMaskedOnly verifies that voxels outside the
// valid mask never contribute to the metrics.
func TestValidationMetricsMaskedOnly(t *testing.T) {
	size := 4
	fixed := models.NewVolume(size, size, size)
	warped := models.NewVolume(size, size, size)
	valid := models.NewVolume(size, size, size)

	// Agree inside the mask, disagree wildly outside.
	for i := range fixed.Data {
		fixed.Data[i] = 0.5
		warped.Data[i] = 0.5
	}
	warped.Data[0] = 100
	for i := 1; i < len(valid.Data); i++ {
		valid.Data[i] = 1
	}

	metrics := calculateValidationMetrics(fixed, warped, valid)
	if metrics.RMSE != 0 {
		t.Errorf("masked RMSE %v, want 0", metrics.RMSE)
	}

	// Empty mask yields the zero value.
	empty := models.NewVolume(size, size, size)
	metrics = calculateValidationMetrics(fixed, warped, empty)
	if metrics != (ValidationMetrics{}) {
		t.Errorf("empty mask produced metrics %+v", metrics)
	}
}
