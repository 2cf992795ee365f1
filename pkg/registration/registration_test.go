package registration

import (
	"errors"
	"math"
	"testing"

	"corrfield/internal/models"
)

func testParams() *Params {
	return &Params{
		Alpha:         2.5,
		Beta:          150,
		Gamma:         5,
		Delta:         1,
		Lambda:        0,
		Sigma:         1.4,
		Sigma1:        1,
		BorderDist:    3,
		BorderDensity: 2.0,
		Stages: []StageConfig{
			{SearchRadius: 2, CubeLength: 3, Quantisation: 1, PatchRadius: 1, Transform: "n"},
		},
	}
}

func texturedVolume(size int) *models.Volume {
	vol := models.NewVolume(size, size, size)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				v := math.Sin(0.9*float64(x)) * math.Sin(0.8*float64(y)) * math.Sin(0.7*float64(z))
				vol.Set(x, y, z, v+1.5)
			}
		}
	}
	return vol
}

func onesVolume(size int) *models.Volume {
	vol := models.NewVolume(size, size, size)
	for i := range vol.Data {
		vol.Data[i] = 1
	}
	return vol
}

// TestRegisterValidatesParametersFirst verifies that parameter errors
// are reported before shape errors: both are wrong here and the
// parameter check must win.
func TestRegisterValidatesParametersFirst(t *testing.T) {
	params := testParams()
	params.BorderDist = 0

	fixed := texturedVolume(12)
	valid := onesVolume(12)
	mismatched := models.NewVolume(8, 12, 12)

	_, err := NewRegistrator(params).Register(fixed, fixed, valid, mismatched)
	if !errors.Is(err, models.ErrInvalidParameter) {
		t.Fatalf("got %v, want ErrInvalidParameter", err)
	}
}

// TestRegisterShapeMismatch verifies the mask shape check.
func TestRegisterShapeMismatch(t *testing.T) {
	fixed := texturedVolume(12)
	valid := onesVolume(12)
	mismatched := models.NewVolume(8, 12, 12)

	_, err := NewRegistrator(testParams()).Register(fixed, fixed, valid, mismatched)
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Fatalf("got %v, want ErrShapeMismatch", err)
	}
}

// TestRegisterValidation verifies the remaining parameter checks.
func TestRegisterValidation(t *testing.T) {
	fixed := texturedVolume(12)
	valid := onesVolume(12)
	ablation := models.NewVolume(12, 12, 12)

	mutations := []func(*Params){
		func(p *Params) { p.BorderDensity = 0 },
		func(p *Params) { p.Stages = nil },
		func(p *Params) { p.Stages[0].Transform = "x" },
		func(p *Params) { p.Stages[0].SearchRadius = 0 },
		func(p *Params) { p.Stages[0].Quantisation = 0 },
		func(p *Params) { p.Stages[0].CubeLength = 0 },
	}
	for i, mutate := range mutations {
		params := testParams()
		mutate(params)
		_, err := NewRegistrator(params).Register(fixed, fixed, valid, ablation)
		if !errors.Is(err, models.ErrInvalidParameter) {
			t.Errorf("case %d: got %v, want ErrInvalidParameter", i, err)
		}
	}
}

// TestRegisterFullAblation verifies that a mask covering the whole
// volume surfaces the recoverable empty-keypoint condition.
func TestRegisterFullAblation(t *testing.T) {
	size := 16
	fixed := texturedVolume(size)
	valid := onesVolume(size)
	ablation := onesVolume(size)

	_, err := NewRegistrator(testParams()).Register(fixed, fixed, valid, ablation)
	if !errors.Is(err, models.ErrEmptyKeypointSet) {
		t.Fatalf("got %v, want ErrEmptyKeypointSet", err)
	}
	if !IsRecoverable(err) {
		t.Error("full-ablation error should be recoverable")
	}
}

// TestRegisterSmallVolume runs the whole pipeline on a small synthetic
// pair and checks the structural guarantees of the result.
func TestRegisterSmallVolume(t *testing.T) {
	size := 20
	fixed := texturedVolume(size)
	moving := fixed.Clone()
	valid := onesVolume(size)
	ablation := models.NewVolume(size, size, size)
	for z := 8; z <= 12; z++ {
		for y := 8; y <= 12; y++ {
			for x := 8; x <= 12; x++ {
				ablation.Set(x, y, z, 1)
			}
		}
	}

	result, err := NewRegistrator(testParams()).Register(fixed, moving, valid, ablation)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !result.Warped.SameShape(fixed) {
		t.Errorf("warped shape %dx%dx%d, want fixed shape",
			result.Warped.Width, result.Warped.Height, result.Warped.Depth)
	}
	if result.Field.Width != size || result.Field.Height != size || result.Field.Depth != size {
		t.Errorf("field shape %dx%dx%d, want %dx%dx%d",
			result.Field.Width, result.Field.Height, result.Field.Depth, size, size, size)
	}

	if len(result.FixedKeypoints) == 0 {
		t.Fatal("no keypoints in result")
	}
	if len(result.MovingKeypoints) != len(result.FixedKeypoints) {
		t.Errorf("%d moving keypoints for %d fixed", len(result.MovingKeypoints), len(result.FixedKeypoints))
	}
	if len(result.Correspondences) != len(result.FixedKeypoints) {
		t.Errorf("%d correspondences for %d keypoints", len(result.Correspondences), len(result.FixedKeypoints))
	}

	for _, kp := range result.FixedKeypoints {
		if ablation.At(int(kp[0]), int(kp[1]), int(kp[2])) != 0 {
			t.Errorf("fixed keypoint %v lies inside the ablation zone", kp)
		}
	}

	for _, c := range result.Correspondences {
		for _, v := range []float64{c.FixedX, c.FixedY, c.FixedZ, c.MovingX, c.MovingY, c.MovingZ} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("correspondence %+v contains a non-finite coordinate", c)
			}
		}
	}

	for _, v := range []float64{result.Metrics.MI, result.Metrics.EntropyDiff, result.Metrics.RMSE, result.Metrics.SSIM} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite validation metric: %+v", result.Metrics)
		}
	}
}

// TestIsRecoverable classifies the error kinds.
func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(models.ErrEmptyKeypointSet) {
		t.Error("ErrEmptyKeypointSet should be recoverable")
	}
	if IsRecoverable(models.ErrShapeMismatch) {
		t.Error("ErrShapeMismatch should not be recoverable")
	}
	if IsRecoverable(nil) {
		t.Error("nil error should not be recoverable")
	}
}
