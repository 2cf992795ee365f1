// Package registration orchestrates ablation-aware deformable
// registration between a pre-ablation (moving) and post-ablation
// (fixed) CT volume: ablation-aware keypoint extraction, regularized
// correspondence solving, dense field accumulation and warping.
package registration

import (
	"errors"
	"fmt"

	"corrfield/internal/models"
	"corrfield/pkg/keypoints"
	"corrfield/pkg/mind"
	"corrfield/pkg/solver"
)

// StageConfig holds the per-stage pyramid parameters.
type StageConfig struct {
	// SearchRadius is the maximum displacement search radius in voxels.
	SearchRadius int

	// CubeLength is the non-maximum-suppression cube edge for keypoint
	// extraction at this stage.
	CubeLength int

	// Quantisation is the displacement search step in voxels.
	Quantisation int

	// PatchRadius is the similarity patch half extent.
	PatchRadius int

	// Transform selects the densification model: "n" for thin plate
	// spline, "r" for rigid.
	Transform string
}

// Params holds the registration parameters. All parameters are
// request-scoped: one Params value describes exactly one registration
// run and no state survives the call.
type Params struct {
	// Alpha scales the similarity term against the regularizer.
	Alpha float64

	// Beta is the intensity weighting of the keypoint graph.
	Beta float64

	// Gamma is the soft correspondence sharpness.
	Gamma float64

	// Delta is the MIND descriptor neighbourhood step in voxels.
	Delta int

	// Lambda is the thin-plate-spline regularization weight.
	Lambda float64

	// Sigma is the Gaussian scale of the Förstner operator.
	Sigma float64

	// Sigma1 is the Gaussian scale of the MIND descriptor.
	Sigma1 float64

	// BorderDist is the ablation border band width in dilation steps.
	BorderDist int

	// BorderDensity is the keypoint density boost inside the band.
	BorderDensity float64

	// Stages lists the coarse-to-fine pyramid stages.
	Stages []StageConfig

	// Verbose enables step-by-step progress output.
	Verbose bool
}

// Result bundles the outputs of one registration run.
type Result struct {
	// Warped is the moving volume resampled through the final field
	// onto the fixed grid.
	Warped *models.Volume

	// FixedKeypoints are the final-stage keypoint coordinates in the
	// fixed volume (voxel units).
	FixedKeypoints [][3]float64

	// MovingKeypoints are the corresponding positions in the moving
	// volume after applying the accumulated field.
	MovingKeypoints [][3]float64

	// Correspondences pairs fixed and moving keypoint coordinates.
	Correspondences []models.Correspondence

	// Field is the accumulated dense displacement field.
	Field *models.DisplacementField

	// Metrics holds post-run quality measurements between the warped
	// moving volume and the fixed volume inside the valid mask.
	Metrics ValidationMetrics
}

// Registrator runs the ablation-aware registration pipeline.
type Registrator struct {
	params *Params
}

// NewRegistrator creates a registrator instance with the provided
// parameters.
func NewRegistrator(params *Params) *Registrator {
	return &Registrator{params: params}
}

// Register performs the full registration of moving onto fixed. The
// valid mask and ablation mask must share the fixed volume's shape.
// Parameter and shape validation happens before any volume processing;
// the call either returns a complete result or an error, never a
// partial result. Inputs are not modified.
func (r *Registrator) Register(fixed, moving, valid, ablation *models.Volume) (*Result, error) {
	if err := r.validate(fixed, valid, ablation); err != nil {
		return nil, err
	}
	p := r.params

	r.logf("Compute fixed MIND features ...\n")
	mindFix, err := mind.SSC(fixed, p.Delta, p.Sigma1)
	if err != nil {
		return nil, fmt.Errorf("fixed MIND features: %w", err)
	}

	field := models.NewDisplacementField(fixed.Width, fixed.Height, fixed.Depth)

	// Resample the moving volume onto the fixed grid once up front so
	// every stage works on matching shapes. With equal shapes this is
	// the identity.
	warped := solver.Warp(moving, field)

	var kpts [][3]float64

	for i, stage := range p.Stages {
		r.logf("Stage %d/%d\n", i+1, len(p.Stages))
		r.logf("    search radius: %d\n", stage.SearchRadius)
		r.logf("      cube length: %d\n", stage.CubeLength)
		r.logf("     quantisation: %d\n", stage.Quantisation)
		r.logf("     patch radius: %d\n", stage.PatchRadius)
		r.logf("        transform: %s\n", stage.Transform)

		r.logf("    Compute moving MIND features ...\n")
		mindMov, err := mind.SSC(warped, p.Delta, p.Sigma1)
		if err != nil {
			return nil, fmt.Errorf("moving MIND features: %w", err)
		}

		selector := keypoints.NewSelector(keypoints.SelectorConfig{
			Sigma:         p.Sigma,
			CubeLength:    stage.CubeLength,
			BorderDist:    p.BorderDist,
			BorderDensity: p.BorderDensity,
		})
		selected, err := selector.Select(fixed, valid, ablation)
		if err != nil {
			return nil, fmt.Errorf("stage %d keypoint extraction: %w", i+1, err)
		}
		r.logf("    %d fixed keypoints extracted.\n", len(selected))

		kpts = make([][3]float64, len(selected))
		for j, kp := range selected {
			kpts[j] = [3]float64{float64(kp.X), float64(kp.Y), float64(kp.Z)}
		}

		sv, err := solver.New(solver.Config{
			Alpha:        p.Alpha,
			Beta:         p.Beta,
			Gamma:        p.Gamma,
			SearchRadius: stage.SearchRadius,
			Quantisation: stage.Quantisation,
			PatchRadius:  stage.PatchRadius,
		})
		if err != nil {
			return nil, err
		}

		r.logf("    Compute forward marginals ...\n")
		forward, err := sv.Marginals(kpts, fixed, mindFix, mindMov)
		if err != nil {
			return nil, err
		}
		flowF := sv.SoftFlow(forward)

		kptsMov := make([][3]float64, len(kpts))
		for j := range kpts {
			kptsMov[j] = [3]float64{
				kpts[j][0] + flowF[j].Dx,
				kpts[j][1] + flowF[j].Dy,
				kpts[j][2] + flowF[j].Dz,
			}
		}

		r.logf("    Compute symmetric backward marginals ...\n")
		backward, err := sv.Marginals(kptsMov, fixed, mindMov, mindFix)
		if err != nil {
			return nil, err
		}

		symmetric := solver.AverageMarginals(forward, solver.MirrorMarginals(backward))
		flow := sv.SoftFlow(symmetric)

		var stageField *models.DisplacementField
		if stage.Transform == "r" {
			r.logf("    Find rigid transform ...\n")
			targets := make([][3]float64, len(kpts))
			for j := range kpts {
				targets[j] = [3]float64{
					kpts[j][0] + flow[j].Dx,
					kpts[j][1] + flow[j].Dy,
					kpts[j][2] + flow[j].Dz,
				}
			}
			rigid, err := solver.RigidTransform(kpts, targets)
			if err != nil {
				return nil, err
			}
			stageField = solver.RigidDense(rigid, fixed.Width, fixed.Height, fixed.Depth)
		} else {
			r.logf("    Dense thin plate spline interpolation ...\n")
			stageField, err = solver.ThinPlateDense(kpts, flow, fixed.Width, fixed.Height, fixed.Depth, p.Lambda)
			if err != nil {
				return nil, err
			}
		}

		field.Add(stageField)
		warped = solver.Warp(moving, field)
	}

	// Final correspondences: the accumulated field sampled at the last
	// stage's keypoints.
	flows := solver.SampleField(field, kpts)
	movingKpts := make([][3]float64, len(kpts))
	correspondences := make([]models.Correspondence, len(kpts))
	for j := range kpts {
		movingKpts[j] = [3]float64{
			kpts[j][0] + flows[j].Dx,
			kpts[j][1] + flows[j].Dy,
			kpts[j][2] + flows[j].Dz,
		}
		correspondences[j] = models.Correspondence{
			FixedX: kpts[j][0], FixedY: kpts[j][1], FixedZ: kpts[j][2],
			MovingX: movingKpts[j][0], MovingY: movingKpts[j][1], MovingZ: movingKpts[j][2],
		}
	}

	r.logf("Calculating validation metrics...\n")
	metrics := calculateValidationMetrics(fixed, warped, valid)

	return &Result{
		Warped:          warped,
		FixedKeypoints:  kpts,
		MovingKeypoints: movingKpts,
		Correspondences: correspondences,
		Field:           field,
		Metrics:         metrics,
	}, nil
}

// validate checks parameters and shapes before any volume work.
func (r *Registrator) validate(fixed, valid, ablation *models.Volume) error {
	p := r.params
	if p.BorderDist <= 0 {
		return fmt.Errorf("registration: borderDist must be positive, got %d: %w",
			p.BorderDist, models.ErrInvalidParameter)
	}
	if p.BorderDensity <= 0 {
		return fmt.Errorf("registration: borderDensity must be positive, got %g: %w",
			p.BorderDensity, models.ErrInvalidParameter)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("registration: no pyramid stages configured: %w", models.ErrInvalidParameter)
	}
	for i, stage := range p.Stages {
		if stage.Transform != "n" && stage.Transform != "r" {
			return fmt.Errorf("registration: stage %d transform %q (want n or r): %w",
				i+1, stage.Transform, models.ErrInvalidParameter)
		}
		if stage.SearchRadius <= 0 || stage.Quantisation <= 0 || stage.CubeLength <= 0 {
			return fmt.Errorf("registration: stage %d parameters out of range: %w",
				i+1, models.ErrInvalidParameter)
		}
	}
	if !fixed.SameShape(valid) || !fixed.SameShape(ablation) {
		return fmt.Errorf("registration: fixed %dx%dx%d, valid mask %dx%dx%d, ablation mask %dx%dx%d: %w",
			fixed.Width, fixed.Height, fixed.Depth,
			valid.Width, valid.Height, valid.Depth,
			ablation.Width, ablation.Height, ablation.Depth,
			models.ErrShapeMismatch)
	}
	return nil
}

func (r *Registrator) logf(format string, args ...interface{}) {
	if r.params.Verbose {
		fmt.Printf(format, args...)
	}
}

// IsRecoverable reports whether a registration error is the recoverable
// empty-keypoint-set condition rather than a hard failure.
func IsRecoverable(err error) bool {
	return errors.Is(err, models.ErrEmptyKeypointSet)
}
