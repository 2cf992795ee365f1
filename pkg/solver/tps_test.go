package solver

import (
	"errors"
	"math"
	"testing"

	"corrfield/internal/models"
)

// TestThinPlateInterpolatesControlPoints verifies that with zero
// regularization the dense field reproduces the control displacements
// exactly at the keypoints.
func TestThinPlateInterpolatesControlPoints(t *testing.T) {
	kpts := [][3]float64{
		{1, 1, 1},
		{8, 1, 1},
		{1, 8, 1},
		{1, 1, 8},
		{8, 8, 1},
		{4, 4, 6},
	}
	flows := []models.Displacement{
		{Dx: 0.5, Dy: -0.2, Dz: 1.0},
		{Dx: -1.0, Dy: 0.4, Dz: 0.0},
		{Dx: 0.0, Dy: 1.2, Dz: -0.5},
		{Dx: 0.8, Dy: 0.0, Dz: 0.3},
		{Dx: -0.3, Dy: -0.6, Dz: 0.9},
		{Dx: 1.1, Dy: 0.7, Dz: -1.2},
	}

	field, err := ThinPlateDense(kpts, flows, 10, 10, 10, 0)
	if err != nil {
		t.Fatalf("ThinPlateDense failed: %v", err)
	}

	for i, kp := range kpts {
		idx := field.Index(int(kp[0]), int(kp[1]), int(kp[2]))
		if math.Abs(field.Dx[idx]-flows[i].Dx) > 1e-6 ||
			math.Abs(field.Dy[idx]-flows[i].Dy) > 1e-6 ||
			math.Abs(field.Dz[idx]-flows[i].Dz) > 1e-6 {
			t.Errorf("control point %d: field (%v,%v,%v), want %v",
				i, field.Dx[idx], field.Dy[idx], field.Dz[idx], flows[i])
		}
	}
}

// TestThinPlateReproducesAffineFlow verifies that affine control
// displacements extend affinely to the whole grid: the kernel weights
// vanish and only the polynomial part remains.
func TestThinPlateReproducesAffineFlow(t *testing.T) {
	kpts := [][3]float64{
		{1, 1, 1},
		{7, 1, 2},
		{2, 7, 1},
		{1, 2, 7},
		{6, 6, 6},
	}
	affine := func(x, y, z float64) models.Displacement {
		return models.Displacement{
			Dx: 0.1*x - 0.05*y + 0.2,
			Dy: 0.02*z + 0.3,
			Dz: -0.04*x + 0.01*y + 0.03*z,
		}
	}
	flows := make([]models.Displacement, len(kpts))
	for i, kp := range kpts {
		flows[i] = affine(kp[0], kp[1], kp[2])
	}

	field, err := ThinPlateDense(kpts, flows, 9, 9, 9, 0)
	if err != nil {
		t.Fatalf("ThinPlateDense failed: %v", err)
	}

	for _, p := range [][3]int{{0, 0, 0}, {4, 2, 8}, {8, 8, 8}, {3, 5, 1}} {
		idx := field.Index(p[0], p[1], p[2])
		want := affine(float64(p[0]), float64(p[1]), float64(p[2]))
		if math.Abs(field.Dx[idx]-want.Dx) > 1e-6 ||
			math.Abs(field.Dy[idx]-want.Dy) > 1e-6 ||
			math.Abs(field.Dz[idx]-want.Dz) > 1e-6 {
			t.Errorf("voxel %v: field (%v,%v,%v), want %v",
				p, field.Dx[idx], field.Dy[idx], field.Dz[idx], want)
		}
	}
}

// TestThinPlateValidation verifies the input checks.
func TestThinPlateValidation(t *testing.T) {
	kpts := [][3]float64{{1, 1, 1}, {2, 2, 2}}
	flows := []models.Displacement{{Dx: 1}}

	if _, err := ThinPlateDense(nil, nil, 4, 4, 4, 0); !errors.Is(err, models.ErrSolverFailure) {
		t.Errorf("empty control set: got %v, want ErrSolverFailure", err)
	}
	if _, err := ThinPlateDense(kpts, flows, 4, 4, 4, 0); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("mismatched flows: got %v, want ErrShapeMismatch", err)
	}
	flows = append(flows, models.Displacement{})
	if _, err := ThinPlateDense(kpts, flows, 4, 4, 4, -1); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("negative lambda: got %v, want ErrInvalidParameter", err)
	}
}

// TestRigidTransformRecovery verifies recovery of a known rotation and
// translation from exact point pairs.
func TestRigidTransformRecovery(t *testing.T) {
	angle := math.Pi / 6
	cosA, sinA := math.Cos(angle), math.Sin(angle)
	want := [3][4]float64{
		{cosA, -sinA, 0, 1.0},
		{sinA, cosA, 0, 2.0},
		{0, 0, 1, 3.0},
	}

	src := [][3]float64{
		{0, 0, 0}, {5, 0, 0}, {0, 5, 0}, {0, 0, 5}, {3, 2, 1}, {1, 4, 2},
	}
	dst := make([][3]float64, len(src))
	for i, p := range src {
		for r := 0; r < 3; r++ {
			dst[i][r] = want[r][0]*p[0] + want[r][1]*p[1] + want[r][2]*p[2] + want[r][3]
		}
	}

	got, err := RigidTransform(src, dst)
	if err != nil {
		t.Fatalf("RigidTransform failed: %v", err)
	}

	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(got[r][c]-want[r][c]) > 1e-9 {
				t.Errorf("entry (%d,%d): got %v, want %v", r, c, got[r][c], want[r][c])
			}
		}
	}
}

// TestRigidTransformTooFewPoints verifies the minimum point count.
func TestRigidTransformTooFewPoints(t *testing.T) {
	pts := [][3]float64{{0, 0, 0}, {1, 1, 1}}
	if _, err := RigidTransform(pts, pts); !errors.Is(err, models.ErrSolverFailure) {
		t.Fatalf("got %v, want ErrSolverFailure", err)
	}
}

// TestRigidDenseIdentity verifies that the identity transform expands
// to the zero field.
func TestRigidDenseIdentity(t *testing.T) {
	identity := [3][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	field := RigidDense(identity, 4, 5, 6)

	for i := range field.Dx {
		if field.Dx[i] != 0 || field.Dy[i] != 0 || field.Dz[i] != 0 {
			t.Fatalf("identity transform produced displacement at index %d", i)
		}
	}
}

// TestRigidDenseTranslation verifies that a pure translation expands to
// a constant field.
func TestRigidDenseTranslation(t *testing.T) {
	translation := [3][4]float64{
		{1, 0, 0, 2},
		{0, 1, 0, -1},
		{0, 0, 1, 0.5},
	}
	field := RigidDense(translation, 4, 4, 4)

	for i := range field.Dx {
		if field.Dx[i] != 2 || field.Dy[i] != -1 || field.Dz[i] != 0.5 {
			t.Fatalf("translation field wrong at index %d: (%v,%v,%v)",
				i, field.Dx[i], field.Dy[i], field.Dz[i])
		}
	}
}
