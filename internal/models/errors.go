package models

import "errors"

// Error kinds surfaced by the registration pipeline. Components wrap
// these with %w so callers can classify failures with errors.Is.
var (
	// ErrShapeMismatch indicates that the fixed volume, valid mask and
	// ablation mask do not share the same dimensions. Fatal; checked
	// before any volume processing starts.
	ErrShapeMismatch = errors.New("volume shape mismatch")

	// ErrInvalidShape indicates a volume too small for the requested
	// filtering neighborhood.
	ErrInvalidShape = errors.New("volume smaller than filter extent")

	// ErrInvalidParameter indicates a parameter outside its documented
	// range. Parameters are never clamped silently.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrEmptyKeypointSet indicates that no keypoint survived selection,
	// which can legitimately happen when the ablation zone covers the
	// entire valid region. Recoverable at the caller's discretion.
	ErrEmptyKeypointSet = errors.New("empty keypoint set")

	// ErrSolverFailure indicates the correspondence solver could not
	// produce a displacement field. Propagated unchanged.
	ErrSolverFailure = errors.New("correspondence solver failure")
)
