package builder

import "errors"

var (
	// ErrInvalidArgument reports build options outside their valid range.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotConnected reports a required device that is missing or offline.
	ErrNotConnected = errors.New("equipment not connected")
	// ErrValidation reports input points with out-of-range coordinates.
	ErrValidation = errors.New("point validation failed")
	// ErrBuildInProgress is returned when Build is called while another build
	// is running on the same ModelBuilder.
	ErrBuildInProgress = errors.New("build already in progress")
	// ErrUnpark reports a parked mount that refused to unpark.
	ErrUnpark = errors.New("unpark failed")
	// ErrGateDisposed is returned by a concurrency gate after teardown.
	ErrGateDisposed = errors.New("concurrency gate disposed")
)
