package store

import "errors"

var (
	// ErrInvalidMeasurement indicates a physically implausible or malformed
	// measurement. Such rows are rejected at ingest and never reach training.
	ErrInvalidMeasurement = errors.New("store: invalid measurement")

	// ErrPlanNotFound indicates no testing plan exists for the given month.
	ErrPlanNotFound = errors.New("store: testing plan not found")
)
