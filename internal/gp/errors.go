package gp

import "errors"

var (
	// ErrInsufficientData indicates too few validated measurements exist to
	// fit a model. Callers substitute the regional prior instead of aborting.
	ErrInsufficientData = errors.New("gp: insufficient training data")

	// ErrTrainingFailed indicates hyperparameter fitting did not converge
	// from any restart. The previously published model stays active.
	ErrTrainingFailed = errors.New("gp: hyperparameter fitting failed to converge")

	// ErrNotFitted indicates Predict was called on an unfitted model.
	ErrNotFitted = errors.New("gp: model not fitted")
)
