package feature

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Standardizer rescales feature columns to zero mean and unit variance.
// The fitted parameters are persisted alongside each model so prediction-time
// inputs go through the exact transform the model was trained with.
type Standardizer struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitStandardizer computes per-column mean and standard deviation over the
// rows of X. Zero-variance columns get Std=0 and transform to zero instead of
// dividing by zero.
func FitStandardizer(X *mat.Dense) *Standardizer {
	n, d := X.Dims()
	s := &Standardizer{Mean: make([]float64, d), Std: make([]float64, d)}
	for j := 0; j < d; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += X.At(i, j)
		}
		mean := sum / float64(n)
		var ss float64
		for i := 0; i < n; i++ {
			diff := X.At(i, j) - mean
			ss += diff * diff
		}
		s.Mean[j] = mean
		s.Std[j] = math.Sqrt(ss / float64(n))
	}
	return s
}

// Transform standardizes a single vector in place-safe fashion.
func (s *Standardizer) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("standardizer: vector has %d columns, fitted on %d", len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		if s.Std[j] == 0 {
			out[j] = 0
			continue
		}
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

// TransformMatrix standardizes every row of X into a new matrix.
func (s *Standardizer) TransformMatrix(X *mat.Dense) (*mat.Dense, error) {
	n, d := X.Dims()
	if d != len(s.Mean) {
		return nil, fmt.Errorf("standardizer: matrix has %d columns, fitted on %d", d, len(s.Mean))
	}
	out := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		row, err := s.Transform(X.RawRowView(i))
		if err != nil {
			return nil, err
		}
		out.SetRow(i, row)
	}
	return out, nil
}

// ScalarScaler standardizes a single target column.
type ScalarScaler struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// FitScalarScaler computes mean and standard deviation of y.
func FitScalarScaler(y []float64) *ScalarScaler {
	var sum float64
	for _, v := range y {
		sum += v
	}
	mean := sum / float64(len(y))
	var ss float64
	for _, v := range y {
		diff := v - mean
		ss += diff * diff
	}
	std := math.Sqrt(ss / float64(len(y)))
	return &ScalarScaler{Mean: mean, Std: std}
}

// Transform standardizes one target value.
func (s *ScalarScaler) Transform(v float64) float64 {
	if s.Std == 0 {
		return 0
	}
	return (v - s.Mean) / s.Std
}

// Inverse maps a standardized value back to the original scale.
func (s *ScalarScaler) Inverse(v float64) float64 {
	return v*s.Scale() + s.Mean
}

// Scale reports the multiplier applied by Inverse; 1 for degenerate targets
// so predicted uncertainties stay finite.
func (s *ScalarScaler) Scale() float64 {
	if s.Std == 0 {
		return 1
	}
	return s.Std
}
