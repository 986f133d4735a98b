package gp

import "math"

// Hyperparams holds the fitted kernel hyperparameters in natural space.
// The covariance combines a smooth long-range RBF component with a rougher
// short-range Matérn-3/2 component, plus independent observation noise, so
// broad regional trends and local variation are both captured.
type Hyperparams struct {
	RBFVariance       float64 `json:"rbf_variance"`
	RBFLengthScale    float64 `json:"rbf_length_scale"`
	MaternVariance    float64 `json:"matern_variance"`
	MaternLengthScale float64 `json:"matern_length_scale"`
	NoiseVariance     float64 `json:"noise_variance"`
}

const numHyper = 5

// toLog packs the hyperparameters into log space for unconstrained optimization.
func (h Hyperparams) toLog() []float64 {
	return []float64{
		math.Log(h.RBFVariance),
		math.Log(h.RBFLengthScale),
		math.Log(h.MaternVariance),
		math.Log(h.MaternLengthScale),
		math.Log(h.NoiseVariance),
	}
}

func hyperFromLog(theta []float64) Hyperparams {
	return Hyperparams{
		RBFVariance:       math.Exp(theta[0]),
		RBFLengthScale:    math.Exp(theta[1]),
		MaternVariance:    math.Exp(theta[2]),
		MaternLengthScale: math.Exp(theta[3]),
		NoiseVariance:     math.Exp(theta[4]),
	}
}

// Cov evaluates the noise-free covariance between two (standardized) feature
// vectors.
func (h Hyperparams) Cov(a, b []float64) float64 {
	var r2 float64
	for i := range a {
		d := a[i] - b[i]
		r2 += d * d
	}
	r := math.Sqrt(r2)

	rbf := h.RBFVariance * math.Exp(-r2/(2*h.RBFLengthScale*h.RBFLengthScale))

	s := math.Sqrt(3) * r / h.MaternLengthScale
	matern := h.MaternVariance * (1 + s) * math.Exp(-s)

	return rbf + matern
}

// Variance is the prior marginal variance k(x,x) without noise.
func (h Hyperparams) Variance() float64 {
	return h.RBFVariance + h.MaternVariance
}
