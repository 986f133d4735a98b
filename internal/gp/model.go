package gp

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/jalsarovar/wflow/internal/feature"
)

// Prediction is the ephemeral output of a model query: a point estimate and a
// calibrated uncertainty in the parameter's original units.
type Prediction struct {
	Mean         float64   `json:"mean"`
	Std          float64   `json:"std"`
	ModelVersion string    `json:"model_version"`
	GeneratedAt  time.Time `json:"generated_at"`
	Fallback     bool      `json:"fallback"`
}

// PriorPrediction builds the conservative regional-prior fallback used when a
// parameter has too little data: the regional mean with an inflated spread.
func PriorPrediction(regionalMean, regionalStd float64) Prediction {
	return Prediction{
		Mean:        regionalMean,
		Std:         2 * regionalStd,
		GeneratedAt: time.Now().UTC(),
		Fallback:    true,
	}
}

// Model is a fitted Gaussian-Process regressor for one water-quality
// parameter. Models are immutable after fitting; the registry swaps whole
// instances atomically.
type Model struct {
	parameter string
	version   string
	trainedAt time.Time

	hyper   Hyperparams
	xScaler *feature.Standardizer
	yScaler *feature.ScalarScaler

	// Standardized training inputs and targets, retained for prediction.
	xs *mat.Dense
	ys []float64

	chol  mat.Cholesky
	alpha *mat.VecDense

	r2        float64
	warning   bool
	inflation float64

	// Site-type vocabulary the training features were encoded with. Callers
	// must rebuild their feature encoding from this list when predicting.
	siteTypes []string
}

// Parameter reports which water-quality parameter the model predicts.
func (m *Model) Parameter() string { return m.parameter }

// Version reports the model artifact version identifier.
func (m *Model) Version() string { return m.version }

// SetVersion stamps the version identifier; called once by the registry at
// publish time, before the model becomes visible to readers.
func (m *Model) SetVersion(v string) { m.version = v }

// TrainedAt reports when the model was fitted.
func (m *Model) TrainedAt() time.Time { return m.trainedAt }

// Hyper returns the fitted hyperparameters.
func (m *Model) Hyper() Hyperparams { return m.hyper }

// R2 reports the k-fold cross-validated R² attached at fit time.
func (m *Model) R2() float64 { return m.r2 }

// Warning reports whether validation fell below the configured R² floor.
// A warned model keeps serving but inflates its uncertainties.
func (m *Model) Warning() bool { return m.warning }

// Inflation reports the uncertainty multiplier applied to predictions.
func (m *Model) Inflation() float64 { return m.inflation }

// SiteTypes returns the site-type vocabulary the model was trained with.
func (m *Model) SiteTypes() []string { return m.siteTypes }

// SetSiteTypes records the site-type vocabulary used during feature
// extraction; set by the trainer before publishing.
func (m *Model) SetSiteTypes(types []string) { m.siteTypes = types }

// TrainingSize reports the number of observations the model was fitted on.
func (m *Model) TrainingSize() int {
	if m.xs == nil {
		return 0
	}
	n, _ := m.xs.Dims()
	return n
}

// NoiseFloor is the fitted observation-noise standard deviation in the
// parameter's original units.
func (m *Model) NoiseFloor() float64 {
	return math.Sqrt(m.hyper.NoiseVariance) * m.yScaler.Scale()
}

// Predict returns the posterior mean and standard deviation at the given raw
// feature vector.
func (m *Model) Predict(x []float64) (Prediction, error) {
	if m.alpha == nil {
		return Prediction{}, ErrNotFitted
	}
	xs, err := m.xScaler.Transform(x)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict %s: %w", m.parameter, err)
	}

	n, _ := m.xs.Dims()
	kstar := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		kstar.SetVec(i, m.hyper.Cov(xs, m.xs.RawRowView(i)))
	}

	meanStd := mat.Dot(kstar, m.alpha)

	var v mat.VecDense
	if err := m.chol.SolveVecTo(&v, kstar); err != nil {
		return Prediction{}, fmt.Errorf("predict %s: solve: %w", m.parameter, err)
	}
	variance := m.hyper.Variance() - mat.Dot(kstar, &v)
	if variance < 0 {
		variance = 0
	}

	scale := m.yScaler.Scale()
	return Prediction{
		Mean:         m.yScaler.Inverse(meanStd),
		Std:          math.Sqrt(variance) * scale * m.inflation,
		ModelVersion: m.version,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

// factorize builds the Cholesky decomposition of the training covariance and
// the weight vector alpha = K⁻¹y for the given hyperparameters.
func factorize(hyper Hyperparams, xs *mat.Dense, ys []float64) (mat.Cholesky, *mat.VecDense, bool) {
	n, _ := xs.Dims()
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := hyper.Cov(xs.RawRowView(i), xs.RawRowView(j))
			if i == j {
				c += hyper.NoiseVariance + jitter
			}
			K.SetSym(i, j, c)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(K); !ok {
		return chol, nil, false
	}
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, mat.NewVecDense(n, ys)); err != nil {
		return chol, nil, false
	}
	return chol, alpha, true
}

// jitter keeps the covariance numerically positive definite.
const jitter = 1e-10
