package gp

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/jalsarovar/wflow/internal/feature"
)

// Options controls hyperparameter fitting and validation.
type Options struct {
	MinTrainingPoints    int
	Restarts             int
	CVFolds              int
	Seed                 int64
	R2WarningFloor       float64
	UncertaintyInflation float64
}

func (o Options) normalized() Options {
	if o.MinTrainingPoints <= 0 {
		o.MinTrainingPoints = 30
	}
	if o.Restarts < 5 {
		o.Restarts = 5
	}
	if o.CVFolds <= 1 {
		o.CVFolds = 5
	}
	if o.R2WarningFloor <= 0 {
		o.R2WarningFloor = 0.5
	}
	if o.UncertaintyInflation <= 1 {
		o.UncertaintyInflation = 1.5
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	return o
}

// Fit trains a Gaussian-Process model for one parameter on raw features X and
// targets y. Hyperparameters are fit by maximizing the exact marginal
// likelihood, restarted from Restarts pseudo-random initializations; the
// whole procedure is deterministic for a fixed Seed.
func Fit(parameter string, X *mat.Dense, y []float64, opts Options) (*Model, error) {
	opts = opts.normalized()
	n, _ := X.Dims()
	if n != len(y) {
		return nil, fmt.Errorf("gp: %d feature rows but %d targets", n, len(y))
	}
	if n < opts.MinTrainingPoints {
		return nil, fmt.Errorf("%w: parameter %s has %d validated points, need %d",
			ErrInsufficientData, parameter, n, opts.MinTrainingPoints)
	}

	xScaler := feature.FitStandardizer(X)
	xs, err := xScaler.TransformMatrix(X)
	if err != nil {
		return nil, fmt.Errorf("gp: standardize features: %w", err)
	}
	yScaler := feature.FitScalarScaler(y)
	ys := make([]float64, n)
	for i, v := range y {
		ys[i] = yScaler.Transform(v)
	}

	nll := func(theta []float64) float64 {
		return negLogMarginalLikelihood(hyperFromLog(theta), xs, ys)
	}
	problem := optimize.Problem{Func: nll}

	rng := rand.New(rand.NewSource(opts.Seed))
	bestF := math.Inf(1)
	var bestTheta []float64
	for r := 0; r < opts.Restarts; r++ {
		x0 := randomInit(rng)
		result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
		if err != nil || result == nil {
			continue
		}
		if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
			continue
		}
		if result.F < bestF {
			bestF = result.F
			bestTheta = append([]float64(nil), result.X...)
		}
	}
	if bestTheta == nil {
		return nil, fmt.Errorf("%w: parameter %s, %d restarts exhausted", ErrTrainingFailed, parameter, opts.Restarts)
	}

	hyper := hyperFromLog(bestTheta)
	chol, alpha, ok := factorize(hyper, xs, ys)
	if !ok {
		return nil, fmt.Errorf("%w: parameter %s, covariance not positive definite at optimum", ErrTrainingFailed, parameter)
	}

	m := &Model{
		parameter: parameter,
		trainedAt: time.Now().UTC(),
		hyper:     hyper,
		xScaler:   xScaler,
		yScaler:   yScaler,
		xs:        xs,
		ys:        ys,
		chol:      chol,
		alpha:     alpha,
		inflation: 1,
	}

	m.r2 = crossValidate(hyper, xs, ys, opts.CVFolds)
	if m.r2 < opts.R2WarningFloor {
		m.warning = true
		m.inflation = opts.UncertaintyInflation
	}
	return m, nil
}

// NewWithHyperparams builds a model from fixed hyperparameters, skipping the
// marginal-likelihood search. Used when restoring persisted artifacts.
func NewWithHyperparams(parameter string, hyper Hyperparams, X *mat.Dense, y []float64) (*Model, error) {
	n, _ := X.Dims()
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("gp: invalid training set (%d rows, %d targets)", n, len(y))
	}
	xScaler := feature.FitStandardizer(X)
	xs, err := xScaler.TransformMatrix(X)
	if err != nil {
		return nil, err
	}
	yScaler := feature.FitScalarScaler(y)
	ys := make([]float64, n)
	for i, v := range y {
		ys[i] = yScaler.Transform(v)
	}
	chol, alpha, ok := factorize(hyper, xs, ys)
	if !ok {
		return nil, fmt.Errorf("%w: parameter %s, covariance not positive definite", ErrTrainingFailed, parameter)
	}
	return &Model{
		parameter: parameter,
		trainedAt: time.Now().UTC(),
		hyper:     hyper,
		xScaler:   xScaler,
		yScaler:   yScaler,
		xs:        xs,
		ys:        ys,
		chol:      chol,
		alpha:     alpha,
		inflation: 1,
	}, nil
}

// randomInit samples log-space hyperparameters from ranges that are sensible
// for standardized inputs and targets.
func randomInit(rng *rand.Rand) []float64 {
	logUniform := func(lo, hi float64) float64 {
		return math.Log(lo) + rng.Float64()*(math.Log(hi)-math.Log(lo))
	}
	return []float64{
		logUniform(0.1, 2.0),   // RBF variance
		logUniform(0.5, 3.0),   // RBF length scale (long range)
		logUniform(0.1, 2.0),   // Matérn variance
		logUniform(0.1, 1.0),   // Matérn length scale (short range)
		logUniform(1e-4, 0.05), // noise variance
	}
}

// negLogMarginalLikelihood is the objective minimized during fitting:
// 0.5 yᵀK⁻¹y + 0.5 log|K| + (n/2) log 2π.
func negLogMarginalLikelihood(hyper Hyperparams, xs *mat.Dense, ys []float64) float64 {
	chol, alpha, ok := factorize(hyper, xs, ys)
	if !ok {
		return math.Inf(1)
	}
	n := len(ys)
	fit := mat.Dot(mat.NewVecDense(n, append([]float64(nil), ys...)), alpha)
	return 0.5*fit + 0.5*chol.LogDet() + 0.5*float64(n)*math.Log(2*math.Pi)
}

// crossValidate computes k-fold cross-validated R² with the hyperparameters
// held fixed; only the weight vector is refit per fold. Folds are assigned by
// row index so the result is deterministic.
func crossValidate(hyper Hyperparams, xs *mat.Dense, ys []float64, folds int) float64 {
	n, d := xs.Dims()
	if folds > n/2 {
		folds = n / 2
	}
	if folds < 2 {
		return 0
	}

	var globalMean float64
	for _, v := range ys {
		globalMean += v
	}
	globalMean /= float64(n)

	var ssRes, ssTot float64
	for f := 0; f < folds; f++ {
		var trainIdx, testIdx []int
		for i := 0; i < n; i++ {
			if i%folds == f {
				testIdx = append(testIdx, i)
			} else {
				trainIdx = append(trainIdx, i)
			}
		}

		xTrain := mat.NewDense(len(trainIdx), d, nil)
		yTrain := make([]float64, len(trainIdx))
		for k, i := range trainIdx {
			xTrain.SetRow(k, xs.RawRowView(i))
			yTrain[k] = ys[i]
		}

		_, alpha, ok := factorize(hyper, xTrain, yTrain)
		if !ok {
			continue
		}
		for _, i := range testIdx {
			kstar := mat.NewVecDense(len(trainIdx), nil)
			for k, j := range trainIdx {
				kstar.SetVec(k, hyper.Cov(xs.RawRowView(i), xs.RawRowView(j)))
			}
			pred := mat.Dot(kstar, alpha)
			diff := ys[i] - pred
			ssRes += diff * diff
			tot := ys[i] - globalMean
			ssTot += tot * tot
		}
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}
