package gp

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/jalsarovar/wflow/internal/feature"
)

// Artifact is the serializable form of a fitted model: hyperparameters,
// standardization parameters, and the standardized training set. The
// Cholesky factorization is recomputed on load, so no partially usable
// artifact can ever be produced.
type Artifact struct {
	Parameter string                `json:"parameter"`
	Version   string                `json:"version"`
	TrainedAt time.Time             `json:"trained_at"`
	Hyper     Hyperparams           `json:"hyperparameters"`
	XScaler   *feature.Standardizer `json:"x_scaler"`
	YScaler   *feature.ScalarScaler `json:"y_scaler"`
	X         [][]float64           `json:"x"` // standardized rows
	Y         []float64             `json:"y"` // standardized targets
	R2        float64               `json:"r2"`
	Warning   bool                  `json:"warning"`
	Inflation float64               `json:"inflation"`
	SiteTypes []string              `json:"site_types,omitempty"`
}

// Artifact exports the model for persistence.
func (m *Model) Artifact() Artifact {
	n, _ := m.xs.Dims()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = append([]float64(nil), m.xs.RawRowView(i)...)
	}
	return Artifact{
		Parameter: m.parameter,
		Version:   m.version,
		TrainedAt: m.trainedAt,
		Hyper:     m.hyper,
		XScaler:   m.xScaler,
		YScaler:   m.yScaler,
		X:         rows,
		Y:         append([]float64(nil), m.ys...),
		R2:        m.r2,
		Warning:   m.warning,
		Inflation: m.inflation,
		SiteTypes: append([]string(nil), m.siteTypes...),
	}
}

// FromArtifact reconstructs a servable model from its persisted form.
func FromArtifact(a Artifact) (*Model, error) {
	n := len(a.X)
	if n == 0 || len(a.Y) != n {
		return nil, fmt.Errorf("gp: artifact %s/%s has inconsistent training data", a.Parameter, a.Version)
	}
	if a.XScaler == nil || a.YScaler == nil {
		return nil, fmt.Errorf("gp: artifact %s/%s missing scalers", a.Parameter, a.Version)
	}
	d := len(a.X[0])
	xs := mat.NewDense(n, d, nil)
	for i, row := range a.X {
		if len(row) != d {
			return nil, fmt.Errorf("gp: artifact %s/%s has ragged feature rows", a.Parameter, a.Version)
		}
		xs.SetRow(i, row)
	}
	ys := append([]float64(nil), a.Y...)

	chol, alpha, ok := factorize(a.Hyper, xs, ys)
	if !ok {
		return nil, fmt.Errorf("gp: artifact %s/%s covariance not positive definite", a.Parameter, a.Version)
	}
	inflation := a.Inflation
	if inflation < 1 {
		inflation = 1
	}
	return &Model{
		parameter: a.Parameter,
		version:   a.Version,
		trainedAt: a.TrainedAt,
		hyper:     a.Hyper,
		xScaler:   a.XScaler,
		yScaler:   a.YScaler,
		xs:        xs,
		ys:        ys,
		chol:      chol,
		alpha:     alpha,
		r2:        a.R2,
		warning:   a.Warning,
		inflation: inflation,
		siteTypes: append([]string(nil), a.SiteTypes...),
	}, nil
}
