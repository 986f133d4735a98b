// Package trainer fits per-parameter models from the measurement history,
// watches for drift, and publishes new versions through the registry.
package trainer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/jalsarovar/wflow/config"
	"github.com/jalsarovar/wflow/internal/drift"
	"github.com/jalsarovar/wflow/internal/feature"
	"github.com/jalsarovar/wflow/internal/gp"
	"github.com/jalsarovar/wflow/internal/registry"
	"github.com/jalsarovar/wflow/internal/store"
	"github.com/jalsarovar/wflow/internal/telemetry"
)

// Training outcomes reported per parameter.
const (
	OutcomePublished    = "published"
	OutcomeInsufficient = "insufficient_data"
	OutcomeFailed       = "failed"
)

// Source is the slice of the store the trainer reads from.
type Source interface {
	TrainingData(ctx context.Context, parameter string, cutoff time.Time) ([]store.TrainingRow, error)
	ListSites(ctx context.Context) ([]store.Site, error)
}

// Result summarizes one parameter's training attempt.
type Result struct {
	Parameter string  `json:"parameter"`
	Outcome   string  `json:"outcome"`
	R2        float64 `json:"r2"`
	Rows      int     `json:"rows"`
	Drifted   bool    `json:"drifted"`
	Message   string  `json:"message,omitempty"`
	Err       error   `json:"-"`
}

type Trainer struct {
	cfg        config.TrainerConfig
	fitOpts    gp.Options
	parameters []string
	source     Source
	registry   *registry.Registry
	drift      *drift.Detector
	metrics    *telemetry.Metrics
	logger     *log.Logger
}

func New(cfg config.TrainerConfig, pred config.PredictorConfig, parameters []string, source Source, reg *registry.Registry, metrics *telemetry.Metrics, logger *log.Logger) *Trainer {
	if logger == nil {
		logger = telemetry.NewLogger("trainer")
	}
	return &Trainer{
		cfg: cfg,
		fitOpts: gp.Options{
			MinTrainingPoints:    pred.MinTrainingPoints,
			Restarts:             pred.Restarts,
			CVFolds:              pred.CVFolds,
			Seed:                 pred.Seed,
			R2WarningFloor:       pred.R2WarningFloor,
			UncertaintyInflation: pred.UncertaintyInflation,
		},
		parameters: parameters,
		source:     source,
		registry:   reg,
		drift:      drift.New(cfg.CUSUMThreshold, cfg.CUSUMDriftMagnitude, 0),
		metrics:    metrics,
		logger:     logger,
	}
}

// Drift exposes the residual-based drift detector fed by ObserveResidual.
func (t *Trainer) Drift() *drift.Detector { return t.drift }

// TrainAll retrains every configured parameter with data up to the cutoff,
// at most MaxConcurrent fits in flight. A parameter whose fit fails keeps
// its previously published model; training never aborts the batch.
func (t *Trainer) TrainAll(ctx context.Context, cutoff time.Time) []Result {
	results := make([]Result, len(t.parameters))
	sem := make(chan struct{}, t.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i, param := range t.parameters {
		wg.Add(1)
		go func(i int, param string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = t.trainOne(ctx, param, cutoff)
		}(i, param)
	}
	wg.Wait()
	return results
}

func (t *Trainer) trainOne(ctx context.Context, param string, cutoff time.Time) Result {
	res := Result{Parameter: param}

	rows, err := t.source.TrainingData(ctx, param, cutoff)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		t.report(&res)
		return res
	}
	res.Rows = len(rows)

	if len(rows) == 0 || len(rows) < t.fitOpts.MinTrainingPoints {
		res.Outcome = OutcomeInsufficient
		res.Err = gp.ErrInsufficientData
		t.report(&res)
		return res
	}

	builder := feature.NewBuilder(rowSiteTypes(rows))
	X := mat.NewDense(len(rows), builder.Dim(), nil)
	y := make([]float64, len(rows))
	for i, r := range rows {
		X.SetRow(i, builder.Build(r.Lat, r.Lon, r.MeasuredAt.Month(), r.DistanceToSourceKm, r.ElevationM, r.SiteType))
		y[i] = r.Value
	}

	model, err := gp.Fit(param, X, y, t.fitOpts)
	switch {
	case errors.Is(err, gp.ErrInsufficientData):
		res.Outcome, res.Err = OutcomeInsufficient, err
		t.report(&res)
		return res
	case err != nil:
		// Keep serving the last good model.
		res.Outcome, res.Err = OutcomeFailed, err
		t.report(&res)
		return res
	}
	model.SetSiteTypes(builder.SiteTypes())
	res.R2 = model.R2()

	if prev, ok := t.registry.Current().Model(param); ok {
		if delta := prev.R2() - model.R2(); delta > t.cfg.DriftThresholdDeltaR2 {
			res.Drifted = true
			t.logger.Printf("drift: %s validation R² dropped %.3f -> %.3f", param, prev.R2(), model.R2())
			if t.metrics != nil {
				t.metrics.DriftAlarmsTotal.WithLabelValues(param).Inc()
			}
		}
	}

	if err := t.registry.Publish(ctx, model, registry.Metadata{
		TrainingRows:   len(rows),
		SnapshotCutoff: cutoff,
	}); err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		t.report(&res)
		return res
	}

	res.Outcome = OutcomePublished
	t.drift.Reset(param)
	t.report(&res)
	return res
}

func (t *Trainer) report(res *Result) {
	if res.Err != nil {
		res.Message = res.Err.Error()
	}
	if t.metrics != nil {
		t.metrics.TrainingsTotal.WithLabelValues(res.Parameter, res.Outcome).Inc()
		if res.Outcome == OutcomePublished {
			t.metrics.ModelR2.WithLabelValues(res.Parameter).Set(res.R2)
		}
	}
	if res.Err != nil {
		t.logger.Printf("training %s: %s: %v (rows=%d)", res.Parameter, res.Outcome, res.Err, res.Rows)
		return
	}
	t.logger.Printf("training %s: %s r2=%.3f rows=%d drifted=%v", res.Parameter, res.Outcome, res.R2, res.Rows, res.Drifted)
}

// IngestLabResults scores confirmed lab measurements against the current
// models and feeds the residuals into the CUSUM detector. A parameter that
// crosses the alarm threshold is retrained immediately; the returned results
// cover exactly the retrained parameters.
func (t *Trainer) IngestLabResults(ctx context.Context, batch []store.Measurement) []Result {
	snap := t.registry.Current()
	var sites map[string]store.Site
	alarmed := map[string]bool{}
	for _, m := range batch {
		if m.Source != store.SourceLab || alarmed[m.Parameter] {
			continue
		}
		model, ok := snap.Model(m.Parameter)
		if !ok {
			continue
		}
		if sites == nil {
			list, err := t.source.ListSites(ctx)
			if err != nil {
				t.logger.Printf("drift: list sites: %v", err)
				return nil
			}
			sites = make(map[string]store.Site, len(list))
			for _, s := range list {
				sites[s.ID] = s
			}
		}
		site, ok := sites[m.SiteID]
		if !ok {
			continue
		}
		builder := feature.NewBuilder(model.SiteTypes())
		x := builder.Build(site.Lat, site.Lon, m.MeasuredAt.Month(), site.DistanceToSourceKm, site.ElevationM, site.SiteType)
		pred, err := model.Predict(x)
		if err != nil {
			t.logger.Printf("drift: predict %s at %s: %v", m.Parameter, m.SiteID, err)
			continue
		}
		if t.ObserveResidual(m.Parameter, m.Value, pred.Mean, m.MeasuredAt) {
			alarmed[m.Parameter] = true
		}
	}

	var results []Result
	for _, param := range t.parameters {
		if alarmed[param] {
			results = append(results, t.trainOne(ctx, param, time.Now().UTC()))
		}
	}
	return results
}

// ObserveResidual feeds one observed-minus-predicted residual into the CUSUM
// detector. Returns true when the parameter crossed the alarm threshold.
func (t *Trainer) ObserveResidual(parameter string, actual, predicted float64, at time.Time) bool {
	status := t.drift.Update(parameter, actual-predicted, at)
	if status.Drifting {
		t.logger.Printf("drift: CUSUM alarm for %s at %s", parameter, at.Format(time.RFC3339))
		if t.metrics != nil {
			t.metrics.DriftAlarmsTotal.WithLabelValues(parameter).Inc()
		}
	}
	return status.Drifting
}

func rowSiteTypes(rows []store.TrainingRow) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range rows {
		if _, ok := seen[r.SiteType]; ok {
			continue
		}
		seen[r.SiteType] = struct{}{}
		out = append(out, r.SiteType)
	}
	return out
}

