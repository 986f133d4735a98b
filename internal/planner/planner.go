// Package planner orchestrates monthly plan generation: predict every
// parameter at every site, score risk, select sites under budget, and
// persist the assembled plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jalsarovar/wflow/config"
	"github.com/jalsarovar/wflow/internal/feature"
	"github.com/jalsarovar/wflow/internal/gp"
	"github.com/jalsarovar/wflow/internal/plan"
	"github.com/jalsarovar/wflow/internal/registry"
	"github.com/jalsarovar/wflow/internal/risk"
	"github.com/jalsarovar/wflow/internal/selector"
	"github.com/jalsarovar/wflow/internal/store"
	"github.com/jalsarovar/wflow/internal/telemetry"
)

var (
	ErrInvalidMonth = errors.New("month must be formatted as YYYY-MM")
	ErrNoParameters = errors.New("no parameters configured")
)

// Repo is the slice of the store the planner needs.
type Repo interface {
	ListSites(ctx context.Context) ([]store.Site, error)
	RegionalStats(ctx context.Context, parameter string) (mean, std float64, n int, err error)
	ContaminatedSiteIDs(ctx context.Context, parameter string, min, max float64, from, to time.Time) ([]string, error)
	SavePlan(ctx context.Context, p plan.TestingPlan) error
	LatestPlan(ctx context.Context, month string) (plan.TestingPlan, error)
}

type Service struct {
	cfg      config.PlanningConfig
	repo     Repo
	registry *registry.Registry
	metrics  *telemetry.Metrics
	logger   *log.Logger
}

func New(cfg config.PlanningConfig, repo Repo, reg *registry.Registry, metrics *telemetry.Metrics, logger *log.Logger) *Service {
	if logger == nil {
		logger = telemetry.NewLogger("planner")
	}
	return &Service{cfg: cfg, repo: repo, registry: reg, metrics: metrics, logger: logger}
}

// paramPrediction carries one parameter's predictions aligned with the site
// slice, or nothing when neither a model nor regional data exists.
type paramPrediction struct {
	parameter string
	preds     []gp.Prediction
	ok        bool
}

// GeneratePlan builds and persists the testing plan for one month. A budget
// of zero or less falls back to the configured monthly budget. Regenerating
// a month produces a new plan that supersedes the previous one.
func (s *Service) GeneratePlan(ctx context.Context, month string, budget int) (plan.TestingPlan, error) {
	started := time.Now()
	monthStart, err := time.Parse("2006-01", month)
	if err != nil {
		return plan.TestingPlan{}, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	if budget <= 0 {
		budget = s.cfg.MonthlyBudgetSites
	}
	if len(s.cfg.Parameters) == 0 {
		return plan.TestingPlan{}, ErrNoParameters
	}

	sites, err := s.repo.ListSites(ctx)
	if err != nil {
		return plan.TestingPlan{}, fmt.Errorf("list sites: %w", err)
	}

	snap := s.registry.Current()
	preds := s.predictAll(ctx, sites, monthStart.Month(), snap)

	riskCfg := s.riskConfig()
	scores := make(map[string]risk.Score, len(sites))
	candidates := make([]selector.Candidate, 0, len(sites))
	for i, site := range sites {
		sitePreds := make(map[string]gp.Prediction, len(s.cfg.Parameters))
		for _, pp := range preds {
			if pp.ok {
				sitePreds[pp.parameter] = pp.preds[i]
			}
		}
		score := riskCfg.Score(s.cfg.Parameters, sitePreds)
		scores[site.ID] = score
		candidates = append(candidates, selector.Candidate{
			SiteID:   site.ID,
			Lat:      site.Lat,
			Lon:      site.Lon,
			RiskMean: score.Composite,
			RiskStd:  score.Uncertainty,
		})
	}

	sel, err := selector.Select(ctx, candidates, budget, selector.Config{
		Acquisition:          s.cfg.AcquisitionFunction,
		ExplorationWeight:    s.cfg.ExplorationWeight,
		DecayRadiusKm:        s.cfg.SpatialDecayRadiusKm,
		DecayFactor:          s.cfg.SpatialDecayFactor,
		RiskThreshold:        s.cfg.RiskThreshold,
		ImprovementReference: s.cfg.ImprovementReference,
	})
	if err != nil {
		return plan.TestingPlan{}, fmt.Errorf("select sites: %w", err)
	}

	var supersedes string
	if prev, err := s.repo.LatestPlan(ctx, month); err == nil {
		supersedes = prev.ID
	} else if !errors.Is(err, store.ErrPlanNotFound) {
		return plan.TestingPlan{}, fmt.Errorf("load previous plan: %w", err)
	}

	p := plan.Assemble(plan.Inputs{
		Month:               month,
		Budget:              budget,
		TotalSites:          len(sites),
		Selection:           sel,
		Scores:              scores,
		HoldoutContaminated: s.holdout(ctx, monthStart),
		RiskThreshold:       s.cfg.RiskThreshold,
		ModelVersions:       snap.Versions(),
		Supersedes:          supersedes,
	})

	if err := s.repo.SavePlan(ctx, p); err != nil {
		return plan.TestingPlan{}, fmt.Errorf("save plan: %w", err)
	}
	if s.metrics != nil {
		s.metrics.PlanDuration.Observe(time.Since(started).Seconds())
		s.metrics.PlanSitesSelected.Set(float64(p.TestedSites))
	}
	s.logger.Printf("plan %s generated for %s: %d/%d sites, underfilled=%v, took %s",
		p.ID, month, p.TestedSites, p.TotalSites, p.Underfilled, time.Since(started).Round(time.Millisecond))
	return p, nil
}

// predictAll evaluates every parameter across all sites, one goroutine per
// parameter. Parameters without a fitted model fall back to the regional
// prior; parameters with no data at all are dropped and surface as partial
// risk scores.
func (s *Service) predictAll(ctx context.Context, sites []store.Site, month time.Month, snap *registry.Snapshot) []paramPrediction {
	out := make([]paramPrediction, len(s.cfg.Parameters))
	var wg sync.WaitGroup
	for i, param := range s.cfg.Parameters {
		wg.Add(1)
		go func(i int, param string) {
			defer wg.Done()
			out[i] = s.predictParameter(ctx, sites, month, param, snap)
		}(i, param)
	}
	wg.Wait()
	return out
}

func (s *Service) predictParameter(ctx context.Context, sites []store.Site, month time.Month, param string, snap *registry.Snapshot) paramPrediction {
	pp := paramPrediction{parameter: param}

	model, hasModel := snap.Model(param)
	var builder *feature.Builder
	if hasModel {
		// Features must use the encoding the model was trained with, not the
		// vocabulary of the current site table.
		builder = feature.NewBuilder(model.SiteTypes())
	}
	var fallback gp.Prediction
	hasFallback := false
	if !hasModel {
		mean, std, n, err := s.repo.RegionalStats(ctx, param)
		if err != nil || n == 0 {
			if err != nil {
				s.logger.Printf("regional stats for %s unavailable: %v", param, err)
			}
			return pp
		}
		fallback = gp.PriorPrediction(mean, std)
		hasFallback = true
		s.logger.Printf("no model for %s, using regional prior (n=%d)", param, n)
	}

	pp.preds = make([]gp.Prediction, len(sites))
	for i, site := range sites {
		if hasModel {
			x := builder.Build(site.Lat, site.Lon, month, site.DistanceToSourceKm, site.ElevationM, site.SiteType)
			pred, err := model.Predict(x)
			if err == nil {
				pp.preds[i] = pred
				if s.metrics != nil {
					s.metrics.PredictionsTotal.WithLabelValues(param, "model").Inc()
				}
				continue
			}
			s.logger.Printf("predict %s at %s failed: %v", param, site.ID, err)
			if mean, std, n, serr := s.repo.RegionalStats(ctx, param); serr == nil && n > 0 {
				fallback = gp.PriorPrediction(mean, std)
				hasFallback = true
			}
		}
		if !hasFallback {
			return paramPrediction{parameter: param}
		}
		pp.preds[i] = fallback
		if s.metrics != nil {
			s.metrics.PredictionsTotal.WithLabelValues(param, "fallback").Inc()
		}
	}
	pp.ok = true
	return pp
}

// holdout unions sites with confirmed exceedances across parameters in the
// twelve months before the plan month; the basis of the detection estimate.
func (s *Service) holdout(ctx context.Context, monthStart time.Time) []string {
	from := monthStart.AddDate(-1, 0, 0)
	seen := map[string]struct{}{}
	for _, param := range s.cfg.Parameters {
		th, ok := s.cfg.Thresholds[param]
		if !ok {
			continue
		}
		ids, err := s.repo.ContaminatedSiteIDs(ctx, param, th.Min, th.Max, from, monthStart)
		if err != nil {
			s.logger.Printf("holdout lookup for %s failed: %v", param, err)
			continue
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Service) riskConfig() risk.Config {
	thresholds := make(map[string]risk.Threshold, len(s.cfg.Thresholds))
	for name, th := range s.cfg.Thresholds {
		thresholds[name] = risk.Threshold{Min: th.Min, Max: th.Max}
	}
	return risk.Config{
		Thresholds:          thresholds,
		Weights:             s.cfg.Weights,
		UncertaintyBonus:    s.cfg.UncertaintyBonus,
		MaxUncertaintyBonus: s.cfg.MaxUncertaintyBonus,
	}
}
