// Package selector implements the budget-constrained sequential site
// selection: a greedy Bayesian-Optimization loop over acquisition values with
// spatial decay for geographic coverage.
package selector

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// Candidate is one site under consideration, with its composite risk score
// and risk uncertainty.
type Candidate struct {
	SiteID   string
	Lat, Lon float64
	RiskMean float64
	RiskStd  float64
}

// Selection is one picked site in rank order.
type Selection struct {
	SiteID      string  `json:"site_id"`
	Rank        int     `json:"rank"`
	RiskScore   float64 `json:"risk_score"`
	Acquisition float64 `json:"acquisition_value"`
}

// Result is the ordered outcome of one selection run.
type Result struct {
	Selected    []Selection
	Underfilled bool
}

// Config controls acquisition and spatial decay. Select is a pure function of
// (candidates, budget, Config); no hidden randomness.
type Config struct {
	Acquisition       string // ucb (default), ei, pi
	ExplorationWeight float64
	DecayRadiusKm     float64
	DecayFactor       float64
	// RiskThreshold marks a site as threshold-exceeding for EI/PI purposes.
	RiskThreshold float64
	// ImprovementReference is the EI/PI "current best" before any selected
	// site exceeds RiskThreshold; defaults to RiskThreshold itself.
	ImprovementReference float64
	// Workers bounds the parallel acquisition scan; defaults to GOMAXPROCS.
	Workers int
}

func (c Config) normalized() Config {
	if c.Acquisition == "" {
		c.Acquisition = "ucb"
	}
	if c.ExplorationWeight <= 0 {
		c.ExplorationWeight = 2.0
	}
	if c.DecayRadiusKm <= 0 {
		c.DecayRadiusKm = 5.0
	}
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		c.DecayFactor = 0.7
	}
	if c.RiskThreshold <= 0 {
		c.RiskThreshold = 50.0
	}
	if c.ImprovementReference <= 0 {
		c.ImprovementReference = c.RiskThreshold
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Select runs the greedy loop: score every unselected candidate, pick the
// maximum, decay neighbors within the radius, repeat until the budget is
// exhausted or no candidates remain. The pick loop is inherently sequential;
// scoring within an iteration runs in parallel. The context is checked
// between iterations, and cancellation returns an error without a partial
// result.
func Select(ctx context.Context, candidates []Candidate, budget int, cfg Config) (Result, error) {
	if budget < 0 {
		return Result{}, fmt.Errorf("selector: budget cannot be negative")
	}
	cfg = cfg.normalized()

	// Stable candidate order makes tie-breaking, and therefore the whole
	// selection, deterministic.
	cands := append([]Candidate(nil), candidates...)
	sort.Slice(cands, func(i, j int) bool { return cands[i].SiteID < cands[j].SiteID })

	n := len(cands)
	want := budget
	if n < want {
		want = n
	}

	decay := make([]float64, n)
	for i := range decay {
		decay[i] = 1
	}
	selected := make([]bool, n)
	g := newGrid(cfg.DecayRadiusKm, cands)

	bestRef := cfg.ImprovementReference
	result := Result{Underfilled: n < budget}

	for len(result.Selected) < want {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("selector: cancelled after %d picks: %w", len(result.Selected), err)
		}

		pick := argmax(cands, selected, decay, bestRef, cfg)
		if pick < 0 {
			break
		}
		selected[pick] = true
		result.Selected = append(result.Selected, Selection{
			SiteID:      cands[pick].SiteID,
			Rank:        len(result.Selected) + 1,
			RiskScore:   cands[pick].RiskMean,
			Acquisition: cfg.acquire(cands[pick], bestRef) * decay[pick],
		})

		if cands[pick].RiskMean > cfg.RiskThreshold && cands[pick].RiskMean > bestRef {
			bestRef = cands[pick].RiskMean
		}

		g.neighbors(cands, cands[pick].Lat, cands[pick].Lon, func(j int) {
			if !selected[j] {
				decay[j] *= cfg.DecayFactor
			}
		})
	}
	return result, nil
}

// argmax finds the unselected candidate with the highest decayed acquisition
// value, scanning in parallel chunks. Ties resolve to the lowest index, i.e.
// the lexicographically smallest site id.
func argmax(cands []Candidate, selected []bool, decay []float64, bestRef float64, cfg Config) int {
	n := len(cands)
	workers := cfg.Workers
	if n < 2048 || workers == 1 {
		return argmaxRange(cands, selected, decay, bestRef, cfg, 0, n)
	}

	chunk := (n + workers - 1) / workers
	local := make([]int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			local[w] = argmaxRange(cands, selected, decay, bestRef, cfg, lo, hi)
		}(w, lo, hi)
	}
	wg.Wait()

	best := -1
	var bestVal float64
	for _, i := range local {
		if i < 0 {
			continue
		}
		v := cfg.acquire(cands[i], bestRef) * decay[i]
		if best < 0 || v > bestVal || (v == bestVal && i < best) {
			best, bestVal = i, v
		}
	}
	return best
}

func argmaxRange(cands []Candidate, selected []bool, decay []float64, bestRef float64, cfg Config, lo, hi int) int {
	best := -1
	var bestVal float64
	for i := lo; i < hi; i++ {
		if selected[i] {
			continue
		}
		v := cfg.acquire(cands[i], bestRef) * decay[i]
		if best < 0 || v > bestVal {
			best, bestVal = i, v
		}
	}
	return best
}

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// acquire evaluates the configured acquisition function for one candidate.
func (c Config) acquire(cand Candidate, bestRef float64) float64 {
	switch c.Acquisition {
	case "ei":
		xi := c.ExplorationWeight * 0.01
		if cand.RiskStd == 0 {
			return 0
		}
		z := (cand.RiskMean - bestRef - xi) / cand.RiskStd
		ei := (cand.RiskMean-bestRef-xi)*stdNormal.CDF(z) + cand.RiskStd*stdNormal.Prob(z)
		if ei < 0 {
			return 0
		}
		return ei
	case "pi":
		xi := c.ExplorationWeight * 0.01
		if cand.RiskStd == 0 {
			return 0
		}
		return stdNormal.CDF((cand.RiskMean - bestRef - xi) / cand.RiskStd)
	default: // ucb
		return cand.RiskMean + c.ExplorationWeight*cand.RiskStd
	}
}
