// Package risk turns per-parameter predictions into one composite,
// explainable risk score per site.
package risk

import (
	"math"

	"github.com/jalsarovar/wflow/internal/gp"
)

// Threshold is the compliant range for one parameter. Max <= 0 means the
// parameter has no upper limit (e.g. dissolved oxygen).
type Threshold struct {
	Min float64
	Max float64
}

// Bounded reports whether the threshold has a finite upper limit.
func (t Threshold) Bounded() bool { return t.Max > 0 }

// span is the normalization width for uncertainties: the compliant range for
// bounded parameters, the lower limit otherwise.
func (t Threshold) span() float64 {
	if t.Bounded() {
		return t.Max - t.Min
	}
	return t.Min
}

// Config holds the weighting and threshold tables. Score is a pure function
// of its inputs and this configuration.
type Config struct {
	Thresholds map[string]Threshold
	// Weights per parameter; missing entries default to 1. Weights are
	// renormalized over the parameters actually present in each score, so a
	// missing prediction never silently drags the composite toward zero.
	Weights             map[string]float64
	UncertaintyBonus    float64
	MaxUncertaintyBonus float64
}

// Contribution is the per-parameter breakdown attached to a Score.
type Contribution struct {
	Parameter string  `json:"parameter"`
	Mean      float64 `json:"mean"`
	Std       float64 `json:"std"`
	Risk      float64 `json:"risk"`
	Weight    float64 `json:"weight"`
	Exceeded  bool    `json:"exceeded"`
	Fallback  bool    `json:"fallback"`
}

// Score is the composite risk for one site. Uncertainty is the prediction
// spread expressed on the same 0-100 scale, used by acquisition functions.
type Score struct {
	Composite     float64         `json:"composite"`
	Uncertainty   float64         `json:"uncertainty"`
	Contributions []Contribution  `json:"contributions"`
	Exceedances   map[string]bool `json:"exceedances"`
	Partial       bool            `json:"partial"`
}

// Score combines the available predictions for one site into a composite in
// [0,100]. parameters fixes the iteration order, keeping the computation
// deterministic. A parameter with no prediction at all marks the score
// partial; it contributes nothing but its weight is excluded from the
// normalization rather than counted as zero risk.
func (c Config) Score(parameters []string, preds map[string]gp.Prediction) Score {
	s := Score{Exceedances: make(map[string]bool, len(parameters))}

	var weightSum, weighted float64
	var stdWeightSum, weightedStd float64
	for _, param := range parameters {
		pred, ok := preds[param]
		if !ok {
			s.Partial = true
			continue
		}
		th, hasTh := c.Thresholds[param]
		if !hasTh {
			s.Partial = true
			continue
		}

		r := c.parameterRisk(th, pred)
		w := 1.0
		if cw, ok := c.Weights[param]; ok {
			w = cw
		}
		exceeded := exceeds(th, pred.Mean)

		s.Contributions = append(s.Contributions, Contribution{
			Parameter: param,
			Mean:      pred.Mean,
			Std:       pred.Std,
			Risk:      r,
			Weight:    w,
			Exceeded:  exceeded,
			Fallback:  pred.Fallback,
		})
		s.Exceedances[param] = exceeded
		weighted += w * r
		weightSum += w
		// A zero-span threshold gives the std no scale, so the parameter
		// stays out of the uncertainty normalization entirely instead of
		// counting as perfectly certain.
		if span := th.span(); span > 0 {
			weightedStd += w * clamp(pred.Std/span*100, 0, 100)
			stdWeightSum += w
		}
	}
	if weightSum > 0 {
		s.Composite = clamp(weighted/weightSum, 0, 100)
	}
	if stdWeightSum > 0 {
		s.Uncertainty = clamp(weightedStd/stdWeightSum, 0, 100)
	}
	return s
}

// parameterRisk is the distance from the compliant range, normalized to
// [0,100], plus a capped uncertainty bonus so ambiguous predictions are never
// scored as falsely safe.
func (c Config) parameterRisk(th Threshold, pred gp.Prediction) float64 {
	var distance float64
	switch {
	case th.Min > 0 && pred.Mean < th.Min:
		distance = clamp((th.Min-pred.Mean)/th.Min*100, 0, 100)
	case th.Bounded() && pred.Mean > th.Max:
		distance = clamp((pred.Mean-th.Max)/th.Max*100, 0, 100)
	}

	var bonus float64
	if span := th.span(); span > 0 && pred.Std > 0 {
		bonus = math.Min(c.MaxUncertaintyBonus, c.UncertaintyBonus*pred.Std/span)
	}
	return clamp(distance+bonus, 0, 100)
}

func exceeds(th Threshold, mean float64) bool {
	if th.Min > 0 && mean < th.Min {
		return true
	}
	return th.Bounded() && mean > th.Max
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
