package plan

import "math"

// ActualResult is a ground-truth outcome for one site in a planning month.
type ActualResult struct {
	SiteID       string
	Contaminated bool
}

// Performance compares a plan's selection against ground truth once lab
// results are in.
type Performance struct {
	TruePositives  int     `json:"true_positives"`
	FalseNegatives int     `json:"false_negatives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalsePositives int     `json:"false_positives"`
	DetectionRate  float64 `json:"detection_rate"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1_score"`
}

// Evaluate scores a plan after the fact: a contaminated site counts as
// detected only if the plan had it tested.
func Evaluate(p TestingPlan, actuals []ActualResult) Performance {
	tested := make(map[string]struct{}, len(p.SelectedSites))
	for _, s := range p.SelectedSites {
		tested[s.SiteID] = struct{}{}
	}

	var perf Performance
	for _, a := range actuals {
		_, wasTested := tested[a.SiteID]
		switch {
		case a.Contaminated && wasTested:
			perf.TruePositives++
		case a.Contaminated && !wasTested:
			perf.FalseNegatives++
		case !a.Contaminated && wasTested:
			perf.FalsePositives++
		default:
			perf.TrueNegatives++
		}
	}

	contaminated := perf.TruePositives + perf.FalseNegatives
	if contaminated > 0 {
		perf.DetectionRate = round2(float64(perf.TruePositives) / float64(contaminated) * 100)
	}
	flagged := perf.TruePositives + perf.FalsePositives
	if flagged > 0 {
		perf.Precision = round2(float64(perf.TruePositives) / float64(flagged) * 100)
	}
	perf.Recall = perf.DetectionRate
	if perf.Precision+perf.Recall > 0 {
		perf.F1 = round2(2 * perf.Precision * perf.Recall / (perf.Precision + perf.Recall))
	}
	return perf
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
