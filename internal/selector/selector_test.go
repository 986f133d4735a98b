package selector

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

// clusteredCandidates puts two high-risk sites 1km apart and one moderate
// site 50km away, so decay behavior is observable.
func clusteredCandidates() []Candidate {
	return []Candidate{
		{SiteID: "A", Lat: 23.000, Lon: 77.000, RiskMean: 90, RiskStd: 2},
		{SiteID: "B", Lat: 23.009, Lon: 77.000, RiskMean: 85, RiskStd: 2}, // ~1km north of A
		{SiteID: "C", Lat: 23.450, Lon: 77.000, RiskMean: 60, RiskStd: 2}, // ~50km away
	}
}

func spreadCandidates(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{
			SiteID:   fmt.Sprintf("S%04d", i),
			Lat:      20 + float64(i)*0.2, // ~22km spacing, outside decay radius
			Lon:      77,
			RiskMean: float64(i % 97),
			RiskStd:  float64(i%7) + 1,
		}
	}
	return out
}

func TestUCBOrdersByRiskWhenCertain(t *testing.T) {
	// Zero uncertainty makes UCB collapse to the risk mean, so the two
	// highest-risk sites win in descending order under budget 2. The sites
	// are far apart so decay never engages.
	cands := []Candidate{
		{SiteID: "P1", Lat: 20, Lon: 77, RiskMean: 90},
		{SiteID: "P2", Lat: 22, Lon: 77, RiskMean: 85},
		{SiteID: "P3", Lat: 24, Lon: 77, RiskMean: 10},
	}
	res, err := Select(context.Background(), cands, 2, Config{Acquisition: "ucb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{res.Selected[0].SiteID, res.Selected[1].SiteID}
	if !reflect.DeepEqual(got, []string{"P1", "P2"}) {
		t.Fatalf("expected [P1 P2], got %v", got)
	}
	if res.Selected[0].Acquisition != 90 || res.Selected[1].Acquisition != 85 {
		t.Fatalf("acquisition should equal risk mean at zero uncertainty: %+v", res.Selected)
	}
}

// fiveSiteCluster places five risk-80 sites within 2km of each other plus one
// distant site whose risk the caller chooses.
func fiveSiteCluster(outsideRisk float64) []Candidate {
	cands := make([]Candidate, 0, 6)
	for i := 0; i < 5; i++ {
		cands = append(cands, Candidate{
			SiteID:   fmt.Sprintf("K%d", i+1),
			Lat:      23 + float64(i)*0.004, // ~0.45km steps, max spread ~1.8km
			Lon:      77,
			RiskMean: 80,
		})
	}
	cands = append(cands, Candidate{SiteID: "Z9", Lat: 23.5, Lon: 77, RiskMean: outsideRisk})
	return cands
}

func TestDecayedClusterLosesToStrongerOutsideSite(t *testing.T) {
	// After the first cluster pick the remaining four decay to 80*0.5 = 40,
	// so the outside site wins the second slot exactly when its acquisition
	// value beats 40.
	cfg := Config{Acquisition: "ucb", DecayRadiusKm: 5, DecayFactor: 0.5}

	res, err := Select(context.Background(), fiveSiteCluster(45), 2, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Selected[0].SiteID != "K1" {
		t.Fatalf("first pick must come from the high-risk cluster, got %s", res.Selected[0].SiteID)
	}
	if res.Selected[1].SiteID != "Z9" {
		t.Fatalf("outside site at 45 beats decayed cluster at 40, got %s", res.Selected[1].SiteID)
	}
}

func TestDecayedClusterBeatsWeakerOutsideSite(t *testing.T) {
	cfg := Config{Acquisition: "ucb", DecayRadiusKm: 5, DecayFactor: 0.5}

	res, err := Select(context.Background(), fiveSiteCluster(35), 2, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Selected[0].SiteID != "K1" || res.Selected[1].SiteID != "K2" {
		t.Fatalf("decayed cluster at 40 still beats outside site at 35, got %s then %s",
			res.Selected[0].SiteID, res.Selected[1].SiteID)
	}
	if res.Selected[1].Acquisition != 40 {
		t.Fatalf("second pick must record the decayed acquisition 40, got %f", res.Selected[1].Acquisition)
	}
}

func TestBudgetIsRespected(t *testing.T) {
	cands := spreadCandidates(50)
	res, err := Select(context.Background(), cands, 10, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Selected) != 10 {
		t.Fatalf("expected 10 selections, got %d", len(res.Selected))
	}
	if res.Underfilled {
		t.Fatalf("50 candidates under budget 10 must not be underfilled")
	}
}

func TestUnderfilledWhenBudgetExceedsCandidates(t *testing.T) {
	cands := spreadCandidates(4)
	res, err := Select(context.Background(), cands, 10, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Selected) != 4 {
		t.Fatalf("expected all 4 candidates, got %d", len(res.Selected))
	}
	if !res.Underfilled {
		t.Fatalf("selection must report underfill")
	}
}

func TestNoDuplicatesAndRanksSequential(t *testing.T) {
	cands := spreadCandidates(30)
	res, err := Select(context.Background(), cands, 30, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[string]bool{}
	for i, sel := range res.Selected {
		if seen[sel.SiteID] {
			t.Fatalf("site %s selected twice", sel.SiteID)
		}
		seen[sel.SiteID] = true
		if sel.Rank != i+1 {
			t.Fatalf("rank %d at position %d", sel.Rank, i)
		}
	}
}

func TestSelectionIsDeterministic(t *testing.T) {
	cands := spreadCandidates(200)
	first, err := Select(context.Background(), cands, 25, Config{Acquisition: "ucb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		// Shuffled input order must not change the outcome.
		shuffled := append([]Candidate(nil), cands...)
		for j := range shuffled {
			k := (j * 31) % len(shuffled)
			shuffled[j], shuffled[k] = shuffled[k], shuffled[j]
		}
		again, err := Select(context.Background(), shuffled, 25, Config{Acquisition: "ucb"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("selection differs across runs")
		}
	}
}

func TestSpatialDecaySpreadsSelection(t *testing.T) {
	// Without decay, A then B (the two clustered high-risk sites) win. With
	// decay, picking A suppresses B enough that C comes second.
	res, err := Select(context.Background(), clusteredCandidates(), 2, Config{
		Acquisition:   "ucb",
		DecayRadiusKm: 5,
		DecayFactor:   0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Selected[0].SiteID != "A" {
		t.Fatalf("highest risk site must go first, got %s", res.Selected[0].SiteID)
	}
	if res.Selected[1].SiteID != "C" {
		t.Fatalf("decay should push the neighbor down, expected C second, got %s", res.Selected[1].SiteID)
	}
}

func TestDecayOnlyAffectsNeighbors(t *testing.T) {
	// With a huge decay factor (no-op value 1.0) the pure ranking comes back.
	res, err := Select(context.Background(), clusteredCandidates(), 3, Config{
		Acquisition:   "ucb",
		DecayRadiusKm: 5,
		DecayFactor:   1.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{res.Selected[0].SiteID, res.Selected[1].SiteID, res.Selected[2].SiteID}
	want := []string{"A", "B", "C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected pure risk order %v, got %v", want, got)
	}
}

func TestExpectedImprovementUsesRunningBest(t *testing.T) {
	cands := []Candidate{
		{SiteID: "high", Lat: 10, Lon: 10, RiskMean: 80, RiskStd: 5},
		{SiteID: "mid", Lat: 20, Lon: 20, RiskMean: 55, RiskStd: 5},
		{SiteID: "low", Lat: 30, Lon: 30, RiskMean: 20, RiskStd: 5},
	}
	res, err := Select(context.Background(), cands, 3, Config{
		Acquisition:   "ei",
		RiskThreshold: 50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Selected[0].SiteID != "high" {
		t.Fatalf("EI should pick the clear improvement first, got %s", res.Selected[0].SiteID)
	}
	// After selecting risk 80 the reference moves up, so the remaining EI
	// values collapse toward zero but selection still fills the budget.
	if len(res.Selected) != 3 {
		t.Fatalf("expected full budget, got %d", len(res.Selected))
	}
	if res.Selected[1].Acquisition > res.Selected[0].Acquisition {
		t.Fatalf("acquisition must not increase after the reference rises")
	}
}

func TestProbabilityOfImprovementOrdering(t *testing.T) {
	a := Config{Acquisition: "pi", ExplorationWeight: 2, ImprovementReference: 50}.normalized()
	high := a.acquire(Candidate{RiskMean: 80, RiskStd: 5}, 50)
	low := a.acquire(Candidate{RiskMean: 30, RiskStd: 5}, 50)
	if high <= low {
		t.Fatalf("PI must rank likely exceedances above unlikely ones: %f vs %f", high, low)
	}
	if zero := a.acquire(Candidate{RiskMean: 80, RiskStd: 0}, 50); zero != 0 {
		t.Fatalf("zero-uncertainty candidate has no improvement probability, got %f", zero)
	}
}

func TestUCBTradeoff(t *testing.T) {
	cfg := Config{Acquisition: "ucb", ExplorationWeight: 2}.normalized()
	certain := cfg.acquire(Candidate{RiskMean: 60, RiskStd: 0}, 0)
	uncertain := cfg.acquire(Candidate{RiskMean: 55, RiskStd: 10}, 0)
	if uncertain <= certain {
		t.Fatalf("exploration weight should favor the uncertain site: %f vs %f", uncertain, certain)
	}
}

func TestNegativeBudgetRejected(t *testing.T) {
	if _, err := Select(context.Background(), spreadCandidates(3), -1, Config{}); err == nil {
		t.Fatalf("negative budget must be rejected")
	}
}

func TestZeroBudgetSelectsNothing(t *testing.T) {
	res, err := Select(context.Background(), spreadCandidates(3), 0, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Selected) != 0 {
		t.Fatalf("zero budget selected %d sites", len(res.Selected))
	}
}

func TestCancellationReturnsNoPartialPlan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Select(ctx, spreadCandidates(100), 10, Config{})
	if err == nil {
		t.Fatalf("cancelled context must surface an error")
	}
	if len(res.Selected) != 0 {
		t.Fatalf("cancellation must not return a partial selection")
	}
}

func TestLargeCandidateSetParallelScan(t *testing.T) {
	cands := spreadCandidates(5000)
	res, err := Select(context.Background(), cands, 5, Config{Workers: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	serial, err := Select(context.Background(), cands, 5, Config{Workers: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(res, serial) {
		t.Fatalf("parallel and serial scans disagree")
	}
}
