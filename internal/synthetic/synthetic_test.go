package synthetic

import (
	"testing"
	"time"

	"github.com/jalsarovar/wflow/internal/store"
)

func TestGenerateIsDeterministic(t *testing.T) {
	opts := Options{Seed: 7, Sites: 30, Months: 6, End: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	sitesA, measA := Generate(opts)
	sitesB, measB := Generate(opts)

	if len(sitesA) != 30 || len(sitesA) != len(sitesB) {
		t.Fatalf("expected 30 sites twice, got %d and %d", len(sitesA), len(sitesB))
	}
	for i := range sitesA {
		if sitesA[i] != sitesB[i] {
			t.Fatalf("site %d differs between runs: %+v vs %+v", i, sitesA[i], sitesB[i])
		}
	}
	if len(measA) != len(measB) {
		t.Fatalf("measurement counts differ: %d vs %d", len(measA), len(measB))
	}
	for i := range measA {
		if measA[i] != measB[i] {
			t.Fatalf("measurement %d differs between runs", i)
		}
	}

	// Four parameters per site per month.
	if want := 30 * 6 * 4; len(measA) != want {
		t.Fatalf("expected %d measurements, got %d", want, len(measA))
	}
}

func TestGenerateSeedChangesData(t *testing.T) {
	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sitesA, _ := Generate(Options{Seed: 1, Sites: 10, Months: 2, End: end})
	sitesB, _ := Generate(Options{Seed: 2, Sites: 10, Months: 2, End: end})
	same := true
	for i := range sitesA {
		if sitesA[i].Lat != sitesB[i].Lat {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different seeds should place sites differently")
	}
}

func TestGeneratedMeasurementsAreValid(t *testing.T) {
	_, meas := Generate(Options{Seed: 42, Sites: 40, Months: 12, End: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)})
	for _, m := range meas {
		if err := store.ValidateMeasurement(m); err != nil {
			t.Fatalf("generated measurement fails validation: %v (%+v)", err, m)
		}
		if m.Source != store.SourceLab {
			t.Fatalf("demo history must be lab sourced, got %q", m.Source)
		}
	}
}

func TestContaminationShowsUpInTDS(t *testing.T) {
	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, meas := Generate(Options{Seed: 42, Sites: 200, Months: 3, ContaminatedFraction: 0.2, End: end})

	var exceed, total int
	for _, m := range meas {
		if m.Parameter != "tds" {
			continue
		}
		total++
		if m.Value > 500 {
			exceed++
		}
	}
	if total == 0 {
		t.Fatalf("no tds measurements generated")
	}
	frac := float64(exceed) / float64(total)
	// Contaminated sites get +350..500 mg/L, so roughly the contaminated
	// fraction (plus hotspot neighbors) should exceed the 500 limit.
	if frac < 0.10 || frac > 0.60 {
		t.Fatalf("tds exceedance fraction %v implausible for 20%% contamination", frac)
	}
}

func TestMonthlyCadenceEndsAtRequestedMonth(t *testing.T) {
	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, meas := Generate(Options{Seed: 3, Sites: 5, Months: 4, End: end})

	seen := map[string]bool{}
	for _, m := range meas {
		seen[m.MeasuredAt.Format("2006-01")] = true
		if !m.MeasuredAt.Before(end) {
			t.Fatalf("measurement at %v is not before the end date", m.MeasuredAt)
		}
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 distinct months, got %v", seen)
	}
}
