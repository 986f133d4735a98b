package drift

import (
	"testing"
	"time"
)

func feedBaseline(d *Detector, parameter string, n int) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		r := 1.0
		if i%2 == 1 {
			r = -1.0
		}
		d.Update(parameter, r, at.Add(time.Duration(i)*time.Hour))
	}
}

func TestStationaryResidualsDoNotAlarm(t *testing.T) {
	d := New(0, 0, 0)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		r := 1.0
		if i%2 == 1 {
			r = -1.0
		}
		if st := d.Update("ph", r, at); st.Drifting {
			t.Fatalf("stationary residuals alarmed at observation %d", i)
		}
	}
}

func TestShiftedResidualsAlarm(t *testing.T) {
	d := New(0, 0, 0)
	feedBaseline(d, "tds", 40)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	alarmed := false
	for i := 0; i < 10; i++ {
		if st := d.Update("tds", 4.0, at.Add(time.Duration(i)*time.Hour)); st.Drifting {
			alarmed = true
			if st.LastAlarm.IsZero() {
				t.Fatalf("alarm must stamp LastAlarm")
			}
			// Sums reset after the alarm so the next update starts fresh.
			if st.GPos != 0 || st.GNeg != 0 {
				t.Fatalf("cumulative sums must reset on alarm")
			}
			break
		}
	}
	if !alarmed {
		t.Fatalf("persistent +4 sigma shift never alarmed")
	}
}

func TestNegativeShiftAlarms(t *testing.T) {
	d := New(0, 0, 0)
	feedBaseline(d, "ph", 40)

	at := time.Now()
	alarmed := false
	for i := 0; i < 10; i++ {
		if st := d.Update("ph", -4.0, at); st.Drifting {
			alarmed = true
			break
		}
	}
	if !alarmed {
		t.Fatalf("negative shift never alarmed")
	}
}

func TestTooFewObservationsAccumulateOnly(t *testing.T) {
	d := New(0, 0, 0)
	at := time.Now()
	for i := 0; i < 9; i++ {
		if st := d.Update("ph", 100, at); st.Drifting || st.GPos != 0 {
			t.Fatalf("detector must not score before 10 observations")
		}
	}
}

func TestResetClearsState(t *testing.T) {
	d := New(0, 0, 0)
	feedBaseline(d, "ph", 40)
	d.Reset("ph")
	if got := len(d.Summary()); got != 0 {
		t.Fatalf("reset left %d tracked parameters", got)
	}
}

func TestSummarySorted(t *testing.T) {
	d := New(0, 0, 0)
	feedBaseline(d, "turbidity", 12)
	feedBaseline(d, "ph", 12)
	sum := d.Summary()
	if len(sum) != 2 || sum[0].Parameter != "ph" || sum[1].Parameter != "turbidity" {
		t.Fatalf("summary must be sorted by parameter: %+v", sum)
	}
	if sum[0].Observations != 12 {
		t.Fatalf("observation count lost: %+v", sum[0])
	}
}
