// Package drift implements CUSUM change detection on prediction residuals so
// a model is retrained before its accuracy silently degrades.
package drift

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Status is the detector state for one parameter after an update.
type Status struct {
	Parameter    string    `json:"parameter"`
	Drifting     bool      `json:"drifting"`
	GPos         float64   `json:"g_pos"`
	GNeg         float64   `json:"g_neg"`
	Observations int       `json:"observations"`
	LastAlarm    time.Time `json:"last_alarm,omitempty"`
}

// Detector accumulates one-sided CUSUM statistics per parameter. Residuals
// are standardized against a rolling window before accumulation, so the
// detector adapts to each parameter's scale.
type Detector struct {
	mu        sync.Mutex
	threshold float64 // alarm when either cumulative sum exceeds this
	magnitude float64 // allowance k: drift magnitude considered negligible
	window    int

	states map[string]*state
}

type state struct {
	recent    []float64
	gPos      float64
	gNeg      float64
	count     int
	lastAlarm time.Time
}

// New constructs a Detector. Zero arguments pick the defaults (threshold 5,
// magnitude 0.5, window 100).
func New(threshold, magnitude float64, window int) *Detector {
	if threshold <= 0 {
		threshold = 5.0
	}
	if magnitude <= 0 {
		magnitude = 0.5
	}
	if window <= 0 {
		window = 100
	}
	return &Detector{
		threshold: threshold,
		magnitude: magnitude,
		window:    window,
		states:    make(map[string]*state),
	}
}

// Update feeds one residual (observed minus predicted) for a parameter and
// reports whether the parameter is now drifting. After an alarm the
// cumulative sums reset so repeated alarms require fresh evidence.
func (d *Detector) Update(parameter string, residual float64, at time.Time) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[parameter]
	if !ok {
		st = &state{}
		d.states[parameter] = st
	}
	st.count++
	st.recent = append(st.recent, residual)
	if len(st.recent) > d.window {
		st.recent = st.recent[len(st.recent)-d.window:]
	}

	mean, std := meanStd(st.recent)
	// Too few observations to standardize against; accumulate only.
	if len(st.recent) >= 10 && std > 0 {
		z := (residual - mean) / std
		st.gPos = math.Max(0, st.gPos+z-d.magnitude)
		st.gNeg = math.Max(0, st.gNeg-z-d.magnitude)
	}

	drifting := st.gPos > d.threshold || st.gNeg > d.threshold
	if drifting {
		st.lastAlarm = at
		st.gPos = 0
		st.gNeg = 0
	}
	return Status{
		Parameter:    parameter,
		Drifting:     drifting,
		GPos:         st.gPos,
		GNeg:         st.gNeg,
		Observations: st.count,
		LastAlarm:    st.lastAlarm,
	}
}

// Reset clears the state for one parameter, typically after a retrain.
func (d *Detector) Reset(parameter string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, parameter)
}

// Summary reports the state of every tracked parameter, sorted by name.
func (d *Detector) Summary() []Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Status, 0, len(d.states))
	for p, st := range d.states {
		out = append(out, Status{
			Parameter:    p,
			Drifting:     st.gPos > d.threshold || st.gNeg > d.threshold,
			GPos:         st.gPos,
			GNeg:         st.gNeg,
			Observations: st.count,
			LastAlarm:    st.lastAlarm,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parameter < out[j].Parameter })
	return out
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		diff := v - mean
		ss += diff * diff
	}
	return mean, math.Sqrt(ss / float64(len(values)))
}
