package gp

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// trainingSet builds a smooth 1D-varying function over a 6-feature grid so
// the model has real structure to recover.
func trainingSet(n int) (*mat.Dense, []float64) {
	X := mat.NewDense(n, 6, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		X.SetRow(i, []float64{
			20 + t,             // latitude
			77 - t,             // longitude
			math.Sin(2 * math.Pi * t),
			math.Cos(2 * math.Pi * t),
			5 * t,              // distance
			400 + 100*t,        // elevation
		})
		y[i] = 7 + math.Sin(3*t) + 0.5*t
	}
	return X, y
}

func fixedHyper() Hyperparams {
	return Hyperparams{
		RBFVariance:       1.0,
		RBFLengthScale:    1.0,
		MaternVariance:    0.5,
		MaternLengthScale: 0.5,
		NoiseVariance:     1e-4,
	}
}

func TestInsufficientData(t *testing.T) {
	X, y := trainingSet(10)
	_, err := Fit("ph", X, y, Options{MinTrainingPoints: 30})
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestModelInterpolatesTrainingPoints(t *testing.T) {
	X, y := trainingSet(40)
	m, err := NewWithHyperparams("ph", fixedHyper(), X, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// With tiny noise the posterior mean should pass near the training
	// targets, and uncertainty should be small there.
	for i := 0; i < 40; i += 7 {
		pred, err := m.Predict(X.RawRowView(i))
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		if math.Abs(pred.Mean-y[i]) > 0.05 {
			t.Fatalf("row %d: mean %f far from target %f", i, pred.Mean, y[i])
		}
		if pred.Fallback {
			t.Fatalf("model prediction must not be marked fallback")
		}
		if pred.Std >= m.NoiseFloor() {
			t.Fatalf("row %d: std %g at a training input must stay below the noise floor %g",
				i, pred.Std, m.NoiseFloor())
		}
	}
}

func TestUncertaintyGrowsAwayFromData(t *testing.T) {
	X, y := trainingSet(40)
	m, err := NewWithHyperparams("ph", fixedHyper(), X, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	near, err := m.Predict(X.RawRowView(20))
	if err != nil {
		t.Fatalf("predict near: %v", err)
	}
	far, err := m.Predict([]float64{35, 60, 0, 1, 200, 2000})
	if err != nil {
		t.Fatalf("predict far: %v", err)
	}
	if far.Std <= near.Std {
		t.Fatalf("expected larger uncertainty far from data: near=%f far=%f", near.Std, far.Std)
	}
}

func TestFitIsDeterministic(t *testing.T) {
	X, y := trainingSet(35)
	opts := Options{MinTrainingPoints: 30, Restarts: 5, CVFolds: 5, Seed: 7}
	a, err := Fit("ph", X, y, opts)
	if err != nil {
		t.Fatalf("first fit: %v", err)
	}
	b, err := Fit("ph", X, y, opts)
	if err != nil {
		t.Fatalf("second fit: %v", err)
	}
	if a.Hyper() != b.Hyper() {
		t.Fatalf("same seed produced different hyperparameters:\n%+v\n%+v", a.Hyper(), b.Hyper())
	}
	if a.R2() != b.R2() {
		t.Fatalf("same seed produced different R²: %f vs %f", a.R2(), b.R2())
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	X, y := trainingSet(40)
	m, err := NewWithHyperparams("tds", fixedHyper(), X, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.SetVersion("v-test")
	m.SetSiteTypes([]string{"lake", "pond"})

	restored, err := FromArtifact(m.Artifact())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Version() != "v-test" || restored.Parameter() != "tds" {
		t.Fatalf("identity lost: %s/%s", restored.Parameter(), restored.Version())
	}
	if len(restored.SiteTypes()) != 2 {
		t.Fatalf("site types lost: %v", restored.SiteTypes())
	}

	query := []float64{20.5, 76.5, 0.5, 0.8, 2.5, 450}
	orig, err := m.Predict(query)
	if err != nil {
		t.Fatalf("predict original: %v", err)
	}
	back, err := restored.Predict(query)
	if err != nil {
		t.Fatalf("predict restored: %v", err)
	}
	if math.Abs(orig.Mean-back.Mean) > 1e-6 || math.Abs(orig.Std-back.Std) > 1e-6 {
		t.Fatalf("restored model diverges: (%f,%f) vs (%f,%f)", orig.Mean, orig.Std, back.Mean, back.Std)
	}
}

func TestCorruptArtifactRejected(t *testing.T) {
	X, y := trainingSet(35)
	m, err := NewWithHyperparams("ph", fixedHyper(), X, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := m.Artifact()
	a.Y = a.Y[:len(a.Y)-1]
	if _, err := FromArtifact(a); err == nil {
		t.Fatalf("expected inconsistent artifact to be rejected")
	}

	b := m.Artifact()
	b.XScaler = nil
	if _, err := FromArtifact(b); err == nil {
		t.Fatalf("expected artifact without scalers to be rejected")
	}
}

func TestPriorPrediction(t *testing.T) {
	p := PriorPrediction(250, 40)
	if !p.Fallback {
		t.Fatalf("prior prediction must be marked fallback")
	}
	if p.Mean != 250 || p.Std != 80 {
		t.Fatalf("prior should widen regional spread: got mean=%f std=%f", p.Mean, p.Std)
	}
}

func TestPredictUnfitted(t *testing.T) {
	var m Model
	if _, err := m.Predict([]float64{1, 2, 3, 4, 5, 6}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}
