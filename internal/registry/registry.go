// Package registry holds the "current model per parameter" pointer. Models
// are immutable, versioned artifacts; publishing swaps a snapshot pointer
// atomically, so readers never observe a partially-written model.
package registry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jalsarovar/wflow/internal/gp"
)

// Metadata describes the training snapshot a version was fitted from.
type Metadata struct {
	TrainingRows   int       `json:"training_rows"`
	SnapshotCutoff time.Time `json:"snapshot_cutoff"`
}

// ArtifactStore persists model versions. Implementations must write the new
// version durably before Publish swaps it in.
type ArtifactStore interface {
	SaveModelVersion(ctx context.Context, artifact gp.Artifact, meta Metadata) error
	LoadCurrentArtifacts(ctx context.Context) ([]gp.Artifact, error)
}

// Snapshot is an immutable view of the current model set. It is shared
// between concurrent readers without locking.
type Snapshot struct {
	models map[string]*gp.Model
}

// Model returns the current model for a parameter.
func (s *Snapshot) Model(parameter string) (*gp.Model, bool) {
	m, ok := s.models[parameter]
	return m, ok
}

// Parameters lists the parameters with a current model, sorted.
func (s *Snapshot) Parameters() []string {
	out := make([]string, 0, len(s.models))
	for p := range s.models {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Versions maps parameter to current model version id.
func (s *Snapshot) Versions() map[string]string {
	out := make(map[string]string, len(s.models))
	for p, m := range s.models {
		out[p] = m.Version()
	}
	return out
}

// Registry is the single source of truth for serving models.
type Registry struct {
	current atomic.Pointer[Snapshot]
	store   ArtifactStore
	logger  *log.Logger
}

// New constructs an empty registry. store may be nil for in-memory use.
func New(store ArtifactStore, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags)
	}
	r := &Registry{store: store, logger: logger}
	r.current.Store(&Snapshot{models: map[string]*gp.Model{}})
	return r
}

// Current returns the serving snapshot; never nil.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Restore loads the persisted current versions, typically at startup.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	artifacts, err := r.store.LoadCurrentArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("registry: load current artifacts: %w", err)
	}
	models := make(map[string]*gp.Model, len(artifacts))
	for _, a := range artifacts {
		m, err := gp.FromArtifact(a)
		if err != nil {
			// A corrupt artifact must not take down the rest of the set.
			r.logger.Printf("skipping artifact %s/%s: %v", a.Parameter, a.Version, err)
			continue
		}
		models[a.Parameter] = m
	}
	r.current.Store(&Snapshot{models: models})
	r.logger.Printf("restored %d model(s)", len(models))
	return nil
}

// Publish persists the model as a new version and swaps it into the current
// snapshot. The swap is copy-on-write: other parameters keep their models.
func (r *Registry) Publish(ctx context.Context, m *gp.Model, meta Metadata) error {
	if m == nil {
		return fmt.Errorf("registry: nil model")
	}
	if m.Version() == "" {
		m.SetVersion(uuid.New().String())
	}
	if r.store != nil {
		if err := r.store.SaveModelVersion(ctx, m.Artifact(), meta); err != nil {
			return fmt.Errorf("registry: persist %s/%s: %w", m.Parameter(), m.Version(), err)
		}
	}

	for {
		old := r.current.Load()
		models := make(map[string]*gp.Model, len(old.models)+1)
		for p, om := range old.models {
			models[p] = om
		}
		models[m.Parameter()] = m
		if r.current.CompareAndSwap(old, &Snapshot{models: models}) {
			break
		}
	}
	r.logger.Printf("published %s version %s (r2=%.3f warning=%v)", m.Parameter(), m.Version(), m.R2(), m.Warning())
	return nil
}
