// Package threatdb owns the durable threat-facing state of the agent: the
// registry of active detections, the quarantine ledger and the activity log.
// Each collection is mutated only through its component's methods and every
// mutation writes through to the injected state store.
package threatdb

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kversteeg/starshield/internal/interfaces"
	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
)

var ErrThreatNotFound = errors.New("threat not found")

// Registry merges engine detections into a set of active threats keyed by
// normalized file path. An incoming detection always overwrites an existing
// record at the same path; there is no per-file history.
type Registry struct {
	mu      sync.Mutex
	threats []model.Threat // insertion-ordered active set
	byPath  map[string]int // normalized path -> index into threats

	store  interfaces.StateStore
	logger logging.Logger

	// onEmpty fires when a resolve drains the last active threat, so the
	// controller can recompute the protection status projection.
	onEmpty func()
}

// NewRegistry restores the active set from the store. A store with no
// persisted threats yields an empty registry.
func NewRegistry(store interfaces.StateStore, logger logging.Logger) (*Registry, error) {
	r := &Registry{
		store:  store,
		logger: logger.With(logging.Field{Key: "component", Value: "threat_registry"}),
		byPath: make(map[string]int),
	}
	persisted, err := store.LoadThreats()
	if err != nil {
		return nil, fmt.Errorf("loading persisted threats: %w", err)
	}
	for _, t := range persisted {
		if t.Status != model.StatusActive {
			continue
		}
		r.byPath[t.FilePath] = len(r.threats)
		r.threats = append(r.threats, t)
	}
	return r, nil
}

// SetOnEmpty registers the callback invoked when the active set drains.
func (r *Registry) SetOnEmpty(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEmpty = fn
}

// NormalizePath is the registry's merge key derivation.
func NormalizePath(p string) string {
	return filepath.Clean(p)
}

func defaultAction(source model.ThreatSource) model.ThreatAction {
	// The only source-dependent business rule: realtime hits default to
	// quarantine, on-demand scan hits default to delete.
	if source == model.SourceRealtime {
		return model.ActionQuarantine
	}
	return model.ActionDelete
}

// Ingest merges the given detections into the active set, last write wins
// per path. A re-detection of a known path keeps the existing threat ID so
// downstream references stay stable, but replaces every other attribute.
// Returns the merged records in registry order.
func (r *Registry) Ingest(detections []model.Detection, source model.ThreatSource) ([]model.Threat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	merged := make([]model.Threat, 0, len(detections))
	for _, d := range detections {
		path := NormalizePath(d.Path)
		t := model.Threat{
			ID:                uuid.NewString(),
			FileName:          filepath.Base(path),
			FilePath:          path,
			DetectionLabel:    d.Label,
			RecommendedAction: defaultAction(source),
			DetectedAt:        now,
			Source:            source,
			Status:            model.StatusActive,
		}
		if idx, ok := r.byPath[path]; ok {
			t.ID = r.threats[idx].ID
			r.threats[idx] = t
		} else {
			r.byPath[path] = len(r.threats)
			r.threats = append(r.threats, t)
		}
		merged = append(merged, t)
	}

	if len(detections) > 0 {
		if err := r.persistLocked(); err != nil {
			return merged, err
		}
		r.logger.Info("merged detections",
			logging.Field{Key: "incoming", Value: len(detections)},
			logging.Field{Key: "active", Value: len(r.threats)},
			logging.Field{Key: "source", Value: string(source)})
	}
	return merged, nil
}

// ActiveThreats returns a copy of the active set in insertion order.
func (r *Registry) ActiveThreats() []model.Threat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Threat, len(r.threats))
	copy(out, r.threats)
	return out
}

// Get returns the active threat with the given id.
func (r *Registry) Get(id string) (model.Threat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.threats {
		if t.ID == id {
			return t, nil
		}
	}
	return model.Threat{}, ErrThreatNotFound
}

// Remove drops the threats with the given ids from the active set. It is
// called after a disposition (quarantine or delete) has succeeded; removing
// an id that is no longer active is not an error. Fires the onEmpty callback
// when the set drains.
func (r *Registry) Remove(ids []string) error {
	r.mu.Lock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := r.threats[:0]
	for _, t := range r.threats {
		if !drop[t.ID] {
			kept = append(kept, t)
		}
	}
	removed := len(r.threats) - len(kept)
	r.threats = kept

	r.byPath = make(map[string]int, len(r.threats))
	for i, t := range r.threats {
		r.byPath[t.FilePath] = i
	}

	var err error
	if removed > 0 {
		err = r.persistLocked()
	}
	drained := removed > 0 && len(r.threats) == 0
	onEmpty := r.onEmpty
	r.mu.Unlock()

	if drained && onEmpty != nil {
		onEmpty()
	}
	return err
}

func (r *Registry) persistLocked() error {
	snapshot := make([]model.Threat, len(r.threats))
	copy(snapshot, r.threats)
	if err := r.store.SaveThreats(snapshot); err != nil {
		r.logger.Error("persisting threats", logging.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("persisting threats: %w", err)
	}
	return nil
}
