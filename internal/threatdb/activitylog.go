package threatdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/kversteeg/starshield/internal/interfaces"
	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
)

// ActivityLog is the append-only, most-recent-first event history shown on
// the dashboard. Consecutive structurally identical entries are collapsed to
// keep watcher event storms from flooding the list.
type ActivityLog struct {
	mu      sync.Mutex
	entries []model.LogEntry // entries[0] is the newest
	nextID  int64

	store  interfaces.StateStore
	logger logging.Logger
}

// NewActivityLog restores the log from the store.
func NewActivityLog(store interfaces.StateStore, logger logging.Logger) (*ActivityLog, error) {
	l := &ActivityLog{
		store:  store,
		logger: logger.With(logging.Field{Key: "component", Value: "activity_log"}),
		nextID: 1,
	}
	persisted, err := store.LoadActivityLog()
	if err != nil {
		return nil, fmt.Errorf("loading activity log: %w", err)
	}
	l.entries = persisted
	for _, e := range persisted {
		if e.ID >= l.nextID {
			l.nextID = e.ID + 1
		}
	}
	return l, nil
}

// Append prepends an entry, assigning its sequence number and timestamp if
// unset. If the candidate matches the current head under the dedup rule
// (same scan type, result, details and minute-truncated timestamp) it is
// discarded and the head's id is returned.
func (l *ActivityLog) Append(entry model.LogEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if len(l.entries) > 0 && l.entries[0].DedupKeyEquals(entry) {
		return l.entries[0].ID, nil
	}

	entry.ID = l.nextID
	l.nextID++

	l.entries = append([]model.LogEntry{entry}, l.entries...)
	if err := l.persistLocked(); err != nil {
		return entry.ID, err
	}
	return entry.ID, nil
}

// Entries returns a copy, newest first.
func (l *ActivityLog) Entries() []model.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear removes all entries. Threats and quarantine records are unaffected.
func (l *ActivityLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	return l.persistLocked()
}

func (l *ActivityLog) persistLocked() error {
	snapshot := make([]model.LogEntry, len(l.entries))
	copy(snapshot, l.entries)
	if err := l.store.SaveActivityLog(snapshot); err != nil {
		l.logger.Error("persisting activity log", logging.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("persisting activity log: %w", err)
	}
	return nil
}
