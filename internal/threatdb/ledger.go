package threatdb

import (
	"context"
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

var (
	ErrEntryNotFound = errors.New("quarantine entry not found")

	// ErrConfirmationRequired guards the irreversible permanent delete:
	// callers must re-invoke with an explicit confirmation.
	ErrConfirmationRequired = errors.New("permanent delete requires confirmation")
)

// Ledger tracks quarantined files. Isolation is never assumed to have
// happened until the engine confirms it: on a failed engine call the ledger
// creates no entries and the corresponding threats stay active, so the user
// can simply retry.
type Ledger struct {
	mu      sync.Mutex
	entries []model.QuarantineEntry

	engine   interfaces.Engine
	activity *ActivityLog
	store    interfaces.StateStore
	logger   logging.Logger
}

// NewLedger restores quarantine entries from the store.
func NewLedger(engine interfaces.Engine, activity *ActivityLog, store interfaces.StateStore, logger logging.Logger) (*Ledger, error) {
	l := &Ledger{
		engine:   engine,
		activity: activity,
		store:    store,
		logger:   logger.With(logging.Field{Key: "component", Value: "quarantine_ledger"}),
	}
	persisted, err := store.LoadQuarantine()
	if err != nil {
		return nil, fmt.Errorf("loading quarantine entries: %w", err)
	}
	l.entries = persisted
	return l, nil
}

// Isolate asks the engine to move the threats' files into quarantine. On
// success it records one entry per threat and logs the count moved; on
// failure it records nothing and logs the failure, leaving the threats
// active. The batch is all-or-nothing.
func (l *Ledger) Isolate(ctx context.Context, threats []model.Threat) ([]model.QuarantineEntry, error) {
	if len(threats) == 0 {
		return nil, nil
	}

	paths := make([]string, len(threats))
	for i, t := range threats {
		paths[i] = t.FilePath
	}

	if err := l.engine.IsolateFiles(ctx, paths); err != nil {
		l.logger.Warn("isolate command failed",
			logging.Field{Key: "count", Value: len(paths)},
			logging.Field{Key: "error", Value: err.Error()})
		l.appendLog(threats[0].Source, model.ResultFailed,
			fmt.Sprintf("Failed to move %d file(s) to quarantine", len(paths)))
		return nil, fmt.Errorf("isolating files: %w", err)
	}

	now := time.Now().UTC()
	created := make([]model.QuarantineEntry, 0, len(threats))
	for _, t := range threats {
		created = append(created, model.QuarantineEntry{
			ID:             uuid.NewString(),
			FileName:       filepath.Base(t.FilePath),
			OriginalPath:   t.FilePath,
			QuarantinedAt:  now,
			DetectionLabel: t.DetectionLabel,
			Source:         t.Source,
		})
	}

	l.mu.Lock()
	l.entries = append(l.entries, created...)
	err := l.persistLocked()
	l.mu.Unlock()
	if err != nil {
		return created, err
	}

	l.appendLog(threats[0].Source, model.ResultThreatsFound,
		fmt.Sprintf("Moved %d file(s) to quarantine", len(created)))
	return created, nil
}

// Restore moves a quarantined file back to its original path. The entry is
// removed only after the engine confirms; a failed restore keeps the entry
// unchanged and is safe to retry.
func (l *Ledger) Restore(ctx context.Context, id string) error {
	entry, err := l.Get(id)
	if err != nil {
		return err
	}

	item := model.RestoreItem{FileName: entry.FileName, OriginalPath: entry.OriginalPath}
	if err := l.engine.RestoreFromQuarantine(ctx, []model.RestoreItem{item}); err != nil {
		l.logger.Warn("restore command failed",
			logging.Field{Key: "file", Value: entry.FileName},
			logging.Field{Key: "error", Value: err.Error()})
		l.appendLog(entry.Source, model.ResultFailed,
			fmt.Sprintf("Failed to restore %s from quarantine", entry.FileName))
		return fmt.Errorf("restoring %s: %w", entry.FileName, err)
	}

	if err := l.remove(id); err != nil {
		return err
	}
	l.appendLog(entry.Source, model.ResultClean,
		fmt.Sprintf("Restored %s from quarantine", entry.FileName))
	return nil
}

// DeleteForever permanently removes a quarantined file. The confirmed flag
// is the two-step UI gate: without it nothing is mutated.
func (l *Ledger) DeleteForever(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}

	entry, err := l.Get(id)
	if err != nil {
		return err
	}

	if err := l.engine.DeleteQuarantineFiles(ctx, []string{entry.FileName}); err != nil {
		l.logger.Warn("permanent delete failed",
			logging.Field{Key: "file", Value: entry.FileName},
			logging.Field{Key: "error", Value: err.Error()})
		l.appendLog(entry.Source, model.ResultFailed,
			fmt.Sprintf("Failed to permanently delete %s", entry.FileName))
		return fmt.Errorf("deleting %s: %w", entry.FileName, err)
	}

	if err := l.remove(id); err != nil {
		return err
	}
	l.appendLog(entry.Source, model.ResultClean,
		fmt.Sprintf("Permanently deleted %s", entry.FileName))
	return nil
}

// Entries returns a copy of the ledger, oldest first.
func (l *Ledger) Entries() []model.QuarantineEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.QuarantineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Get returns the entry with the given id.
func (l *Ledger) Get(id string) (model.QuarantineEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return model.QuarantineEntry{}, ErrEntryNotFound
}

func (l *Ledger) remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	return l.persistLocked()
}

func (l *Ledger) persistLocked() error {
	snapshot := make([]model.QuarantineEntry, len(l.entries))
	copy(snapshot, l.entries)
	if err := l.store.SaveQuarantine(snapshot); err != nil {
		l.logger.Error("persisting quarantine entries", logging.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("persisting quarantine entries: %w", err)
	}
	return nil
}

func (l *Ledger) appendLog(source model.ThreatSource, result model.ScanResult, details string) {
	scanType := model.ScanTypeFullScan
	if source == model.SourceRealtime {
		scanType = model.ScanTypeRealtime
	}
	if _, err := l.activity.Append(model.LogEntry{
		ScanType: scanType,
		Result:   result,
		Details:  details,
	}); err != nil {
		l.logger.Error("appending activity entry", logging.Field{Key: "error", Value: err.Error()})
	}
}
