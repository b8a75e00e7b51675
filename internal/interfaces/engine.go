package interfaces

import (
	"context"
	"errors"

	"github.com/kversteeg/starshield/internal/model"
)

// ErrEngineUnavailable marks transport-level failures where no engine
// process answered at all, as opposed to the engine rejecting a command.
// Callers use it to decide between local simulation and a failure log entry.
var ErrEngineUnavailable = errors.New("scan engine unavailable")

// Engine is the command side of the external scan engine. All commands are
// asynchronous at the engine: a nil error means the engine accepted the
// command, not that the scan or file operation has completed.
//
// Batch operations (IsolateFiles, RestoreFromQuarantine,
// DeleteQuarantineFiles) are all-or-nothing from the caller's point of view:
// an error means none of the corresponding client state may be mutated.
type Engine interface {
	// StartFullScan asks the engine to begin a full scan.
	StartFullScan(ctx context.Context) error

	// StartQuickScan asks the engine to begin a quick scan.
	StartQuickScan(ctx context.Context) error

	// SetRealtimeEnabled toggles the engine's background file watcher.
	SetRealtimeEnabled(ctx context.Context, enabled bool) error

	// IsolateFiles moves the given files into the quarantine directory.
	IsolateFiles(ctx context.Context, paths []string) error

	// RestoreFromQuarantine moves quarantined files back to their
	// original locations.
	RestoreFromQuarantine(ctx context.Context, items []model.RestoreItem) error

	// DeleteQuarantineFiles permanently removes files from the
	// quarantine directory.
	DeleteQuarantineFiles(ctx context.Context, fileNames []string) error

	// ProbeFilesystemAccess reports per-root access diagnostics.
	ProbeFilesystemAccess(ctx context.Context) ([]model.ProbeResult, error)
}

// EngineEvents is the subscription side of the engine boundary. Handlers for
// all channels run serially on the feed's dispatch goroutine; no two handlers
// ever execute at the same time.
type EngineEvents interface {
	// Subscribe registers a handler for one event channel and returns the
	// matching unsubscribe function. Unsubscribe is safe to call once per
	// subscription; the controller releases every subscription on teardown.
	Subscribe(channel model.EventChannel, handler func(model.Event)) (unsubscribe func())
}
