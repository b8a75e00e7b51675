// Package agent is the client-side controller of the antivirus product. It
// starts and stops scan sessions, ingests the engine's asynchronous events,
// reconciles threats and quarantine records, and derives the protection
// status shown to the user.
//
// Known limitation: stopping a scan is a client-side abort only. The engine
// is not told to halt, and a scan_finished event arriving after a stop is
// still processed for its detections (they must never be lost) even though
// the session itself ignores it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kversteeg/starshield/internal/interfaces"
	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
	"github.com/kversteeg/starshield/internal/session"
	"github.com/kversteeg/starshield/internal/threatdb"
)

// ErrConfirmationRequired guards destructive toggles behind an explicit
// user confirmation.
var ErrConfirmationRequired = errors.New("action requires confirmation")

// noEngine stands in when no engine process is configured; every command
// reports the engine as unavailable so callers take their local fallbacks.
type noEngine struct{}

func (noEngine) StartFullScan(context.Context) error  { return interfaces.ErrEngineUnavailable }
func (noEngine) StartQuickScan(context.Context) error { return interfaces.ErrEngineUnavailable }
func (noEngine) SetRealtimeEnabled(context.Context, bool) error {
	return interfaces.ErrEngineUnavailable
}
func (noEngine) IsolateFiles(context.Context, []string) error {
	return interfaces.ErrEngineUnavailable
}
func (noEngine) RestoreFromQuarantine(context.Context, []model.RestoreItem) error {
	return interfaces.ErrEngineUnavailable
}
func (noEngine) DeleteQuarantineFiles(context.Context, []string) error {
	return interfaces.ErrEngineUnavailable
}
func (noEngine) ProbeFilesystemAccess(context.Context) ([]model.ProbeResult, error) {
	return nil, interfaces.ErrEngineUnavailable
}

// Agent wires the session manager, threat registry, quarantine ledger and
// activity log behind one surface for the presentation layer.
type Agent struct {
	logger logging.Logger
	store  interfaces.StateStore
	engine interfaces.Engine
	events interfaces.EngineEvents

	session  *session.Manager
	registry *threatdb.Registry
	ledger   *threatdb.Ledger
	activity *threatdb.ActivityLog

	mu              sync.Mutex
	realtimeEnabled bool
	onStatus        func(model.ProtectionStatus)

	unsubs    []func()
	closeOnce sync.Once
}

// Snapshot is the full controller state handed to the presentation layer.
type Snapshot struct {
	Status          model.ProtectionStatus  `json:"status"`
	Session         session.Snapshot        `json:"session"`
	RealtimeEnabled bool                    `json:"realtime_enabled"`
	Threats         []model.Threat          `json:"threats"`
	Quarantine      []model.QuarantineEntry `json:"quarantine"`
	Activity        []model.LogEntry        `json:"activity"`
}

// New restores persisted state from the store and assembles the controller.
// engine may be nil (no engine process; scans run on the synthetic
// simulator) and events may be nil (no feed; only simulated events flow).
func New(sessionCfg session.Config, eng interfaces.Engine, events interfaces.EngineEvents, store interfaces.StateStore, logger logging.Logger) (*Agent, error) {
	if eng == nil {
		eng = noEngine{}
	}
	log := logger.With(logging.Field{Key: "component", Value: "agent"})

	activity, err := threatdb.NewActivityLog(store, logger)
	if err != nil {
		return nil, fmt.Errorf("restoring activity log: %w", err)
	}
	registry, err := threatdb.NewRegistry(store, logger)
	if err != nil {
		return nil, fmt.Errorf("restoring threat registry: %w", err)
	}
	ledger, err := threatdb.NewLedger(eng, activity, store, logger)
	if err != nil {
		return nil, fmt.Errorf("restoring quarantine ledger: %w", err)
	}

	// Realtime protection defaults to on for a fresh install.
	realtime, found, err := store.LoadRealtimeEnabled()
	if err != nil {
		return nil, fmt.Errorf("loading realtime flag: %w", err)
	}
	if !found {
		realtime = true
	}

	a := &Agent{
		logger:          log,
		store:           store,
		engine:          eng,
		events:          events,
		registry:        registry,
		ledger:          ledger,
		activity:        activity,
		realtimeEnabled: realtime,
	}

	a.session = session.NewManager(sessionCfg, eng, logger)
	a.session.SetEmit(a.HandleEvent)
	a.session.SetOnChange(a.notifyStatus)
	a.session.SetOnStartFailure(a.logStartFailure)
	registry.SetOnEmpty(a.notifyStatus)

	return a, nil
}

// Start subscribes to the engine event channels. Subscriptions are released
// exactly once by Close, on every exit path.
func (a *Agent) Start() {
	if a.events == nil {
		return
	}
	a.unsubs = append(a.unsubs,
		a.events.Subscribe(model.ChannelScanProgress, a.HandleEvent),
		a.events.Subscribe(model.ChannelScanFinished, a.HandleEvent),
		a.events.Subscribe(model.ChannelRealtimeThreat, a.HandleEvent),
	)
	a.logger.Info("subscribed to engine events")
}

// Close releases the event subscriptions. Safe to call multiple times.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		for _, unsub := range a.unsubs {
			unsub()
		}
		a.unsubs = nil
		a.logger.Info("agent closed")
	})
}

// SetOnStatusChange registers a callback fired whenever the derived
// protection status may have changed.
func (a *Agent) SetOnStatusChange(fn func(model.ProtectionStatus)) {
	a.mu.Lock()
	a.onStatus = fn
	a.mu.Unlock()
}

// StartScan begins a full or quick scan. No-op error when a session is
// already active.
func (a *Agent) StartScan(ctx context.Context, kind session.Kind) error {
	return a.session.Start(ctx, kind)
}

// StopScan aborts the session client-side; the engine may keep scanning.
func (a *Agent) StopScan() {
	a.session.Stop()
}

// HandleEvent is the single entry point for engine events, both real (via
// the subscription layer) and synthetic (via the session simulator).
func (a *Agent) HandleEvent(ev model.Event) {
	switch ev.Channel {
	case model.ChannelScanProgress:
		if ev.Progress != nil {
			a.session.HandleProgress(*ev.Progress)
		}
	case model.ChannelScanFinished:
		a.handleScanFinished(ev.Threats)
	case model.ChannelRealtimeThreat:
		a.handleRealtimeDetection(ev.Threats)
	}
}

func (a *Agent) handleScanFinished(detections []model.Detection) {
	kind := a.session.ScanKind()
	a.session.HandleFinished()

	if _, err := a.registry.Ingest(detections, model.SourceFullScan); err != nil {
		a.logger.Error("ingesting scan detections", logging.Field{Key: "error", Value: err.Error()})
	}

	label := scanLabel(kind)
	entry := model.LogEntry{ScanType: model.ScanTypeFullScan}
	if len(detections) == 0 {
		entry.Result = model.ResultClean
		entry.Details = fmt.Sprintf("%s completed – no threats found", label)
	} else {
		entry.Result = model.ResultThreatsFound
		entry.Details = fmt.Sprintf("%s completed – %d threat(s) found", label, len(detections))
	}
	a.appendLog(entry)
	a.notifyStatus()
}

func (a *Agent) handleRealtimeDetection(detections []model.Detection) {
	if len(detections) == 0 {
		return
	}
	if _, err := a.registry.Ingest(detections, model.SourceRealtime); err != nil {
		a.logger.Error("ingesting realtime detections", logging.Field{Key: "error", Value: err.Error()})
	}
	a.appendLog(model.LogEntry{
		ScanType: model.ScanTypeRealtime,
		Result:   model.ResultThreatsFound,
		Details:  fmt.Sprintf("Real-time protection blocked %d threat(s)", len(detections)),
	})
	a.notifyStatus()
}

func (a *Agent) logStartFailure(kind session.Kind, err error) {
	a.appendLog(model.LogEntry{
		ScanType: model.ScanTypeFullScan,
		Result:   model.ResultFailed,
		Details:  fmt.Sprintf("%s failed to start", scanLabel(kind)),
	})
	a.logger.Warn("scan failed to start",
		logging.Field{Key: "kind", Value: string(kind)},
		logging.Field{Key: "error", Value: err.Error()})
	a.notifyStatus()
}

func scanLabel(kind session.Kind) string {
	switch kind {
	case session.KindQuick:
		return "Quick scan"
	case session.KindFull:
		return "Full scan"
	default:
		return "Scan"
	}
}

// ResolveThreats acts on one or more active threats. Quarantine isolates
// the files through the ledger before removing them from the active set;
// delete isolates then permanently removes the quarantined copies; ignore
// drops the threats without touching the filesystem. Each batch is
// all-or-nothing: on an engine failure every targeted threat stays active.
func (a *Agent) ResolveThreats(ctx context.Context, ids []string, action model.ThreatAction) error {
	threats := make([]model.Threat, 0, len(ids))
	resolved := make([]string, 0, len(ids))
	for _, id := range ids {
		t, err := a.registry.Get(id)
		if err != nil {
			continue // already resolved elsewhere
		}
		threats = append(threats, t)
		resolved = append(resolved, t.ID)
	}
	if len(threats) == 0 {
		return nil
	}

	switch action {
	case model.ActionQuarantine:
		if _, err := a.ledger.Isolate(ctx, threats); err != nil {
			return err
		}

	case model.ActionDelete:
		if err := a.deleteThreats(ctx, threats); err != nil {
			return err
		}

	case model.ActionIgnore:
		a.appendLog(model.LogEntry{
			ScanType: model.ScanTypeFullScan,
			Result:   model.ResultClean,
			Details:  fmt.Sprintf("Ignored %d threat(s)", len(threats)),
		})

	default:
		return fmt.Errorf("unsupported resolve action %q", action)
	}

	if err := a.registry.Remove(resolved); err != nil {
		return err
	}
	a.notifyStatus()
	return nil
}

// deleteThreats removes active threats' files for good: the engine first
// isolates them, then deletes the quarantined copies. The quarantine ledger
// never records them.
func (a *Agent) deleteThreats(ctx context.Context, threats []model.Threat) error {
	paths := make([]string, len(threats))
	names := make([]string, len(threats))
	for i, t := range threats {
		paths[i] = t.FilePath
		names[i] = t.FileName
	}

	err := a.engine.IsolateFiles(ctx, paths)
	if err == nil {
		err = a.engine.DeleteQuarantineFiles(ctx, names)
	}
	if err != nil {
		a.appendLog(model.LogEntry{
			ScanType: model.ScanTypeFullScan,
			Result:   model.ResultFailed,
			Details:  fmt.Sprintf("Failed to delete %d threat(s)", len(threats)),
		})
		return fmt.Errorf("deleting threats: %w", err)
	}

	a.appendLog(model.LogEntry{
		ScanType: model.ScanTypeFullScan,
		Result:   model.ResultClean,
		Details:  fmt.Sprintf("Deleted %d threat(s)", len(threats)),
	})
	return nil
}

// RestoreQuarantined moves a quarantined file back to its original path.
func (a *Agent) RestoreQuarantined(ctx context.Context, id string) error {
	return a.ledger.Restore(ctx, id)
}

// DeleteQuarantinedForever permanently removes a quarantined file; the
// confirmed flag is the irreversible-action gate.
func (a *Agent) DeleteQuarantinedForever(ctx context.Context, id string, confirmed bool) error {
	return a.ledger.DeleteForever(ctx, id, confirmed)
}

// SetRealtimeEnabled toggles realtime protection. Disabling requires an
// explicit confirmation. An unreachable engine is not an error (the flag
// still flips locally); a rejected command leaves the flag unchanged and
// logs the failure.
func (a *Agent) SetRealtimeEnabled(ctx context.Context, enabled, confirmed bool) error {
	if !enabled && !confirmed {
		return ErrConfirmationRequired
	}

	if err := a.engine.SetRealtimeEnabled(ctx, enabled); err != nil {
		if !errors.Is(err, interfaces.ErrEngineUnavailable) {
			a.appendLog(model.LogEntry{
				ScanType: model.ScanTypeRealtime,
				Result:   model.ResultFailed,
				Details:  "Failed to update real-time protection",
			})
			return fmt.Errorf("toggling realtime protection: %w", err)
		}
		a.logger.Warn("engine unavailable, realtime flag updated locally only")
	}

	a.mu.Lock()
	a.realtimeEnabled = enabled
	a.mu.Unlock()
	if err := a.store.SaveRealtimeEnabled(enabled); err != nil {
		return fmt.Errorf("persisting realtime flag: %w", err)
	}
	a.notifyStatus()
	return nil
}

// RealtimeEnabled reports the persisted realtime-protection flag.
func (a *Agent) RealtimeEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realtimeEnabled
}

// ClearActivityLog wipes the activity history. Threats and quarantine
// records are unaffected.
func (a *Agent) ClearActivityLog() error {
	return a.activity.Clear()
}

// ProbeFilesystemAccess passes the engine's filesystem diagnostics through.
func (a *Agent) ProbeFilesystemAccess(ctx context.Context) ([]model.ProbeResult, error) {
	return a.engine.ProbeFilesystemAccess(ctx)
}

// Status derives the protection status projection.
func (a *Agent) Status() model.ProtectionStatus {
	anyActive := len(a.registry.ActiveThreats()) > 0
	return model.DeriveProtectionStatus(a.session.Active(), anyActive, a.RealtimeEnabled())
}

// Snapshot returns everything the presentation layer renders.
func (a *Agent) Snapshot() Snapshot {
	return Snapshot{
		Status:          a.Status(),
		Session:         a.session.Snapshot(),
		RealtimeEnabled: a.RealtimeEnabled(),
		Threats:         a.registry.ActiveThreats(),
		Quarantine:      a.ledger.Entries(),
		Activity:        a.activity.Entries(),
	}
}

// ActiveThreats exposes the registry's active set.
func (a *Agent) ActiveThreats() []model.Threat {
	return a.registry.ActiveThreats()
}

// QuarantineEntries exposes the ledger contents.
func (a *Agent) QuarantineEntries() []model.QuarantineEntry {
	return a.ledger.Entries()
}

// ActivityEntries exposes the activity history, newest first.
func (a *Agent) ActivityEntries() []model.LogEntry {
	return a.activity.Entries()
}

func (a *Agent) appendLog(entry model.LogEntry) {
	if _, err := a.activity.Append(entry); err != nil {
		a.logger.Error("appending activity entry", logging.Field{Key: "error", Value: err.Error()})
	}
}

func (a *Agent) notifyStatus() {
	a.mu.Lock()
	fn := a.onStatus
	a.mu.Unlock()
	if fn != nil {
		fn(a.Status())
	}
}
