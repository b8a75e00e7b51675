// Package session implements the scan session state machine. A session is
// ephemeral: created on scan start, mutated by progress events, destroyed
// after the completion hold elapses or on an explicit stop.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kversteeg/starshield/internal/interfaces"
	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
)

// Phase is the session's state-machine phase.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseScanning       Phase = "scanning"
	PhaseFinalizing     Phase = "finalizing"
	PhaseCompletionHold Phase = "completion_hold"
)

// Kind is the kind of scan the session is running.
type Kind string

const (
	KindFull  Kind = "full"
	KindQuick Kind = "quick"
	KindNone  Kind = "none"
)

var ErrScanInProgress = errors.New("a scan is already running")

// Config tunes the session timings. The completion hold is a UX contract:
// consumers must observe a 100%/complete state before the session reverts
// to idle.
type Config struct {
	CompletionHold time.Duration
	FinalizeSettle time.Duration

	// Simulator settings used when no engine process is reachable.
	SimulatorTick  time.Duration
	SimulatedFull  uint
	SimulatedQuick uint
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		CompletionHold: 1200 * time.Millisecond,
		FinalizeSettle: 150 * time.Millisecond,
		SimulatorTick:  120 * time.Millisecond,
		SimulatedFull:  100,
		SimulatedQuick: 40,
	}
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Phase    Phase              `json:"phase"`
	Kind     Kind               `json:"kind"`
	Progress model.ScanProgress `json:"progress"`
}

// Manager drives the session phases. All transitions are serialized through
// one mutex; timers and the simulator goroutine are tied to a session
// generation so that anything outliving its session becomes a no-op.
type Manager struct {
	mu         sync.Mutex
	phase      Phase
	kind       Kind
	progress   model.ScanProgress
	generation uint64

	cfg    Config
	engine interfaces.Engine
	logger logging.Logger

	// emit feeds synthetic simulator events into the same pipeline real
	// engine events travel, keeping everything downstream engine-agnostic.
	emit func(model.Event)

	// onChange fires after any phase transition.
	onChange func()

	// onStartFailure fires when the engine rejected the start command
	// (engine reachable, command failed). The session is already idle.
	onStartFailure func(kind Kind, err error)
}

// NewManager creates an idle session manager. engine may be nil, in which
// case every scan runs on the synthetic simulator.
func NewManager(cfg Config, engine interfaces.Engine, logger logging.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		engine: engine,
		logger: logger.With(logging.Field{Key: "component", Value: "scan_session"}),
		phase:  PhaseIdle,
		kind:   KindNone,
	}
}

// SetEmit wires the synthetic event sink.
func (m *Manager) SetEmit(fn func(model.Event)) { m.emit = fn }

// SetOnChange wires the phase-transition callback.
func (m *Manager) SetOnChange(fn func()) { m.onChange = fn }

// SetOnStartFailure wires the start-command failure callback.
func (m *Manager) SetOnStartFailure(fn func(kind Kind, err error)) { m.onStartFailure = fn }

// Start begins a scan session. Rejected when a session is already active.
// The outbound start command is issued exactly once; if the engine turns out
// to be unreachable the manager falls back to the synthetic progress
// simulator, and if the engine rejects the command the session resets to
// idle and the failure callback fires.
func (m *Manager) Start(ctx context.Context, kind Kind) error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return ErrScanInProgress
	}
	m.generation++
	gen := m.generation
	m.phase = PhaseScanning
	m.kind = kind
	m.progress = model.ScanProgress{}
	m.mu.Unlock()
	m.notify()

	m.logger.Info("scan started", logging.Field{Key: "kind", Value: string(kind)})

	err := m.startCommand(ctx, kind)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, interfaces.ErrEngineUnavailable):
		m.logger.Warn("engine unavailable, running synthetic progress",
			logging.Field{Key: "kind", Value: string(kind)})
		go m.simulate(gen, kind)
		return nil
	default:
		m.mu.Lock()
		if m.generation == gen {
			m.resetLocked()
		}
		m.mu.Unlock()
		m.notify()
		m.logger.Warn("scan start command failed",
			logging.Field{Key: "kind", Value: string(kind)},
			logging.Field{Key: "error", Value: err.Error()})
		if m.onStartFailure != nil {
			m.onStartFailure(kind, err)
		}
		return err
	}
}

func (m *Manager) startCommand(ctx context.Context, kind Kind) error {
	if m.engine == nil {
		return interfaces.ErrEngineUnavailable
	}
	if kind == KindQuick {
		return m.engine.StartQuickScan(ctx)
	}
	return m.engine.StartFullScan(ctx)
}

// Stop is a client-side abort: it resets the session without telling the
// engine, which may keep scanning. Late events for the stopped session are
// discarded by the generation guard.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.resetLocked()
	m.mu.Unlock()
	m.notify()
	m.logger.Info("scan stopped by user")
}

// HandleProgress applies a progress event. Events arriving outside the
// Scanning phase (after a stop, during the hold) are ignored. The latest
// received value always wins; a late out-of-order event may transiently
// regress the displayed percentage.
func (m *Manager) HandleProgress(p model.ScanProgress) {
	m.mu.Lock()
	if m.phase != PhaseScanning {
		m.mu.Unlock()
		return
	}
	if p.Total > 0 && p.Current > p.Total {
		p.Current = p.Total
	}
	m.progress = p
	m.mu.Unlock()
	m.notify()
}

// HandleFinished drives Scanning -> (Finalizing ->) CompletionHold, pinning
// progress at 100%, and schedules the reset back to Idle after the hold.
func (m *Manager) HandleFinished() {
	m.mu.Lock()
	if m.phase != PhaseScanning {
		m.mu.Unlock()
		return
	}
	gen := m.generation

	needsSettle := m.progress.Total > 0 && m.progress.Current < m.progress.Total
	m.progress.Current = m.progress.Total
	if needsSettle {
		m.phase = PhaseFinalizing
		m.mu.Unlock()
		m.notify()
		time.AfterFunc(m.cfg.FinalizeSettle, func() { m.enterHold(gen) })
		return
	}
	m.phase = PhaseCompletionHold
	m.mu.Unlock()
	m.notify()
	time.AfterFunc(m.cfg.CompletionHold, func() { m.resetAfterHold(gen) })
}

func (m *Manager) enterHold(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.phase != PhaseFinalizing {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseCompletionHold
	m.mu.Unlock()
	m.notify()
	time.AfterFunc(m.cfg.CompletionHold, func() { m.resetAfterHold(gen) })
}

func (m *Manager) resetAfterHold(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.phase != PhaseCompletionHold {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) resetLocked() {
	m.phase = PhaseIdle
	m.kind = KindNone
	m.progress = model.ScanProgress{}
}

// simulate produces the same event shapes the real engine would, through the
// emit sink, until the synthetic scan completes or the session is superseded.
func (m *Manager) simulate(gen uint64, kind Kind) {
	total := m.cfg.SimulatedFull
	if kind == KindQuick {
		total = m.cfg.SimulatedQuick
	}

	ticker := time.NewTicker(m.cfg.SimulatorTick)
	defer ticker.Stop()

	for current := uint(1); current <= total; current++ {
		<-ticker.C
		m.mu.Lock()
		live := m.generation == gen && m.phase == PhaseScanning
		m.mu.Unlock()
		if !live {
			return
		}
		m.emitEvent(model.Event{
			Channel:  model.ChannelScanProgress,
			Progress: &model.ScanProgress{Current: current, Total: total},
		})
	}
	m.emitEvent(model.Event{
		Channel: model.ChannelScanFinished,
		Threats: []model.Detection{},
	})
}

func (m *Manager) emitEvent(ev model.Event) {
	if m.emit != nil {
		m.emit(ev)
	}
}

// Snapshot returns a copy of the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Phase: m.phase, Kind: m.kind, Progress: m.progress}
}

// Active reports whether a session is in flight (any non-idle phase).
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase != PhaseIdle
}

// Kind returns the running scan kind, KindNone when idle.
func (m *Manager) ScanKind() Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

func (m *Manager) notify() {
	if m.onChange != nil {
		m.onChange()
	}
}
