package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kversteeg/starshield/internal/interfaces"
	"github.com/kversteeg/starshield/internal/model"
	"github.com/kversteeg/starshield/internal/testutil"
)

// fastConfig keeps the state-machine timings short enough to observe in a
// test without slowing the suite down.
func fastConfig() Config {
	return Config{
		CompletionHold: 30 * time.Millisecond,
		FinalizeSettle: 10 * time.Millisecond,
		SimulatorTick:  time.Millisecond,
		SimulatedFull:  5,
		SimulatedQuick: 3,
	}
}

func waitForPhase(t *testing.T, m *Manager, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Snapshot().Phase == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached phase %s (stuck at %s)", want, m.Snapshot().Phase)
}

func TestStartRejectsConcurrentSession(t *testing.T) {
	eng := &testutil.DummyEngine{}
	m := NewManager(fastConfig(), eng, &testutil.DummyLogger{})

	require.NoError(t, m.Start(context.Background(), KindFull))
	assert.ErrorIs(t, m.Start(context.Background(), KindQuick), ErrScanInProgress)

	snap := m.Snapshot()
	assert.Equal(t, PhaseScanning, snap.Phase)
	assert.Equal(t, KindFull, snap.Kind)
	assert.Equal(t, 1, eng.FullScans)
	assert.Equal(t, 0, eng.QuickScans, "rejected start issues no command")
}

func TestStartQuickUsesQuickCommand(t *testing.T) {
	eng := &testutil.DummyEngine{}
	m := NewManager(fastConfig(), eng, &testutil.DummyLogger{})

	require.NoError(t, m.Start(context.Background(), KindQuick))
	assert.Equal(t, 1, eng.QuickScans)
	assert.Equal(t, 0, eng.FullScans)
}

func TestStartCommandRejectionResetsToIdle(t *testing.T) {
	eng := &testutil.DummyEngine{StartFullErr: errors.New("engine busy")}
	m := NewManager(fastConfig(), eng, &testutil.DummyLogger{})

	var failedKind Kind
	m.SetOnStartFailure(func(kind Kind, err error) { failedKind = kind })

	err := m.Start(context.Background(), KindFull)
	assert.Error(t, err)
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)
	assert.Equal(t, KindFull, failedKind)
}

func TestStartUnavailableEngineFallsBackToSimulator(t *testing.T) {
	eng := &testutil.DummyEngine{StartFullErr: interfaces.ErrEngineUnavailable}
	m := NewManager(fastConfig(), eng, &testutil.DummyLogger{})

	var mu sync.Mutex
	var finished bool
	var progressSeen int
	m.SetEmit(func(ev model.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Channel {
		case model.ChannelScanProgress:
			progressSeen++
		case model.ChannelScanFinished:
			finished = true
			assert.Empty(t, ev.Threats, "synthetic scans never find anything")
		}
	})

	require.NoError(t, m.Start(context.Background(), KindFull), "fallback is not an error")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := finished
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished, "simulator must emit scan_finished")
	assert.Equal(t, int(fastConfig().SimulatedFull), progressSeen)
}

func TestNilEngineAlwaysSimulates(t *testing.T) {
	m := NewManager(fastConfig(), nil, &testutil.DummyLogger{})

	done := make(chan struct{})
	m.SetEmit(func(ev model.Event) {
		if ev.Channel == model.ChannelScanFinished {
			close(done)
		}
	})

	require.NoError(t, m.Start(context.Background(), KindQuick))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("simulator never finished")
	}
}

func TestProgressIgnoredOutsideScanning(t *testing.T) {
	m := NewManager(fastConfig(), &testutil.DummyEngine{}, &testutil.DummyLogger{})

	m.HandleProgress(model.ScanProgress{Current: 10, Total: 100})
	assert.Equal(t, model.ScanProgress{}, m.Snapshot().Progress, "idle session ignores progress")

	require.NoError(t, m.Start(context.Background(), KindFull))
	m.HandleProgress(model.ScanProgress{Current: 10, Total: 100, File: "/tmp/f"})
	assert.Equal(t, uint(10), m.Snapshot().Progress.Current)

	m.Stop()
	m.HandleProgress(model.ScanProgress{Current: 50, Total: 100})
	assert.Equal(t, model.ScanProgress{}, m.Snapshot().Progress, "stopped session ignores late progress")
}

func TestProgressClampsOvershoot(t *testing.T) {
	m := NewManager(fastConfig(), &testutil.DummyEngine{}, &testutil.DummyLogger{})
	require.NoError(t, m.Start(context.Background(), KindFull))

	m.HandleProgress(model.ScanProgress{Current: 120, Total: 100})
	p := m.Snapshot().Progress
	assert.Equal(t, uint(100), p.Current)
	assert.Equal(t, uint(100), p.Total)
}

func TestFinishedPinsProgressAndHolds(t *testing.T) {
	m := NewManager(fastConfig(), &testutil.DummyEngine{}, &testutil.DummyLogger{})
	require.NoError(t, m.Start(context.Background(), KindFull))

	m.HandleProgress(model.ScanProgress{Current: 100, Total: 100})
	m.HandleFinished()

	snap := m.Snapshot()
	assert.Equal(t, PhaseCompletionHold, snap.Phase)
	assert.Equal(t, snap.Progress.Total, snap.Progress.Current)
	assert.True(t, m.Active())

	waitForPhase(t, m, PhaseIdle)
	assert.Equal(t, KindNone, m.Snapshot().Kind)
}

func TestFinishedShortOfTotalSettlesThroughFinalizing(t *testing.T) {
	m := NewManager(fastConfig(), &testutil.DummyEngine{}, &testutil.DummyLogger{})
	require.NoError(t, m.Start(context.Background(), KindFull))

	m.HandleProgress(model.ScanProgress{Current: 40, Total: 100})
	m.HandleFinished()

	snap := m.Snapshot()
	assert.Equal(t, PhaseFinalizing, snap.Phase)
	assert.Equal(t, uint(100), snap.Progress.Current, "progress pinned to total")

	waitForPhase(t, m, PhaseCompletionHold)
	waitForPhase(t, m, PhaseIdle)
}

func TestFinishedIgnoredWhenIdle(t *testing.T) {
	m := NewManager(fastConfig(), &testutil.DummyEngine{}, &testutil.DummyLogger{})
	m.HandleFinished()
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)
}

func TestStopSupersedesPendingHold(t *testing.T) {
	m := NewManager(fastConfig(), &testutil.DummyEngine{}, &testutil.DummyLogger{})
	require.NoError(t, m.Start(context.Background(), KindFull))
	m.HandleFinished()
	require.Equal(t, PhaseCompletionHold, m.Snapshot().Phase)

	m.Stop()
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)

	// A new session started before the stale hold timer fires must not be
	// reset by it.
	require.NoError(t, m.Start(context.Background(), KindQuick))
	time.Sleep(2 * fastConfig().CompletionHold)
	assert.Equal(t, PhaseScanning, m.Snapshot().Phase)
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	m := NewManager(fastConfig(), &testutil.DummyEngine{}, &testutil.DummyLogger{})

	changes := 0
	m.SetOnChange(func() { changes++ })
	m.Stop()
	assert.Equal(t, 0, changes)
}

func TestStopKillsSimulator(t *testing.T) {
	cfg := fastConfig()
	cfg.SimulatorTick = 5 * time.Millisecond
	cfg.SimulatedFull = 1000
	m := NewManager(cfg, nil, &testutil.DummyLogger{})

	var mu sync.Mutex
	var finished bool
	m.SetEmit(func(ev model.Event) {
		if ev.Channel == model.ChannelScanFinished {
			mu.Lock()
			finished = true
			mu.Unlock()
		}
	})

	require.NoError(t, m.Start(context.Background(), KindFull))
	time.Sleep(20 * time.Millisecond)
	m.Stop()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, finished, "superseded simulator must not emit scan_finished")
}

func TestOnChangeFiresOnTransitions(t *testing.T) {
	m := NewManager(fastConfig(), &testutil.DummyEngine{}, &testutil.DummyLogger{})

	var mu sync.Mutex
	changes := 0
	m.SetOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	require.NoError(t, m.Start(context.Background(), KindFull))
	m.HandleProgress(model.ScanProgress{Current: 1, Total: 2})
	m.HandleFinished()
	waitForPhase(t, m, PhaseIdle)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, changes, 4, "start, progress, hold, reset")
}
