// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"sync"

	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ─── Engine ────────────────────────────────────────────────────────────

// DummyEngine implements interfaces.Engine with in-memory call recording.
// Each command returns the error configured for it (nil by default), so
// tests can script rejections and outages per command.
type DummyEngine struct {
	mu sync.Mutex

	StartFullErr   error
	StartQuickErr  error
	RealtimeErr    error
	IsolateErr     error
	RestoreErr     error
	DeleteErr      error
	ProbeErr       error
	ProbeResults   []model.ProbeResult

	FullScans   int
	QuickScans  int
	RealtimeSet []bool
	Isolated    [][]string
	Restored    [][]model.RestoreItem
	Deleted     [][]string
}

func (e *DummyEngine) StartFullScan(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.FullScans++
	return e.StartFullErr
}

func (e *DummyEngine) StartQuickScan(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.QuickScans++
	return e.StartQuickErr
}

func (e *DummyEngine) SetRealtimeEnabled(_ context.Context, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.RealtimeErr != nil {
		return e.RealtimeErr
	}
	e.RealtimeSet = append(e.RealtimeSet, enabled)
	return nil
}

func (e *DummyEngine) IsolateFiles(_ context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.IsolateErr != nil {
		return e.IsolateErr
	}
	e.Isolated = append(e.Isolated, paths)
	return nil
}

func (e *DummyEngine) RestoreFromQuarantine(_ context.Context, items []model.RestoreItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.RestoreErr != nil {
		return e.RestoreErr
	}
	e.Restored = append(e.Restored, items)
	return nil
}

func (e *DummyEngine) DeleteQuarantineFiles(_ context.Context, fileNames []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.DeleteErr != nil {
		return e.DeleteErr
	}
	e.Deleted = append(e.Deleted, fileNames)
	return nil
}

func (e *DummyEngine) ProbeFilesystemAccess(context.Context) ([]model.ProbeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ProbeResults, e.ProbeErr
}

// ─── Event feed ────────────────────────────────────────────────────────

// DummyFeed implements interfaces.EngineEvents fully in memory. Tests push
// events through Emit; handlers run synchronously on the calling goroutine.
type DummyFeed struct {
	mu     sync.Mutex
	subs   map[model.EventChannel]map[uint64]func(model.Event)
	nextID uint64
}

func NewDummyFeed() *DummyFeed {
	return &DummyFeed{subs: make(map[model.EventChannel]map[uint64]func(model.Event))}
}

func (f *DummyFeed) Subscribe(channel model.EventChannel, handler func(model.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[channel] == nil {
		f.subs[channel] = make(map[uint64]func(model.Event))
	}
	f.nextID++
	id := f.nextID
	f.subs[channel][id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[channel], id)
	}
}

// Emit dispatches an event to every handler subscribed to its channel.
func (f *DummyFeed) Emit(ev model.Event) {
	f.mu.Lock()
	handlers := make([]func(model.Event), 0, len(f.subs[ev.Channel]))
	for _, h := range f.subs[ev.Channel] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// SubscriberCount reports how many handlers are registered on a channel.
func (f *DummyFeed) SubscriberCount(channel model.EventChannel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[channel])
}
