package store

import (
	"sync"

	"github.com/kversteeg/starshield/internal/model"
)

// MemoryStore is an in-memory StateStore for tests and for running the
// agent without a state directory. Collections are copied on save and load
// so callers never share slices with the store.
type MemoryStore struct {
	mu         sync.Mutex
	threats    []model.Threat
	quarantine []model.QuarantineEntry
	activity   []model.LogEntry
	realtime   *bool
	blobs      map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) SaveThreats(threats []model.Threat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threats = append([]model.Threat(nil), threats...)
	return nil
}

func (m *MemoryStore) LoadThreats() ([]model.Threat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Threat(nil), m.threats...), nil
}

func (m *MemoryStore) SaveQuarantine(entries []model.QuarantineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantine = append([]model.QuarantineEntry(nil), entries...)
	return nil
}

func (m *MemoryStore) LoadQuarantine() ([]model.QuarantineEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.QuarantineEntry(nil), m.quarantine...), nil
}

func (m *MemoryStore) SaveActivityLog(entries []model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append([]model.LogEntry(nil), entries...)
	return nil
}

func (m *MemoryStore) LoadActivityLog() ([]model.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LogEntry(nil), m.activity...), nil
}

func (m *MemoryStore) SaveRealtimeEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := enabled
	m.realtime = &v
	return nil
}

func (m *MemoryStore) LoadRealtimeEnabled() (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.realtime == nil {
		return false, false, nil
	}
	return *m.realtime, true, nil
}

func (m *MemoryStore) SaveBlob(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) LoadBlob(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}
