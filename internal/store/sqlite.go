// Package store provides StateStore implementations: a sqlite-backed store
// for the real agent and an in-memory store for tests.
//
// The agent's durable state is a small set of independently written JSON
// values (threat list, quarantine ledger, activity log, a few flags), so the
// sqlite schema is a single key/value table rather than one table per
// collection.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kversteeg/starshield/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// Well-known state keys. Blob callers may use their own keys alongside these.
const (
	keyThreats         = "active_threats"
	keyQuarantine      = "quarantine_entries"
	keyActivityLog     = "activity_log"
	keyRealtimeEnabled = "realtime_enabled"
)

// SQLiteStore persists every state key as a JSON value in a sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates the state directory if needed, opens (or creates) the state
// database inside it and runs the schema.
func Open(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir %s: %w", dir, err)
	}
	return OpenDSN(filepath.Join(dir, "agent.db"))
}

// OpenDSN opens a store at an explicit sqlite DSN, e.g.
// "file::memory:?cache=shared" for a throwaway database.
func OpenDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	// Serialize access; the agent writes through from multiple components.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying pragmas: %w", err)
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		db.Close()
		return nil, fmt.Errorf("executing schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) setJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.SaveBlob(key, raw)
}

// getJSON decodes the value at key into out and reports whether it existed.
func (s *SQLiteStore) getJSON(key string, out any) (bool, error) {
	raw, found, err := s.LoadBlob(key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) SaveThreats(threats []model.Threat) error {
	return s.setJSON(keyThreats, threats)
}

func (s *SQLiteStore) LoadThreats() ([]model.Threat, error) {
	var out []model.Threat
	_, err := s.getJSON(keyThreats, &out)
	return out, err
}

func (s *SQLiteStore) SaveQuarantine(entries []model.QuarantineEntry) error {
	return s.setJSON(keyQuarantine, entries)
}

func (s *SQLiteStore) LoadQuarantine() ([]model.QuarantineEntry, error) {
	var out []model.QuarantineEntry
	_, err := s.getJSON(keyQuarantine, &out)
	return out, err
}

func (s *SQLiteStore) SaveActivityLog(entries []model.LogEntry) error {
	return s.setJSON(keyActivityLog, entries)
}

func (s *SQLiteStore) LoadActivityLog() ([]model.LogEntry, error) {
	var out []model.LogEntry
	_, err := s.getJSON(keyActivityLog, &out)
	return out, err
}

func (s *SQLiteStore) SaveRealtimeEnabled(enabled bool) error {
	return s.setJSON(keyRealtimeEnabled, enabled)
}

func (s *SQLiteStore) LoadRealtimeEnabled() (bool, bool, error) {
	var enabled bool
	found, err := s.getJSON(keyRealtimeEnabled, &enabled)
	return enabled, found, err
}

func (s *SQLiteStore) SaveBlob(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("upserting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) LoadBlob(key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("selecting %s: %w", key, err)
	}
	return []byte(value), true, nil
}
