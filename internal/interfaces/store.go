package interfaces

import "github.com/kversteeg/starshield/internal/model"

// StateStore is the injected persistence port for all durable controller
// state. Every mutating component writes through immediately after changing
// its in-memory state, so a crash loses at most the mutation in flight.
//
// Load methods return the zero collection (not an error) when nothing has
// been persisted yet; LoadRealtimeEnabled additionally reports whether a
// value was found so callers can distinguish "never set" from "disabled".
type StateStore interface {
	SaveThreats(threats []model.Threat) error
	LoadThreats() ([]model.Threat, error)

	SaveQuarantine(entries []model.QuarantineEntry) error
	LoadQuarantine() ([]model.QuarantineEntry, error)

	SaveActivityLog(entries []model.LogEntry) error
	LoadActivityLog() ([]model.LogEntry, error)

	SaveRealtimeEnabled(enabled bool) error
	LoadRealtimeEnabled() (enabled bool, found bool, err error)

	// SaveBlob / LoadBlob persist auxiliary JSON values that the controller
	// does not interpret (onboarding flags, dashboard snapshots, auth token).
	SaveBlob(key string, value []byte) error
	LoadBlob(key string) (value []byte, found bool, err error)
}
