package model

import "time"

// ScanType classifies an activity-log entry by the pipeline it came from.
type ScanType string

const (
	ScanTypeRealtime ScanType = "realtime"
	ScanTypeFullScan ScanType = "full_scan"
)

// ScanResult is the outcome recorded in an activity-log entry.
type ScanResult string

const (
	ResultClean        ScanResult = "clean"
	ResultThreatsFound ScanResult = "threats_found"
	ResultFailed       ScanResult = "failed"
)

// LogEntry is one line of the append-only activity history. Entries are
// never mutated after creation.
type LogEntry struct {
	// ID is a sequence number assigned by the log.
	ID int64 `json:"id"`

	// Timestamp is when the entry was appended. Deduplication compares
	// timestamps at minute resolution.
	Timestamp time.Time `json:"timestamp"`

	ScanType ScanType   `json:"scan_type"`
	Result   ScanResult `json:"result"`

	// Details is a human-readable summary shown to the user.
	Details string `json:"details"`
}

// DedupKeyEquals reports whether two entries collapse under the activity
// log's deduplication rule: identical scan type, result, details and
// minute-truncated timestamp.
func (e LogEntry) DedupKeyEquals(other LogEntry) bool {
	return e.ScanType == other.ScanType &&
		e.Result == other.Result &&
		e.Details == other.Details &&
		e.Timestamp.Truncate(time.Minute).Equal(other.Timestamp.Truncate(time.Minute))
}
