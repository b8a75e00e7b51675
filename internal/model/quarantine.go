package model

import "time"

// QuarantineEntry records one isolated file. An entry exists only between a
// successful isolate and a successful restore or permanent delete.
type QuarantineEntry struct {
	// ID is an opaque identifier for the entry.
	ID string `json:"id"`

	// FileName is the base name of the file inside the quarantine directory.
	FileName string `json:"file_name"`

	// OriginalPath is where the file lived before isolation and where a
	// restore puts it back. Always non-empty.
	OriginalPath string `json:"original_path"`

	// QuarantinedAt is when the isolate operation succeeded.
	QuarantinedAt time.Time `json:"quarantined_at"`

	// DetectionLabel is carried over from the resolved Threat.
	DetectionLabel string `json:"detection_label"`

	// Source is carried over from the resolved Threat.
	Source ThreatSource `json:"source"`
}

// RestoreItem names a quarantined file and the destination a restore should
// move it back to.
type RestoreItem struct {
	FileName     string `json:"fileName"`
	OriginalPath string `json:"originalPath"`
}

// ProbeResult reports whether the engine can access one of its configured
// filesystem roots.
type ProbeResult struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
