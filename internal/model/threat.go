package model

import "time"

// ThreatSource identifies which detection pipeline reported a threat.
type ThreatSource string

const (
	SourceFullScan ThreatSource = "full_scan"
	SourceRealtime ThreatSource = "realtime"
)

// ThreatAction is the disposition recommended (or chosen) for a threat.
type ThreatAction string

const (
	ActionDelete     ThreatAction = "delete"
	ActionQuarantine ThreatAction = "quarantine"
	ActionIgnore     ThreatAction = "ignore"
)

// ThreatStatus tracks where a threat sits in its lifecycle. Transitions go
// active -> quarantined or active -> deleted, never backward; a restored
// file simply leaves the quarantine ledger and has no Threat record until
// it is detected again.
type ThreatStatus string

const (
	StatusActive      ThreatStatus = "active"
	StatusQuarantined ThreatStatus = "quarantined"
	StatusDeleted     ThreatStatus = "deleted"
)

// Detection is the minimal (label, path) pair the engine reports for a
// suspicious file, before the registry enriches it into a Threat.
type Detection struct {
	// Label is the engine's detection name, e.g. "Trojan.Generic".
	Label string `json:"label"`

	// Path is the absolute path of the flagged file.
	Path string `json:"path"`
}

// Threat is a detection merged into the registry. At most one Threat exists
// per file path; a later detection of the same path overwrites the earlier
// record.
type Threat struct {
	// ID is an opaque identifier, stable across re-detections of the same path.
	ID string `json:"id"`

	// FileName is the base name of the flagged file.
	FileName string `json:"file_name"`

	// FilePath is the normalized absolute path, the registry's merge key.
	FilePath string `json:"file_path"`

	// DetectionLabel is the engine's name for the threat.
	DetectionLabel string `json:"detection_label"`

	// RecommendedAction defaults to delete for full-scan detections and
	// quarantine for realtime ones.
	RecommendedAction ThreatAction `json:"recommended_action"`

	// DetectedAt is when the most recent detection for this path arrived.
	DetectedAt time.Time `json:"detected_at"`

	// Source is the pipeline that produced the most recent detection.
	Source ThreatSource `json:"source"`

	// Status is the current lifecycle state.
	Status ThreatStatus `json:"status"`
}
