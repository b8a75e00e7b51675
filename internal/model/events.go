package model

// EventChannel names one of the engine's asynchronous event streams.
type EventChannel string

const (
	ChannelScanProgress   EventChannel = "scan_progress"
	ChannelScanFinished   EventChannel = "scan_finished"
	ChannelRealtimeThreat EventChannel = "realtime_threat_detected"
)

// ScanProgress is the payload of a scan_progress event.
type ScanProgress struct {
	// Current is the number of files processed so far.
	Current uint `json:"current"`

	// Total is the number of files the engine intends to process.
	Total uint `json:"total"`

	// File is the path currently being examined.
	File string `json:"file"`
}

// Event is one frame on the engine event feed. Exactly one payload field is
// populated, selected by Channel.
type Event struct {
	Channel EventChannel `json:"channel"`

	// Progress is set for scan_progress events.
	Progress *ScanProgress `json:"progress,omitempty"`

	// Threats is set for scan_finished and realtime_threat_detected events.
	// A finished scan with no findings carries an empty slice.
	Threats []Detection `json:"threats,omitempty"`
}
