package model

// ProtectionStatus is the single user-facing protection state. It is always
// derived, never stored.
type ProtectionStatus string

const (
	StatusScanning     ProtectionStatus = "scanning"
	StatusAtRisk       ProtectionStatus = "at_risk"
	StatusProtected    ProtectionStatus = "protected"
	StatusNotProtected ProtectionStatus = "not_protected"
)

// DeriveProtectionStatus projects the controller's state onto the status
// shown to the user. An active scan wins over everything, unresolved threats
// win over the realtime toggle.
func DeriveProtectionStatus(scanning, anyActiveThreat, realtimeEnabled bool) ProtectionStatus {
	switch {
	case scanning:
		return StatusScanning
	case anyActiveThreat:
		return StatusAtRisk
	case realtimeEnabled:
		return StatusProtected
	default:
		return StatusNotProtected
	}
}
