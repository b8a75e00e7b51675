package enginesim

import (
	"os"
	"path/filepath"
	"time"

	"github.com/kversteeg/starshield/internal/model"
)

// Config tunes the simulated engine daemon.
type Config struct {
	// Port for the command API and event feed.
	Port int

	// QuarantineDir is where isolated files are kept.
	QuarantineDir string

	// ScanRoots are the directories a scripted scan walks. Paths that do
	// not exist are skipped.
	ScanRoots []string

	// MaxFiles caps how many files a scripted scan reports progress for.
	MaxFiles int

	// ProgressInterval is the pause between scripted progress events.
	ProgressInterval time.Duration

	// Detections are replayed verbatim in the scan_finished event. The
	// simulator performs no detection of its own.
	Detections []model.Detection
}

// DefaultConfig returns development defaults: loopback port, a quarantine
// directory under the system temp dir, a small file cap and no canned
// detections.
func DefaultConfig() Config {
	return Config{
		Port:             8471,
		QuarantineDir:    filepath.Join(os.TempDir(), "starshield-quarantine"),
		ScanRoots:        []string{os.TempDir()},
		MaxFiles:         200,
		ProgressInterval: 25 * time.Millisecond,
	}
}
