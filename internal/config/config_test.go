package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Engine.BaseURL != "http://127.0.0.1:8471" {
		t.Errorf("engine base url: %s", cfg.Engine.BaseURL)
	}
	if cfg.Scan.CompletionHold.Std() != 1200*time.Millisecond {
		t.Errorf("completion hold: %s", cfg.Scan.CompletionHold)
	}
	if cfg.Scan.SimulatedFull != 100 || cfg.Scan.SimulatedQuick != 40 {
		t.Errorf("simulated totals: %d/%d", cfg.Scan.SimulatedFull, cfg.Scan.SimulatedQuick)
	}
	if cfg.State.Dir == "" {
		t.Error("state dir empty")
	}
}

func TestLoadOverridesAndFillsGaps(t *testing.T) {
	path := writeConfig(t, `
engine:
  baseUrl: "http://127.0.0.1:9999"
scan:
  completionHold: 500ms
  simulatedFullTotal: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.BaseURL != "http://127.0.0.1:9999" {
		t.Errorf("override lost: %s", cfg.Engine.BaseURL)
	}
	if cfg.Scan.CompletionHold.Std() != 500*time.Millisecond {
		t.Errorf("completion hold: %s", cfg.Scan.CompletionHold)
	}
	if cfg.Scan.SimulatedFull != 10 {
		t.Errorf("simulated full total: %d", cfg.Scan.SimulatedFull)
	}

	// Unset fields keep their defaults.
	if cfg.Engine.CommandTimeout.Std() != 45*time.Second {
		t.Errorf("command timeout default lost: %s", cfg.Engine.CommandTimeout)
	}
	if cfg.Scan.SimulatedQuick != 40 {
		t.Errorf("simulated quick default lost: %d", cfg.Scan.SimulatedQuick)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "engine: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDurationForms(t *testing.T) {
	path := writeConfig(t, `
scan:
  completionHold: 1500000000
  finalizeSettle: 80ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scan.CompletionHold.Std() != 1500*time.Millisecond {
		t.Errorf("integer nanoseconds: %s", cfg.Scan.CompletionHold)
	}
	if cfg.Scan.FinalizeSettle.Std() != 80*time.Millisecond {
		t.Errorf("duration string: %s", cfg.Scan.FinalizeSettle)
	}

	path = writeConfig(t, "scan:\n  completionHold: fast\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}
