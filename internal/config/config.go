// Package config holds the agent's runtime configuration, loaded from a
// YAML file with development defaults as fallback.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine struct {
		// BaseURL is the HTTP command endpoint of the engine daemon.
		BaseURL string `yaml:"baseUrl"`

		// EventsURL is the websocket event feed. Derived from BaseURL
		// when empty.
		EventsURL string `yaml:"eventsUrl"`

		// CommandTimeout bounds a single command round trip.
		CommandTimeout Duration `yaml:"commandTimeout"`
	} `yaml:"engine"`

	State struct {
		// Dir is where the agent keeps its sqlite state database.
		Dir string `yaml:"dir"`
	} `yaml:"state"`

	Scan struct {
		// CompletionHold is how long the session stays pinned at 100%
		// after a scan finishes before reverting to idle.
		CompletionHold Duration `yaml:"completionHold"`

		// FinalizeSettle is the brief Finalizing dwell used when a scan
		// finishes with the progress bar short of the total.
		FinalizeSettle Duration `yaml:"finalizeSettle"`

		// Simulator settings for when no engine process is reachable.
		SimulatorTick  Duration `yaml:"simulatorTick"`
		SimulatedFull  uint     `yaml:"simulatedFullTotal"`
		SimulatedQuick uint     `yaml:"simulatedQuickTotal"`
	} `yaml:"scan"`
}

// Default returns a Config populated with development defaults: a loopback
// engine daemon and state under the user config dir.
func Default() *Config {
	cfg := &Config{}
	cfg.Engine.BaseURL = "http://127.0.0.1:8471"
	cfg.Engine.CommandTimeout = Duration(45 * time.Second)
	cfg.State.Dir = defaultStateDir()
	cfg.Scan.CompletionHold = Duration(1200 * time.Millisecond)
	cfg.Scan.FinalizeSettle = Duration(150 * time.Millisecond)
	cfg.Scan.SimulatorTick = Duration(120 * time.Millisecond)
	cfg.Scan.SimulatedFull = 100
	cfg.Scan.SimulatedQuick = 40
	return cfg
}

// Load reads a YAML config file and fills unset fields from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Engine.BaseURL == "" {
		c.Engine.BaseURL = d.Engine.BaseURL
	}
	if c.Engine.CommandTimeout <= 0 {
		c.Engine.CommandTimeout = d.Engine.CommandTimeout
	}
	if c.State.Dir == "" {
		c.State.Dir = d.State.Dir
	}
	if c.Scan.CompletionHold <= 0 {
		c.Scan.CompletionHold = d.Scan.CompletionHold
	}
	if c.Scan.FinalizeSettle <= 0 {
		c.Scan.FinalizeSettle = d.Scan.FinalizeSettle
	}
	if c.Scan.SimulatorTick <= 0 {
		c.Scan.SimulatorTick = d.Scan.SimulatorTick
	}
	if c.Scan.SimulatedFull == 0 {
		c.Scan.SimulatedFull = d.Scan.SimulatedFull
	}
	if c.Scan.SimulatedQuick == 0 {
		c.Scan.SimulatedQuick = d.Scan.SimulatedQuick
	}
}

func defaultStateDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "starshield")
}
