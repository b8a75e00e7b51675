package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/kversteeg/starshield/internal/agent"
	"github.com/kversteeg/starshield/internal/engine"
	"github.com/kversteeg/starshield/internal/enginesim"
	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
	"github.com/kversteeg/starshield/internal/session"
	"github.com/kversteeg/starshield/internal/store"
)

// setupEngine starts an in-process engine simulator over a scratch
// directory seeded with a handful of files, one of which is scripted to be
// detected as a threat.
func setupEngine(logger logging.Logger) (*httptest.Server, string, error) {
	dir, err := os.MkdirTemp("", "starshield-demo-*")
	if err != nil {
		return nil, "", err
	}
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, fmt.Sprintf("document-%d.txt", i))
		if err := os.WriteFile(name, []byte("harmless"), 0o644); err != nil {
			return nil, "", err
		}
	}
	infected := filepath.Join(dir, "invoice.exe")
	if err := os.WriteFile(infected, []byte("not actually malware"), 0o644); err != nil {
		return nil, "", err
	}

	cfg := enginesim.DefaultConfig()
	cfg.ScanRoots = []string{dir}
	cfg.QuarantineDir = filepath.Join(dir, "quarantine")
	cfg.ProgressInterval = 20 * time.Millisecond
	cfg.Detections = []model.Detection{{Label: "Trojan.Generic", Path: infected}}

	return httptest.NewServer(enginesim.NewServer(cfg, logger)), dir, nil
}

func main() {
	logger := logging.NewStdoutLogger("demo")
	ctx := context.Background()

	server, dir, err := setupEngine(logger)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer server.Close()
	defer os.RemoveAll(dir)

	client := engine.NewClient(server.URL, 10*time.Second, logger, nil)
	wsURL, err := engine.EventsURL(server.URL)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	feed := engine.NewFeed(wsURL, logger)
	if err := feed.Connect(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer feed.Close()

	st, err := store.Open(dir)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	sessionCfg := session.DefaultConfig()
	sessionCfg.CompletionHold = 300 * time.Millisecond

	av, err := agent.New(sessionCfg, client, feed, st, logger)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	av.Start()
	defer av.Close()

	av.SetOnStatusChange(func(s model.ProtectionStatus) {
		fmt.Printf("status: %s\n", s)
	})

	if err := av.StartScan(ctx, session.KindFull); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	waitForIdle(av)

	// Quarantine whatever the scan found.
	threats := av.ActiveThreats()
	ids := make([]string, len(threats))
	for i, t := range threats {
		ids[i] = t.ID
	}
	if len(ids) > 0 {
		if err := av.ResolveThreats(ctx, ids, model.ActionQuarantine); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	out, _ := json.MarshalIndent(av.Snapshot(), "", "  ")
	fmt.Printf("final state:\n%s\n", out)
}

func waitForIdle(av *agent.Agent) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if av.Snapshot().Session.Phase == session.PhaseIdle {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
