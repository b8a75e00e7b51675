// Command agentd runs the StarShield agent headless: it connects to the
// engine daemon from the config file, restores persisted state and keeps the
// controller running until interrupted. Pair it with cmd/enginesim for a
// full local setup.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kversteeg/starshield/internal/app"
	"github.com/kversteeg/starshield/internal/config"
	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults used when empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	logger := logging.NewStdoutLogger("agentd")

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("assembling agent: %v", err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		log.Fatalf("starting agent: %v", err)
	}

	a.Agent.SetOnStatusChange(func(s model.ProtectionStatus) {
		logger.Info("protection status changed", logging.Field{Key: "status", Value: string(s)})
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
}
