// Package app assembles the agent from configuration: the state store, the
// engine command client, the event feed and the controller. Pass Application
// into code that needs the wired services rather than constructing them from
// package-level state.
package app

import (
	"context"
	"errors"

	"github.com/kversteeg/starshield/internal/agent"
	"github.com/kversteeg/starshield/internal/config"
	"github.com/kversteeg/starshield/internal/engine"
	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/session"
	"github.com/kversteeg/starshield/internal/store"
)

// Application is the runtime container for one agent process.
type Application struct {
	Config *config.Config
	Logger logging.Logger
	Agent  *agent.Agent

	store *store.SQLiteStore
	feed  *engine.Feed
}

// New opens the state store and wires the controller against the engine
// daemon named in cfg. Nothing touches the network yet; Start does that.
func New(cfg *config.Config, logger logging.Logger) (*Application, error) {
	st, err := store.Open(cfg.State.Dir)
	if err != nil {
		return nil, err
	}

	client := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.CommandTimeout.Std(), logger, nil)

	wsURL := cfg.Engine.EventsURL
	if wsURL == "" {
		wsURL, err = engine.EventsURL(cfg.Engine.BaseURL)
		if err != nil {
			st.Close()
			return nil, err
		}
	}
	feed := engine.NewFeed(wsURL, logger)

	sessionCfg := session.Config{
		CompletionHold: cfg.Scan.CompletionHold.Std(),
		FinalizeSettle: cfg.Scan.FinalizeSettle.Std(),
		SimulatorTick:  cfg.Scan.SimulatorTick.Std(),
		SimulatedFull:  cfg.Scan.SimulatedFull,
		SimulatedQuick: cfg.Scan.SimulatedQuick,
	}

	av, err := agent.New(sessionCfg, client, feed, st, logger)
	if err != nil {
		feed.Close()
		st.Close()
		return nil, err
	}

	return &Application{
		Config: cfg,
		Logger: logger,
		Agent:  av,
		store:  st,
		feed:   feed,
	}, nil
}

// Start connects the event feed and subscribes the controller. An engine
// daemon that cannot be reached is not fatal: commands keep their own retry
// and the session manager falls back to synthetic progress.
func (a *Application) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	if err := a.feed.Connect(ctx); err != nil {
		a.Logger.Warn("engine event feed unavailable",
			logging.Field{Key: "error", Value: err.Error()})
	}
	a.Agent.Start()
	a.Logger.Info("agent started",
		logging.Field{Key: "engine", Value: a.Config.Engine.BaseURL},
		logging.Field{Key: "state_dir", Value: a.Config.State.Dir})
	return nil
}

// Shutdown releases subscriptions, the feed connection and the state store.
// Safe to call more than once.
func (a *Application) Shutdown(context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Agent.Close()

	var errs []error
	if err := a.feed.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	a.Logger.Info("agent shut down")
	return errors.Join(errs...)
}
