package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/axisop/outpost/internal/config"
	"github.com/axisop/outpost/internal/journal"
	"github.com/axisop/outpost/internal/provider"
	"github.com/axisop/outpost/internal/runtime"
	"github.com/axisop/outpost/internal/token"
	"github.com/axisop/outpost/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/agent.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting agent",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"server_url", cfg.Server.URL,
	)

	if err := os.MkdirAll(cfg.State.Dir, 0o700); err != nil {
		logger.Error("failed to create state directory", "dir", cfg.State.Dir, "error", err)
		os.Exit(1)
	}

	// Load providers
	reg := provider.NewRegistry(logger)
	reg.Register(token.New(cfg.Token, logger))
	if cfg.Journal.Enabled {
		reg.Register(journal.New(cfg.Journal, logger))
	}

	env := &provider.Env{
		Settings: cfg,
		Registry: reg,
		Logger:   logger,
		StateDir: cfg.State.Dir,
	}
	reg.Setup(env)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := runtime.New(cfg, env, logger)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		rt.Stop("shutdown")
	}()

	if err := rt.Start(ctx); err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	<-rt.Done()
	logger.Info("agent stopped")
}
