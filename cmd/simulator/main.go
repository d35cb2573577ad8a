package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"substation-sim/internal/app"
	"substation-sim/internal/config"
	"substation-sim/internal/logging"
)

const appName = "substation-sim"

// Default version is "dev" if not set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := logging.New(cfg, version, appName)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	slog.Info("starting",
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, version, logger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "error", err)
		_ = closeLog()
		os.Exit(1)
	}

	slog.Info("shutting down")
}
