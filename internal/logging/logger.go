package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"

	"substation-sim/internal/config"
)

// New builds the process logger. Dev builds get tint on stdout; anything
// else logs JSON. When cfg.LogFile is set, plain records are teed into it.
// The returned close func releases the log file, if any.
func New(cfg config.Config, version string, appName string) (*slog.Logger, func() error) {
	if cfg.LogFile == "" {
		return newLogger(cfg, version, appName, os.Stdout, nil), func() error { return nil }
	}

	f, err := openLogFile(cfg.LogFile)
	if err != nil {
		logger := newLogger(cfg, version, appName, os.Stdout, nil)
		logger.Warn("log file unavailable, logging to stdout only", "path", cfg.LogFile, "error", err)
		return logger, func() error { return nil }
	}
	return newLogger(cfg, version, appName, os.Stdout, f), f.Close
}

func newLogger(cfg config.Config, version, appName string, stdout io.Writer, file io.Writer) *slog.Logger {
	if version == "dev" {
		var h slog.Handler = tint.NewHandler(stdout, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		if file != nil {
			// No colour codes in the file.
			h = slogmulti.Fanout(h, slog.NewTextHandler(file, &slog.HandlerOptions{Level: cfg.LogLevel}))
		}
		return slog.New(h).With("app", appName)
	}

	w := stdout
	if file != nil {
		w = io.MultiWriter(stdout, file)
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
	)
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
