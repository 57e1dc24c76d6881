package cmd

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/errs"
)

// newLogger opens the log file of cfg. Logs never go to the terminal.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, errs.Wrapf(err, "Invalid log level %q.", cfg.LogLevel)
	}
	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
		return nil, nil, errs.Wrap(err, "Could not create the log directory.")
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, errs.Wrap(err, "Could not open the log file.")
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger.With("pid", os.Getpid()), f, nil
}
