// Package utils carries the small cross-cutting helpers shared by the
// monitoring pipeline: logger construction, error wrapping and latency
// bookkeeping for the prediction path.
package utils

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. The level string follows slog's
// spelling (debug, info, warn, error); anything unparseable falls back to
// info rather than failing startup over a config typo.
func NewLogger(level string, json bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
