package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. JSON output feeds the log
// pipeline in deployed environments; everything else gets the
// readable text handler. Every record carries the service name so
// meridian and its worker are distinguishable in shared sinks.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", "meridian"))
}
