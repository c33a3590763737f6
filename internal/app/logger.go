package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger from Config. LOG_FORMAT=json emits JSON
// records for log shipping; the default pretty format emits slog text output.
// Both carry source locations.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
