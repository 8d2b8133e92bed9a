package telemetry

import (
	"io"
	"log/slog"
)

// NewLogger returns a text logger for dev and a JSON logger everywhere else.
func NewLogger(w io.Writer, dev bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if dev {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
