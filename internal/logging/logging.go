// Package logging configures slog for lab-ingest. Each run gets a
// correlation id, and every folder logger carries the batch it works on,
// so one batch can be followed through fetch, verify and decision lines.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config selects the handler and the minimum level.
type Config struct {
	Format string // json, anything else is text
	Level  string // debug, info, warn (or warning), error
}

// Setup makes a stdout logger built from cfg the process default.
func Setup(cfg Config) {
	slog.SetDefault(New(os.Stdout, cfg))
}

// New returns a logger writing to w. The process default is left alone,
// which lets tests capture output.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseLevel accepts slog's level names case-insensitively plus "warning".
// Unknown or empty names fall back to info.
func parseLevel(name string) slog.Level {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// GenerateCorrelationID returns a fresh run id. It also becomes the run_id
// of manifests and audit events.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// BatchLogger derives the logger for one folder of a run.
func BatchLogger(base *slog.Logger, runID, folder, dateStamp string) *slog.Logger {
	return base.With(
		"correlation_id", runID,
		"folder", folder,
		"date_stamp", dateStamp,
	)
}

// Component tags the default logger with the package that logs.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
