package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Options controls how Setup configures the process-wide logger.
type Options struct {
	// Level is one of debug, info, warn or error. Unknown values fall back to
	// info.
	Level string
	// ReportCaller adds the calling file and line to every record.
	ReportCaller bool
}

// ParseLevel maps a level name onto the charm log level.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Setup installs a charm log handler as the slog default and returns the
// resulting logger.
func Setup(w io.Writer, opts Options) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{
		Level:           ParseLevel(opts.Level),
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    opts.ReportCaller,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
