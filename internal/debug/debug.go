// Package debug builds the process logger and carries the verbose/quiet
// switches shared by the CLI.
package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	enabled     = os.Getenv("MEDIATOR_DEBUG") != ""
	verboseMode atomic.Bool
	quietMode   atomic.Bool
)

// Enabled reports whether debug output is on (MEDIATOR_DEBUG or --verbose).
func Enabled() bool {
	return enabled || verboseMode.Load()
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode.Store(verbose)
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode.Load()
}

// Options configures NewLogger.
type Options struct {
	Level  string // debug, info, warn or error
	Format string // text or json
}

// ParseLevel maps a level name to a slog.Level. Unknown names are an error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// NewLogger returns a structured logger writing to w. Debug mode lowers the
// level to debug regardless of opts.Level. The returned LevelVar can be
// adjusted while the process runs.
func NewLogger(w io.Writer, opts Options) (*slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	if opts.Level != "" {
		l, err := ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, err
		}
		level.Set(l)
	}
	if Enabled() {
		level.Set(slog.LevelDebug)
	}

	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, hopts)
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (supported: text, json)", opts.Format)
	}
	return slog.New(h), level, nil
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(w io.Writer, format string, args ...any) {
	if !IsQuiet() {
		fmt.Fprintf(w, format, args...)
	}
}
