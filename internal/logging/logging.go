// Package logging installs the process-wide slog logger and times
// operations.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

const (
	EnvLevel = "GITHISTORY_LOG_LEVEL"
	EnvFile  = "GITHISTORY_LOG_FILE"
)

type Options struct {
	// Verbose lowers the level to debug unless Level is set.
	Verbose bool
	Level   string
	// File appends logs to a file instead of Output.
	File   string
	Output io.Writer
	// Lookup reads the environment; nil means os.LookupEnv.
	Lookup func(string) (string, bool)
}

// New returns a slog logger backed by a charmbracelet handler.
func New(w io.Writer, level log.Level) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          "githistory",
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	return slog.New(handler)
}

// Setup makes a logger from opts and the environment the slog default. The
// returned func closes the log file, if any.
func Setup(opts Options) (func() error, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	levelName := opts.Level
	if levelName == "" {
		levelName, _ = lookup(EnvLevel)
	}
	level := log.WarnLevel
	if opts.Verbose {
		level = log.DebugLevel
	}
	if levelName != "" {
		parsed, err := log.ParseLevel(levelName)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	closer := func() error { return nil }
	file := opts.File
	if file == "" {
		file, _ = lookup(EnvFile)
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f.Close
	}
	slog.SetDefault(New(out, level))
	return closer, nil
}

// Op logs the start of an operation at debug level and returns a func that
// logs its outcome with the elapsed time and any result attributes.
//
//	done := logging.Op("load commits", "ref", ref)
//	defer func() { done(err, "count", n) }()
func Op(op string, args ...any) func(err error, result ...any) {
	start := time.Now()
	slog.Debug("operation started", append([]any{"op", op}, args...)...)
	return func(err error, result ...any) {
		attrs := make([]any, 0, len(args)+len(result)+6)
		attrs = append(attrs, "op", op, "duration", time.Since(start).String())
		attrs = append(attrs, args...)
		attrs = append(attrs, result...)
		if err != nil {
			attrs = append(attrs, "error", err.Error())
			slog.Debug("operation failed", attrs...)
			return
		}
		slog.Debug("operation complete", attrs...)
	}
}
