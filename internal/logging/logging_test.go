package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

// Setup replaces the slog default, so these tests do not run in parallel.

func TestSetupLevels(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name      string
		opts      Options
		wantDebug bool
		wantWarn  bool
	}{
		{name: "default", wantWarn: true},
		{name: "verbose", opts: Options{Verbose: true}, wantDebug: true, wantWarn: true},
		{name: "env level", opts: Options{Lookup: env(map[string]string{EnvLevel: "debug"})}, wantDebug: true, wantWarn: true},
		{name: "explicit beats env", opts: Options{Level: "error", Lookup: env(map[string]string{EnvLevel: "debug"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Output = &buf
			if tt.opts.Lookup == nil {
				tt.opts.Lookup = env(nil)
			}
			closer, err := Setup(tt.opts)
			require.NoError(t, err)
			defer closer()

			slog.Debug("debug line")
			slog.Warn("warn line")
			assert.Equal(t, tt.wantDebug, strings.Contains(buf.String(), "debug line"))
			assert.Equal(t, tt.wantWarn, strings.Contains(buf.String(), "warn line"))
		})
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, err := Setup(Options{Level: "chatty", Lookup: env(nil)})
	assert.ErrorIs(t, err, log.ErrInvalidLevel)
}

func TestSetupFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "githistory.log")
	closer, err := Setup(Options{Lookup: env(map[string]string{EnvFile: path, EnvLevel: "info"})})
	require.NoError(t, err)
	slog.Info("to file", "key", "value")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Contains(t, string(data), "key=value")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOp(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(New(&buf, log.DebugLevel))

	done := Op("load commits", "ref", "main")
	done(nil, "count", 3)
	out := buf.String()
	assert.Contains(t, out, "operation started")
	assert.Contains(t, out, "operation complete")
	assert.Contains(t, out, "op=\"load commits\"")
	assert.Contains(t, out, "count=3")

	buf.Reset()
	Op("stage", "path", "a.txt")(errors.New("disk full"))
	assert.Contains(t, buf.String(), "operation failed")
	assert.Contains(t, buf.String(), "disk full")
}
