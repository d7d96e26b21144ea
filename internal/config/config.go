// Package config holds the user settings of the history engine.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/thiagokokada/githistory/internal/diffcodec"
	"github.com/thiagokokada/githistory/internal/graph"
	"github.com/thiagokokada/githistory/internal/revwalk"
)

const envPrefix = "GITHISTORY_"

// DefaultWatchDelay coalesces bursts of file system events.
const DefaultWatchDelay = 350 * time.Millisecond

type Settings struct {
	PageSize          int
	Order             revwalk.Order
	PaletteSize       int
	IgnoreWhitespace  bool
	RenameScore       uint
	ContextLines      int
	ConflictScanLimit int64
	WatchDelay        time.Duration
	Highlight         bool
	Style             string
}

func Default() Settings {
	return Settings{
		PageSize:          revwalk.DefaultPageSize,
		Order:             revwalk.OrderTopological,
		PaletteSize:       graph.DefaultPaletteSize,
		ContextLines:      diffcodec.DefaultContextLines,
		ConflictScanLimit: diffcodec.DefaultConflictScanLimit,
		WatchDelay:        DefaultWatchDelay,
		Style:             "github",
	}
}

func (s Settings) Validate() error {
	var errs []error
	if s.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", s.PageSize))
	}
	if s.PaletteSize <= 0 {
		errs = append(errs, fmt.Errorf("palette size must be positive, got %d", s.PaletteSize))
	}
	if s.RenameScore > 100 {
		errs = append(errs, fmt.Errorf("rename score is a percentage, got %d", s.RenameScore))
	}
	if s.ContextLines < 0 {
		errs = append(errs, fmt.Errorf("context lines must not be negative, got %d", s.ContextLines))
	}
	if s.ConflictScanLimit <= 0 {
		errs = append(errs, fmt.Errorf("conflict scan limit must be positive, got %d", s.ConflictScanLimit))
	}
	if s.WatchDelay < 0 {
		errs = append(errs, fmt.Errorf("watch delay must not be negative, got %s", s.WatchDelay))
	}
	if s.Order != revwalk.OrderTopological && s.Order != revwalk.OrderChronological {
		errs = append(errs, fmt.Errorf("unknown order %d", s.Order))
	}
	return errors.Join(errs...)
}

// ParseOrder accepts "topological" (or "topo") and "chronological" (or
// "date").
func ParseOrder(s string) (revwalk.Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "topological", "topo":
		return revwalk.OrderTopological, nil
	case "chronological", "date":
		return revwalk.OrderChronological, nil
	default:
		return 0, fmt.Errorf("unknown order %q", s)
	}
}

// FromEnv overlays GITHISTORY_* variables on base. Sizes accept units
// ("512KiB"), delays accept durations ("200ms").
func FromEnv(base Settings, lookup func(string) (string, bool)) (Settings, error) {
	s := base
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
	fail := func(name string, err error) {
		errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
	}
	intVar := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(name, err)
				return
			}
			*dst = n
		}
	}
	boolVar := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				fail(name, err)
				return
			}
			*dst = b
		}
	}

	intVar("PAGE_SIZE", &s.PageSize)
	intVar("PALETTE_SIZE", &s.PaletteSize)
	intVar("CONTEXT_LINES", &s.ContextLines)
	boolVar("IGNORE_WHITESPACE", &s.IgnoreWhitespace)
	boolVar("HIGHLIGHT", &s.Highlight)
	if v, ok := get("ORDER"); ok {
		order, err := ParseOrder(v)
		if err != nil {
			fail("ORDER", err)
		} else {
			s.Order = order
		}
	}
	if v, ok := get("RENAME_SCORE"); ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			fail("RENAME_SCORE", err)
		} else {
			s.RenameScore = uint(n)
		}
	}
	if v, ok := get("CONFLICT_SCAN_LIMIT"); ok {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			fail("CONFLICT_SCAN_LIMIT", err)
		} else {
			s.ConflictScanLimit = int64(n)
		}
	}
	if v, ok := get("WATCH_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			fail("WATCH_DELAY", err)
		} else {
			s.WatchDelay = d
		}
	}
	if v, ok := get("STYLE"); ok {
		s.Style = v
	}
	if err := errors.Join(errs...); err != nil {
		return base, err
	}
	return s, nil
}

// Codec maps the settings to diff codec options. Zero context lines means
// none, as with git diff -U0.
func (s Settings) Codec() diffcodec.Options {
	contextLines := s.ContextLines
	if contextLines == 0 {
		contextLines = diffcodec.NoContext
	}
	return diffcodec.Options{
		IgnoreWhitespace:  s.IgnoreWhitespace,
		RenameScore:       s.RenameScore,
		ContextLines:      contextLines,
		ConflictScanLimit: s.ConflictScanLimit,
		Highlight:         s.Highlight,
		Style:             s.Style,
	}
}

// Walker maps the settings to revision walker options.
func (s Settings) Walker() revwalk.Config {
	return revwalk.Config{Order: s.Order, RenameScore: s.RenameScore}
}
