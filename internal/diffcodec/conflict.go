package diffcodec

import (
	"bytes"
	"context"
	"fmt"

	"github.com/thiagokokada/githistory/internal/git"
)

// DefaultConflictScanLimit is the largest working file scanned for markers.
const DefaultConflictScanLimit = 1 << 20

const (
	HeaderTheirsDeleted = "their file deleted"
	HeaderOursDeleted   = "our file deleted"
)

var (
	markerStart = []byte("<<<<<<<")
	markerEnd   = []byte(">>>>>>>")
)

// ConflictHunks decodes a conflicted path. A missing side yields one
// synthetic hunk naming it; otherwise each marker block in the working
// file becomes a hunk of context lines. A file without markers, or larger
// than the scan limit, yields one empty placeholder hunk.
func (c *Codec) ConflictHunks(ctx context.Context, conflict git.Conflict) ([]Hunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, git.NewError(git.KindCanceled, "conflict hunks", conflict.Path, err)
	}
	switch {
	case !conflict.HasTheirs():
		return []Hunk{{Header: HeaderTheirsDeleted}}, nil
	case !conflict.HasOurs():
		return []Hunk{{Header: HeaderOursDeleted}}, nil
	}
	size, ok, err := c.repo.WorktreeSize(conflict.Path)
	if err != nil {
		return nil, err
	}
	if !ok || size > c.conflictLimit() {
		return []Hunk{{}}, nil
	}
	data, err := c.repo.ReadWorktree(conflict.Path)
	if err != nil {
		return nil, err
	}
	hunks := ScanMarkers(data)
	if len(hunks) == 0 {
		return []Hunk{{}}, nil
	}
	return hunks, nil
}

func (c *Codec) conflictLimit() int64 {
	if c.opts.ConflictScanLimit > 0 {
		return c.opts.ConflictScanLimit
	}
	return DefaultConflictScanLimit
}

// CheckMarkers reads the working file at path and reports whether it still
// has a conflict block. Files over the scan limit are not read and give a
// SizeLimitExceeded error.
func (c *Codec) CheckMarkers(path string) (bool, error) {
	size, ok, err := c.repo.WorktreeSize(path)
	if err != nil || !ok {
		return false, err
	}
	if size > c.conflictLimit() {
		return false, git.NewError(git.KindSizeLimitExceeded, "scan conflict markers", path,
			fmt.Errorf("%d bytes exceeds limit of %d", size, c.conflictLimit()))
	}
	data, err := c.repo.ReadWorktree(path)
	if err != nil {
		return false, err
	}
	return HasMarkers(data), nil
}

// HasMarkers reports whether data contains a start and a later end marker,
// each at the beginning of a line.
func HasMarkers(data []byte) bool {
	start := markerIndex(data, markerStart, 0)
	return start >= 0 && markerIndex(data, markerEnd, start+len(markerStart)) >= 0
}

// markerIndex finds marker at the start of a line at or after from.
func markerIndex(data, marker []byte, from int) int {
	if from == 0 && bytes.HasPrefix(data, marker) {
		return 0
	}
	if from > 0 {
		// the newline ending the previous line may sit just before from
		from--
	}
	if from >= len(data) {
		return -1
	}
	i := bytes.Index(data[from:], append([]byte{'\n'}, marker...))
	if i < 0 {
		return -1
	}
	return from + i + 1
}

// ScanMarkers returns one hunk per conflict block. Lines are numbered by
// counting newlines before the start marker.
func ScanMarkers(data []byte) []Hunk {
	var hunks []Hunk
	pos := 0
	for {
		start := markerIndex(data, markerStart, pos)
		if start < 0 {
			break
		}
		end := markerIndex(data, markerEnd, start+len(markerStart))
		if end < 0 {
			break
		}
		blockEnd := len(data)
		if nl := bytes.IndexByte(data[end:], '\n'); nl >= 0 {
			blockEnd = end + nl + 1
		}
		lineNo := bytes.Count(data[:start], []byte{'\n'}) + 1
		lines, offsets := splitLines(data[start:blockEnd])
		h := Hunk{Header: fmt.Sprintf("@@ -%d,%d +%d,%d @@", lineNo, len(lines), lineNo, len(lines))}
		for i, raw := range lines {
			n := lineNo + i
			h.Lines = append(h.Lines, Line{
				Type:      LineContext,
				OldLineno: n,
				NewLineno: n,
				Content:   trimLine(raw),
				Offset:    start + offsets[i],
				Length:    len(trimNewline(raw)),
			})
		}
		hunks = append(hunks, h)
		pos = blockEnd
	}
	return hunks
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
