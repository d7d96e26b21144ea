package diffcodec

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/thiagokokada/githistory/internal/highlight"
)

// DefaultContextLines matches git's default unified context.
const DefaultContextLines = 3

// NoContext requests hunks without context lines, like git diff -U0.
const NoContext = -1

func trimLine(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func stripSpace(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.Join(strings.Fields(l), "")
	}
	return out
}

// formatRange renders one side of a hunk header the way git does: a single
// line is "N", an empty range points at the line before it.
func formatRange(start, stop int) string {
	begin := start + 1
	length := stop - start
	if length == 1 {
		return fmt.Sprintf("%d", begin)
	}
	if length == 0 {
		begin--
	}
	return fmt.Sprintf("%d,%d", begin, length)
}

type hunkOptions struct {
	context          int
	ignoreWhitespace bool
	highlighter      *highlight.Highlighter
}

func makeHunks(from, to *text, opts hunkOptions) []Hunk {
	a, b := from.lines, to.lines
	if opts.ignoreWhitespace {
		a, b = stripSpace(a), stripSpace(b)
	}
	context := opts.context
	switch {
	case context == 0:
		context = DefaultContextLines
	case context < 0:
		context = 0
	}
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	groups := m.GetGroupedOpCodes(context)
	hunks := make([]Hunk, 0, len(groups))
	for _, group := range groups {
		first, last := group[0], group[len(group)-1]
		h := Hunk{
			Header: fmt.Sprintf("@@ -%s +%s @@", formatRange(first.I1, last.I2), formatRange(first.J1, last.J2)),
		}
		for _, op := range group {
			switch op.Tag {
			case 'e':
				for k := 0; k < op.I2-op.I1; k++ {
					i, j := op.I1+k, op.J1+k
					h.Lines = append(h.Lines, newLine(LineContext, i+1, j+1, to.lines[j], to.offsets[j], opts))
				}
			case 'd', 'r', 'i':
				for i := op.I1; i < op.I2; i++ {
					h.Lines = append(h.Lines, newLine(LineDel, i+1, -1, from.lines[i], from.offsets[i], opts))
				}
				for j := op.J1; j < op.J2; j++ {
					h.Lines = append(h.Lines, newLine(LineAdd, -1, j+1, to.lines[j], to.offsets[j], opts))
				}
			}
		}
		hunks = append(hunks, h)
	}
	return hunks
}

func newLine(typ LineType, oldNo, newNo int, raw string, offset int, opts hunkOptions) Line {
	content := trimLine(raw)
	l := Line{
		Type:      typ,
		OldLineno: oldNo,
		NewLineno: newNo,
		Content:   content,
		Offset:    offset,
		Length:    len(trimNewline(raw)),
	}
	if opts.highlighter != nil {
		l.Tokens = opts.highlighter.Line(content)
	}
	return l
}

// similarity is the percentage of matching lines between two texts.
func similarity(a, b *text) int {
	if a.binary || b.binary {
		return 0
	}
	if len(a.lines) == 0 && len(b.lines) == 0 {
		return 100
	}
	m := difflib.NewMatcherWithJunk(a.lines, b.lines, false, nil)
	return int(m.Ratio() * 100)
}
