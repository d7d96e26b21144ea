package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/thiagokokada/githistory/internal/diffcodec"
	"github.com/thiagokokada/githistory/internal/git"
	"github.com/thiagokokada/githistory/internal/graph"
)

var laneColors = []color.Attribute{
	color.FgRed,
	color.FgGreen,
	color.FgYellow,
	color.FgBlue,
	color.FgMagenta,
	color.FgCyan,
	color.FgHiRed,
	color.FgHiGreen,
}

type printer struct {
	w   io.Writer
	now func() time.Time

	hash   *color.Color
	label  *color.Color
	dim    *color.Color
	header *color.Color
	add    *color.Color
	del    *color.Color
	warn   *color.Color
	lanes  []*color.Color
}

func newPrinter(w io.Writer, colored bool) *printer {
	p := &printer{
		w:      w,
		now:    time.Now,
		hash:   color.New(color.FgYellow),
		label:  color.New(color.FgGreen, color.Bold),
		dim:    color.New(color.Faint),
		header: color.New(color.FgCyan),
		add:    color.New(color.FgGreen),
		del:    color.New(color.FgRed),
		warn:   color.New(color.FgRed, color.Bold),
	}
	for _, attr := range laneColors {
		p.lanes = append(p.lanes, color.New(attr))
	}
	for _, c := range append([]*color.Color{p.hash, p.label, p.dim, p.header, p.add, p.del, p.warn}, p.lanes...) {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) when(t time.Time) string {
	return humanize.RelTime(t, p.now(), "ago", "from now")
}

// commitLine prints one log row: graph prefix, hash, decorations, summary,
// author and relative date.
func (p *printer) commitLine(prefix string, lane graph.LaneEntry, c git.Commit, labels []string) {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(p.lanes[lane.ColorID%len(p.lanes)].Sprint(prefix))
		b.WriteByte(' ')
	}
	b.WriteString(p.hash.Sprint(c.ShortHash()))
	if len(labels) > 0 {
		b.WriteString(" (")
		b.WriteString(p.label.Sprint(strings.Join(labels, ", ")))
		b.WriteString(")")
	}
	b.WriteByte(' ')
	b.WriteString(c.Message.Summary)
	b.WriteString(p.dim.Sprintf(" [%s, %s]", c.Author.Name, p.when(c.Committer.When)))
	fmt.Fprintln(p.w, b.String())
}

func (p *printer) commitHeader(c git.Commit, labels []string) {
	p.printf("%s", p.hash.Sprintf("commit %s", c.Hash))
	if len(labels) > 0 {
		p.printf(" (%s)", p.label.Sprint(strings.Join(labels, ", ")))
	}
	p.printf("\n")
	if c.IsMerge() {
		var parents []string
		for _, h := range c.ParentHashes {
			parents = append(parents, h.String()[:7])
		}
		p.printf("Merge: %s\n", strings.Join(parents, " "))
	}
	p.printf("Author: %s <%s>\n", c.Author.Name, c.Author.Email)
	p.printf("Date:   %s (%s)\n\n", c.Author.When.Format(time.RFC1123Z), p.when(c.Author.When))
	p.printf("    %s\n", c.Message.Summary)
	if c.Message.Body != "" {
		for _, line := range strings.Split(c.Message.Body, "\n") {
			p.printf("    %s\n", line)
		}
	}
	p.printf("\n")
}

func patchName(patch *diffcodec.Patch) string {
	if patch.Status == diffcodec.StatusRenamed || patch.Status == diffcodec.StatusCopied {
		return fmt.Sprintf("%s -> %s", patch.OldFile.Path, patch.NewFile.Path)
	}
	return patch.Path()
}

// patchLine prints the status letter and name of a patch, with line stats
// once hunks were loaded.
func (p *printer) patchLine(patch *diffcodec.Patch) {
	letter := patch.Status.Letter()
	switch patch.Status {
	case diffcodec.StatusAdded, diffcodec.StatusUntracked:
		letter = p.add.Sprint(letter)
	case diffcodec.StatusDeleted:
		letter = p.del.Sprint(letter)
	case diffcodec.StatusConflicted:
		letter = p.warn.Sprint(letter)
	}
	p.printf("%s %s", letter, patchName(patch))
	if patch.Status == diffcodec.StatusRenamed {
		p.printf(" (%d%%)", patch.Similarity)
	}
	if patch.Binary {
		p.printf(" %s", p.dim.Sprintf("binary, %s", humanize.IBytes(uint64(max(patch.ActualFile().Size, 0)))))
	} else if patch.Hunks != nil {
		p.printf(" %s %s", p.add.Sprintf("+%d", patch.Stats.Additions), p.del.Sprintf("-%d", patch.Stats.Deletions))
	}
	p.printf("\n")
}

func (p *printer) hunks(hunks []diffcodec.Hunk) {
	for _, h := range hunks {
		p.printf("%s\n", p.header.Sprint(h.Header))
		for _, l := range h.Lines {
			line := string(l.Type.Origin()) + l.Content
			switch l.Type {
			case diffcodec.LineAdd:
				line = p.add.Sprint(line)
			case diffcodec.LineDel:
				line = p.del.Sprint(line)
			}
			p.printf("%s\n", line)
		}
	}
}

func (p *printer) cursor(token string) {
	p.printf("%s\n", p.dim.Sprintf("next page: --cursor %s", token))
}
