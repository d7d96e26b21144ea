package graph

import (
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/githistory/internal/git"
)

// Rows draws one text row per commit: "*" marks the commit's column and
// "|" every other open lane. Commits must be fed in walk order.
type Rows struct {
	columns []plumbing.Hash
	maxCols int
}

// Line renders c and advances the lanes to its parents.
func (r *Rows) Line(c git.Commit) string {
	idx := slices.Index(r.columns, c.Hash)
	if idx == -1 {
		r.columns = slices.Insert(r.columns, 0, c.Hash)
		idx = 0
	}
	var b strings.Builder
	for i := range r.columns {
		if i == idx {
			b.WriteString("*")
		} else {
			b.WriteString("|")
		}
		if i != len(r.columns)-1 {
			b.WriteString(" ")
		}
	}
	r.maxCols = max(r.maxCols, len(r.columns))
	r.advance(idx, c.ParentHashes)
	return b.String()
}

// Width is the widest row drawn so far, in columns.
func (r *Rows) Width() int { return r.maxCols }

func (r *Rows) advance(idx int, parents []plumbing.Hash) {
	if len(parents) == 0 {
		r.columns = slices.Delete(r.columns, idx, idx+1)
		return
	}
	if j := slices.Index(r.columns, parents[0]); j != -1 && j != idx {
		// The first parent already has a lane; this one ends here.
		r.columns = slices.Delete(r.columns, idx, idx+1)
		if j > idx {
			j--
		}
		idx = j
	} else {
		r.columns[idx] = parents[0]
	}
	for i, parent := range parents[1:] {
		if slices.Contains(r.columns, parent) {
			continue
		}
		pos := min(idx+i+1, len(r.columns))
		r.columns = slices.Insert(r.columns, pos, parent)
	}
}
