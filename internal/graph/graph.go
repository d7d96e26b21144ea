// Package graph assigns lane colors to walked commits and renders simple
// ASCII lane rows.
package graph

import (
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/githistory/internal/git"
)

// DefaultPaletteSize is the number of distinct lane colors.
const DefaultPaletteSize = 8

// LaneEntry is the rendering lane of one commit.
type LaneEntry struct {
	ColorID int
	// Descendants are the children seen so far, in walk order.
	Descendants []plumbing.Hash
}

// Builder keeps lane entries for one walk. A color is fixed the first time
// a commit is seen, either as a walked commit or as someone's parent, so
// feeding the same commits in any number of batches gives the same result.
type Builder struct {
	palette int
	counter int
	entries map[plumbing.Hash]*LaneEntry
	walked  map[plumbing.Hash]struct{}
}

func New(paletteSize int) *Builder {
	if paletteSize <= 0 {
		paletteSize = DefaultPaletteSize
	}
	return &Builder{
		palette: paletteSize,
		entries: map[plumbing.Hash]*LaneEntry{},
		walked:  map[plumbing.Hash]struct{}{},
	}
}

func (b *Builder) alloc() int {
	id := b.counter % b.palette
	b.counter++
	return id
}

// Add extends the lane map with the next batch in walk order. Commits added
// before are skipped, so a page that repeats its first commit is harmless.
func (b *Builder) Add(commits []git.Commit) {
	for _, c := range commits {
		if _, dup := b.walked[c.Hash]; dup {
			continue
		}
		b.walked[c.Hash] = struct{}{}
		entry, ok := b.entries[c.Hash]
		if !ok {
			entry = &LaneEntry{ColorID: b.alloc()}
			b.entries[c.Hash] = entry
		}
		for i, p := range c.ParentHashes {
			parent, ok := b.entries[p]
			if !ok {
				// The first parent continues the child's lane.
				color := entry.ColorID
				if i > 0 {
					color = b.alloc()
				}
				parent = &LaneEntry{ColorID: color}
				b.entries[p] = parent
			}
			parent.Descendants = append(parent.Descendants, c.Hash)
		}
	}
}

// Lane returns the entry for h.
func (b *Builder) Lane(h plumbing.Hash) (LaneEntry, bool) {
	e, ok := b.entries[h]
	if !ok {
		return LaneEntry{}, false
	}
	return *e, true
}

// Len is the number of commits with a lane, walked or only referenced.
func (b *Builder) Len() int { return len(b.entries) }

func (b *Builder) PaletteSize() int { return b.palette }
