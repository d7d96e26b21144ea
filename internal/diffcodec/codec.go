package diffcodec

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"

	"github.com/thiagokokada/githistory/internal/git"
	"github.com/thiagokokada/githistory/internal/highlight"
)

// DefaultCacheSize is the number of split files kept in memory.
const DefaultCacheSize = 256

// DefaultRenameLimit bounds the number of delete/add pairs compared by
// content in the index and worktree rename pass.
const DefaultRenameLimit = 100 * 100

type Options struct {
	IgnoreWhitespace bool
	// RenameScore is the minimum similarity percentage for a rename.
	// Zero selects the go-git default.
	RenameScore uint
	RenameLimit int
	// ContextLines is the unified context around each change. Zero selects
	// DefaultContextLines and NoContext asks for none.
	ContextLines int
	// ConflictScanLimit is the largest working file scanned for markers.
	ConflictScanLimit int64
	Highlight         bool
	Style             string
	CacheSize         int
}

type Codec struct {
	repo  *git.Repository
	opts  Options
	cache *textCache
}

func New(repo *git.Repository, opts Options) (*Codec, error) {
	cache, err := newTextCache(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create line cache: %w", err)
	}
	return &Codec{repo: repo, opts: opts, cache: cache}, nil
}

// Options returns the options the codec was built with.
func (c *Codec) Options() Options { return c.opts }

func (c *Codec) renameScore() int {
	if c.opts.RenameScore > 0 {
		return int(c.opts.RenameScore)
	}
	return int(git.DefaultRenameScore)
}

// CommitDiff diffs a commit against its first parent, or the empty tree for
// a root commit. Merge commits are diffed against parent 0 only.
func (c *Codec) CommitDiff(ctx context.Context, h plumbing.Hash) ([]*Patch, error) {
	commit, err := c.repo.CommitObject(h)
	if err != nil {
		return nil, err
	}
	var parent plumbing.Hash
	if len(commit.ParentHashes) > 0 {
		parent = commit.ParentHashes[0]
	}
	patches, err := c.Compare(ctx, parent, h)
	if err != nil {
		return nil, err
	}
	if len(patches) == 0 {
		return nil, git.NewError(git.KindEmptyPatch, "commit diff", h.String(), fmt.Errorf("commit has no changes against its first parent"))
	}
	return patches, nil
}

// Compare diffs the trees of two commits. The zero hash stands for the
// empty tree.
func (c *Codec) Compare(ctx context.Context, from, to plumbing.Hash) ([]*Patch, error) {
	fromTree, err := c.repo.CommitTree(from)
	if err != nil {
		return nil, err
	}
	toTree, err := c.repo.CommitTree(to)
	if err != nil {
		return nil, err
	}
	changes, err := c.repo.TreeChanges(ctx, fromTree, toTree, git.RenameOptions{Score: uint(c.renameScore())})
	if err != nil {
		return nil, err
	}
	patches := make([]*Patch, 0, len(changes))
	for _, ch := range changes {
		p, err := c.patchFromChange(ch)
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	sortPatches(patches)
	slog.Debug("compare trees",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("patches", len(patches)),
	)
	return patches, nil
}

// Staged diffs the HEAD tree against the stage-0 entries of idx.
func (c *Codec) Staged(ctx context.Context, idx *index.Index) ([]*Patch, error) {
	head, err := c.repo.HeadTree()
	if err != nil {
		return nil, err
	}
	changes, _, err := c.repo.StagedChanges(ctx, head, idx)
	if err != nil {
		return nil, err
	}
	return c.localPatches(ctx, changes)
}

// Unstaged diffs idx against the working tree, including untracked files.
// Conflicted paths are reported here with StatusConflicted.
func (c *Codec) Unstaged(ctx context.Context, idx *index.Index) ([]*Patch, error) {
	changes, err := c.repo.WorktreeChanges(ctx, idx)
	if err != nil {
		return nil, err
	}
	patches, err := c.localPatches(ctx, changes)
	if err != nil {
		return nil, err
	}
	for _, path := range git.ConflictedPaths(idx) {
		conflict, _ := git.ConflictGet(idx, path)
		patches = append(patches, conflictPatch(conflict))
	}
	sortPatches(patches)
	return patches, nil
}

func conflictPatch(conflict git.Conflict) *Patch {
	p := &Patch{Status: StatusConflicted, conflict: &conflict}
	side := conflict.Ours
	if side == nil {
		side = conflict.Theirs
	}
	if side == nil {
		side = conflict.Ancestor
	}
	ref := FileRef{Path: conflict.Path, Flags: FlagExists, source: git.SourceIndex}
	if side != nil {
		ref.Hash, ref.Mode, ref.Size = side.Hash, side.Mode, int64(side.Size)
	}
	p.OldFile, p.NewFile = ref, ref
	p.Language = highlight.Language(conflict.Path)
	return p
}

func (c *Codec) localPatches(ctx context.Context, changes []git.Change) ([]*Patch, error) {
	patches := make([]*Patch, 0, len(changes))
	for _, ch := range changes {
		p, err := c.patchFromChange(ch)
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	patches, err := c.detectRenames(ctx, patches)
	if err != nil {
		return nil, err
	}
	sortPatches(patches)
	return patches, nil
}

func (c *Codec) patchFromChange(ch git.Change) (*Patch, error) {
	p := &Patch{OldFile: newFileRef(ch.From), NewFile: newFileRef(ch.To)}
	switch ch.Kind {
	case git.ChangeAdded:
		p.Status = StatusAdded
	case git.ChangeDeleted:
		p.Status = StatusDeleted
	case git.ChangeUntracked:
		p.Status = StatusUntracked
	case git.ChangeUnreadable:
		p.Status = StatusUnreadable
	case git.ChangeRenamed:
		p.Status = StatusRenamed
		if p.OldFile.Hash == p.NewFile.Hash {
			p.Similarity = 100
		} else {
			from, err := c.load(p.OldFile)
			if err != nil {
				return nil, err
			}
			to, err := c.load(p.NewFile)
			if err != nil {
				return nil, err
			}
			p.Similarity = similarity(from, to)
		}
	case git.ChangeModified:
		p.Status = StatusModified
		if modeClass(p.OldFile.Mode) != modeClass(p.NewFile.Mode) {
			p.Status = StatusTypeChange
		}
	default:
		return nil, fmt.Errorf("unknown change kind %v", ch.Kind)
	}
	p.Language = highlight.Language(p.Path())
	return p, nil
}

func modeClass(m filemode.FileMode) filemode.FileMode {
	if m == filemode.Executable || m == filemode.Deprecated {
		return filemode.Regular
	}
	return m
}

// detectRenames pairs deleted and added patches whose content is similar
// enough. Exact content matches are paired first, then the best scoring
// pairs above the threshold.
func (c *Codec) detectRenames(ctx context.Context, patches []*Patch) ([]*Patch, error) {
	var deleted, added []*Patch
	for _, p := range patches {
		switch p.Status {
		case StatusDeleted:
			deleted = append(deleted, p)
		case StatusAdded:
			added = append(added, p)
		}
	}
	if len(deleted) == 0 || len(added) == 0 {
		return patches, nil
	}
	paired := map[*Patch]*Patch{}
	used := map[*Patch]bool{}
	score := map[*Patch]int{}
	for _, d := range deleted {
		for _, a := range added {
			if used[a] || d.OldFile.Hash != a.NewFile.Hash {
				continue
			}
			paired[d], used[a], used[d], score[d] = a, true, true, 100
			break
		}
	}

	limit := c.opts.RenameLimit
	if limit <= 0 {
		limit = DefaultRenameLimit
	}
	type candidate struct {
		del, add *Patch
		score    int
	}
	var candidates []candidate
	if len(deleted)*len(added) <= limit {
		for _, d := range deleted {
			if used[d] {
				continue
			}
			from, err := c.load(d.OldFile)
			if err != nil {
				return nil, err
			}
			for _, a := range added {
				if used[a] {
					continue
				}
				if err := ctx.Err(); err != nil {
					return nil, git.NewError(git.KindCanceled, "detect renames", "", err)
				}
				to, err := c.load(a.NewFile)
				if err != nil {
					return nil, err
				}
				if s := similarity(from, to); s >= c.renameScore() {
					candidates = append(candidates, candidate{d, a, s})
				}
			}
		}
	}
	slices.SortStableFunc(candidates, func(x, y candidate) int {
		return cmp.Compare(y.score, x.score)
	})
	for _, cand := range candidates {
		if used[cand.del] || used[cand.add] {
			continue
		}
		paired[cand.del], used[cand.add], used[cand.del], score[cand.del] = cand.add, true, true, cand.score
	}
	if len(paired) == 0 {
		return patches, nil
	}

	out := make([]*Patch, 0, len(patches)-len(paired))
	for _, p := range patches {
		if used[p] {
			continue
		}
		out = append(out, p)
	}
	for d, a := range paired {
		out = append(out, &Patch{
			Status:     StatusRenamed,
			OldFile:    d.OldFile,
			NewFile:    a.NewFile,
			Similarity: score[d],
			Language:   a.Language,
		})
	}
	return out, nil
}

func sortPatches(patches []*Patch) {
	slices.SortStableFunc(patches, func(a, b *Patch) int {
		return cmp.Compare(a.Path(), b.Path())
	})
}

// Hunks computes and attaches the hunks and line stats of p. Binary files
// get an empty hunk list.
func (c *Codec) Hunks(ctx context.Context, p *Patch) ([]Hunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, git.NewError(git.KindCanceled, "load hunks", p.Path(), err)
	}
	if p.Status == StatusConflicted {
		conflict, _ := p.Conflict()
		hunks, err := c.ConflictHunks(ctx, conflict)
		if err != nil {
			return nil, err
		}
		p.Hunks, p.Stats = hunks, hunkStats(hunks)
		return hunks, nil
	}
	if p.Status == StatusUnreadable {
		p.Hunks = []Hunk{}
		return p.Hunks, nil
	}
	from, err := c.load(p.OldFile)
	if err != nil {
		return nil, err
	}
	to, err := c.load(p.NewFile)
	if err != nil {
		return nil, err
	}
	if from.binary || to.binary {
		p.Binary = true
		if from.binary {
			p.OldFile.Flags |= FlagBinary
		}
		if to.binary {
			p.NewFile.Flags |= FlagBinary
		}
		p.Hunks, p.Stats = []Hunk{}, LineStats{}
		return p.Hunks, nil
	}
	opts := hunkOptions{context: c.opts.ContextLines, ignoreWhitespace: c.opts.IgnoreWhitespace}
	if c.opts.Highlight {
		opts.highlighter = highlight.For(p.Path(), c.opts.Style)
	}
	hunks := makeHunks(from, to, opts)
	p.Hunks, p.Stats = hunks, hunkStats(hunks)
	return hunks, nil
}

// FindPatch returns the patch for path, matching the actual file first and
// the old side of a rename second.
func FindPatch(patches []*Patch, path string) *Patch {
	for _, p := range patches {
		if p.Path() == path {
			return p
		}
	}
	for _, p := range patches {
		if p.OldFile.Path == path {
			return p
		}
	}
	return nil
}
