package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// Source tells where the content of a ChangeEntry lives.
type Source uint8

const (
	SourceNone Source = iota
	SourceTree
	SourceIndex
	SourceWorktree
)

// ChangeEntry is one side of a raw change. The zero value means the path is
// absent on that side.
type ChangeEntry struct {
	Path   string
	Hash   plumbing.Hash
	Mode   filemode.FileMode
	Size   int64
	Source Source
}

func (e ChangeEntry) Exists() bool { return e.Path != "" }

// ChangeKind is the raw classification before the codec maps it to a
// patch status.
type ChangeKind uint8

const (
	ChangeModified ChangeKind = iota
	ChangeAdded
	ChangeDeleted
	ChangeRenamed
	ChangeUntracked
	// ChangeUnreadable is a worktree file that exists but could not be read.
	ChangeUnreadable
)

// Change is a raw comparison result for one path.
type Change struct {
	Kind ChangeKind
	From ChangeEntry
	To   ChangeEntry
}

// Path returns the new path when present, else the old one.
func (c Change) Path() string {
	if c.To.Exists() {
		return c.To.Path
	}
	return c.From.Path
}

// RenameOptions configures the rename post-pass.
type RenameOptions struct {
	Score uint
	Limit uint
}

// DefaultRenameScore is the library default similarity threshold.
var DefaultRenameScore = object.DefaultDiffTreeOptions.RenameScore

// DiffTrees compares two trees without rename detection. Either tree may be
// nil, standing for the empty tree.
func (r *Repository) DiffTrees(ctx context.Context, from, to *object.Tree) (object.Changes, error) {
	changes, err := object.DiffTreeWithOptions(ctx, from, to, &object.DiffTreeOptions{})
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindCanceled, "diff trees", "", ctx.Err())
		}
		return nil, newError(KindIOFailure, "diff trees", "", err)
	}
	return changes, nil
}

// FindSimilar runs go-git's rename detection over tree changes.
func (r *Repository) FindSimilar(changes object.Changes, opts RenameOptions) (object.Changes, error) {
	score := opts.Score
	if score == 0 {
		score = DefaultRenameScore
	}
	detected, err := object.DetectRenames(changes, &object.DiffTreeOptions{
		DetectRenames: true,
		RenameScore:   score,
		RenameLimit:   opts.Limit,
	})
	if err != nil {
		return nil, newError(KindIOFailure, "detect renames", "", err)
	}
	return detected, nil
}

// TreeChanges diffs two trees and applies the rename pass.
func (r *Repository) TreeChanges(ctx context.Context, from, to *object.Tree, opts RenameOptions) ([]Change, error) {
	raw, err := r.DiffTrees(ctx, from, to)
	if err != nil {
		return nil, err
	}
	raw, err = r.FindSimilar(raw, opts)
	if err != nil {
		return nil, err
	}
	out := make([]Change, 0, len(raw))
	for _, ch := range raw {
		action, err := ch.Action()
		if err != nil {
			return nil, newError(KindIOFailure, "diff trees", ch.From.Name+ch.To.Name, err)
		}
		c := Change{From: treeChangeEntry(ch.From), To: treeChangeEntry(ch.To)}
		switch action {
		case merkletrie.Insert:
			c.Kind = ChangeAdded
		case merkletrie.Delete:
			c.Kind = ChangeDeleted
		default:
			c.Kind = ChangeModified
			if ch.From.Name != ch.To.Name {
				c.Kind = ChangeRenamed
			}
		}
		out = append(out, c)
	}
	sortChanges(out)
	return out, nil
}

func treeChangeEntry(e object.ChangeEntry) ChangeEntry {
	if e.Name == "" {
		return ChangeEntry{}
	}
	return ChangeEntry{Path: e.Name, Hash: e.TreeEntry.Hash, Mode: e.TreeEntry.Mode, Source: SourceTree}
}

// TreeEntries flattens a tree into path -> entry. A nil tree is empty.
func TreeEntries(ctx context.Context, tree *object.Tree) (map[string]ChangeEntry, error) {
	out := map[string]ChangeEntry{}
	if tree == nil {
		return out, nil
	}
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindCanceled, "walk tree", "", err)
		}
		name, entry, err := walker.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, newError(KindIOFailure, "walk tree", name, err)
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		out[name] = ChangeEntry{Path: name, Hash: entry.Hash, Mode: entry.Mode, Source: SourceTree}
	}
	return out, nil
}

// TreeFile looks up one file in tree. Directories and submodules are not
// files; a nil tree has none.
func TreeFile(tree *object.Tree, path string) (ChangeEntry, bool, error) {
	if tree == nil {
		return ChangeEntry{}, false, nil
	}
	e, err := tree.FindEntry(path)
	if err != nil {
		if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return ChangeEntry{}, false, nil
		}
		return ChangeEntry{}, false, newError(KindIOFailure, "find path", path, err)
	}
	if e.Mode == filemode.Dir || e.Mode == filemode.Submodule {
		return ChangeEntry{}, false, nil
	}
	return ChangeEntry{Path: path, Hash: e.Hash, Mode: e.Mode, Source: SourceTree}, true, nil
}

// StagedChanges compares a tree (normally HEAD's) with the stage-0 entries of
// the index. Conflicted paths are returned separately.
func (r *Repository) StagedChanges(ctx context.Context, tree *object.Tree, idx *gitindex.Index) ([]Change, []string, error) {
	treeEntries, err := TreeEntries(ctx, tree)
	if err != nil {
		return nil, nil, err
	}
	conflicted := ConflictedPaths(idx)
	skip := make(map[string]struct{}, len(conflicted))
	for _, p := range conflicted {
		skip[p] = struct{}{}
	}
	var out []Change
	seen := map[string]struct{}{}
	for _, e := range idx.Entries {
		if e.Stage != gitindex.Merged {
			continue
		}
		if _, ok := skip[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		to := indexChangeEntry(e)
		from, inTree := treeEntries[e.Name]
		switch {
		case !inTree:
			out = append(out, Change{Kind: ChangeAdded, To: to})
		case from.Hash != to.Hash || from.Mode != to.Mode:
			out = append(out, Change{Kind: ChangeModified, From: from, To: to})
		}
	}
	for name, from := range treeEntries {
		if _, ok := seen[name]; ok {
			continue
		}
		if _, ok := skip[name]; ok {
			continue
		}
		out = append(out, Change{Kind: ChangeDeleted, From: from})
	}
	sortChanges(out)
	return out, conflicted, nil
}

func indexChangeEntry(e *gitindex.Entry) ChangeEntry {
	return ChangeEntry{Path: e.Name, Hash: e.Hash, Mode: e.Mode, Size: int64(e.Size), Source: SourceIndex}
}

// ConflictedPaths lists the paths with higher-stage index entries.
func ConflictedPaths(idx *gitindex.Index) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, e := range idx.Entries {
		if e.Stage == gitindex.Merged {
			continue
		}
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		out = append(out, e.Name)
	}
	slices.Sort(out)
	return out
}

// Conflict describes the stage slots of one unresolved path.
type Conflict struct {
	Path     string
	Ancestor *gitindex.Entry
	Ours     *gitindex.Entry
	Theirs   *gitindex.Entry
}

func (c Conflict) HasAncestor() bool { return c.Ancestor != nil }
func (c Conflict) HasOurs() bool     { return c.Ours != nil }
func (c Conflict) HasTheirs() bool   { return c.Theirs != nil }

// ConflictGet returns the conflict slots for path, or false when path is not
// conflicted.
func ConflictGet(idx *gitindex.Index, path string) (Conflict, bool) {
	c := Conflict{Path: path}
	found := false
	for _, e := range idx.Entries {
		if e.Name != path {
			continue
		}
		switch e.Stage {
		case gitindex.AncestorMode:
			c.Ancestor, found = e, true
		case gitindex.OurMode:
			c.Ours, found = e, true
		case gitindex.TheirMode:
			c.Theirs, found = e, true
		}
	}
	return c, found
}

func sortChanges(changes []Change) {
	slices.SortStableFunc(changes, func(a, b Change) int {
		return strings.Compare(a.Path(), b.Path())
	})
}

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeDeleted:
		return "deleted"
	case ChangeRenamed:
		return "renamed"
	case ChangeUntracked:
		return "untracked"
	case ChangeUnreadable:
		return "unreadable"
	case ChangeModified:
		return "modified"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}
