// Package engine is the entry point used by front ends: it owns one
// repository together with its walk session, lane map, diff caches and index
// snapshot.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/githistory/internal/config"
	"github.com/thiagokokada/githistory/internal/diffcodec"
	"github.com/thiagokokada/githistory/internal/git"
	"github.com/thiagokokada/githistory/internal/graph"
	"github.com/thiagokokada/githistory/internal/logging"
	"github.com/thiagokokada/githistory/internal/revwalk"
	"github.com/thiagokokada/githistory/internal/workindex"
)

// Engine serializes every call on its repository. Create one per open
// repository; engines share nothing.
type Engine struct {
	mu       sync.Mutex
	repo     *git.Repository
	settings config.Settings
	codec    *diffcodec.Codec
	walker   *revwalk.Walker
	index    *workindex.Manager

	lanes     *graph.Builder
	selection string

	commit  commitCache
	compare compareCache
}

type commitCache struct {
	hash    plumbing.Hash
	patches []*diffcodec.Patch
}

type compareCache struct {
	from, to plumbing.Hash
	patches  []*diffcodec.Patch
	ok       bool
}

// Open opens the repository containing path.
func Open(path string, settings config.Settings) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	repo, err := git.Open(path)
	if err != nil {
		return nil, err
	}
	return New(repo, settings)
}

func New(repo *git.Repository, settings config.Settings) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	codec, err := diffcodec.New(repo, settings.Codec())
	if err != nil {
		return nil, err
	}
	slog.Debug("engine opened",
		slog.String("repo", repo.RepoPath()),
		slog.String("order", settings.Order.String()),
	)
	return &Engine{
		repo:     repo,
		settings: settings,
		codec:    codec,
		walker:   revwalk.New(repo, settings.Walker()),
		index:    workindex.New(repo, codec),
		lanes:    graph.New(settings.PaletteSize),
	}, nil
}

func (e *Engine) Repository() *git.Repository { return e.repo }

func (e *Engine) Settings() config.Settings { return e.settings }

type CommitsRequest struct {
	Start  revwalk.Start
	Cursor *revwalk.Cursor
	// StartAtCursor repeats the cursor commit at the top of the page.
	StartAtCursor bool
	Num           int
	// File keeps only commits that change this path.
	File string
}

type CommitsResult struct {
	Commits []git.Commit
	// Lanes holds the lane of each commit in Commits, by position.
	Lanes  []graph.LaneEntry
	Cursor *revwalk.Cursor
	// Branch is the branch name of a ref walk, resolved for HEAD.
	Branch string
}

// LoadCommits returns the next page of the selection. Starting over (no
// cursor) or switching selection discards the lane map.
func (e *Engine) LoadCommits(ctx context.Context, req CommitsRequest) (result CommitsResult, err error) {
	done := logging.Op("load commits",
		slog.String("start", req.Start.String()),
		slog.Bool("cursor", req.Cursor != nil),
		slog.String("file", req.File),
	)
	defer func() { done(err, slog.Int("commits", len(result.Commits))) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	num := req.Num
	if num <= 0 {
		num = e.settings.PageSize
	}
	page, err := e.walker.Walk(ctx, req.Start, revwalk.Options{
		Num:           num,
		Cursor:        req.Cursor,
		StartAtCursor: req.StartAtCursor,
		File:          req.File,
	})
	if err != nil {
		return CommitsResult{}, err
	}

	selection := req.Start.String() + "\x00" + req.File
	if req.Cursor == nil || selection != e.selection {
		e.lanes = graph.New(e.settings.PaletteSize)
		e.selection = selection
	}
	e.lanes.Add(page.Commits)

	result = CommitsResult{Commits: page.Commits, Cursor: page.Cursor}
	result.Lanes = make([]graph.LaneEntry, len(page.Commits))
	for i, c := range page.Commits {
		result.Lanes[i], _ = e.lanes.Lane(c.Hash)
	}
	if req.Start.Mode == revwalk.ModeRef {
		result.Branch, err = e.branchName(req.Start.Rev)
		if err != nil {
			return CommitsResult{}, err
		}
	}
	return result, nil
}

func (e *Engine) branchName(rev string) (string, error) {
	if rev != "" && rev != "HEAD" {
		return rev, nil
	}
	_, name, _, err := e.repo.HeadState()
	return name, err
}

// Lane returns the lane of a commit loaded by LoadCommits for the current
// selection.
func (e *Engine) Lane(h plumbing.Hash) (graph.LaneEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lanes.Lane(h)
}

type FileHistoryRequest struct {
	Path string
	// Start defaults to HEAD.
	Start  revwalk.Start
	Cursor *revwalk.Cursor
	Num    int
}

func (e *Engine) LoadFileHistory(ctx context.Context, req FileHistoryRequest) (page revwalk.FilePage, err error) {
	done := logging.Op("load file history",
		slog.String("path", req.Path),
		slog.Bool("cursor", req.Cursor != nil),
	)
	defer func() { done(err, slog.Int("entries", len(page.Entries))) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	start := req.Start
	if start.Rev == "" && start.Mode == revwalk.ModeRef {
		start = revwalk.Ref("HEAD")
	}
	num := req.Num
	if num <= 0 {
		num = e.settings.PageSize
	}
	return e.walker.FileHistory(ctx, start, req.Path, revwalk.FileOptions{Num: num, Cursor: req.Cursor})
}

// LoadCommitDiff diffs rev against its first parent. The last result is
// kept so hunks of the same commit load without diffing again.
func (e *Engine) LoadCommitDiff(ctx context.Context, rev string) (patches []*diffcodec.Patch, err error) {
	done := logging.Op("load commit diff", slog.String("rev", rev))
	defer func() { done(err, slog.Int("patches", len(patches))) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitDiff(ctx, rev)
}

func (e *Engine) commitDiff(ctx context.Context, rev string) ([]*diffcodec.Patch, error) {
	h, err := e.repo.ResolveRevision(rev)
	if err != nil {
		return nil, err
	}
	if e.commit.patches != nil && e.commit.hash == h {
		return e.commit.patches, nil
	}
	patches, err := e.codec.CommitDiff(ctx, h)
	if err != nil {
		return nil, err
	}
	e.commit = commitCache{hash: h, patches: patches}
	return patches, nil
}

// CompareRevisions diffs the trees of two revisions. The result replaces
// the previous comparison.
func (e *Engine) CompareRevisions(ctx context.Context, from, to string) (patches []*diffcodec.Patch, err error) {
	done := logging.Op("compare revisions", slog.String("from", from), slog.String("to", to))
	defer func() { done(err, slog.Int("patches", len(patches))) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	fromHash, err := e.repo.ResolveRevision(from)
	if err != nil {
		return nil, err
	}
	toHash, err := e.repo.ResolveRevision(to)
	if err != nil {
		return nil, err
	}
	if e.compare.ok && e.compare.from == fromHash && e.compare.to == toHash {
		return e.compare.patches, nil
	}
	patches, err = e.codec.Compare(ctx, fromHash, toHash)
	if err != nil {
		return nil, err
	}
	e.compare = compareCache{from: fromHash, to: toHash, patches: patches, ok: true}
	return patches, nil
}

// HunkSource names the patch list LoadHunks reads from.
type HunkSource uint8

const (
	HunksCommit HunkSource = iota
	HunksStaged
	HunksUnstaged
	HunksCompare
)

func (s HunkSource) String() string {
	switch s {
	case HunksCommit:
		return "commit"
	case HunksStaged:
		return "staged"
	case HunksUnstaged:
		return "unstaged"
	case HunksCompare:
		return "compare"
	default:
		return fmt.Sprintf("HunkSource(%d)", s)
	}
}

type HunksRequest struct {
	Source HunkSource
	// Rev is the commit for HunksCommit.
	Rev  string
	Path string
}

// LoadHunks loads the hunks of one patch. found is false when the source
// has no patch for the path. Staged and unstaged hunks come from the last
// refreshed snapshot, which is taken first if there is none.
func (e *Engine) LoadHunks(ctx context.Context, req HunksRequest) (hunks []diffcodec.Hunk, found bool, err error) {
	done := logging.Op("load hunks",
		slog.String("source", req.Source.String()),
		slog.String("rev", req.Rev),
		slog.String("path", req.Path),
	)
	defer func() { done(err, slog.Int("hunks", len(hunks))) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	var patch *diffcodec.Patch
	switch req.Source {
	case HunksCommit:
		patches, err := e.commitDiff(ctx, req.Rev)
		if err != nil {
			return nil, false, err
		}
		patch = diffcodec.FindPatch(patches, req.Path)
	case HunksCompare:
		if !e.compare.ok {
			return nil, false, git.NewError(git.KindInternal, "load hunks", req.Path,
				fmt.Errorf("no comparison loaded"))
		}
		patch = diffcodec.FindPatch(e.compare.patches, req.Path)
	case HunksStaged, HunksUnstaged:
		snap := e.index.Snapshot()
		if snap == nil {
			if snap, err = e.index.Refresh(ctx); err != nil {
				return nil, false, err
			}
		}
		if req.Source == HunksStaged {
			patch, _ = snap.StagedPatch(req.Path)
		} else {
			patch, _ = snap.UnstagedPatch(req.Path)
		}
	default:
		return nil, false, fmt.Errorf("unknown hunk source %s", req.Source)
	}
	if patch == nil {
		return nil, false, nil
	}
	if patch.Hunks != nil {
		return patch.Hunks, true, nil
	}
	hunks, err = e.codec.Hunks(ctx, patch)
	if err != nil {
		return nil, true, err
	}
	return hunks, true, nil
}

// RefreshWorkingTree rebuilds the staged and unstaged patch lists.
func (e *Engine) RefreshWorkingTree(ctx context.Context) (snap *workindex.Snapshot, err error) {
	done := logging.Op("refresh working tree")
	defer func() {
		if snap != nil {
			done(err, slog.Int("staged", len(snap.Staged)), slog.Int("unstaged", len(snap.Unstaged)))
			return
		}
		done(err)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Refresh(ctx)
}

func (e *Engine) StageFile(ctx context.Context, path string) (err error) {
	done := logging.Op("stage file", slog.String("path", path))
	defer func() { done(err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Stage(ctx, path)
}

func (e *Engine) UnstageFile(ctx context.Context, path string) (err error) {
	done := logging.Op("unstage file", slog.String("path", path))
	defer func() { done(err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Unstage(ctx, path)
}

// StageAll stages every unstaged change and returns how many patches it
// staged.
func (e *Engine) StageAll(ctx context.Context) (n int, err error) {
	done := logging.Op("stage all")
	defer func() { done(err, slog.Int("count", n)) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.StageAll(ctx)
}

func (e *Engine) UnstageAll(ctx context.Context) (n int, err error) {
	done := logging.Op("unstage all")
	defer func() { done(err, slog.Int("count", n)) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.UnstageAll(ctx)
}

// DiscardFile drops the working changes of path. Untracked files are only
// deleted after confirm agrees. It reports whether anything was discarded.
func (e *Engine) DiscardFile(ctx context.Context, path string, confirm workindex.Confirmer) (discarded bool, err error) {
	done := logging.Op("discard file", slog.String("path", path))
	defer func() { done(err, slog.Bool("discarded", discarded)) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Discard(ctx, path, confirm)
}

func (e *Engine) ResolveConflict(ctx context.Context, path string, resolver workindex.Resolver, opts workindex.ResolveOptions) (resolved bool, err error) {
	done := logging.Op("resolve conflict", slog.String("path", path), slog.Bool("force", opts.Force))
	defer func() { done(err, slog.Bool("resolved", resolved)) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.ResolveConflict(ctx, path, resolver, opts)
}

// BranchLabels maps commit ids to ref decorations.
func (e *Engine) BranchLabels() (map[string][]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repo.BranchLabels()
}
