// Package workindex tracks staged and unstaged changes and moves single
// paths, or everything at once, between the working tree, the index and
// HEAD.
package workindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/githistory/internal/diffcodec"
	"github.com/thiagokokada/githistory/internal/git"
)

// Snapshot is the result of one refresh. It is rebuilt from scratch every
// time and never edited afterwards.
type Snapshot struct {
	Staged   []*diffcodec.Patch
	Unstaged []*diffcodec.Patch
	State    git.RepoState

	staged   map[string]*diffcodec.Patch
	unstaged map[string]*diffcodec.Patch
}

func newSnapshot(staged, unstaged []*diffcodec.Patch, state git.RepoState) *Snapshot {
	s := &Snapshot{
		Staged:   staged,
		Unstaged: unstaged,
		State:    state,
		staged:   make(map[string]*diffcodec.Patch, len(staged)),
		unstaged: make(map[string]*diffcodec.Patch, len(unstaged)),
	}
	for _, p := range staged {
		s.staged[p.Path()] = p
	}
	for _, p := range unstaged {
		s.unstaged[p.Path()] = p
	}
	return s
}

// StagedPatch returns the staged patch whose current path is path.
func (s *Snapshot) StagedPatch(path string) (*diffcodec.Patch, bool) {
	p, ok := s.staged[path]
	return p, ok
}

// UnstagedPatch returns the unstaged patch whose current path is path.
func (s *Snapshot) UnstagedPatch(path string) (*diffcodec.Patch, bool) {
	p, ok := s.unstaged[path]
	return p, ok
}

// Conflicted counts the unstaged patches in conflict.
func (s *Snapshot) Conflicted() int {
	n := 0
	for _, p := range s.Unstaged {
		if p.Status == diffcodec.StatusConflicted {
			n++
		}
	}
	return n
}

// Confirmer approves deleting an untracked file.
type Confirmer interface {
	ConfirmDiscard(ctx context.Context, path string) (bool, error)
}

type ConfirmFunc func(ctx context.Context, path string) (bool, error)

func (f ConfirmFunc) ConfirmDiscard(ctx context.Context, path string) (bool, error) {
	return f(ctx, path)
}

// AlwaysConfirm approves every discard.
var AlwaysConfirm = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

// Resolution is the caller's answer for a conflict where one side deleted
// the file.
type Resolution uint8

const (
	ResolutionCancel Resolution = iota
	// ResolutionKeep stages the surviving content.
	ResolutionKeep
	// ResolutionDelete removes the path from the working tree and index.
	ResolutionDelete
)

func (r Resolution) String() string {
	switch r {
	case ResolutionKeep:
		return "keep"
	case ResolutionDelete:
		return "delete"
	default:
		return "cancel"
	}
}

// Resolver chooses between keeping and deleting a delete/modify conflict.
type Resolver interface {
	Resolve(ctx context.Context, conflict git.Conflict) (Resolution, error)
}

type ResolveFunc func(ctx context.Context, conflict git.Conflict) (Resolution, error)

func (f ResolveFunc) Resolve(ctx context.Context, conflict git.Conflict) (Resolution, error) {
	return f(ctx, conflict)
}

type ResolveOptions struct {
	// Force stages a file even if it still has conflict markers or is too
	// large to scan.
	Force bool
}

// Manager owns the index of one repository. Mutations write the index once
// before returning; callers refresh to observe the result. A mutation that
// fails leaves both the index and the working files it touched as they were,
// and reports nothing done.
type Manager struct {
	repo  *git.Repository
	codec *diffcodec.Codec

	snapshot *Snapshot
}

func New(repo *git.Repository, codec *diffcodec.Codec) *Manager {
	return &Manager{repo: repo, codec: codec}
}

// Snapshot returns the last refresh result, or nil before the first one.
func (m *Manager) Snapshot() *Snapshot { return m.snapshot }

// Refresh re-reads the index and recomputes both patch lists.
func (m *Manager) Refresh(ctx context.Context) (*Snapshot, error) {
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return nil, err
	}
	staged, err := m.codec.Staged(ctx, idx)
	if err != nil {
		return nil, err
	}
	unstaged, err := m.codec.Unstaged(ctx, idx)
	if err != nil {
		return nil, err
	}
	state, err := m.repo.State()
	if err != nil {
		return nil, err
	}
	m.snapshot = newSnapshot(staged, unstaged, state)
	slog.Debug("working tree refreshed",
		slog.Int("staged", len(staged)),
		slog.Int("unstaged", len(unstaged)),
		slog.Bool("merging", state.Merging),
	)
	return m.snapshot, nil
}

func removePath(idx *index.Index, path string) {
	idx.Entries = slices.DeleteFunc(idx.Entries, func(e *index.Entry) bool { return e.Name == path })
}

func setEntry(idx *index.Index, entry git.ChangeEntry) {
	removePath(idx, entry.Path)
	idx.Entries = append(idx.Entries, &index.Entry{
		Name: entry.Path,
		Hash: entry.Hash,
		Mode: entry.Mode,
		Size: uint32(entry.Size),
	})
}

func tracked(idx *index.Index, path string) bool {
	return slices.ContainsFunc(idx.Entries, func(e *index.Entry) bool { return e.Name == path })
}

// stagePath copies the working file into the index, or drops the path when
// the file is gone.
func (m *Manager) stagePath(idx *index.Index, path string) error {
	entry, data, ok, err := m.repo.WorktreeFile(path)
	if err != nil {
		return err
	}
	if !ok {
		removePath(idx, path)
		return nil
	}
	if _, err := m.repo.WriteBlob(data); err != nil {
		return err
	}
	setEntry(idx, entry)
	return nil
}

// resetPath makes the index entry match tree, or drops it when tree lacks
// the path.
func (m *Manager) resetPath(idx *index.Index, tree *object.Tree, path string) error {
	entry, ok, err := git.TreeFile(tree, path)
	if err != nil {
		return err
	}
	if !ok {
		removePath(idx, path)
		return nil
	}
	size, err := m.blobSize(entry)
	if err != nil {
		return err
	}
	entry.Size = size
	setEntry(idx, entry)
	return nil
}

func (m *Manager) blobSize(entry git.ChangeEntry) (int64, error) {
	blob, err := m.repo.BlobObject(entry.Hash)
	if err != nil {
		return 0, git.NewError(git.KindIOFailure, "read blob", entry.Path, err)
	}
	return blob.Size, nil
}

// Stage adds the working copy of path to the index. A path missing from the
// working tree is removed from the index.
func (m *Manager) Stage(ctx context.Context, path string) error {
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return err
	}
	if err := m.stagePath(idx, path); err != nil {
		return err
	}
	return m.repo.WriteIndex(idx)
}

// Unstage resets the index entry of path to HEAD.
func (m *Manager) Unstage(ctx context.Context, path string) error {
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return err
	}
	head, err := m.repo.HeadTree()
	if err != nil {
		return err
	}
	if err := m.resetPath(idx, head, path); err != nil {
		return err
	}
	return m.repo.WriteIndex(idx)
}

func patchPaths(p *diffcodec.Patch) []string {
	paths := []string{p.Path()}
	if p.OldFile.Path != "" && p.OldFile.Path != p.Path() {
		paths = append(paths, p.OldFile.Path)
	}
	return paths
}

// StageAll stages every unstaged change, untracked files included, and
// returns the number of patches staged. Conflicted paths are left alone.
func (m *Manager) StageAll(ctx context.Context) (int, error) {
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return 0, err
	}
	patches, err := m.codec.Unstaged(ctx, idx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range patches {
		if p.Status == diffcodec.StatusConflicted {
			continue
		}
		for _, path := range patchPaths(p) {
			if err := m.stagePath(idx, path); err != nil {
				return 0, err
			}
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if err := m.repo.WriteIndex(idx); err != nil {
		return 0, err
	}
	return n, nil
}

// UnstageAll resets every staged change to HEAD and returns the number of
// patches unstaged.
func (m *Manager) UnstageAll(ctx context.Context) (int, error) {
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return 0, err
	}
	patches, err := m.codec.Staged(ctx, idx)
	if err != nil {
		return 0, err
	}
	if len(patches) == 0 {
		return 0, nil
	}
	head, err := m.repo.HeadTree()
	if err != nil {
		return 0, err
	}
	for _, p := range patches {
		for _, path := range patchPaths(p) {
			if err := m.resetPath(idx, head, path); err != nil {
				return 0, err
			}
		}
	}
	if err := m.repo.WriteIndex(idx); err != nil {
		return 0, err
	}
	return len(patches), nil
}

// rollback puts the saved working files back after a failed mutation and
// returns cause joined with any restore failure.
func (m *Manager) rollback(cause error, backups ...git.WorktreeBackup) error {
	errs := []error{cause}
	for _, b := range backups {
		if err := m.repo.RestoreWorktree(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard throws away working changes to path. An untracked file is deleted
// once confirm approves; a tracked one is checked out from HEAD into both
// the working tree and the index. It reports whether anything was done.
func (m *Manager) Discard(ctx context.Context, path string, confirm Confirmer) (bool, error) {
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return false, err
	}
	if !tracked(idx, path) {
		if confirm == nil {
			return false, nil
		}
		ok, err := confirm.ConfirmDiscard(ctx, path)
		if err != nil || !ok {
			return false, err
		}
		if err := m.repo.RemoveWorktree(path); err != nil {
			return false, err
		}
		slog.Debug("discarded untracked file", slog.String("path", path))
		return true, nil
	}

	head, err := m.repo.HeadTree()
	if err != nil {
		return false, err
	}
	entry, ok, err := git.TreeFile(head, path)
	if err != nil {
		return false, err
	}
	var data []byte
	if ok {
		if data, err = m.repo.Blob(entry.Hash); err != nil {
			return false, err
		}
	}
	backup, err := m.repo.BackupWorktree(path)
	if err != nil {
		return false, err
	}
	if ok {
		err = m.repo.WriteWorktree(path, data, entry.Mode)
		entry.Size = int64(len(data))
		setEntry(idx, entry)
	} else {
		err = m.repo.RemoveWorktree(path)
		removePath(idx, path)
	}
	if err == nil {
		err = m.repo.WriteIndex(idx)
	}
	if err != nil {
		return false, m.rollback(err, backup)
	}
	slog.Debug("restored file from HEAD", slog.String("path", path), slog.Bool("deleted", !ok))
	return true, nil
}

// ResolveConflict stages the resolution of a conflicted path. When one side
// deleted the file, resolver decides between keeping and deleting it. When
// both sides exist the working file is staged as is, unless it still has
// conflict markers or is too large to check, which needs Force.
func (m *Manager) ResolveConflict(ctx context.Context, path string, resolver Resolver, opts ResolveOptions) (bool, error) {
	idx, err := m.repo.ReadIndex()
	if err != nil {
		return false, err
	}
	conflict, ok := git.ConflictGet(idx, path)
	if !ok {
		return false, git.NewError(git.KindInternal, "resolve conflict", path, fmt.Errorf("path is not in conflict"))
	}

	if !conflict.HasOurs() || !conflict.HasTheirs() {
		if resolver == nil {
			return false, nil
		}
		res, err := resolver.Resolve(ctx, conflict)
		if err != nil {
			return false, err
		}
		slog.Debug("conflict resolution chosen", slog.String("path", path), slog.String("resolution", res.String()))
		if res != ResolutionKeep && res != ResolutionDelete {
			return false, nil
		}
		backup, err := m.repo.BackupWorktree(path)
		if err != nil {
			return false, err
		}
		if res == ResolutionKeep {
			err = m.keepSurvivor(idx, conflict)
		} else if err = m.repo.RemoveWorktree(path); err == nil {
			removePath(idx, path)
		}
		if err == nil {
			err = m.repo.WriteIndex(idx)
		}
		if err != nil {
			return false, m.rollback(err, backup)
		}
		return true, nil
	}

	hasMarkers, err := m.codec.CheckMarkers(path)
	if err != nil && !(opts.Force && git.IsKind(err, git.KindSizeLimitExceeded)) {
		return false, err
	}
	if hasMarkers && !opts.Force {
		return false, git.NewError(git.KindIndexConflictUnresolved, "resolve conflict", path,
			fmt.Errorf("file still contains conflict markers"))
	}
	if err := m.stagePath(idx, path); err != nil {
		return false, err
	}
	if err := m.repo.WriteIndex(idx); err != nil {
		return false, err
	}
	return true, nil
}

// keepSurvivor stages the working file, restoring it from the surviving
// stage when it is missing on disk.
func (m *Manager) keepSurvivor(idx *index.Index, conflict git.Conflict) error {
	_, _, ok, err := m.repo.WorktreeFile(conflict.Path)
	if err != nil {
		return err
	}
	if !ok {
		side := conflict.Ours
		if side == nil {
			side = conflict.Theirs
		}
		if side == nil {
			removePath(idx, conflict.Path)
			return nil
		}
		data, err := m.repo.Blob(side.Hash)
		if err != nil {
			return err
		}
		if err := m.repo.WriteWorktree(conflict.Path, data, side.Mode); err != nil {
			return err
		}
	}
	return m.stagePath(idx, conflict.Path)
}
