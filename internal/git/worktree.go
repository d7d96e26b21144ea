package git

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const dotGit = ".git"

// WorktreeChanges compares the stage-0 index entries with the working tree,
// including untracked files that are not ignored. Conflicted paths are left
// out; the caller decodes them separately.
func (r *Repository) WorktreeChanges(ctx context.Context, idx *index.Index) ([]Change, error) {
	fs, err := r.Filesystem()
	if err != nil {
		return nil, err
	}
	tracked := map[string]*index.Entry{}
	conflicted := map[string]struct{}{}
	for _, e := range idx.Entries {
		if e.Stage != index.Merged {
			conflicted[e.Name] = struct{}{}
			continue
		}
		tracked[e.Name] = e
	}
	patterns, err := gitignore.ReadPatterns(fs, nil)
	if err != nil {
		return nil, newError(KindIOFailure, "read ignore patterns", "", err)
	}
	matcher := gitignore.NewMatcher(patterns)

	var out []Change
	seen := map[string]struct{}{}
	var walk func(dir string) error
	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return newError(KindCanceled, "scan worktree", dir, err)
		}
		infos, err := fs.ReadDir(dir)
		if err != nil {
			return newError(KindIOFailure, "scan worktree", dir, err)
		}
		for _, info := range infos {
			name := joinPath(dir, info.Name())
			if info.IsDir() {
				if info.Name() == dotGit {
					continue
				}
				_, isTracked := tracked[name]
				if !isTracked && matcher.Match(strings.Split(name, "/"), true) && !hasTrackedPrefix(tracked, name) {
					continue
				}
				if err := walk(name); err != nil {
					return err
				}
				continue
			}
			if _, ok := conflicted[name]; ok {
				seen[name] = struct{}{}
				continue
			}
			entry, isTracked := tracked[name]
			if !isTracked && matcher.Match(strings.Split(name, "/"), false) {
				continue
			}
			seen[name] = struct{}{}
			to, err := r.worktreeEntry(fs, name, info)
			if err != nil {
				slog.Debug("unreadable worktree file", slog.String("path", name), slog.Any("error", err))
				ch := Change{Kind: ChangeUnreadable, To: ChangeEntry{Path: name, Source: SourceWorktree}}
				if isTracked {
					ch.From = indexChangeEntry(entry)
				}
				out = append(out, ch)
				continue
			}
			if !isTracked {
				out = append(out, Change{Kind: ChangeUntracked, To: to})
				continue
			}
			if to.Hash != entry.Hash || to.Mode != entry.Mode {
				out = append(out, Change{Kind: ChangeModified, From: indexChangeEntry(entry), To: to})
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	for name, e := range tracked {
		if _, ok := seen[name]; ok {
			continue
		}
		out = append(out, Change{Kind: ChangeDeleted, From: indexChangeEntry(e)})
	}
	sortChanges(out)
	return out, nil
}

func hasTrackedPrefix(tracked map[string]*index.Entry, dir string) bool {
	prefix := dir + "/"
	for name := range tracked {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (r *Repository) worktreeEntry(fs billy.Filesystem, name string, info os.FileInfo) (ChangeEntry, error) {
	mode, err := filemode.NewFromOSFileMode(info.Mode())
	if err != nil {
		mode = filemode.Regular
	}
	data, err := readWorktree(fs, name, mode)
	if err != nil {
		return ChangeEntry{}, err
	}
	return ChangeEntry{
		Path:   name,
		Hash:   plumbing.ComputeHash(plumbing.BlobObject, data),
		Mode:   mode,
		Size:   int64(len(data)),
		Source: SourceWorktree,
	}, nil
}

// WorktreeFile stats and hashes one working tree file. ok is false when
// the path does not exist.
func (r *Repository) WorktreeFile(name string) (entry ChangeEntry, data []byte, ok bool, err error) {
	fs, err := r.Filesystem()
	if err != nil {
		return ChangeEntry{}, nil, false, err
	}
	info, err := fs.Lstat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ChangeEntry{}, nil, false, nil
		}
		return ChangeEntry{}, nil, false, newError(KindIOFailure, "stat", name, err)
	}
	if info.IsDir() {
		return ChangeEntry{}, nil, false, nil
	}
	mode, err := filemode.NewFromOSFileMode(info.Mode())
	if err != nil {
		mode = filemode.Regular
	}
	data, err = readWorktree(fs, name, mode)
	if err != nil {
		return ChangeEntry{}, nil, false, err
	}
	entry = ChangeEntry{
		Path:   name,
		Hash:   plumbing.ComputeHash(plumbing.BlobObject, data),
		Mode:   mode,
		Size:   int64(len(data)),
		Source: SourceWorktree,
	}
	return entry, data, true, nil
}

// ReadWorktree reads a working tree file. Symlinks yield their target.
func (r *Repository) ReadWorktree(name string) ([]byte, error) {
	_, data, ok, err := r.WorktreeFile(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindIOFailure, "read", name, os.ErrNotExist)
	}
	return data, nil
}

// WorktreeSize returns the size of a working tree file without reading it.
func (r *Repository) WorktreeSize(name string) (int64, bool, error) {
	fs, err := r.Filesystem()
	if err != nil {
		return 0, false, err
	}
	info, err := fs.Lstat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, newError(KindIOFailure, "stat", name, err)
	}
	return info.Size(), true, nil
}

func readWorktree(fs billy.Filesystem, name string, mode filemode.FileMode) ([]byte, error) {
	if mode == filemode.Symlink {
		target, err := fs.Readlink(name)
		if err != nil {
			return nil, newError(KindIOFailure, "readlink", name, err)
		}
		return []byte(target), nil
	}
	data, err := util.ReadFile(fs, name)
	if err != nil {
		return nil, newError(KindIOFailure, "read", name, err)
	}
	return data, nil
}

// WriteWorktree replaces a working tree file with data using the given mode.
func (r *Repository) WriteWorktree(name string, data []byte, mode filemode.FileMode) error {
	fs, err := r.Filesystem()
	if err != nil {
		return err
	}
	if dir := path.Dir(name); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return newError(KindIOFailure, "write", name, err)
		}
	}
	if mode == filemode.Symlink {
		_ = fs.Remove(name)
		if err := fs.Symlink(string(data), name); err != nil {
			return newError(KindIOFailure, "write", name, err)
		}
		return nil
	}
	perm := os.FileMode(0o644)
	if mode == filemode.Executable {
		perm = 0o755
	}
	if err := util.WriteFile(fs, name, data, perm); err != nil {
		return newError(KindIOFailure, "write", name, err)
	}
	return nil
}

// RemoveWorktree deletes a working tree file. A missing file is not an error.
func (r *Repository) RemoveWorktree(name string) error {
	fs, err := r.Filesystem()
	if err != nil {
		return err
	}
	if err := fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return newError(KindIOFailure, "remove", name, err)
	}
	return nil
}

// WorktreeBackup holds a working file as it was before an edit, or records
// that it did not exist.
type WorktreeBackup struct {
	name   string
	data   []byte
	mode   filemode.FileMode
	exists bool
}

// BackupWorktree saves the current state of a working file so a failed
// mutation can put it back with RestoreWorktree.
func (r *Repository) BackupWorktree(name string) (WorktreeBackup, error) {
	entry, data, ok, err := r.WorktreeFile(name)
	if err != nil {
		return WorktreeBackup{}, err
	}
	return WorktreeBackup{name: name, data: data, mode: entry.Mode, exists: ok}, nil
}

// RestoreWorktree writes a backup back, removing the file when it did not
// exist at backup time.
func (r *Repository) RestoreWorktree(b WorktreeBackup) error {
	if !b.exists {
		return r.RemoveWorktree(b.name)
	}
	return r.WriteWorktree(b.name, b.data, b.mode)
}

// GitDir returns the path of the git directory. ok is false for storage
// that does not live on the local file system.
func (r *Repository) GitDir() (dir string, ok bool) {
	fsStorage, ok := r.Storer.(*filesystem.Storage)
	if !ok {
		return "", false
	}
	return fsStorage.Filesystem().Root(), true
}

// State reports merge/rebase/revert/bisect progress from the git directory.
// In-memory storage has no such markers and reports nothing in progress.
func (r *Repository) State() (RepoState, error) {
	var st RepoState
	if h, name, ok, err := r.HeadState(); err != nil {
		return st, err
	} else if ok {
		st.HeadHash = h.String()
		st.HeadName = name
	}
	fsStorage, ok := r.Storer.(*filesystem.Storage)
	if !ok {
		return st, nil
	}
	dot := fsStorage.Filesystem()
	exists := func(name string) bool {
		_, err := dot.Stat(name)
		return err == nil
	}
	st.Merging = exists("MERGE_HEAD")
	st.Rebasing = exists("rebase-merge") || exists("rebase-apply")
	st.Reverting = exists("REVERT_HEAD")
	st.Picking = exists("CHERRY_PICK_HEAD")
	st.Bisecting = exists("BISECT_LOG")
	return st, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
