package revwalk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/githistory/internal/diffcodec"
	"github.com/thiagokokada/githistory/internal/git"
)

// FileEntry is one commit in the history of a file.
type FileEntry struct {
	Commit git.Commit
	Status diffcodec.Status
	// Path is the name of the file in this commit.
	Path string
	// OldName differs from NewName only for renames.
	OldName string
	NewName string
}

type FileOptions struct {
	Num    int
	Cursor *Cursor
}

type FilePage struct {
	Entries []FileEntry
	Cursor  *Cursor
	// Path is the name the history continues with on the next page.
	Path string
}

func (w *Walker) trees(commit *object.Commit) (now, parent *object.Tree, err error) {
	now, err = commit.Tree()
	if err != nil {
		return nil, nil, git.NewError(git.KindIOFailure, "read tree", commit.Hash.String(), err)
	}
	if len(commit.ParentHashes) == 0 {
		return now, nil, nil
	}
	p, ok, err := loadParent(w.repo, commit.ParentHashes[0])
	if err != nil || !ok {
		return now, nil, err
	}
	parent, err = p.Tree()
	if err != nil {
		return nil, nil, git.NewError(git.KindIOFailure, "read tree", p.Hash.String(), err)
	}
	return now, parent, nil
}

// pathEntries looks path up in commit and in its first parent.
func (w *Walker) pathEntries(commit *object.Commit, path string) (now, before git.ChangeEntry, err error) {
	nowTree, parentTree, err := w.trees(commit)
	if err != nil {
		return git.ChangeEntry{}, git.ChangeEntry{}, err
	}
	if now, _, err = git.TreeFile(nowTree, path); err != nil {
		return git.ChangeEntry{}, git.ChangeEntry{}, err
	}
	if before, _, err = git.TreeFile(parentTree, path); err != nil {
		return git.ChangeEntry{}, git.ChangeEntry{}, err
	}
	return now, before, nil
}

// fileChange classifies what commit did to name. Unchanged content is
// decided from blob ids; only an appearing path pays for rename detection.
func (w *Walker) fileChange(ctx context.Context, commit *object.Commit, name string) (FileEntry, bool, error) {
	nowTree, parentTree, err := w.trees(commit)
	if err != nil {
		return FileEntry{}, false, err
	}
	now, nowOK, err := git.TreeFile(nowTree, name)
	if err != nil {
		return FileEntry{}, false, err
	}
	before, beforeOK, err := git.TreeFile(parentTree, name)
	if err != nil {
		return FileEntry{}, false, err
	}
	entry := FileEntry{Commit: git.NewCommit(commit), Path: name, OldName: name, NewName: name}
	switch {
	case !nowOK && !beforeOK:
		return FileEntry{}, false, nil
	case nowOK && beforeOK:
		if now == before {
			return FileEntry{}, false, nil
		}
		entry.Status = diffcodec.StatusModified
	case beforeOK:
		entry.Status = diffcodec.StatusDeleted
	default:
		entry.Status = diffcodec.StatusAdded
		changes, err := w.repo.TreeChanges(ctx, parentTree, nowTree, git.RenameOptions{Score: w.cfg.RenameScore})
		if err != nil {
			return FileEntry{}, false, err
		}
		for _, ch := range changes {
			if ch.Kind == git.ChangeRenamed && ch.To.Path == name {
				entry.Status = diffcodec.StatusRenamed
				entry.OldName = ch.From.Path
				break
			}
		}
	}
	return entry, true, nil
}

// FileHistory lists the commits that changed path, newest first, starting
// from a ref or commit.
//
// A fresh call follows the first rename it meets to the old name. Later
// renames are listed but the path stays the same, so the walk usually ends
// there without a cursor. A resumed page keeps the follow state of its
// cursor, except that a page starting with a rename always follows it. To
// go past an unfollowed rename, call again with Commit(last.Commit.Hash)
// and page.Path: the rename is listed once more and followed this time.
func (w *Walker) FileHistory(ctx context.Context, start Start, path string, opts FileOptions) (FilePage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if start.Mode != ModeRef && start.Mode != ModeSHA {
		return FilePage{}, fmt.Errorf("file history needs a ref or commit start, got %s", start.Mode)
	}
	num := opts.Num
	if num <= 0 {
		num = DefaultPageSize
	}
	current, follow := path, true
	if opts.Cursor != nil {
		if err := opts.Cursor.check(ModeFile, start.String(), ""); err != nil {
			return FilePage{}, err
		}
		current, follow = opts.Cursor.File, opts.Cursor.Follow
	}
	tips, err := w.tips(start)
	if err != nil {
		return FilePage{}, err
	}
	if len(tips) == 0 {
		if opts.Cursor != nil {
			return FilePage{}, git.NewError(git.KindRevisionNotFound, "resume file history", opts.Cursor.LastHash,
				fmt.Errorf("%s has no commits", start))
		}
		return FilePage{Path: current}, nil
	}
	s, err := w.open(ctx, sessionKey(w.cfg.Order, start, "\x00file", tips), tips, opts.Cursor, false)
	if err != nil {
		return FilePage{}, err
	}

	page := FilePage{}
	for len(page.Entries) < num {
		commit, err := s.next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return FilePage{}, err
		}
		entry, ok, err := w.fileChange(ctx, commit, current)
		if err != nil {
			return FilePage{}, err
		}
		if !ok {
			continue
		}
		if len(page.Entries) == 0 && entry.Status == diffcodec.StatusRenamed {
			follow = true
		}
		page.Entries = append(page.Entries, entry)
		s.last = commit.Hash
		if entry.Status == diffcodec.StatusRenamed && follow {
			slog.Debug("file history follows rename",
				slog.String("from", entry.OldName),
				slog.String("to", entry.NewName),
				slog.String("commit", entry.Commit.ShortHash()),
			)
			current, follow = entry.OldName, false
		}
	}
	s.file, s.follow = current, follow
	page.Path = current
	more, err := s.hasMore(ctx)
	if err != nil {
		return FilePage{}, err
	}
	if more && len(page.Entries) == num {
		page.Cursor = &Cursor{
			Mode:     ModeFile,
			Start:    start.String(),
			LastHash: s.last.String(),
			File:     current,
			Follow:   follow,
		}
	}
	return page, nil
}
