// Package revwalk pages through commit history from a ref, a commit or every
// ref at once, and follows a single file across renames.
package revwalk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/githistory/internal/git"
)

// DefaultPageSize is used when a walk asks for zero or fewer commits.
const DefaultPageSize = 100

type Config struct {
	Order Order
	// RenameScore is the similarity threshold used by file history. Zero
	// selects the go-git default.
	RenameScore uint
}

type Options struct {
	Num    int
	Cursor *Cursor
	// StartAtCursor includes the cursor commit itself in the page.
	StartAtCursor bool
	// File keeps only commits that change this path against their first
	// parent.
	File string
}

type Page struct {
	Commits []git.Commit
	// Cursor resumes after the last commit; nil once history is exhausted.
	Cursor *Cursor
}

// Walker keeps the most recent walk open so that consecutive pages continue
// where the previous one stopped instead of starting over.
type Walker struct {
	repo *git.Repository
	cfg  Config

	mu      sync.Mutex
	session *session
}

type session struct {
	key  string
	iter commitIter
	// buffered holds the commit read by hasMore so next returns it first.
	buffered  *object.Commit
	exhausted bool
	last      plumbing.Hash
	returned  int

	// follow state of a file walk after last.
	file   string
	follow bool
}

func New(repo *git.Repository, cfg Config) *Walker {
	return &Walker{repo: repo, cfg: cfg}
}

// Reset drops the open walk, for example after refs moved.
func (w *Walker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = nil
}

func (s *session) hasMore(ctx context.Context) (bool, error) {
	if s.exhausted {
		return false, nil
	}
	if s.buffered != nil {
		return true, nil
	}
	commit, err := s.iter.next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.exhausted = true
			return false, nil
		}
		return false, err
	}
	s.buffered = commit
	return true, nil
}

func (s *session) next(ctx context.Context) (*object.Commit, error) {
	if s.exhausted {
		return nil, io.EOF
	}
	if s.buffered != nil {
		commit := s.buffered
		s.buffered = nil
		s.returned++
		return commit, nil
	}
	commit, err := s.iter.next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.exhausted = true
		}
		return nil, err
	}
	s.returned++
	return commit, nil
}

// skipTo consumes commits up to and including h. With keep the commit is
// pushed back so the next call returns it.
func (s *session) skipTo(ctx context.Context, h plumbing.Hash, keep bool) error {
	for {
		commit, err := s.next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return git.NewError(git.KindRevisionNotFound, "resume walk", h.String(),
					fmt.Errorf("commit is not reachable from the walk start"))
			}
			return err
		}
		if commit.Hash != h {
			continue
		}
		if keep {
			s.buffered = commit
			s.returned--
		}
		s.last = h
		return nil
	}
}

func (w *Walker) tips(start Start) ([]plumbing.Hash, error) {
	switch start.Mode {
	case ModeHistory:
		return w.repo.RefTips()
	case ModeRef, ModeSHA:
		rev := start.Rev
		if rev == "" || rev == "HEAD" {
			h, _, ok, err := w.repo.HeadState()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, nil
			}
			return []plumbing.Hash{h}, nil
		}
		h, err := w.repo.ResolveRevision(rev)
		if err != nil {
			return nil, err
		}
		return []plumbing.Hash{h}, nil
	default:
		return nil, fmt.Errorf("unsupported walk start %s", start.Mode)
	}
}

func sessionKey(order Order, start Start, filter string, tips []plumbing.Hash) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s", order, start, filter)
	for _, h := range tips {
		b.WriteByte('|')
		b.WriteString(h.String())
	}
	return b.String()
}

func cursorHash(c *Cursor) (plumbing.Hash, error) {
	if !plumbing.IsHash(c.LastHash) {
		return plumbing.ZeroHash, git.NewError(git.KindRevisionNotFound, "resume walk", c.LastHash,
			fmt.Errorf("cursor does not name a full commit id"))
	}
	return plumbing.NewHash(c.LastHash), nil
}

// open returns a session positioned after the cursor commit (or at it with
// keep). The open session is reused when it stopped exactly there.
func (w *Walker) open(ctx context.Context, key string, tips []plumbing.Hash, cursor *Cursor, keep bool) (*session, error) {
	if cursor == nil {
		w.session = &session{key: key, iter: newIter(w.repo, w.cfg.Order, tips)}
		slog.Debug("walk session initialized", slog.String("key", key))
		return w.session, nil
	}
	h, err := cursorHash(cursor)
	if err != nil {
		return nil, err
	}
	if _, err := w.repo.CommitObject(h); err != nil {
		return nil, err
	}
	if s := w.session; s != nil && !keep && s.key == key && s.last == h &&
		s.file == cursor.File && s.follow == cursor.Follow {
		return s, nil
	}
	if w.session != nil {
		slog.Debug("walk session reset",
			slog.String("key", key),
			slog.String("cursor", h.String()),
			slog.Int("returned", w.session.returned),
		)
	}
	s := &session{key: key, iter: newIter(w.repo, w.cfg.Order, tips)}
	w.session = s
	if err := s.skipTo(ctx, h, keep); err != nil {
		w.session = nil
		return nil, err
	}
	return s, nil
}

// Walk returns the next page of commits from start. Without a cursor the
// walk begins at the start commits; with one it continues strictly after
// the cursor commit, or at it when StartAtCursor is set.
func (w *Walker) Walk(ctx context.Context, start Start, opts Options) (Page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	num := opts.Num
	if num <= 0 {
		num = DefaultPageSize
	}
	if opts.Cursor != nil {
		if err := opts.Cursor.check(start.Mode, start.String(), opts.File); err != nil {
			return Page{}, err
		}
	}
	tips, err := w.tips(start)
	if err != nil {
		return Page{}, err
	}
	if len(tips) == 0 {
		if opts.Cursor != nil {
			return Page{}, git.NewError(git.KindRevisionNotFound, "resume walk", opts.Cursor.LastHash,
				fmt.Errorf("%s has no commits", start))
		}
		return Page{}, nil
	}
	s, err := w.open(ctx, sessionKey(w.cfg.Order, start, opts.File, tips), tips, opts.Cursor, opts.StartAtCursor)
	if err != nil {
		return Page{}, err
	}

	var page Page
	for len(page.Commits) < num {
		commit, err := s.next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Page{}, err
		}
		if opts.File != "" {
			touched, err := w.touches(commit, opts.File)
			if err != nil {
				return Page{}, err
			}
			if !touched {
				continue
			}
		}
		page.Commits = append(page.Commits, git.NewCommit(commit))
		s.last = commit.Hash
	}
	s.file = opts.File
	more, err := s.hasMore(ctx)
	if err != nil {
		return Page{}, err
	}
	if more && len(page.Commits) > 0 {
		page.Cursor = &Cursor{Mode: start.Mode, Start: start.String(), LastHash: s.last.String(), File: opts.File}
	}
	slog.Debug("walk page",
		slog.String("start", start.String()),
		slog.Int("commits", len(page.Commits)),
		slog.Bool("more", page.Cursor != nil),
	)
	return page, nil
}

// touches reports whether commit changes path against its first parent.
func (w *Walker) touches(commit *object.Commit, path string) (bool, error) {
	now, before, err := w.pathEntries(commit, path)
	if err != nil {
		return false, err
	}
	return now != before, nil
}
