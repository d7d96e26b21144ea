package git

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repository is the object access port used by the rest of the engine. It
// wraps a go-git repository and its worktree filesystem. A Repository is
// not safe for concurrent mutation; the engine serializes access.
type Repository struct {
	*gitlib.Repository
	path string
	fs   billy.Filesystem
}

// Open opens the repository containing repoPath.
func Open(repoPath string) (*Repository, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, newError(KindIOFailure, "open repository", repoPath, err)
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gitlib.ErrRepositoryNotExists) {
			return nil, newError(KindNotARepository, "open repository", abs, err)
		}
		return nil, newError(KindIOFailure, "open repository", abs, err)
	}
	r, err := New(repo)
	if err != nil {
		return nil, err
	}
	if r.path == "" {
		r.path = abs
	}
	return r, nil
}

// New wraps an already opened go-git repository, such as an in-memory one.
// Bare repositories are accepted; worktree operations will fail on them.
func New(repo *gitlib.Repository) (*Repository, error) {
	if repo == nil {
		return nil, newError(KindNotARepository, "open repository", "", fmt.Errorf("repository not initialized"))
	}
	r := &Repository{Repository: repo}
	wt, err := repo.Worktree()
	switch {
	case err == nil:
		r.fs = wt.Filesystem
		r.path = wt.Filesystem.Root()
	case errors.Is(err, gitlib.ErrIsBareRepository):
		slog.Debug("opened bare repository")
	default:
		return nil, newError(KindIOFailure, "open worktree", "", err)
	}
	return r, nil
}

func (r *Repository) RepoPath() string {
	return r.path
}

// Filesystem returns the worktree filesystem.
func (r *Repository) Filesystem() (billy.Filesystem, error) {
	if r.fs == nil {
		return nil, newError(KindIOFailure, "worktree", "", gitlib.ErrIsBareRepository)
	}
	return r.fs, nil
}

// ResolveRevision resolves a ref name, short or full hash, or revision
// expression to a commit hash. It never falls back to HEAD.
func (r *Repository) ResolveRevision(rev string) (plumbing.Hash, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return plumbing.ZeroHash, newError(KindRevisionNotFound, "resolve revision", rev, fmt.Errorf("revision not specified"))
	}
	if plumbing.IsHash(rev) {
		h := plumbing.NewHash(rev)
		if _, err := r.CommitObject(h); err != nil {
			return plumbing.ZeroHash, err
		}
		return h, nil
	}
	h, err := r.Repository.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, newError(KindRevisionNotFound, "resolve revision", rev, err)
	}
	peeled, ok := r.peelCommitHash(*h)
	if !ok {
		return plumbing.ZeroHash, newError(KindRevisionNotFound, "resolve revision", rev, fmt.Errorf("%s does not point to a commit", h))
	}
	return peeled, nil
}

// HeadState reports the HEAD commit and its short name. ok is false on an
// unborn branch.
func (r *Repository) HeadState() (hash plumbing.Hash, headName string, ok bool, err error) {
	ref, err := r.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, "", false, nil
		}
		return plumbing.ZeroHash, "", false, newError(KindIOFailure, "resolve HEAD", "", err)
	}
	return ref.Hash(), refName(ref), true, nil
}

// CommitObject loads a commit; a missing object is RevisionNotFound.
func (r *Repository) CommitObject(h plumbing.Hash) (*object.Commit, error) {
	c, err := r.Repository.CommitObject(h)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, newError(KindRevisionNotFound, "read commit", h.String(), err)
		}
		return nil, newError(KindIOFailure, "read commit", h.String(), err)
	}
	return c, nil
}

// CommitTree returns the tree of the commit, or nil for the zero hash.
func (r *Repository) CommitTree(h plumbing.Hash) (*object.Tree, error) {
	if h.IsZero() {
		return nil, nil
	}
	c, err := r.CommitObject(h)
	if err != nil {
		return nil, err
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, newError(KindIOFailure, "read tree", h.String(), err)
	}
	return tree, nil
}

// HeadTree returns the tree of HEAD, or nil on an unborn branch.
func (r *Repository) HeadTree() (*object.Tree, error) {
	h, _, ok, err := r.HeadState()
	if err != nil || !ok {
		return nil, err
	}
	return r.CommitTree(h)
}

// Blob reads the full content of a blob.
func (r *Repository) Blob(h plumbing.Hash) ([]byte, error) {
	blob, err := r.BlobObject(h)
	if err != nil {
		return nil, newError(KindIOFailure, "read blob", h.String(), err)
	}
	rd, err := blob.Reader()
	if err != nil {
		return nil, newError(KindIOFailure, "read blob", h.String(), err)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, newError(KindIOFailure, "read blob", h.String(), err)
	}
	return data, nil
}

// WriteBlob stores data as a blob object.
func (r *Repository) WriteBlob(data []byte) (plumbing.Hash, error) {
	obj := r.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, newError(KindIOFailure, "write blob", "", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, newError(KindIOFailure, "write blob", "", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, newError(KindIOFailure, "write blob", "", err)
	}
	h, err := r.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, newError(KindIOFailure, "write blob", "", err)
	}
	return h, nil
}

// ReadIndex reads the index from storage. With on-disk storage this always
// re-reads the file, so external changes are observed. The result is a
// private copy; edits reach storage only through WriteIndex.
func (r *Repository) ReadIndex() (*gitindex.Index, error) {
	idx, err := r.Storer.Index()
	if err != nil {
		return nil, newError(KindIOFailure, "read index", "", err)
	}
	out := &gitindex.Index{Version: idx.Version, Entries: make([]*gitindex.Entry, len(idx.Entries))}
	if out.Version == 0 {
		out.Version = 2
	}
	for i, e := range idx.Entries {
		cp := *e
		out.Entries[i] = &cp
	}
	return out, nil
}

// WriteIndex sorts the entries and writes the index. The cached tree
// extension is dropped since callers edit entries directly.
func (r *Repository) WriteIndex(idx *gitindex.Index) error {
	slices.SortStableFunc(idx.Entries, func(a, b *gitindex.Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return int(a.Stage) - int(b.Stage)
	})
	idx.Cache = nil
	if err := r.Storer.SetIndex(idx); err != nil {
		return newError(KindIOFailure, "write index", "", err)
	}
	return nil
}

// RefTips returns the commits pointed to by HEAD, local and remote branches
// and tags (peeled), without duplicates. HEAD comes first, the rest in ref
// name order.
func (r *Repository) RefTips() ([]plumbing.Hash, error) {
	var tips []plumbing.Hash
	seen := map[plumbing.Hash]struct{}{}
	add := func(h plumbing.Hash) {
		if h.IsZero() {
			return
		}
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		tips = append(tips, h)
	}
	if head, _, ok, err := r.HeadState(); err != nil {
		return nil, err
	} else if ok {
		add(head)
	}
	refs, err := r.References()
	if err != nil {
		return nil, newError(KindIOFailure, "list references", "", err)
	}
	defer refs.Close()
	var named []*plumbing.Reference
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		if name.IsBranch() || name.IsRemote() || name.IsTag() {
			named = append(named, ref)
		}
		return nil
	})
	if err != nil {
		return nil, newError(KindIOFailure, "list references", "", err)
	}
	slices.SortFunc(named, func(a, b *plumbing.Reference) int {
		return strings.Compare(a.Name().String(), b.Name().String())
	})
	for _, ref := range named {
		if h, ok := r.peelCommitHash(ref.Hash()); ok {
			add(h)
		}
	}
	return tips, nil
}

func (r *Repository) peelCommitHash(hash plumbing.Hash) (plumbing.Hash, bool) {
	if hash.IsZero() {
		return plumbing.ZeroHash, false
	}
	// Lightweight tags point directly at a commit; annotated tags point at a tag object.
	if _, err := r.Repository.CommitObject(hash); err == nil {
		return hash, true
	}
	cur := hash
	for i := 0; i < 8; i++ {
		tag, err := r.TagObject(cur)
		if err != nil {
			return plumbing.ZeroHash, false
		}
		switch tag.TargetType {
		case plumbing.CommitObject:
			return tag.Target, true
		case plumbing.TagObject:
			cur = tag.Target
		default:
			return plumbing.ZeroHash, false
		}
	}
	return plumbing.ZeroHash, false
}

func refName(ref *plumbing.Reference) string {
	name := ref.Name().Short()
	if name == "" {
		name = ref.Name().String()
	}
	return name
}
