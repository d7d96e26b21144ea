// Package gittest builds in-memory repositories for tests.
package gittest

import (
	"path"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/githistory/internal/git"
)

// Files is a full tree snapshot: path -> content.
type Files map[string]string

// Repo is an in-memory repository with a memfs worktree whose HEAD points
// at refs/heads/main.
type Repo struct {
	*git.Repository
	FS billy.Filesystem

	t     testing.TB
	clock time.Time
	trees map[plumbing.Hash]Files
}

// Epoch is the committer time of the first commit made by a Repo.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func New(t testing.TB) *Repo {
	t.Helper()
	fs := memfs.New()
	raw, err := gitlib.InitWithOptions(memory.NewStorage(), fs, gitlib.InitOptions{
		DefaultBranch: plumbing.NewBranchReferenceName("main"),
	})
	require.NoError(t, err)
	repo, err := git.New(raw)
	require.NoError(t, err)
	return &Repo{Repository: repo, FS: fs, t: t, clock: Epoch, trees: map[plumbing.Hash]Files{}}
}

// Commit stores a commit whose tree is exactly files. Each call advances the
// fixture clock by one minute.
func (r *Repo) Commit(msg string, files Files, parents ...plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	when := r.clock
	r.clock = r.clock.Add(time.Minute)
	return r.CommitAt(when, msg, files, parents...)
}

// CommitAt is Commit with an explicit author and committer time.
func (r *Repo) CommitAt(when time.Time, msg string, files Files, parents ...plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	tree := r.writeTree(files)
	sig := object.Signature{Name: "Test", Email: "test@example.com", When: when}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := r.Storer.NewEncodedObject()
	require.NoError(r.t, c.Encode(obj))
	h, err := r.Storer.SetEncodedObject(obj)
	require.NoError(r.t, err)
	r.trees[h] = files
	return h
}

type treeNode struct {
	files map[string]plumbing.Hash
	dirs  map[string]*treeNode
}

func (r *Repo) writeTree(files Files) plumbing.Hash {
	root := &treeNode{files: map[string]plumbing.Hash{}, dirs: map[string]*treeNode{}}
	for name, content := range files {
		h, err := r.WriteBlob([]byte(content))
		require.NoError(r.t, err)
		parts := strings.Split(name, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			next, ok := node.dirs[dir]
			if !ok {
				next = &treeNode{files: map[string]plumbing.Hash{}, dirs: map[string]*treeNode{}}
				node.dirs[dir] = next
			}
			node = next
		}
		node.files[parts[len(parts)-1]] = h
	}
	return r.storeTree(root)
}

func (r *Repo) storeTree(n *treeNode) plumbing.Hash {
	var entries []object.TreeEntry
	for name, h := range n.files {
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: h})
	}
	for name, child := range n.dirs {
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: r.storeTree(child)})
	}
	// git orders directories as if their name had a trailing slash.
	key := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	slices.SortFunc(entries, func(a, b object.TreeEntry) int { return strings.Compare(key(a), key(b)) })
	tree := &object.Tree{Entries: entries}
	obj := r.Storer.NewEncodedObject()
	require.NoError(r.t, tree.Encode(obj))
	h, err := r.Storer.SetEncodedObject(obj)
	require.NoError(r.t, err)
	return h
}

// Branch points refs/heads/name at h.
func (r *Repo) Branch(name string, h plumbing.Hash) {
	r.t.Helper()
	r.SetRef(plumbing.NewBranchReferenceName(name), h)
}

// Tag creates a lightweight tag.
func (r *Repo) Tag(name string, h plumbing.Hash) {
	r.t.Helper()
	r.SetRef(plumbing.NewTagReferenceName(name), h)
}

func (r *Repo) SetRef(name plumbing.ReferenceName, h plumbing.Hash) {
	r.t.Helper()
	require.NoError(r.t, r.Storer.SetReference(plumbing.NewHashReference(name, h)))
}

// Checkout points main at h and makes index and worktree match its tree.
func (r *Repo) Checkout(h plumbing.Hash) {
	r.t.Helper()
	r.Branch("main", h)
	files := r.trees[h]
	idx := &index.Index{Version: 2}
	for name, content := range files {
		r.WriteFile(name, content)
		idx.Entries = append(idx.Entries, &index.Entry{
			Name: name,
			Hash: plumbing.ComputeHash(plumbing.BlobObject, []byte(content)),
			Mode: filemode.Regular,
			Size: uint32(len(content)),
		})
	}
	require.NoError(r.t, r.WriteIndex(idx))
}

// WriteFile writes a worktree file.
func (r *Repo) WriteFile(name, content string) {
	r.t.Helper()
	if dir := path.Dir(name); dir != "." {
		require.NoError(r.t, r.FS.MkdirAll(dir, 0o755))
	}
	require.NoError(r.t, util.WriteFile(r.FS, name, []byte(content), 0o644))
}

// RemoveFile deletes a worktree file.
func (r *Repo) RemoveFile(name string) {
	r.t.Helper()
	require.NoError(r.t, r.FS.Remove(name))
}

// ReadFile returns a worktree file, failing the test when it is missing.
func (r *Repo) ReadFile(name string) string {
	r.t.Helper()
	data, err := util.ReadFile(r.FS, name)
	require.NoError(r.t, err)
	return string(data)
}

// Exists reports whether a worktree file exists.
func (r *Repo) Exists(name string) bool {
	_, err := r.FS.Lstat(name)
	return err == nil
}

// StageFile puts content at stage 0 for name, as "git add" would.
func (r *Repo) StageFile(name, content string) {
	r.t.Helper()
	idx, err := r.ReadIndex()
	require.NoError(r.t, err)
	h, err := r.WriteBlob([]byte(content))
	require.NoError(r.t, err)
	idx.Entries = slices.DeleteFunc(idx.Entries, func(e *index.Entry) bool { return e.Name == name })
	idx.Entries = append(idx.Entries, &index.Entry{Name: name, Hash: h, Mode: filemode.Regular, Size: uint32(len(content))})
	require.NoError(r.t, r.WriteIndex(idx))
}

// Unstage drops every index entry for name.
func (r *Repo) Unstage(name string) {
	r.t.Helper()
	idx, err := r.ReadIndex()
	require.NoError(r.t, err)
	idx.Entries = slices.DeleteFunc(idx.Entries, func(e *index.Entry) bool { return e.Name == name })
	require.NoError(r.t, r.WriteIndex(idx))
}

// Conflict replaces name in the index with conflict stages. An empty string
// leaves that stage absent.
func (r *Repo) Conflict(name, ancestor, ours, theirs string) {
	r.t.Helper()
	idx, err := r.ReadIndex()
	require.NoError(r.t, err)
	idx.Entries = slices.DeleteFunc(idx.Entries, func(e *index.Entry) bool { return e.Name == name })
	for stage, content := range map[index.Stage]string{
		index.AncestorMode: ancestor,
		index.OurMode:      ours,
		index.TheirMode:    theirs,
	} {
		if content == "" {
			continue
		}
		h, err := r.WriteBlob([]byte(content))
		require.NoError(r.t, err)
		idx.Entries = append(idx.Entries, &index.Entry{Name: name, Hash: h, Mode: filemode.Regular, Stage: stage, Size: uint32(len(content))})
	}
	require.NoError(r.t, r.WriteIndex(idx))
}

// IndexEntry returns the stage-0 entry for name.
func (r *Repo) IndexEntry(name string) (*index.Entry, bool) {
	r.t.Helper()
	idx, err := r.ReadIndex()
	require.NoError(r.t, err)
	for _, e := range idx.Entries {
		if e.Name == name && e.Stage == index.Merged {
			return e, true
		}
	}
	return nil, false
}

// BlobHash is the object id content would get.
func BlobHash(content string) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(content))
}
