package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/githistory/internal/config"
	"github.com/thiagokokada/githistory/internal/diffcodec"
	"github.com/thiagokokada/githistory/internal/git"
	"github.com/thiagokokada/githistory/internal/git/gittest"
	"github.com/thiagokokada/githistory/internal/revwalk"
	"github.com/thiagokokada/githistory/internal/workindex"
)

func newEngine(t *testing.T, repo *gittest.Repo) *Engine {
	t.Helper()
	e, err := New(repo.Repository, config.Default())
	require.NoError(t, err)
	return e
}

// linear commits c0..c(n-1) on main, checked out at the last one.
func linearRepo(t *testing.T, n int) (*gittest.Repo, []plumbing.Hash) {
	t.Helper()
	repo := gittest.New(t)
	var hashes []plumbing.Hash
	content := ""
	for i := 0; i < n; i++ {
		content += "line\n"
		var parents []plumbing.Hash
		if i > 0 {
			parents = append(parents, hashes[i-1])
		}
		hashes = append(hashes, repo.Commit("commit", gittest.Files{"a.txt": content}, parents...))
	}
	repo.Checkout(hashes[n-1])
	return repo, hashes
}

func commitHashes(commits []git.Commit) []plumbing.Hash {
	var out []plumbing.Hash
	for _, c := range commits {
		out = append(out, c.Hash)
	}
	return out
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	repo := gittest.New(t)
	settings := config.Default()
	settings.PageSize = 0
	_, err := New(repo.Repository, settings)
	require.Error(t, err)
}

func TestOpenNotARepository(t *testing.T) {
	t.Parallel()

	_, err := Open(t.TempDir(), config.Default())
	require.Error(t, err)
	assert.True(t, git.IsKind(err, git.KindNotARepository))
}

func TestLoadCommitsPages(t *testing.T) {
	t.Parallel()

	repo, hashes := linearRepo(t, 5)
	e := newEngine(t, repo)
	ctx := context.Background()

	first, err := e.LoadCommits(ctx, CommitsRequest{Start: revwalk.Ref("HEAD"), Num: 2})
	require.NoError(t, err)
	assert.Equal(t, []plumbing.Hash{hashes[4], hashes[3]}, commitHashes(first.Commits))
	assert.Equal(t, "main", first.Branch)
	require.Len(t, first.Lanes, 2)
	require.NotNil(t, first.Cursor)

	second, err := e.LoadCommits(ctx, CommitsRequest{Start: revwalk.Ref("HEAD"), Num: 2, Cursor: first.Cursor})
	require.NoError(t, err)
	assert.Equal(t, []plumbing.Hash{hashes[2], hashes[1]}, commitHashes(second.Commits))

	last, err := e.LoadCommits(ctx, CommitsRequest{Start: revwalk.Ref("HEAD"), Num: 2, Cursor: second.Cursor})
	require.NoError(t, err)
	assert.Equal(t, []plumbing.Hash{hashes[0]}, commitHashes(last.Commits))
	assert.Nil(t, last.Cursor)

	// a linear history stays on one lane
	for _, h := range hashes {
		lane, ok := e.Lane(h)
		require.True(t, ok)
		assert.Equal(t, 0, lane.ColorID)
	}
	lane, _ := e.Lane(hashes[1])
	assert.Equal(t, []plumbing.Hash{hashes[2]}, lane.Descendants)
}

func TestLoadCommitsDefaultsToPageSize(t *testing.T) {
	t.Parallel()

	repo, _ := linearRepo(t, 4)
	settings := config.Default()
	settings.PageSize = 3
	e, err := New(repo.Repository, settings)
	require.NoError(t, err)

	page, err := e.LoadCommits(context.Background(), CommitsRequest{Start: revwalk.Ref("main")})
	require.NoError(t, err)
	assert.Len(t, page.Commits, 3)
	assert.NotNil(t, page.Cursor)
	assert.Equal(t, "main", page.Branch)
}

func TestLoadCommitsResetsLanesOnSelectionChange(t *testing.T) {
	t.Parallel()

	repo, hashes := linearRepo(t, 3)
	e := newEngine(t, repo)
	ctx := context.Background()

	_, err := e.LoadCommits(ctx, CommitsRequest{Start: revwalk.Ref("HEAD")})
	require.NoError(t, err)
	_, ok := e.Lane(hashes[2])
	require.True(t, ok)

	_, err = e.LoadCommits(ctx, CommitsRequest{Start: revwalk.Commit(hashes[1].String())})
	require.NoError(t, err)
	_, ok = e.Lane(hashes[2])
	assert.False(t, ok)
	_, ok = e.Lane(hashes[1])
	assert.True(t, ok)
}

func TestLoadCommitsMergeLanes(t *testing.T) {
	t.Parallel()

	repo := gittest.New(t)
	a := repo.Commit("A", gittest.Files{"a": "a"})
	b := repo.Commit("B", gittest.Files{"a": "b"}, a)
	d := repo.Commit("D", gittest.Files{"a": "a", "d": "d"}, a)
	c := repo.Commit("C", gittest.Files{"a": "b", "d": "d"}, b, d)
	repo.Branch("main", c)
	e := newEngine(t, repo)

	page, err := e.LoadCommits(context.Background(), CommitsRequest{Start: revwalk.Ref("main")})
	require.NoError(t, err)
	require.Equal(t, []plumbing.Hash{c, d, b, a}, commitHashes(page.Commits))

	colors := map[plumbing.Hash]int{}
	for i, commit := range page.Commits {
		colors[commit.Hash] = page.Lanes[i].ColorID
	}
	assert.Equal(t, 0, colors[c])
	assert.Equal(t, 0, colors[b])
	assert.Equal(t, 1, colors[d])
	// D is walked before B, so A continues D's lane
	assert.Equal(t, 1, colors[a])
}

func TestLoadCommitsUnknownStart(t *testing.T) {
	t.Parallel()

	repo, _ := linearRepo(t, 1)
	e := newEngine(t, repo)

	_, err := e.LoadCommits(context.Background(), CommitsRequest{Start: revwalk.Ref("nope")})
	require.Error(t, err)
	assert.True(t, git.IsKind(err, git.KindRevisionNotFound))
}

func TestLoadFileHistoryDefaultsToHead(t *testing.T) {
	t.Parallel()

	repo := gittest.New(t)
	root := repo.Commit("add", gittest.Files{"a.txt": "1\n", "b.txt": "x\n"})
	other := repo.Commit("other", gittest.Files{"a.txt": "1\n", "b.txt": "y\n"}, root)
	edit := repo.Commit("edit", gittest.Files{"a.txt": "2\n", "b.txt": "y\n"}, other)
	repo.Checkout(edit)
	e := newEngine(t, repo)

	page, err := e.LoadFileHistory(context.Background(), FileHistoryRequest{Path: "a.txt"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, edit, page.Entries[0].Commit.Hash)
	assert.Equal(t, diffcodec.StatusModified, page.Entries[0].Status)
	assert.Equal(t, root, page.Entries[1].Commit.Hash)
	assert.Equal(t, diffcodec.StatusAdded, page.Entries[1].Status)
	assert.Nil(t, page.Cursor)
}

func TestLoadCommitDiffIsMemoized(t *testing.T) {
	t.Parallel()

	repo, hashes := linearRepo(t, 3)
	e := newEngine(t, repo)
	ctx := context.Background()

	first, err := e.LoadCommitDiff(ctx, hashes[2].String())
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := e.LoadCommitDiff(ctx, "HEAD")
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Same(t, first[0], again[0])

	other, err := e.LoadCommitDiff(ctx, hashes[1].String())
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.NotSame(t, first[0], other[0])
}

func TestLoadHunksCommit(t *testing.T) {
	t.Parallel()

	repo, hashes := linearRepo(t, 2)
	e := newEngine(t, repo)
	ctx := context.Background()

	hunks, found, err := e.LoadHunks(ctx, HunksRequest{Source: HunksCommit, Rev: hashes[1].String(), Path: "a.txt"})
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, hunks, 1)

	_, found, err = e.LoadHunks(ctx, HunksRequest{Source: HunksCommit, Rev: hashes[1].String(), Path: "missing.txt"})
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = e.LoadHunks(ctx, HunksRequest{Source: HunksCommit, Rev: "nope", Path: "a.txt"})
	assert.True(t, git.IsKind(err, git.KindRevisionNotFound))
}

func TestCompareRevisions(t *testing.T) {
	t.Parallel()

	repo, hashes := linearRepo(t, 3)
	e := newEngine(t, repo)
	ctx := context.Background()

	_, _, err := e.LoadHunks(ctx, HunksRequest{Source: HunksCompare, Path: "a.txt"})
	require.Error(t, err)

	patches, err := e.CompareRevisions(ctx, hashes[0].String(), "main")
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, diffcodec.StatusModified, patches[0].Status)

	cached, err := e.CompareRevisions(ctx, hashes[0].String(), hashes[2].String())
	require.NoError(t, err)
	assert.Same(t, patches[0], cached[0])

	hunks, found, err := e.LoadHunks(ctx, HunksRequest{Source: HunksCompare, Path: "a.txt"})
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, hunks, 1)

	_, err = e.CompareRevisions(ctx, "nope", "main")
	assert.True(t, git.IsKind(err, git.KindRevisionNotFound))
}

func TestWorkingTreeFlow(t *testing.T) {
	t.Parallel()

	repo := gittest.New(t)
	base := repo.Commit("base", gittest.Files{"a.txt": "1\n", "b.txt": "1\n"})
	repo.Checkout(base)
	e := newEngine(t, repo)
	ctx := context.Background()

	repo.WriteFile("a.txt", "2\n")
	repo.WriteFile("new.txt", "new\n")

	// hunks before any refresh take a snapshot first
	hunks, found, err := e.LoadHunks(ctx, HunksRequest{Source: HunksUnstaged, Path: "a.txt"})
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, hunks, 1)

	require.NoError(t, e.StageFile(ctx, "a.txt"))
	snap, err := e.RefreshWorkingTree(ctx)
	require.NoError(t, err)
	_, staged := snap.StagedPatch("a.txt")
	assert.True(t, staged)
	_, unstaged := snap.UnstagedPatch("a.txt")
	assert.False(t, unstaged)

	_, found, err = e.LoadHunks(ctx, HunksRequest{Source: HunksStaged, Path: "a.txt"})
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, e.UnstageFile(ctx, "a.txt"))
	_, err = e.RefreshWorkingTree(ctx)
	require.NoError(t, err)

	n, err := e.StageAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = e.RefreshWorkingTree(ctx)
	require.NoError(t, err)

	n, err = e.UnstageAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	discarded, err := e.DiscardFile(ctx, "new.txt", workindex.AlwaysConfirm)
	require.NoError(t, err)
	assert.True(t, discarded)
	assert.False(t, repo.Exists("new.txt"))

	discarded, err = e.DiscardFile(ctx, "a.txt", nil)
	require.NoError(t, err)
	assert.True(t, discarded)
	assert.Equal(t, "1\n", repo.ReadFile("a.txt"))
}

func TestResolveConflictThroughEngine(t *testing.T) {
	t.Parallel()

	repo := gittest.New(t)
	base := repo.Commit("base", gittest.Files{"a.txt": "base\n"})
	repo.Checkout(base)
	repo.Conflict("a.txt", "base\n", "", "theirs\n")
	repo.RemoveFile("a.txt")
	e := newEngine(t, repo)
	ctx := context.Background()

	snap, err := e.RefreshWorkingTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Conflicted())

	resolved, err := e.ResolveConflict(ctx, "a.txt",
		workindex.ResolveFunc(func(context.Context, git.Conflict) (workindex.Resolution, error) {
			return workindex.ResolutionDelete, nil
		}), workindex.ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, resolved)

	snap, err = e.RefreshWorkingTree(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Conflicted())
}

func TestBranchLabels(t *testing.T) {
	t.Parallel()

	repo, hashes := linearRepo(t, 2)
	repo.Tag("v1", hashes[0])
	e := newEngine(t, repo)

	labels, err := e.BranchLabels()
	require.NoError(t, err)
	assert.Equal(t, []string{"HEAD -> main", "main"}, labels[hashes[1].String()])
	assert.Equal(t, []string{"tag: v1"}, labels[hashes[0].String()])
}

func TestFetchWithoutRemote(t *testing.T) {
	t.Parallel()

	repo, _ := linearRepo(t, 1)
	e := newEngine(t, repo)

	tr := e.Fetch(context.Background(), "", nil)
	err := tr.Wait()
	require.Error(t, err)
	assert.True(t, git.IsKind(err, git.KindNoUpstream))
	_, open := <-tr.Events()
	assert.False(t, open)

	err = e.Push(context.Background(), "nope", nil).Wait()
	assert.True(t, git.IsKind(err, git.KindNoUpstream))
}

func TestProgressWriterSplitsLines(t *testing.T) {
	t.Parallel()

	events := make(chan Progress, 8)
	w := &progressWriter{op: "fetch", events: events}
	_, err := w.Write([]byte("Counting objects: 1%\rCounting objects: 5"))
	require.NoError(t, err)
	_, err = w.Write([]byte("0%\r\nCompressing\n  \nDone"))
	require.NoError(t, err)
	w.flush()
	close(events)

	var got []string
	for ev := range events {
		assert.Equal(t, "fetch", ev.Op)
		got = append(got, ev.Message)
	}
	assert.Equal(t, []string{"Counting objects: 1%", "Counting objects: 50%", "Compressing", "Done"}, got)
}

func TestProgressWriterDropsWhenFull(t *testing.T) {
	t.Parallel()

	events := make(chan Progress, 1)
	w := &progressWriter{op: "push", events: events}
	n, err := w.Write([]byte("one\ntwo\nthree\n"))
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Len(t, events, 1)
	assert.Equal(t, "one", (<-events).Message)
}

func TestWatchNeedsDiskRepository(t *testing.T) {
	t.Parallel()

	repo, _ := linearRepo(t, 1)
	e := newEngine(t, repo)
	_, err := e.Watch(context.Background())
	require.Error(t, err)
}

func TestWatchReportsChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := gitlib.PlainInit(dir, false)
	require.NoError(t, err)
	settings := config.Default()
	settings.WatchDelay = 20 * time.Millisecond
	e, err := Open(dir, settings)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := e.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644))
	select {
	case _, ok := <-changes:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShouldIgnoreWatchPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{name: "/repo/.git/index.lock", want: true},
		{name: "/repo/.git/HEAD.LOCK", want: true},
		{name: "/repo/x.ipc", want: true},
		{name: "/repo/.git/index", want: false},
		{name: "/repo/main.go", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, shouldIgnoreWatchPath(tt.name))
		})
	}
}

func TestHunkSourceString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "commit", HunksCommit.String())
	assert.Equal(t, "staged", HunksStaged.String())
	assert.Equal(t, "unstaged", HunksUnstaged.String())
	assert.Equal(t, "compare", HunksCompare.String())
	assert.Equal(t, "HunkSource(9)", HunkSource(9).String())
}
