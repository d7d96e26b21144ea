package revwalk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/githistory/internal/diffcodec"
	"github.com/thiagokokada/githistory/internal/git"
	"github.com/thiagokokada/githistory/internal/git/gittest"
)

func hashes(commits []git.Commit) []plumbing.Hash {
	out := make([]plumbing.Hash, 0, len(commits))
	for _, c := range commits {
		out = append(out, c.Hash)
	}
	return out
}

func linearRepo(t *testing.T, n int) (*gittest.Repo, []plumbing.Hash) {
	t.Helper()
	repo := gittest.New(t)
	var chain []plumbing.Hash
	var parents []plumbing.Hash
	for i := 0; i < n; i++ {
		h := repo.Commit(fmt.Sprintf("commit %d", i), gittest.Files{"file.txt": fmt.Sprintf("%d\n", i)}, parents...)
		chain = append(chain, h)
		parents = []plumbing.Hash{h}
	}
	repo.Branch("main", chain[n-1])
	// newest first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return repo, chain
}

func TestWalkPagesWithoutGaps(t *testing.T) {
	t.Parallel()

	repo, chain := linearRepo(t, 7)
	ctx := context.Background()

	for _, fresh := range []bool{false, true} {
		fresh := fresh
		t.Run(fmt.Sprintf("fresh=%v", fresh), func(t *testing.T) {
			t.Parallel()

			w := New(repo.Repository, Config{})
			var got []plumbing.Hash
			var cursor *Cursor
			pages := 0
			for {
				if fresh {
					w = New(repo.Repository, Config{})
				}
				page, err := w.Walk(ctx, Ref("main"), Options{Num: 3, Cursor: cursor})
				require.NoError(t, err)
				got = append(got, hashes(page.Commits)...)
				pages++
				if page.Cursor == nil {
					break
				}
				cursor = page.Cursor
			}
			assert.Equal(t, chain, got)
			assert.Equal(t, 3, pages)
		})
	}
}

func TestWalkStartAtCursor(t *testing.T) {
	t.Parallel()

	repo, chain := linearRepo(t, 5)
	w := New(repo.Repository, Config{})
	cursor := &Cursor{Mode: ModeRef, Start: Ref("main").String(), LastHash: chain[2].String()}

	page, err := w.Walk(context.Background(), Ref("main"), Options{Num: 2, Cursor: cursor, StartAtCursor: true})
	require.NoError(t, err)
	assert.Equal(t, chain[2:4], hashes(page.Commits))

	page, err = w.Walk(context.Background(), Ref("main"), Options{Num: 2, Cursor: cursor})
	require.NoError(t, err)
	assert.Equal(t, chain[3:5], hashes(page.Commits))
	assert.Nil(t, page.Cursor)
}

func TestWalkRootCursorIsExhausted(t *testing.T) {
	t.Parallel()

	repo, chain := linearRepo(t, 2)
	w := New(repo.Repository, Config{})
	root := chain[len(chain)-1]

	page, err := w.Walk(context.Background(), Commit(chain[0].String()), Options{
		Cursor: &Cursor{Mode: ModeSHA, Start: Commit(chain[0].String()).String(), LastHash: root.String()},
	})
	require.NoError(t, err)
	assert.Empty(t, page.Commits)
	assert.Nil(t, page.Cursor)
}

func mergeRepo(t *testing.T) (repo *gittest.Repo, a, b, c, d plumbing.Hash) {
	t.Helper()
	repo = gittest.New(t)
	a = repo.CommitAt(gittest.Epoch, "A", gittest.Files{"a": "a\n"})
	b = repo.CommitAt(gittest.Epoch.Add(time.Minute), "B", gittest.Files{"a": "a\n", "b": "b\n"}, a)
	d = repo.CommitAt(gittest.Epoch.Add(time.Minute), "D", gittest.Files{"a": "a\n", "d": "d\n"}, a)
	c = repo.CommitAt(gittest.Epoch.Add(2*time.Minute), "C", gittest.Files{"a": "a\n", "b": "b\n", "d": "d\n"}, b, d)
	repo.Branch("main", c)
	return repo, a, b, c, d
}

func TestWalkTopologicalMerge(t *testing.T) {
	t.Parallel()

	repo, a, b, c, d := mergeRepo(t)
	for _, order := range []Order{OrderTopological, OrderChronological} {
		order := order
		t.Run(order.String(), func(t *testing.T) {
			t.Parallel()

			page, err := New(repo.Repository, Config{Order: order}).Walk(context.Background(), Ref("main"), Options{})
			require.NoError(t, err)
			assert.Equal(t, []plumbing.Hash{c, b, d, a}, hashes(page.Commits))
			assert.Nil(t, page.Cursor)
		})
	}
}

func TestWalkTopologicalIgnoresClockSkew(t *testing.T) {
	t.Parallel()

	repo := gittest.New(t)
	base := repo.CommitAt(gittest.Epoch, "base", gittest.Files{"f": "0\n"})
	// side's parent claims to be newer than its child.
	future := repo.CommitAt(gittest.Epoch.Add(time.Hour), "future", gittest.Files{"f": "1\n"}, base)
	side := repo.CommitAt(gittest.Epoch.Add(time.Minute), "side", gittest.Files{"f": "2\n"}, future)
	other := repo.CommitAt(gittest.Epoch.Add(2*time.Minute), "other", gittest.Files{"f": "3\n"}, base)
	merge := repo.CommitAt(gittest.Epoch.Add(3*time.Minute), "merge", gittest.Files{"f": "4\n"}, other, side)
	repo.Branch("main", merge)

	page, err := New(repo.Repository, Config{}).Walk(context.Background(), Ref("main"), Options{})
	require.NoError(t, err)
	got := hashes(page.Commits)
	require.Len(t, got, 5)
	pos := map[plumbing.Hash]int{}
	for i, h := range got {
		pos[h] = i
	}
	assert.Less(t, pos[side], pos[future])
	assert.Less(t, pos[future], pos[base])
	assert.Less(t, pos[other], pos[base])
	assert.Equal(t, merge, got[0])
}

func TestWalkHistoryIncludesAllRefs(t *testing.T) {
	t.Parallel()

	repo, a, b, c, d := mergeRepo(t)
	side := repo.Commit("side", gittest.Files{"x": "x\n"}, a)
	repo.Branch("side", side)
	tagged := repo.Commit("tagged", gittest.Files{"t": "t\n"}, a)
	repo.Tag("v1", tagged)

	page, err := New(repo.Repository, Config{}).Walk(context.Background(), History(), Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []plumbing.Hash{a, b, c, d, side, tagged}, hashes(page.Commits))
	assert.Equal(t, a, page.Commits[len(page.Commits)-1].Hash)
}

func TestWalkFileFilter(t *testing.T) {
	t.Parallel()

	repo := gittest.New(t)
	c1 := repo.Commit("add", gittest.Files{"a.txt": "1\n", "b.txt": "1\n"})
	c2 := repo.Commit("touch b", gittest.Files{"a.txt": "1\n", "b.txt": "2\n"}, c1)
	c3 := repo.Commit("touch a", gittest.Files{"a.txt": "2\n", "b.txt": "2\n"}, c2)
	c4 := repo.Commit("touch b again", gittest.Files{"a.txt": "2\n", "b.txt": "3\n"}, c3)
	repo.Branch("main", c4)

	w := New(repo.Repository, Config{})
	page, err := w.Walk(context.Background(), Ref("main"), Options{Num: 1, File: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, []plumbing.Hash{c3}, hashes(page.Commits))
	require.NotNil(t, page.Cursor)
	assert.Equal(t, "a.txt", page.Cursor.File)
	first := page.Cursor

	page, err = w.Walk(context.Background(), Ref("main"), Options{Num: 1, File: "a.txt", Cursor: first})
	require.NoError(t, err)
	assert.Equal(t, []plumbing.Hash{c1}, hashes(page.Commits))
	assert.Nil(t, page.Cursor)

	_, err = w.Walk(context.Background(), Ref("main"), Options{Num: 1, File: "b.txt", Cursor: first})
	assert.True(t, git.IsKind(err, git.KindRevisionNotFound))
}

func TestWalkRejectsBadStartAndCursor(t *testing.T) {
	t.Parallel()

	repo, a, _, c, _ := mergeRepo(t)
	unrelated := repo.Commit("unrelated", gittest.Files{"u": "u\n"})
	w := New(repo.Repository, Config{})
	ctx := context.Background()

	_, err := w.Walk(ctx, Ref("missing"), Options{})
	assert.True(t, git.IsKind(err, git.KindRevisionNotFound))

	for name, cursor := range map[string]*Cursor{
		"other mode":    {Mode: ModeSHA, Start: Ref("main").String(), LastHash: a.String()},
		"other start":   {Mode: ModeRef, Start: Ref("side").String(), LastHash: a.String()},
		"not a hash":    {Mode: ModeRef, Start: Ref("main").String(), LastHash: "abc"},
		"unknown":       {Mode: ModeRef, Start: Ref("main").String(), LastHash: plumbing.ComputeHash(plumbing.BlobObject, []byte("x")).String()},
		"not reachable": {Mode: ModeRef, Start: Ref("main").String(), LastHash: unrelated.String()},
	} {
		_, err := w.Walk(ctx, Ref("main"), Options{Cursor: cursor})
		assert.True(t, git.IsKind(err, git.KindRevisionNotFound), name)
	}

	// a failed resume does not poison the next walk
	page, err := w.Walk(ctx, Ref("main"), Options{Num: 1})
	require.NoError(t, err)
	assert.Equal(t, []plumbing.Hash{c}, hashes(page.Commits))
}

func TestCursorToken(t *testing.T) {
	t.Parallel()

	c := Cursor{Mode: ModeFile, Start: Ref("main").String(), LastHash: "0123456789012345678901234567890123456789", File: "a b:c.txt", Follow: true}
	got, err := ParseCursor(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c, *got)

	for _, token := range []string{"", "!!!", "e30"} {
		_, err := ParseCursor(token)
		assert.True(t, git.IsKind(err, git.KindRevisionNotFound), token)
	}
}

func renameRepo(t *testing.T) (repo *gittest.Repo, root, older, unrelated, renamed, modified plumbing.Hash) {
	t.Helper()
	repo = gittest.New(t)
	root = repo.Commit("add foo", gittest.Files{"foo.txt": "one\n"})
	older = repo.Commit("edit foo", gittest.Files{"foo.txt": "one\ntwo\n"}, root)
	unrelated = repo.Commit("other", gittest.Files{"foo.txt": "one\ntwo\n", "other.txt": "x\n"}, older)
	renamed = repo.Commit("rename", gittest.Files{"bar.txt": "one\ntwo\n", "other.txt": "x\n"}, unrelated)
	modified = repo.Commit("edit bar", gittest.Files{"bar.txt": "one\ntwo\nthree\n", "other.txt": "x\n"}, renamed)
	repo.Branch("main", modified)
	return repo, root, older, unrelated, renamed, modified
}

func TestFileHistoryFollowsRename(t *testing.T) {
	t.Parallel()

	repo, root, older, _, renamed, modified := renameRepo(t)
	page, err := New(repo.Repository, Config{}).FileHistory(context.Background(), Ref("main"), "bar.txt", FileOptions{})
	require.NoError(t, err)

	require.Len(t, page.Entries, 4)
	want := []struct {
		hash    plumbing.Hash
		status  diffcodec.Status
		path    string
		oldName string
	}{
		{modified, diffcodec.StatusModified, "bar.txt", "bar.txt"},
		{renamed, diffcodec.StatusRenamed, "bar.txt", "foo.txt"},
		{older, diffcodec.StatusModified, "foo.txt", "foo.txt"},
		{root, diffcodec.StatusAdded, "foo.txt", "foo.txt"},
	}
	for i, w := range want {
		e := page.Entries[i]
		assert.Equal(t, w.hash, e.Commit.Hash, i)
		assert.Equal(t, w.status, e.Status, i)
		assert.Equal(t, w.path, e.Path, i)
		assert.Equal(t, w.oldName, e.OldName, i)
	}
	assert.Equal(t, "bar.txt", page.Entries[1].NewName)
	assert.Equal(t, "foo.txt", page.Path)
	assert.Nil(t, page.Cursor)
}

func TestFileHistoryPaged(t *testing.T) {
	t.Parallel()

	repo, root, older, _, renamed, modified := renameRepo(t)
	ctx := context.Background()

	for _, fresh := range []bool{false, true} {
		fresh := fresh
		t.Run(fmt.Sprintf("fresh=%v", fresh), func(t *testing.T) {
			t.Parallel()

			w := New(repo.Repository, Config{})
			var got []plumbing.Hash
			var paths []string
			var cursor *Cursor
			for {
				if fresh {
					w = New(repo.Repository, Config{})
				}
				page, err := w.FileHistory(ctx, Ref("main"), "bar.txt", FileOptions{Num: 1, Cursor: cursor})
				require.NoError(t, err)
				for _, e := range page.Entries {
					got = append(got, e.Commit.Hash)
					paths = append(paths, e.Path)
				}
				if page.Cursor == nil {
					break
				}
				cursor = page.Cursor
			}
			assert.Equal(t, []plumbing.Hash{modified, renamed, older, root}, got)
			assert.Equal(t, []string{"bar.txt", "bar.txt", "foo.txt", "foo.txt"}, paths)
		})
	}
}

func TestFileHistoryFollowsOneRenamePerCall(t *testing.T) {
	t.Parallel()

	repo := gittest.New(t)
	root := repo.Commit("add a", gittest.Files{"a.txt": "x\n"})
	edit := repo.Commit("edit a", gittest.Files{"a.txt": "x\ny\n"}, root)
	first := repo.Commit("a to b", gittest.Files{"b.txt": "x\ny\n"}, edit)
	second := repo.Commit("b to c", gittest.Files{"c.txt": "x\ny\n"}, first)
	repo.Branch("main", second)

	page, err := New(repo.Repository, Config{}).FileHistory(context.Background(), Ref("main"), "c.txt", FileOptions{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, second, page.Entries[0].Commit.Hash)
	assert.Equal(t, "b.txt", page.Entries[0].OldName)
	assert.Equal(t, first, page.Entries[1].Commit.Hash)
	assert.Equal(t, diffcodec.StatusRenamed, page.Entries[1].Status)
	assert.Equal(t, "a.txt", page.Entries[1].OldName)
	assert.Equal(t, "b.txt", page.Entries[1].Path)
	assert.Equal(t, "b.txt", page.Path)
	assert.Nil(t, page.Cursor)

	// restarting at the unfollowed rename continues under the older name
	last := page.Entries[len(page.Entries)-1]
	page, err = New(repo.Repository, Config{}).FileHistory(context.Background(), Commit(last.Commit.Hash.String()), page.Path, FileOptions{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, []plumbing.Hash{first, edit, root}, []plumbing.Hash{
		page.Entries[0].Commit.Hash, page.Entries[1].Commit.Hash, page.Entries[2].Commit.Hash,
	})
	assert.Equal(t, diffcodec.StatusRenamed, page.Entries[0].Status)
	assert.Equal(t, diffcodec.StatusModified, page.Entries[1].Status)
	assert.Equal(t, "a.txt", page.Entries[1].Path)
	assert.Equal(t, diffcodec.StatusAdded, page.Entries[2].Status)
	assert.Equal(t, "a.txt", page.Path)
	assert.Nil(t, page.Cursor)
}

func TestFileHistoryEmptyRepository(t *testing.T) {
	t.Parallel()

	repo := gittest.New(t)
	page, err := New(repo.Repository, Config{}).FileHistory(context.Background(), Ref("HEAD"), "a.txt", FileOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Equal(t, "a.txt", page.Path)

	_, err = New(repo.Repository, Config{}).FileHistory(context.Background(), History(), "a.txt", FileOptions{})
	assert.Error(t, err)
}
