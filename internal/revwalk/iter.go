package revwalk

import (
	"container/heap"
	"context"
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/githistory/internal/git"
)

// Order selects how commits are sequenced.
type Order uint8

const (
	// OrderTopological never yields a commit before any of its children.
	// Among ready commits the newest committer time goes first.
	OrderTopological Order = iota
	// OrderChronological yields by committer time only and does not need
	// the whole graph up front.
	OrderChronological
)

func (o Order) String() string {
	if o == OrderChronological {
		return "chronological"
	}
	return "topological"
}

// commitIter yields commits until io.EOF.
type commitIter interface {
	next(ctx context.Context) (*object.Commit, error)
}

type queued struct {
	commit *object.Commit
	seq    int
}

// commitQueue is a max-heap on committer time; equal times keep insertion
// order.
type commitQueue []queued

func (q commitQueue) Len() int { return len(q) }
func (q commitQueue) Less(i, j int) bool {
	ti, tj := q[i].commit.Committer.When, q[j].commit.Committer.When
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return q[i].seq < q[j].seq
}
func (q commitQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *commitQueue) Push(x any)   { *q = append(*q, x.(queued)) }
func (q *commitQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

type queue struct {
	items commitQueue
	seq   int
}

func (q *queue) push(c *object.Commit) {
	heap.Push(&q.items, queued{commit: c, seq: q.seq})
	q.seq++
}

func (q *queue) pop() *object.Commit {
	return heap.Pop(&q.items).(queued).commit
}

func (q *queue) len() int { return q.items.Len() }

// loadParent reads a parent commit. Missing parents (shallow history) end
// that line of the walk.
func loadParent(repo *git.Repository, h plumbing.Hash) (*object.Commit, bool, error) {
	c, err := repo.CommitObject(h)
	if err != nil {
		if git.IsKind(err, git.KindRevisionNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return c, true, nil
}

// topoIter loads every reachable commit, then releases them in Kahn order:
// a commit becomes ready once all of its children were yielded.
type topoIter struct {
	repo     *git.Repository
	tips     []plumbing.Hash
	loaded   bool
	commits  map[plumbing.Hash]*object.Commit
	children map[plumbing.Hash]int
	ready    queue
}

func newTopoIter(repo *git.Repository, tips []plumbing.Hash) *topoIter {
	return &topoIter{repo: repo, tips: tips}
}

func (it *topoIter) load(ctx context.Context) error {
	it.commits = map[plumbing.Hash]*object.Commit{}
	it.children = map[plumbing.Hash]int{}
	var pending []plumbing.Hash
	for _, tip := range it.tips {
		if _, ok := it.commits[tip]; ok {
			continue
		}
		c, err := it.repo.CommitObject(tip)
		if err != nil {
			return err
		}
		it.commits[tip] = c
		pending = append(pending, tip)
	}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return git.NewError(git.KindCanceled, "walk commits", "", err)
		}
		h := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		for _, p := range it.commits[h].ParentHashes {
			if _, ok := it.commits[p]; ok {
				it.children[p]++
				continue
			}
			parent, ok, err := loadParent(it.repo, p)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			it.commits[p] = parent
			it.children[p]++
			pending = append(pending, p)
		}
	}
	// Seed in tip order so equal committer times follow the caller's order.
	for _, tip := range it.tips {
		if it.children[tip] == 0 {
			if c, ok := it.commits[tip]; ok {
				it.ready.push(c)
				it.children[tip] = -1
			}
		}
	}
	it.loaded = true
	return nil
}

func (it *topoIter) next(ctx context.Context) (*object.Commit, error) {
	if !it.loaded {
		if err := it.load(ctx); err != nil {
			return nil, err
		}
	}
	if it.ready.len() == 0 {
		return nil, io.EOF
	}
	c := it.ready.pop()
	for _, p := range c.ParentHashes {
		parent, ok := it.commits[p]
		if !ok {
			continue
		}
		it.children[p]--
		if it.children[p] == 0 {
			it.ready.push(parent)
			it.children[p] = -1
		}
	}
	return c, nil
}

// chronoIter walks by committer time, loading parents lazily. A parent with
// a newer timestamp than its child may come out after it.
type chronoIter struct {
	repo    *git.Repository
	tips    []plumbing.Hash
	started bool
	seen    map[plumbing.Hash]struct{}
	queue   queue
}

func newChronoIter(repo *git.Repository, tips []plumbing.Hash) *chronoIter {
	return &chronoIter{repo: repo, tips: tips, seen: map[plumbing.Hash]struct{}{}}
}

func (it *chronoIter) next(ctx context.Context) (*object.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, git.NewError(git.KindCanceled, "walk commits", "", err)
	}
	if !it.started {
		it.started = true
		for _, tip := range it.tips {
			if _, ok := it.seen[tip]; ok {
				continue
			}
			c, err := it.repo.CommitObject(tip)
			if err != nil {
				return nil, err
			}
			it.seen[tip] = struct{}{}
			it.queue.push(c)
		}
	}
	if it.queue.len() == 0 {
		return nil, io.EOF
	}
	c := it.queue.pop()
	for _, p := range c.ParentHashes {
		if _, ok := it.seen[p]; ok {
			continue
		}
		it.seen[p] = struct{}{}
		parent, ok, err := loadParent(it.repo, p)
		if err != nil {
			return nil, err
		}
		if ok {
			it.queue.push(parent)
		}
	}
	return c, nil
}

func newIter(repo *git.Repository, order Order, tips []plumbing.Hash) commitIter {
	if order == OrderChronological {
		return newChronoIter(repo, tips)
	}
	return newTopoIter(repo, tips)
}
