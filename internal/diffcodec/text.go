package diffcodec

import (
	"bytes"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/utils/binary"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thiagokokada/githistory/internal/git"
)

// text is file content split into lines. lines keep their terminator;
// offsets[i] is the byte offset of lines[i].
type text struct {
	lines   []string
	offsets []int
	binary  bool
}

var emptyText = &text{}

func newText(data []byte) *text {
	if isBinary(data) {
		return &text{binary: true}
	}
	lines, offsets := splitLines(data)
	return &text{lines: lines, offsets: offsets}
}

func splitLines(data []byte) (lines []string, offsets []int) {
	off := 0
	for off < len(data) {
		end := bytes.IndexByte(data[off:], '\n')
		if end < 0 {
			end = len(data)
		} else {
			end += off + 1
		}
		lines = append(lines, string(data[off:end]))
		offsets = append(offsets, off)
		off = end
	}
	return lines, offsets
}

func isBinary(data []byte) bool {
	bin, err := binary.IsBinary(bytes.NewReader(data))
	return err == nil && bin
}

// textCache keeps split content keyed by object id. Worktree content is
// keyed by the hash it would get as a blob, so stale entries never match.
type textCache struct {
	lru *lru.Cache[plumbing.Hash, *text]
}

func newTextCache(size int) (*textCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[plumbing.Hash, *text](size)
	if err != nil {
		return nil, err
	}
	return &textCache{lru: c}, nil
}

func (c *Codec) load(ref FileRef) (*text, error) {
	if !ref.Exists() {
		return emptyText, nil
	}
	if !ref.Hash.IsZero() {
		if t, ok := c.cache.lru.Get(ref.Hash); ok {
			return t, nil
		}
	}
	var (
		data []byte
		err  error
	)
	switch ref.source {
	case git.SourceWorktree:
		data, err = c.repo.ReadWorktree(ref.Path)
	default:
		data, err = c.repo.Blob(ref.Hash)
	}
	if err != nil {
		return nil, err
	}
	t := newText(data)
	key := ref.Hash
	if key.IsZero() {
		key = plumbing.ComputeHash(plumbing.BlobObject, data)
	}
	c.cache.lru.Add(key, t)
	return t, nil
}
