// Package diffcodec turns raw tree, index and worktree comparisons into
// patches with hunks and lines.
package diffcodec

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/thiagokokada/githistory/internal/git"
	"github.com/thiagokokada/githistory/internal/highlight"
)

// Status is the closed set of patch kinds.
type Status uint8

const (
	StatusUnmodified Status = iota
	StatusAdded
	StatusDeleted
	StatusModified
	StatusRenamed
	StatusCopied
	StatusUntracked
	StatusTypeChange
	StatusUnreadable
	StatusConflicted
)

func (s Status) String() string {
	switch s {
	case StatusUnmodified:
		return "Unmodified"
	case StatusAdded:
		return "Added"
	case StatusDeleted:
		return "Deleted"
	case StatusModified:
		return "Modified"
	case StatusRenamed:
		return "Renamed"
	case StatusCopied:
		return "Copied"
	case StatusUntracked:
		return "Untracked"
	case StatusTypeChange:
		return "TypeChange"
	case StatusUnreadable:
		return "Unreadable"
	case StatusConflicted:
		return "Conflicted"
	}
	panic(fmt.Sprintf("diffcodec: unknown status %d", uint8(s)))
}

// Letter is the one-letter code git status uses.
func (s Status) Letter() string {
	switch s {
	case StatusUnmodified:
		return " "
	case StatusAdded:
		return "A"
	case StatusDeleted:
		return "D"
	case StatusModified:
		return "M"
	case StatusRenamed:
		return "R"
	case StatusCopied:
		return "C"
	case StatusUntracked:
		return "?"
	case StatusTypeChange:
		return "T"
	case StatusUnreadable:
		return "X"
	case StatusConflicted:
		return "U"
	}
	panic(fmt.Sprintf("diffcodec: unknown status %d", uint8(s)))
}

// Reverse is the status the same change has when the sides are swapped.
func (s Status) Reverse() Status {
	switch s {
	case StatusAdded:
		return StatusDeleted
	case StatusDeleted:
		return StatusAdded
	default:
		return s
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type FileFlags uint8

const (
	FlagExists FileFlags = 1 << iota
	FlagBinary
)

// FileRef is a path on one side of a patch.
type FileRef struct {
	Path  string            `json:"path"`
	Hash  plumbing.Hash     `json:"-"`
	Size  int64             `json:"size"`
	Mode  filemode.FileMode `json:"mode"`
	Flags FileFlags         `json:"flags"`

	source git.Source
}

func (f FileRef) Exists() bool { return f.Flags&FlagExists != 0 }

func newFileRef(e git.ChangeEntry) FileRef {
	if !e.Exists() {
		return FileRef{}
	}
	return FileRef{Path: e.Path, Hash: e.Hash, Size: e.Size, Mode: e.Mode, Flags: FlagExists, source: e.Source}
}

type LineStats struct {
	Context   int `json:"context"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Patch is one file's change between two sides.
type Patch struct {
	Status  Status  `json:"status"`
	OldFile FileRef `json:"oldFile"`
	NewFile FileRef `json:"newFile"`
	// Similarity is the content similarity in percent, set for renames only.
	Similarity int       `json:"similarity,omitempty"`
	Stats      LineStats `json:"lineStats"`
	// Hunks is nil until loaded with Codec.Hunks.
	Hunks    []Hunk `json:"hunks,omitempty"`
	Binary   bool   `json:"binary"`
	Language string `json:"language,omitempty"`

	conflict *git.Conflict
}

// ActualFile is the new side when it has a path, else the old one.
func (p *Patch) ActualFile() FileRef {
	if p.NewFile.Path != "" {
		return p.NewFile
	}
	return p.OldFile
}

func (p *Patch) Path() string { return p.ActualFile().Path }

// Conflict returns the index stages of a conflicted patch.
func (p *Patch) Conflict() (git.Conflict, bool) {
	if p.conflict == nil {
		return git.Conflict{}, false
	}
	return *p.conflict, true
}

type LineType uint8

const (
	LineContext LineType = iota
	LineAdd
	LineDel
)

func (t LineType) Origin() byte {
	switch t {
	case LineAdd:
		return '+'
	case LineDel:
		return '-'
	default:
		return ' '
	}
}

// Line is one diff line. OldLineno/NewLineno are -1 when the line does not
// exist on that side. Offset and Length locate the line in the side it was
// read from: the old content for deletions, the new content otherwise.
type Line struct {
	Type      LineType         `json:"type"`
	OldLineno int              `json:"oldLineno"`
	NewLineno int              `json:"newLineno"`
	Content   string           `json:"content"`
	Offset    int              `json:"offset"`
	Length    int              `json:"length"`
	Tokens    []highlight.Span `json:"tokens,omitempty"`
}

type Hunk struct {
	Header string `json:"header"`
	Lines  []Line `json:"lines"`
}

func hunkStats(hunks []Hunk) LineStats {
	var st LineStats
	for _, h := range hunks {
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdd:
				st.Additions++
			case LineDel:
				st.Deletions++
			default:
				st.Context++
			}
		}
	}
	return st
}
