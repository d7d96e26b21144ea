package revwalk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/thiagokokada/githistory/internal/git"
)

// Mode tells what a walk starts from.
type Mode uint8

const (
	// ModeRef starts from a branch, tag or other ref name.
	ModeRef Mode = iota
	// ModeSHA starts from a raw commit id.
	ModeSHA
	// ModeHistory starts from HEAD and every branch, remote branch and tag.
	ModeHistory
	// ModeFile is a rename-following history of one path.
	ModeFile
)

func (m Mode) String() string {
	switch m {
	case ModeRef:
		return "ref"
	case ModeSHA:
		return "sha"
	case ModeHistory:
		return "history"
	case ModeFile:
		return "file"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Start selects the commits a walk begins with.
type Start struct {
	Mode Mode
	// Rev is the ref name or commit id; empty in history mode.
	Rev string
}

func Ref(name string) Start   { return Start{Mode: ModeRef, Rev: name} }
func Commit(sha string) Start { return Start{Mode: ModeSHA, Rev: sha} }
func History() Start          { return Start{Mode: ModeHistory} }

func (s Start) String() string {
	if s.Mode == ModeHistory {
		return s.Mode.String()
	}
	return fmt.Sprintf("%s:%s", s.Mode, s.Rev)
}

// Cursor resumes a walk after the last commit it yielded. Cursors are only
// produced by the walker and only accepted by walks with the same mode,
// start and path.
type Cursor struct {
	Mode     Mode   `json:"m"`
	Start    string `json:"s,omitempty"`
	LastHash string `json:"h"`
	// File is the path filter of a commit walk, or the current name of the
	// followed file in ModeFile.
	File string `json:"f,omitempty"`
	// Follow is the rename-following state of a ModeFile walk.
	Follow bool `json:"r,omitempty"`
}

// Encode renders the cursor as an opaque token for command line use.
func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// ParseCursor decodes a token produced by Encode.
func ParseCursor(token string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, git.NewError(git.KindRevisionNotFound, "parse cursor", token, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, git.NewError(git.KindRevisionNotFound, "parse cursor", token, err)
	}
	if c.LastHash == "" {
		return nil, git.NewError(git.KindRevisionNotFound, "parse cursor", token, fmt.Errorf("cursor has no commit"))
	}
	return &c, nil
}

// check rejects a cursor produced by a different kind of walk.
func (c *Cursor) check(mode Mode, start, file string) error {
	if c.Mode != mode || c.Start != start {
		return git.NewError(git.KindRevisionNotFound, "resume walk", c.LastHash,
			fmt.Errorf("cursor for %s %q used with %s %q", c.Mode, c.Start, mode, start))
	}
	if mode != ModeFile && c.File != file {
		return git.NewError(git.KindRevisionNotFound, "resume walk", c.LastHash,
			fmt.Errorf("cursor filtered on %q used with filter %q", c.File, file))
	}
	return nil
}
