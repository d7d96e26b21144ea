package git

import (
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"time"`
}

type Message struct {
	Summary string `json:"summary"`
	Body    string `json:"body"`
}

// Commit is the summary of one commit as handed to callers. ParentHashes
// keeps the object's order, so the first parent is the mainline.
type Commit struct {
	Hash         plumbing.Hash
	ParentHashes []plumbing.Hash
	Author       Signature `json:"author"`
	Committer    Signature `json:"committer"`
	Message      Message   `json:"message"`
}

func (c Commit) ShortHash() string {
	return c.Hash.String()[:7]
}

func (c Commit) IsMerge() bool { return len(c.ParentHashes) > 1 }

func (c Commit) IsRoot() bool { return len(c.ParentHashes) == 0 }

// NewCommit converts a go-git commit object.
func NewCommit(c *object.Commit) Commit {
	committer := c.Committer
	if committer.Name == "" && committer.Email == "" && committer.When.IsZero() {
		committer = c.Author
	}
	return Commit{
		Hash:         c.Hash,
		ParentHashes: slices.Clone(c.ParentHashes),
		Author:       newSignature(c.Author),
		Committer:    newSignature(committer),
		Message:      SplitMessage(c.Message),
	}
}

func newSignature(s object.Signature) Signature {
	return Signature{Name: s.Name, Email: s.Email, When: s.When}
}

// SplitMessage separates the summary line from the body.
func SplitMessage(raw string) Message {
	raw = strings.TrimRight(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	summary, body, _ := strings.Cut(raw, "\n")
	return Message{
		Summary: strings.TrimSpace(summary),
		Body:    strings.Trim(body, "\n"),
	}
}

type RefKind uint8

const (
	RefKindBranch RefKind = iota
	RefKindRemoteBranch
	RefKindTag
)

type Ref struct {
	Hash string
	Kind RefKind
	Name string // short name: main, origin/main, v1
}

// RepoState carries the in-progress operation flags of a repository.
type RepoState struct {
	Merging   bool   `json:"merging"`
	Rebasing  bool   `json:"rebasing"`
	Reverting bool   `json:"reverting"`
	Bisecting bool   `json:"bisecting"`
	Picking   bool   `json:"cherryPicking"`
	HeadName  string `json:"head,omitempty"`
	HeadHash  string `json:"headSha,omitempty"`
}
