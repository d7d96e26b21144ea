package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures surfaced by the history engine.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotARepository
	KindRevisionNotFound
	KindEmptyPatch
	KindIndexConflictUnresolved
	KindNoUpstream
	KindPushRejected
	KindIOFailure
	KindSizeLimitExceeded
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNotARepository:
		return "NotARepository"
	case KindRevisionNotFound:
		return "RevisionNotFound"
	case KindEmptyPatch:
		return "EmptyPatch"
	case KindIndexConflictUnresolved:
		return "IndexConflictUnresolved"
	case KindNoUpstream:
		return "NoUpstream"
	case KindPushRejected:
		return "PushRejected"
	case KindIOFailure:
		return "IoFailure"
	case KindSizeLimitExceeded:
		return "SizeLimitExceeded"
	case KindCanceled:
		return "Canceled"
	default:
		return "Internal"
	}
}

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind Kind
	Op   string
	// Path is the revision, ref or file the operation was about, when known.
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so callers can write
// errors.Is(err, &git.Error{Kind: git.KindRevisionNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && (t.Path == "" || t.Path == e.Path)
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// NewError builds an *Error for callers outside this package.
func NewError(kind Kind, op, path string, err error) error {
	return newError(kind, op, path, err)
}

// KindOf reports the Kind carried by err. Context cancellation maps to
// KindCanceled; anything untyped is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Failure is the structured result handed to user interfaces.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Describe converts err into a Failure. It returns nil for a nil error.
func Describe(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Kind: KindOf(err).String(), Message: err.Error()}
}
