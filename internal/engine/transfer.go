package engine

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/thiagokokada/githistory/internal/git"
	"github.com/thiagokokada/githistory/internal/logging"
)

const progressBuffer = 64

// Progress is one line of remote progress text.
type Progress struct {
	Op      string
	Message string
}

// Transfer is a fetch or push running in the background.
type Transfer struct {
	events chan Progress
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Events streams progress lines and is closed when the transfer ends. Lines
// are dropped while the buffer is full.
func (t *Transfer) Events() <-chan Progress { return t.events }

// Wait blocks until the transfer ends and returns its error.
func (t *Transfer) Wait() error {
	<-t.done
	return t.err
}

func (t *Transfer) Cancel() { t.cancel() }

// progressWriter turns sideband output into Progress events. Remotes redraw
// counters with carriage returns, so both \r and \n end a line.
type progressWriter struct {
	op     string
	events chan<- Progress

	mu      sync.Mutex
	pending []byte
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexAny(w.pending, "\r\n")
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.pending)
	w.pending = nil
}

func (w *progressWriter) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	select {
	case w.events <- Progress{Op: w.op, Message: string(line)}:
	default:
		slog.Debug("progress dropped", slog.String("op", w.op))
	}
}

// Fetch starts fetching from remote, or the upstream when remote is empty.
func (e *Engine) Fetch(ctx context.Context, remote string, creds git.Credentials) *Transfer {
	return e.transfer(ctx, "fetch", remote, creds, e.repo.Fetch)
}

// Push starts pushing the current branch.
func (e *Engine) Push(ctx context.Context, remote string, creds git.Credentials) *Transfer {
	return e.transfer(ctx, "push", remote, creds, e.repo.Push)
}

func (e *Engine) transfer(
	ctx context.Context,
	op, remote string,
	creds git.Credentials,
	run func(context.Context, git.TransferOptions) error,
) *Transfer {
	ctx, cancel := context.WithCancel(ctx)
	t := &Transfer{
		events: make(chan Progress, progressBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	progress := &progressWriter{op: op, events: t.events}
	go func() {
		defer close(t.done)
		defer close(t.events)
		defer cancel()

		done := logging.Op(op, slog.String("remote", remote))
		e.mu.Lock()
		err := run(ctx, git.TransferOptions{Remote: remote, Credentials: creds, Progress: progress})
		if err == nil {
			// refs moved; a walk continuing the old session would miss them
			e.walker.Reset()
		}
		e.mu.Unlock()
		progress.flush()
		t.err = err
		done(err)
	}()
	return t
}
