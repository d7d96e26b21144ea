package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Credentials supplies authentication for a remote. Implementations live
// outside the engine; a nil Credentials means anonymous access.
type Credentials interface {
	Auth(remote, url string) (transport.AuthMethod, error)
}

// CredentialsFunc adapts a function to Credentials.
type CredentialsFunc func(remote, url string) (transport.AuthMethod, error)

func (f CredentialsFunc) Auth(remote, url string) (transport.AuthMethod, error) {
	return f(remote, url)
}

// TransferOptions configures Fetch and Push.
type TransferOptions struct {
	Remote      string
	Credentials Credentials
	// Progress receives the sideband progress text from the remote.
	Progress io.Writer
}

// Upstream returns the remote configured for the current branch, falling
// back to the only remote or "origin".
func (r *Repository) Upstream() (*gitlib.Remote, error) {
	cfg, err := r.Config()
	if err != nil {
		return nil, newError(KindIOFailure, "read config", "", err)
	}
	name := ""
	if _, head, ok, err := r.HeadState(); err == nil && ok {
		if b, found := cfg.Branches[head]; found && b.Remote != "" {
			name = b.Remote
		}
	}
	if name == "" {
		switch {
		case len(cfg.Remotes) == 1:
			for n := range cfg.Remotes {
				name = n
			}
		case cfg.Remotes[gitlib.DefaultRemoteName] != nil:
			name = gitlib.DefaultRemoteName
		}
	}
	if name == "" {
		return nil, newError(KindNoUpstream, "find upstream", "", fmt.Errorf("no remote configured"))
	}
	return r.remote(name)
}

func (r *Repository) remote(name string) (*gitlib.Remote, error) {
	rem, err := r.Remote(name)
	if err != nil {
		if errors.Is(err, gitlib.ErrRemoteNotFound) {
			return nil, newError(KindNoUpstream, "find remote", name, err)
		}
		return nil, newError(KindIOFailure, "find remote", name, err)
	}
	return rem, nil
}

func (r *Repository) transferRemote(opts TransferOptions) (*gitlib.Remote, transport.AuthMethod, error) {
	var (
		rem *gitlib.Remote
		err error
	)
	if opts.Remote != "" {
		rem, err = r.remote(opts.Remote)
	} else {
		rem, err = r.Upstream()
	}
	if err != nil {
		return nil, nil, err
	}
	if opts.Credentials == nil {
		return rem, nil, nil
	}
	url := ""
	if urls := rem.Config().URLs; len(urls) > 0 {
		url = urls[0]
	}
	auth, err := opts.Credentials.Auth(rem.Config().Name, url)
	if err != nil {
		return nil, nil, newError(KindIOFailure, "credentials", rem.Config().Name, err)
	}
	return rem, auth, nil
}

// Fetch downloads objects and refs from the upstream remote. An up-to-date
// remote is not an error.
func (r *Repository) Fetch(ctx context.Context, opts TransferOptions) error {
	rem, auth, err := r.transferRemote(opts)
	if err != nil {
		return err
	}
	name := rem.Config().Name
	slog.Debug("fetch", slog.String("remote", name))
	err = rem.FetchContext(ctx, &gitlib.FetchOptions{
		RemoteName: name,
		Auth:       auth,
		Progress:   opts.Progress,
		Tags:       gitlib.AllTags,
	})
	return transferError(ctx, "fetch", name, err)
}

// Push sends the current branch to the upstream remote.
func (r *Repository) Push(ctx context.Context, opts TransferOptions) error {
	rem, auth, err := r.transferRemote(opts)
	if err != nil {
		return err
	}
	name := rem.Config().Name
	po := &gitlib.PushOptions{
		RemoteName: name,
		Auth:       auth,
		Progress:   opts.Progress,
	}
	if _, head, ok, herr := r.HeadState(); herr == nil && ok && head != "HEAD" {
		spec := config.RefSpec(fmt.Sprintf("refs/heads/%[1]s:refs/heads/%[1]s", head))
		po.RefSpecs = []config.RefSpec{spec}
	}
	slog.Debug("push", slog.String("remote", name))
	return transferError(ctx, "push", name, rem.PushContext(ctx, po))
}

func transferError(ctx context.Context, op, remote string, err error) error {
	switch {
	case err == nil, errors.Is(err, gitlib.NoErrAlreadyUpToDate):
		return nil
	case ctx.Err() != nil:
		return newError(KindCanceled, op, remote, ctx.Err())
	case errors.Is(err, gitlib.ErrNonFastForwardUpdate),
		strings.Contains(err.Error(), "rejected"):
		return newError(KindPushRejected, op, remote, err)
	default:
		return newError(KindIOFailure, op, remote, err)
	}
}
