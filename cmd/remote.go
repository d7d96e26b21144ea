package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/githistory/internal/buildinfo"
	"github.com/thiagokokada/githistory/internal/engine"
	"github.com/thiagokokada/githistory/internal/git"
)

const (
	envUsername = "GITHISTORY_USERNAME"
	envPassword = "GITHISTORY_PASSWORD"
)

// credentials uses basic auth from the environment for HTTP remotes. Other
// transports keep the go-git defaults (ssh agent, local files).
func (a *app) credentials() git.Credentials {
	return git.CredentialsFunc(func(_, url string) (transport.AuthMethod, error) {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, nil
		}
		password, ok := a.lookup(envPassword)
		if !ok {
			return nil, nil
		}
		username, _ := a.lookup(envUsername)
		if username == "" {
			// token auth accepts any non-empty user name
			username = "githistory"
		}
		return &http.BasicAuth{Username: username, Password: password}, nil
	})
}

func (a *app) transferCommand(use, short string, start func(*engine.Engine, context.Context, string, git.Credentials) *engine.Transfer) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [REMOTE]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := ""
			if len(args) > 0 {
				remote = args[0]
			}
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			t := start(e, ctx, remote, a.credentials())
			for ev := range t.Events() {
				fmt.Fprintf(a.errOut, "%s: %s\n", ev.Op, ev.Message)
			}
			if err := t.Wait(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s done\n", use)
			return nil
		},
	}
}

func (a *app) fetchCommand() *cobra.Command {
	return a.transferCommand("fetch", "Fetch from the upstream or the given remote", (*engine.Engine).Fetch)
}

func (a *app) pushCommand() *cobra.Command {
	return a.transferCommand("push", "Push the current branch", (*engine.Engine).Push)
}

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report repository changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			changes, err := e.Watch(ctx)
			if err != nil {
				return err
			}
			p := newPrinter(a.out, a.colored())
			p.printf("watching %s\n", e.Repository().RepoPath())
			for range changes {
				snap, err := e.RefreshWorkingTree(ctx)
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					return err
				}
				p.printf("%s %d staged, %d unstaged\n",
					p.dim.Sprint(time.Now().Format(time.TimeOnly)),
					len(snap.Staged),
					len(snap.Unstaged),
				)
			}
			return nil
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(a.out, buildinfo.VersionWithTags())
			return nil
		},
	}
}
