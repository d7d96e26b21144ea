// Package cmd is the githistory command line front end.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/thiagokokada/githistory/internal/config"
	"github.com/thiagokokada/githistory/internal/engine"
	"github.com/thiagokokada/githistory/internal/logging"
	"github.com/thiagokokada/githistory/internal/revwalk"
)

type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	lookup func(string) (string, bool)

	repoPath      string
	verbose       bool
	chronological bool
	pageSize      int
	noColor       bool

	closeLog func() error
}

func Run() error {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr, os.LookupEnv).Execute()
}

func newRootCommand(in io.Reader, out, errOut io.Writer, lookup func(string) (string, bool)) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut, lookup: lookup}
	root := &cobra.Command{
		Use:           "githistory",
		Short:         "Browse git history, diffs and the working tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			closer, err := logging.Setup(logging.Options{Verbose: a.verbose, Output: a.errOut, Lookup: a.lookup})
			if err != nil {
				return err
			}
			a.closeLog = closer
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closeLog == nil {
				return nil
			}
			return a.closeLog()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.repoPath, "repo", "C", ".", "repository to open")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logging")
	flags.BoolVar(&a.chronological, "chronological", false, "order commits by committer date only")
	flags.IntVar(&a.pageSize, "page-size", revwalk.DefaultPageSize, "number of commits per page")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		a.logCommand(),
		a.historyCommand(),
		a.showCommand(),
		a.compareCommand(),
		a.statusCommand(),
		a.stageCommand(),
		a.unstageCommand(),
		a.stageAllCommand(),
		a.unstageAllCommand(),
		a.discardCommand(),
		a.resolveCommand(),
		a.fetchCommand(),
		a.pushCommand(),
		a.watchCommand(),
		a.versionCommand(),
	)
	return root
}

// settings layers GITHISTORY_* variables and explicit flags over the
// defaults.
func (a *app) settings(cmd *cobra.Command) (config.Settings, error) {
	s, err := config.FromEnv(config.Default(), a.lookup)
	if err != nil {
		return config.Settings{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("chronological") && a.chronological {
		s.Order = revwalk.OrderChronological
	}
	if flags.Changed("page-size") {
		s.PageSize = a.pageSize
	}
	return s, nil
}

func (a *app) engine(cmd *cobra.Command, tweak ...func(*config.Settings)) (*engine.Engine, error) {
	s, err := a.settings(cmd)
	if err != nil {
		return nil, err
	}
	for _, fn := range tweak {
		fn(&s)
	}
	e, err := engine.Open(a.repoPath, s)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.repoPath, err)
	}
	return e, nil
}

func (a *app) colored() bool {
	if a.noColor {
		return false
	}
	if _, ok := a.lookup("NO_COLOR"); ok {
		return false
	}
	return isTerminal(a.out)
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
