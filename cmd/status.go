package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/githistory/internal/diffcodec"
	"github.com/thiagokokada/githistory/internal/engine"
	"github.com/thiagokokada/githistory/internal/git"
	"github.com/thiagokokada/githistory/internal/workindex"
)

func (a *app) statusCommand() *cobra.Command {
	var hunksFor string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show staged, unstaged and conflicted files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			snap, err := e.RefreshWorkingTree(ctx)
			if err != nil {
				return err
			}
			p := newPrinter(a.out, a.colored())
			printState(p, snap.State)
			if hunksFor != "" {
				return printPathHunks(ctx, e, p, hunksFor)
			}
			section := func(title string, patches []*diffcodec.Patch) {
				if len(patches) == 0 {
					return
				}
				p.printf("%s:\n", title)
				for _, patch := range patches {
					p.printf("  ")
					p.patchLine(patch)
				}
			}
			section("Staged changes", snap.Staged)
			section("Unstaged changes", snap.Unstaged)
			if len(snap.Staged) == 0 && len(snap.Unstaged) == 0 {
				p.printf("nothing to commit, working tree clean\n")
			}
			if n := snap.Conflicted(); n > 0 {
				p.printf("%s\n", p.warn.Sprintf("%d unresolved conflict(s)", n))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hunksFor, "hunks", "", "print the staged and unstaged hunks of this path")
	return cmd
}

func printState(p *printer, state git.RepoState) {
	switch {
	case state.HeadName != "" && state.HeadName != "HEAD":
		p.printf("On branch %s\n", p.label.Sprint(state.HeadName))
	case state.HeadHash != "":
		p.printf("HEAD detached at %s\n", p.hash.Sprint(state.HeadHash[:min(7, len(state.HeadHash))]))
	default:
		p.printf("No commits yet\n")
	}
	for _, op := range []struct {
		on   bool
		name string
	}{
		{state.Merging, "merge"},
		{state.Rebasing, "rebase"},
		{state.Reverting, "revert"},
		{state.Picking, "cherry-pick"},
		{state.Bisecting, "bisect"},
	} {
		if op.on {
			p.printf("%s\n", p.warn.Sprintf("You are in the middle of a %s.", op.name))
		}
	}
}

func printPathHunks(ctx context.Context, e *engine.Engine, p *printer, path string) error {
	printed := false
	for _, source := range []engine.HunkSource{engine.HunksStaged, engine.HunksUnstaged} {
		hunks, found, err := e.LoadHunks(ctx, engine.HunksRequest{Source: source, Path: path})
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		printed = true
		p.printf("%s:\n", source)
		p.hunks(hunks)
	}
	if !printed {
		p.printf("%s has no changes\n", path)
	}
	return nil
}

func (a *app) stageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stage PATH...",
		Short: "Stage files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			for _, path := range args {
				if err := e.StageFile(cmd.Context(), path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) unstageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unstage PATH...",
		Short: "Reset staged files to HEAD",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			for _, path := range args {
				if err := e.UnstageFile(cmd.Context(), path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) stageAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stage-all",
		Short: "Stage every change except conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			n, err := e.StageAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "staged %d file(s)\n", n)
			return nil
		},
	}
}

func (a *app) unstageAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unstage-all",
		Short: "Reset the whole index to HEAD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			n, err := e.UnstageAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "unstaged %d file(s)\n", n)
			return nil
		},
	}
}

// ask prints question and reads one answer line. Without an interactive
// stdin it answers "".
func (a *app) ask(question string) (string, error) {
	if !isTerminal(a.in) {
		return "", nil
	}
	fmt.Fprint(a.out, question)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}

func (a *app) discardCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "discard PATH",
		Short: "Throw away the working changes of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			confirm := workindex.Confirmer(workindex.AlwaysConfirm)
			if !yes {
				confirm = workindex.ConfirmFunc(func(_ context.Context, path string) (bool, error) {
					answer, err := a.ask(fmt.Sprintf("Delete untracked file %s? [y/N] ", path))
					return answer == "y" || answer == "yes", err
				})
			}
			done, err := e.DiscardFile(cmd.Context(), args[0], confirm)
			if err != nil {
				return err
			}
			if !done {
				fmt.Fprintf(a.out, "kept %s\n", args[0])
				return nil
			}
			fmt.Fprintf(a.out, "discarded %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete untracked files without asking")
	return cmd
}

func (a *app) resolveCommand() *cobra.Command {
	var keep, remove, force bool
	cmd := &cobra.Command{
		Use:   "resolve PATH",
		Short: "Mark a conflicted file as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep && remove {
				return fmt.Errorf("--keep and --delete are exclusive")
			}
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			resolver := workindex.ResolveFunc(func(_ context.Context, conflict git.Conflict) (workindex.Resolution, error) {
				switch {
				case keep:
					return workindex.ResolutionKeep, nil
				case remove:
					return workindex.ResolutionDelete, nil
				}
				side := "their"
				if !conflict.HasOurs() {
					side = "our"
				}
				answer, err := a.ask(fmt.Sprintf("%s was deleted on %s side. [k]eep, [d]elete or [c]ancel? ", conflict.Path, side))
				switch answer {
				case "k", "keep":
					return workindex.ResolutionKeep, err
				case "d", "delete":
					return workindex.ResolutionDelete, err
				default:
					return workindex.ResolutionCancel, err
				}
			})
			resolved, err := e.ResolveConflict(cmd.Context(), args[0], resolver, workindex.ResolveOptions{Force: force})
			if err != nil {
				return err
			}
			if !resolved {
				fmt.Fprintf(a.out, "%s is still conflicted\n", args[0])
				return nil
			}
			fmt.Fprintf(a.out, "resolved %s\n", args[0])
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&keep, "keep", false, "keep a file deleted on one side")
	flags.BoolVar(&remove, "delete", false, "delete a file deleted on one side")
	flags.BoolVar(&force, "force", false, "stage even with conflict markers left in the file")
	return cmd
}
