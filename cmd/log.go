package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/githistory/internal/config"
	"github.com/thiagokokada/githistory/internal/diffcodec"
	"github.com/thiagokokada/githistory/internal/engine"
	"github.com/thiagokokada/githistory/internal/git"
	"github.com/thiagokokada/githistory/internal/graph"
	"github.com/thiagokokada/githistory/internal/revwalk"
)

func parseCursor(token string) (*revwalk.Cursor, error) {
	if token == "" {
		return nil, nil
	}
	return revwalk.ParseCursor(token)
}

func (a *app) logCommand() *cobra.Command {
	var (
		all        bool
		sha        bool
		cursor     string
		fromCursor bool
		num        int
		file       string
		drawGraph  bool
	)
	cmd := &cobra.Command{
		Use:   "log [REF]",
		Short: "List commits of a ref, a commit or every ref",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := revwalk.Ref("HEAD")
			switch {
			case all:
				if len(args) > 0 {
					return fmt.Errorf("--all does not take a ref")
				}
				start = revwalk.History()
			case sha:
				if len(args) == 0 {
					return fmt.Errorf("--sha needs a commit id")
				}
				start = revwalk.Commit(args[0])
			case len(args) > 0:
				start = revwalk.Ref(args[0])
			}
			c, err := parseCursor(cursor)
			if err != nil {
				return err
			}
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			result, err := e.LoadCommits(ctx, engine.CommitsRequest{
				Start:         start,
				Cursor:        c,
				StartAtCursor: fromCursor,
				Num:           num,
				File:          file,
			})
			if err != nil {
				return err
			}
			labels, err := e.BranchLabels()
			if err != nil {
				return err
			}
			p := newPrinter(a.out, a.colored())
			var rows graph.Rows
			for i, commit := range result.Commits {
				prefix := ""
				if drawGraph {
					prefix = rows.Line(commit)
				}
				p.commitLine(prefix, result.Lanes[i], commit, labels[commit.Hash.String()])
			}
			if result.Cursor != nil {
				p.cursor(result.Cursor.Encode())
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&all, "all", false, "walk HEAD and every branch, remote branch and tag")
	flags.BoolVar(&sha, "sha", false, "treat REF as a commit id")
	flags.StringVar(&cursor, "cursor", "", "continue after the cursor printed by a previous page")
	flags.BoolVar(&fromCursor, "from-cursor", false, "include the cursor commit itself")
	flags.IntVarP(&num, "num", "n", 0, "number of commits (default --page-size)")
	flags.StringVar(&file, "file", "", "only commits that change this path")
	flags.BoolVar(&drawGraph, "graph", false, "draw commit lanes")
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	var (
		cursor string
		num    int
		rev    string
	)
	cmd := &cobra.Command{
		Use:   "history FILE",
		Short: "List the commits that changed a file, following renames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCursor(cursor)
			if err != nil {
				return err
			}
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			page, err := e.LoadFileHistory(cmd.Context(), engine.FileHistoryRequest{
				Path:   args[0],
				Start:  revwalk.Ref(rev),
				Cursor: c,
				Num:    num,
			})
			if err != nil {
				return err
			}
			p := newPrinter(a.out, a.colored())
			for _, entry := range page.Entries {
				name := entry.Path
				if entry.OldName != entry.NewName {
					name = fmt.Sprintf("%s -> %s", entry.OldName, entry.NewName)
				}
				p.printf("%s %s %s %s\n",
					p.hash.Sprint(entry.Commit.ShortHash()),
					entry.Status.Letter(),
					name,
					entry.Commit.Message.Summary,
				)
			}
			if page.Cursor != nil {
				p.cursor(page.Cursor.Encode())
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cursor, "cursor", "", "continue after the cursor printed by a previous page")
	flags.IntVarP(&num, "num", "n", 0, "number of entries (default --page-size)")
	flags.StringVar(&rev, "rev", "HEAD", "ref or commit to start from")
	return cmd
}

func ignoreWhitespace(on bool) func(*config.Settings) {
	return func(s *config.Settings) {
		if on {
			s.IgnoreWhitespace = true
		}
	}
}

func (a *app) showCommand() *cobra.Command {
	var withHunks, ignoreSpace bool
	cmd := &cobra.Command{
		Use:   "show [REV]",
		Short: "Show a commit and the files it changed against its first parent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := "HEAD"
			if len(args) > 0 {
				rev = args[0]
			}
			e, err := a.engine(cmd, ignoreWhitespace(ignoreSpace))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			h, err := e.Repository().ResolveRevision(rev)
			if err != nil {
				return err
			}
			page, err := e.LoadCommits(ctx, engine.CommitsRequest{Start: revwalk.Commit(h.String()), Num: 1})
			if err != nil {
				return err
			}
			labels, err := e.BranchLabels()
			if err != nil {
				return err
			}
			p := newPrinter(a.out, a.colored())
			p.commitHeader(page.Commits[0], labels[h.String()])

			patches, err := e.LoadCommitDiff(ctx, h.String())
			if git.IsKind(err, git.KindEmptyPatch) {
				p.printf("%s\n", p.dim.Sprint("no changes"))
				return nil
			}
			if err != nil {
				return err
			}
			for _, patch := range patches {
				var hunks []diffcodec.Hunk
				if withHunks {
					hunks, _, err = e.LoadHunks(ctx, engine.HunksRequest{Source: engine.HunksCommit, Rev: h.String(), Path: patch.Path()})
					if err != nil {
						return err
					}
				}
				p.patchLine(patch)
				p.hunks(hunks)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withHunks, "hunks", false, "print the hunks of every file")
	cmd.Flags().BoolVarP(&ignoreSpace, "ignore-whitespace", "w", false, "ignore whitespace when comparing lines")
	return cmd
}

func (a *app) compareCommand() *cobra.Command {
	var withHunks, ignoreSpace bool
	cmd := &cobra.Command{
		Use:   "compare FROM TO",
		Short: "Compare the trees of two revisions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd, ignoreWhitespace(ignoreSpace))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			patches, err := e.CompareRevisions(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			p := newPrinter(a.out, a.colored())
			for _, patch := range patches {
				var hunks []diffcodec.Hunk
				if withHunks {
					h, _, err := e.LoadHunks(ctx, engine.HunksRequest{Source: engine.HunksCompare, Path: patch.Path()})
					if err != nil {
						return err
					}
					hunks = h
				}
				p.patchLine(patch)
				p.hunks(hunks)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withHunks, "hunks", false, "print the hunks of every file")
	cmd.Flags().BoolVarP(&ignoreSpace, "ignore-whitespace", "w", false, "ignore whitespace when comparing lines")
	return cmd
}
