package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"op/internal/commit"
)

func (a *app) commitCmd() *cobra.Command {
	var message, author string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Snapshot every tracked file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.commitManager(cmd)
			if err != nil {
				return err
			}
			c, err := m.Commit(cmd.Context(), message, author)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s [%s] %s\n", green("✓"), cyan(c.ID), c.Message)
			fmt.Fprintf(out, "  %s committed\n", plural(c.FileCount, "file"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "commit author (default from config)")
	cmd.MarkFlagRequired("message")
	return cmd
}

func (a *app) logCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show commit history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.commitManager(cmd)
			if err != nil {
				return err
			}
			result, err := m.Log(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Total == 0 {
				fmt.Fprintln(out, yellow("No commits yet"))
				return nil
			}

			for _, e := range result.Entries {
				head := ""
				if e.IsHead {
					head = " " + green("(HEAD)")
				}
				fmt.Fprintf(out, "%s%s %s  %s\n", cyan(e.ID), head,
					faint(e.Timestamp.Local().Format(timeLayout)), e.Author)
				fmt.Fprintf(out, "    %s  %s\n", e.Message, faint("("+plural(e.FileCount, "file")+")"))
			}
			if len(result.Entries) < result.Total {
				fmt.Fprintf(out, "\n%s\n", faint(fmt.Sprintf("Showing %d of %d commits", len(result.Entries), result.Total)))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of commits to show (0 for all)")
	return cmd
}

func (a *app) diffCmd() *cobra.Command {
	var patch bool

	cmd := &cobra.Command{
		Use:   "diff [commit]",
		Short: "Compare the working tree with a commit (HEAD by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			m, err := a.commitManager(cmd)
			if err != nil {
				return err
			}
			result, err := m.Diff(prefix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.NoHead() {
				fmt.Fprintln(out, yellow("No commits yet, nothing to compare"))
				return nil
			}
			if result.Empty() {
				fmt.Fprintf(out, "No changes since %s\n", cyan(result.Target.ID))
				return nil
			}

			fmt.Fprintf(out, "Changes since %s (%s):\n", cyan(result.Target.ID), plural(result.Count(), "file"))
			printChanges(out, result.Changes)
			if !patch {
				return nil
			}

			paths := append(append(append([]string{}, result.Modified...), result.Added...), result.Deleted...)
			for _, p := range paths {
				fd, err := m.FilePatch(result.Target.ID, p)
				if err != nil {
					return fmt.Errorf("diffing %s: %w", p, err)
				}
				fmt.Fprintf(out, "\n%s\n", bold(fmt.Sprintf("diff --op a/%s b/%s", p, p)))
				printColoredDiff(out, fd.Format())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&patch, "patch", "p", false, "show line diffs")
	return cmd
}

const showFileLimit = 20

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <commit>",
		Short: "Show one commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.commitManager(cmd)
			if err != nil {
				return err
			}
			d, err := m.Show(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			head := ""
			if d.IsHead {
				head = " " + green("(HEAD)")
			}
			fmt.Fprintf(out, "commit %s%s\n", cyan(d.ID), head)
			fmt.Fprintf(out, "Author:  %s\n", d.Author)
			fmt.Fprintf(out, "Date:    %s\n", d.Timestamp.Local().Format(timeLayout))
			if d.Parent != "" {
				fmt.Fprintf(out, "Parent:  %s\n", d.Parent)
			}
			fmt.Fprintf(out, "\n    %s\n\n", d.Message)
			fmt.Fprintf(out, "%s:\n", plural(d.FileCount, "file"))
			for i, f := range d.Files {
				if i == showFileLimit {
					fmt.Fprintf(out, "\t%s\n", faint(fmt.Sprintf("... and %d more", len(d.Files)-showFileLimit)))
					break
				}
				fmt.Fprintf(out, "\t%s\n", f)
			}
			return nil
		},
	}
}

func (a *app) checkoutCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "checkout <commit>",
		Aliases: []string{"restore"},
		Short:   "Restore the working tree to a commit",
		Long: `Overwrites tracked files with their contents at the given commit and
moves HEAD to it. Files created since are left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.commitManager(cmd)
			if err != nil {
				return err
			}

			ask := func(c *commit.Commit) bool {
				if force {
					return true
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s this overwrites %s with commit %s (%s)\n",
					yellow("!"), plural(c.FileCount, "file"), cyan(c.ID), c.Message)
				return confirm(cmd, "Continue?")
			}

			result, err := m.Restore(cmd.Context(), args[0], ask)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !result.Applied {
				fmt.Fprintln(out, yellow("Cancelled"))
				return nil
			}
			fmt.Fprintf(out, "%s restored %s from %s\n", green("✓"), plural(len(result.Restored), "file"), cyan(result.Commit.ID))
			if len(result.Skipped) > 0 {
				fmt.Fprintf(out, "  skipped (ignored now): %s\n", strings.Join(result.Skipped, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "do not ask for confirmation")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <commit>",
		Short: "Check a commit's archive against its recorded digests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.commitManager(cmd)
			if err != nil {
				return err
			}
			result, err := m.Verify(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.OK() {
				fmt.Fprintf(out, "%s commit %s is intact (%s)\n", green("✓"), cyan(result.Commit.ID), plural(result.Commit.FileCount, "file"))
				return nil
			}
			for _, p := range result.Missing {
				fmt.Fprintf(out, "\t%s %s\n", red("missing"), p)
			}
			for _, p := range result.Corrupt {
				fmt.Fprintf(out, "\t%s %s\n", red("corrupt"), p)
			}
			for _, p := range result.Extra {
				fmt.Fprintf(out, "\t%s %s\n", yellow("extra"), p)
			}
			return fmt.Errorf("commit %s failed verification", result.Commit.ID)
		},
	}
}
