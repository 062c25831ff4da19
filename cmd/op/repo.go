package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"op/internal/repo"
)

func (a *app) initCmd() *cobra.Command {
	var template string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an op repo in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd)
			if err != nil {
				return err
			}
			report, err := repo.Init(ws.Root, a.cfg, template, a.log(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range report.Entries {
				rel, err := filepath.Rel(ws.Root, e.Path)
				if err != nil {
					rel = e.Path
				}
				switch e.Outcome {
				case repo.Created:
					fmt.Fprintf(out, "%s created %s\n", green("✓"), rel)
				case repo.Skipped:
					fmt.Fprintf(out, "%s %s %s, skipping\n", yellow("!"), rel, e.Reason)
				case repo.Failed:
					fmt.Fprintf(out, "%s %s: %s\n", red("✗"), rel, e.Reason)
				}
			}

			if template != "" {
				fmt.Fprintf(out, "\n%s\n", bold(green(fmt.Sprintf("✓ Op repo initialized with template '%s'", template))))
			} else {
				fmt.Fprintf(out, "\n%s\n", bold(green("✓ Op repo initialized")))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "custom", "c", "", "template to initialize from")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show repo status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd)
			if err != nil {
				return err
			}
			st, err := repo.GetStatus(ws)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", bold("Op Repo: "+st.Name))
			fmt.Fprintf(out, "  %-14s %s\n", cyan("Location"), st.Root)
			fmt.Fprintf(out, "  %-14s %d\n", cyan("Tracked files"), st.Tracked)
			fmt.Fprintf(out, "  %-14s %d\n", cyan("Commits"), st.Commits)
			head := st.Head
			if head == "" {
				head = "-"
			}
			fmt.Fprintf(out, "  %-14s %s\n", cyan("HEAD"), head)
			fmt.Fprintf(out, "  %-14s %d\n", cyan("Backups"), len(st.Backups))

			if len(st.Backups) > 0 {
				fmt.Fprintf(out, "\n%s\n", bold("Backups:"))
				for _, b := range st.Backups {
					fmt.Fprintf(out, "  • %s (%s)\n", b.Name, b.HumanSize())
				}
			}
			return nil
		},
	}
}

func (a *app) backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Zip the tracked files into .op/",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd)
			if err != nil {
				return err
			}
			result, err := repo.Backup(ws, a.archiveOptions(), time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold(green("✓ Backup saved:")), result.Path)
			fmt.Fprintf(out, "  Files: %d | Size: %s\n", result.Files, result.HumanSize())
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [path]",
		Short: "Zip the tracked files to a path (default ./<dir>.zip)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd)
			if err != nil {
				return err
			}
			dest := filepath.Join(ws.Root, filepath.Base(ws.Root)+".zip")
			if len(args) == 1 {
				dest = args[0]
			}

			result, err := repo.Export(ws, dest, a.archiveOptions())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s exported %s to %s (%s)\n",
				green("✓"), plural(result.Files, "file"), result.Path, result.HumanSize())
			return nil
		},
	}
}

func (a *app) removeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete every non-ignored file in the repo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd)
			if err != nil {
				return err
			}
			if err := ws.RequireRepo(); err != nil {
				return err
			}
			if !force && !confirm(cmd, fmt.Sprintf("Delete all non-ignored files in %s?", ws.Root)) {
				fmt.Fprintln(cmd.OutOrStdout(), yellow("Cancelled"))
				return nil
			}

			result, err := repo.Remove(ws)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range result.Denied {
				fmt.Fprintf(out, "%s permission denied: %s\n", yellow("!"), p)
			}
			fmt.Fprintf(out, "%s\n", bold(green(fmt.Sprintf("✓ Removed %s", plural(len(result.Removed), "item")))))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "do not ask for confirmation")
	return cmd
}
