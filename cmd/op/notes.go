package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	operrors "op/internal/errors"
	"op/internal/notes"
	"op/shared/utils"
)

func (a *app) withNotes(cmd *cobra.Command, fn func(m *notes.Manager) error) error {
	ws, err := a.workspace(cmd)
	if err != nil {
		return err
	}
	m, err := notes.Open(ws, a.log(cmd))
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func parseNoteID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil || id <= 0 {
		return 0, operrors.ValidationError(fmt.Sprintf("invalid note id %q", s), nil)
	}
	return id, nil
}

func (a *app) notesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Quick notes kept inside the repo",
	}
	cmd.AddCommand(
		a.notesAddCmd(),
		a.notesListCmd(),
		a.notesSearchCmd(),
		a.notesDeleteCmd(),
		a.notesDoneCmd("done", true),
		a.notesDoneCmd("undone", false),
		a.notesClearCmd(),
		a.notesExportCmd(),
	)
	return cmd
}

func (a *app) notesAddCmd() *cobra.Command {
	var tag, priority string

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := notes.ParsePriority(priority)
			if err != nil {
				return err
			}
			return a.withNotes(cmd, func(m *notes.Manager) error {
				n, err := m.Add(strings.Join(args, " "), tag, p)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s Note #%d added\n", green("✓"), n.ID)
				if n.Tag != "" {
					fmt.Fprintf(out, "  Tag: %s\n", cyan(n.Tag))
				}

				tags, err := m.Tags()
				if err == nil && len(tags) > 0 {
					fmt.Fprintf(out, "\n%s\n", faint("Tags: "+strings.Join(tags, ", ")))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag for the note")
	cmd.Flags().StringVarP(&priority, "priority", "p", string(notes.PriorityNormal), "high, normal or low")
	return cmd
}

func priorityLabel(p notes.Priority) string {
	switch p {
	case notes.PriorityHigh:
		return red("high")
	case notes.PriorityLow:
		return faint("low")
	}
	return string(p)
}

func printNote(cmd *cobra.Command, n notes.Note) {
	out := cmd.OutOrStdout()
	tag := "-"
	if n.Tag != "" {
		tag = cyan(n.Tag)
	}
	content := n.Content
	if n.Done {
		content = faint("✓ " + content)
	}
	fmt.Fprintf(out, "%4s  %s  %-10s  %-6s  %s\n",
		bold(strconv.Itoa(n.ID)), faint(n.Timestamp.Local().Format("2006-01-02 15:04")), tag, priorityLabel(n.Priority), content)
}

func (a *app) notesListCmd() *cobra.Command {
	var f notes.Filter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withNotes(cmd, func(m *notes.Manager) error {
				result, err := m.List(f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if result.Total == 0 {
					fmt.Fprintln(out, yellow("No matching notes"))
					return nil
				}
				for _, n := range result.Notes {
					printNote(cmd, n)
				}
				if len(result.Notes) < result.Total {
					fmt.Fprintf(out, "\n%s\n", faint(fmt.Sprintf("Showing %d of %d notes", len(result.Notes), result.Total)))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&f.Tag, "tag", "t", "", "only notes with this tag")
	cmd.Flags().BoolVarP(&f.ShowDone, "all", "a", false, "include done notes")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", notes.DefaultListLimit, "maximum notes to show (0 for all)")
	return cmd
}

func (a *app) notesSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search note content and tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return a.withNotes(cmd, func(m *notes.Manager) error {
				matches, err := m.Search(query)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(matches) == 0 {
					fmt.Fprintf(out, "%s\n", yellow(fmt.Sprintf("No notes matching '%s'", query)))
					return nil
				}
				fmt.Fprintf(out, "%s\n\n", bold(fmt.Sprintf("Found %s:", plural(len(matches), "matching note"))))
				for _, n := range matches {
					printNote(cmd, n)
				}
				return nil
			})
		},
	}
}

func (a *app) notesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNoteID(args[0])
			if err != nil {
				return err
			}
			return a.withNotes(cmd, func(m *notes.Manager) error {
				n, err := m.Delete(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted note #%d\n  %s\n", green("✓"), n.ID, faint(truncate(n.Content, 50)))
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (a *app) notesDoneCmd(use string, done bool) *cobra.Command {
	short := "Mark a note as done"
	if !done {
		short = "Mark a note as not done"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNoteID(args[0])
			if err != nil {
				return err
			}
			return a.withNotes(cmd, func(m *notes.Manager) error {
				if _, err := m.SetDone(id, done); err != nil {
					return err
				}
				state := "done"
				if !done {
					state = "not done"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Note #%d marked as %s\n", green("✓"), id, state)
				return nil
			})
		},
	}
}

func (a *app) notesClearCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every note",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withNotes(cmd, func(m *notes.Manager) error {
				all, err := m.List(notes.Filter{ShowDone: true})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if all.Total == 0 {
					fmt.Fprintln(out, yellow("No notes to clear"))
					return nil
				}
				if !force && !confirm(cmd, fmt.Sprintf("Delete all %s?", plural(all.Total, "note"))) {
					fmt.Fprintln(out, yellow("Cancelled"))
					return nil
				}
				n, err := m.Clear()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s Cleared %s\n", green("✓"), plural(n, "note"))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "do not ask for confirmation")
	return cmd
}

func (a *app) notesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [path]",
		Short: "Write notes as markdown (default NOTES.md)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd)
			if err != nil {
				return err
			}
			dest := filepath.Join(ws.Root, "NOTES.md")
			if len(args) == 1 {
				dest = args[0]
			}

			return a.withNotes(cmd, func(m *notes.Manager) error {
				var buf bytes.Buffer
				n, err := m.ExportMarkdown(&buf)
				if err != nil {
					return err
				}
				if err := utils.WriteFileAtomic(dest, buf.Bytes(), 0644); err != nil {
					return operrors.FromIO("writing notes", dest, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %s to %s\n", green("✓"), plural(n, "note"), dest)
				return nil
			})
		},
	}
}
