package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"op/internal/config"
	operrors "op/internal/errors"
)

func (a *app) templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"templates"},
		Short:   "Manage init templates in the config file",
	}
	cmd.AddCommand(
		a.templateListCmd(),
		a.templateShowCmd(),
		a.templateCreateCmd(),
		a.templateDeleteCmd(),
	)
	return cmd
}

func printTemplate(w io.Writer, t config.Template) {
	section := func(name string, items []string) {
		if len(items) == 0 {
			fmt.Fprintf(w, "  %s: %s\n", cyan(name), faint("none"))
			return
		}
		fmt.Fprintf(w, "  %s:\n", cyan(name))
		for _, item := range items {
			fmt.Fprintf(w, "    - %s\n", item)
		}
	}
	section("folders", t.Folders)
	section("files", t.Files)
	section("deployables", t.Deployables)
}

func (a *app) templateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold(config.DefaultTemplate), faint("(used by plain 'op init')"))
			for _, name := range a.cfg.TemplateNames() {
				t := a.cfg.Templates[name]
				fmt.Fprintf(out, "%s %s\n", bold(name), faint(fmt.Sprintf("(%d folders, %d files, %d deployables)",
					len(t.Folders), len(t.Files), len(t.Deployables))))
			}
			return nil
		},
	}
}

func (a *app) templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.cfg.Template(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", bold(strings.ToLower(args[0])))
			printTemplate(out, t)
			return nil
		},
	}
}

func (a *app) templateCreateCmd() *cobra.Command {
	var t config.Template
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create or replace a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if t.Empty() {
				return operrors.ValidationError("template needs at least one of --folders, --files or --deployables", nil)
			}
			if _, exists := a.cfg.Templates[strings.ToLower(name)]; exists && !overwrite {
				return operrors.ValidationError(fmt.Sprintf("template %q already exists (use --overwrite)", name), nil)
			}
			if err := a.cfg.SetTemplate(name, t); err != nil {
				return err
			}
			if err := a.cfg.Save(a.cfgPath); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Template '%s' saved to %s\n", green("✓"), strings.ToLower(name), a.cfgPath)
			printTemplate(out, t)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&t.Folders, "folders", nil, "folders to create")
	cmd.Flags().StringSliceVar(&t.Files, "files", nil, "files to create")
	cmd.Flags().StringSliceVar(&t.Deployables, "deployables", nil, "entries to copy from the deployable dir")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing template")
	return cmd
}

func (a *app) templateDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if _, err := a.cfg.Template(name); err != nil {
				return err
			}
			if strings.EqualFold(name, config.DefaultTemplate) {
				return operrors.ValidationError("the default template cannot be deleted", nil)
			}
			if !force && !confirm(cmd, fmt.Sprintf("Delete template '%s'?", name)) {
				fmt.Fprintln(cmd.OutOrStdout(), yellow("Cancelled"))
				return nil
			}
			if err := a.cfg.DeleteTemplate(name); err != nil {
				return err
			}
			if err := a.cfg.Save(a.cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Template '%s' deleted\n", green("✓"), strings.ToLower(name))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "do not ask for confirmation")
	return cmd
}
