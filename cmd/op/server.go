package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"op/internal/remote"
	"op/internal/repo"
)

// newRemote is swapped in tests.
var newRemote = func(a *app, cmd *cobra.Command) (remote.Client, error) {
	return remote.NewShellClient(a.cfg, nil, a.log(cmd))
}

func (a *app) serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Work with repos on the ops server",
	}
	cmd.AddCommand(a.serverSubcommands()...)
	return cmd
}

// serverSubcommands builds fresh list, push, clone and view commands. They
// are mounted both under "server" and at the top level.
func (a *app) serverSubcommands() []*cobra.Command {
	return []*cobra.Command{
		a.serverListCmd(),
		a.serverPushCmd(),
		a.serverCloneCmd(),
		a.serverViewCmd(),
	}
}

func (a *app) serverListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List repos on the ops server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemote(a, cmd)
			if err != nil {
				return err
			}
			names, err := client.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, yellow("No repos on server"))
				return nil
			}
			fmt.Fprintf(out, "%s\n", bold(fmt.Sprintf("Repos on %s:", a.cfg.Server.Host)))
			for _, n := range names {
				fmt.Fprintf(out, "  • %s\n", n)
			}
			return nil
		},
	}
}

func (a *app) serverPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push [name]",
		Short: "Upload the current repo (default name: directory name)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd)
			if err != nil {
				return err
			}
			name := filepath.Base(ws.Root)
			if len(args) == 1 {
				name = args[0]
			}
			if err := remote.ValidateName(name); err != nil {
				return err
			}
			client, err := newRemote(a, cmd)
			if err != nil {
				return err
			}

			tmp, err := os.MkdirTemp("", "op-push-")
			if err != nil {
				return fmt.Errorf("creating temp dir: %w", err)
			}
			defer os.RemoveAll(tmp)

			result, err := repo.Export(ws, filepath.Join(tmp, name+".zip"), a.archiveOptions())
			if err != nil {
				return err
			}
			a.log(cmd).Debug("pushing export", zap.String("path", result.Path), zap.Int64("bytes", result.Size))

			if err := client.Push(cmd.Context(), name, result.Path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s pushed '%s' (%s, %s)\n",
				green("✓"), name, plural(result.Files, "file"), result.HumanSize())
			return nil
		},
	}
}

func (a *app) serverCloneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clone <name> [dir]",
		Short: "Copy a repo from the ops server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dest := name
			if len(args) == 2 {
				dest = args[1]
			}
			client, err := newRemote(a, cmd)
			if err != nil {
				return err
			}
			if err := client.Clone(cmd.Context(), name, dest); err != nil {
				return err
			}
			abs, _ := filepath.Abs(dest)
			fmt.Fprintf(cmd.OutOrStdout(), "%s cloned '%s'\n    Location: %s\n", green("✓"), name, abs)
			return nil
		},
	}
}

func (a *app) serverViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <name>",
		Short: "Print a repo's README from the ops server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemote(a, cmd)
			if err != nil {
				return err
			}
			data, err := client.ReadFile(cmd.Context(), args[0], repo.ReadmeFile)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
