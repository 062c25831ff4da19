package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"op/internal/archive"
	"op/internal/commit"
	"op/internal/config"
	"op/internal/logging"
	"op/internal/workspace"
)

var version = "dev"

// app carries what PersistentPreRunE resolves for every command.
type app struct {
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "op",
		Short: "op organizes operational work in a directory",
		Long: `op scaffolds a working directory for operational work, snapshots it
with lightweight commits, takes backups, keeps notes, and syncs it with an
ops server over SSH.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default $OP_CONFIG or ~/.op/op.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		a.initCmd(),
		a.statusCmd(),
		a.backupCmd(),
		a.exportCmd(),
		a.removeCmd(),
		a.commitCmd(),
		a.logCmd(),
		a.diffCmd(),
		a.showCmd(),
		a.checkoutCmd(),
		a.verifyCmd(),
		a.notesCmd(),
		a.templateCmd(),
		a.serverCmd(),
		a.watchCmd(),
		versionCmd(),
	)
	rootCmd.AddCommand(a.serverSubcommands()...)

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.cfgPath == "" {
		a.cfgPath = config.DefaultPath()
	}
	if _, err := config.EnsureDefault(a.cfgPath); err != nil {
		return fmt.Errorf("creating default config: %w", err)
	}

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	a.logger, err = logging.NewLogger(level)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, id := logging.NewInvocation(cmd.Context())
	cmd.SetContext(ctx)
	a.log(cmd).Debug("starting command",
		zap.String("command", cmd.CommandPath()),
		zap.String("invocation_id", id),
		zap.String("config", a.cfgPath))
	return nil
}

func (a *app) log(cmd *cobra.Command) *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger.WithInvocation(cmd.Context())
}

func (a *app) workspace(cmd *cobra.Command) (*workspace.Workspace, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	return workspace.New(cwd, a.log(cmd))
}

func (a *app) archiveOptions() archive.Options {
	return archive.DefaultOptions().WithCompression(a.cfg.Archive.Compression)
}

func (a *app) commitManager(cmd *cobra.Command) (*commit.Manager, error) {
	ws, err := a.workspace(cmd)
	if err != nil {
		return nil, err
	}
	opts := commit.DefaultOptions()
	opts.Archive = a.archiveOptions()
	opts.DefaultAuthor = a.cfg.Author
	return commit.NewManager(ws, opts, a.log(cmd))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the op version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "op %s\n", version)
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
