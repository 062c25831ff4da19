package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	operrors "op/internal/errors"
	"op/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var autoCommit bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Report (or commit) changes as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd)
			if err != nil {
				return err
			}
			m, err := a.commitManager(cmd)
			if err != nil {
				return err
			}
			w, err := watch.New(ws, debounce)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			log := a.log(cmd)
			fmt.Fprintf(out, "Watching %s %s\n", ws.Root, faint("(Ctrl-C to stop)"))

			return w.Run(ctx, func(ctx context.Context, paths []string) {
				stamp := faint(time.Now().Format("15:04:05"))
				if !autoCommit {
					fmt.Fprintf(out, "%s %s changed\n", stamp, plural(len(paths), "path"))
					result, err := m.Diff("")
					if err != nil {
						log.Warn("diff after change", zap.Error(err))
						return
					}
					if !result.NoHead() {
						printChanges(out, result.Changes)
					}
					return
				}

				c, err := m.Commit(ctx, fmt.Sprintf("auto: %d changed", len(paths)), "")
				switch {
				case errors.Is(err, operrors.ErrNothingToCommit):
					return
				case err != nil:
					fmt.Fprintf(out, "%s %s auto-commit failed: %v\n", stamp, red("✗"), err)
					return
				}
				fmt.Fprintf(out, "%s %s [%s] %s\n", stamp, green("✓"), cyan(c.ID), c.Message)
			})
		},
	}

	cmd.Flags().BoolVar(&autoCommit, "auto-commit", false, "commit after each batch of changes")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before reacting")
	return cmd
}
