package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"driftwatch/internal/daemon"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the batch lifecycle controller as a daemon",
		Long: "Run reconciliation cycles continuously until interrupted or until " +
			"the queue stays idle for the configured number of cycles.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			svc, err := ctx.openServices(true)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.daemon.Run(signalCtx); err != nil {
				if errors.Is(err, daemon.ErrLockHeld) {
					return fmt.Errorf("%w (lock: %s)", err, svc.daemon.LockPath())
				}
				return err
			}
			return nil
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation cycle",
		Long: "Poll every tracked batch once, apply completed results, recover " +
			"failed batches, submit new batches up to the concurrency cap, then exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.openServices(false)
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.daemon.RunOnce(cmd.Context())
			if err != nil {
				if errors.Is(err, daemon.ErrLockHeld) {
					return fmt.Errorf("%w (lock: %s)", err, svc.daemon.LockPath())
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tracked batches:   %d\n", stats.Tracked)
			fmt.Fprintf(out, "Results applied:   %d\n", stats.Completed)
			fmt.Fprintf(out, "Batches recovered: %d\n", stats.Recovered)
			fmt.Fprintf(out, "Batches created:   %d\n", stats.Created)
			fmt.Fprintf(out, "Eligible articles: %d\n", stats.Eligible)
			return nil
		},
	}
}
