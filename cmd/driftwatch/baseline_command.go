package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newBaselineCommand(ctx *commandContext) *cobra.Command {
	baselineCmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage rolling per-aspect baseline statistics",
	}

	baselineCmd.AddCommand(newBaselineRecomputeCommand(ctx))
	baselineCmd.AddCommand(newBaselineListCommand(ctx))

	return baselineCmd
}

func newBaselineRecomputeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Recompute baselines from the trailing observation window",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.openServices(false)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.baselines.Recompute(cmd.Context(), svc.logger)
			if err != nil {
				return fmt.Errorf("recompute baselines: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Window:   %s to %s\n",
				result.WindowStart.Format(time.RFC3339),
				result.WindowEnd.Format(time.RFC3339))
			fmt.Fprintf(out, "Updated:  %d aspect(s)\n", result.AspectsUpdated)
			fmt.Fprintf(out, "Skipped:  %d aspect(s) below minimum samples\n", result.AspectsSkipped)
			fmt.Fprintf(out, "Expired:  %d stale baseline(s) removed\n", result.Expired)
			return nil
		},
	}
}

func newBaselineListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored baseline statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.openServices(false)
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.baselines.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list baselines: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"baselines": stats})
			}

			out := cmd.OutOrStdout()
			if len(stats) == 0 {
				fmt.Fprintln(out, "No baselines stored")
				return nil
			}
			rows := make([][]string, 0, len(stats))
			for _, stat := range stats {
				rows = append(rows, []string{
					stat.Aspect,
					strconv.FormatFloat(stat.MeanStance, 'f', 3, 64),
					strconv.FormatFloat(stat.MeanIntensity, 'f', 3, 64),
					strconv.FormatFloat(stat.VarStance, 'f', 4, 64),
					strconv.FormatFloat(stat.VarIntensity, 'f', 4, 64),
					strconv.Itoa(stat.SampleCount),
					stat.ComputedAt.Local().Format(time.RFC3339),
				})
			}
			printTable(out,
				[]tableColumn{
					{title: "Aspect"},
					{title: "Mean Stance", numeric: true},
					{title: "Mean Intensity", numeric: true},
					{title: "Var Stance", numeric: true},
					{title: "Var Intensity", numeric: true},
					{title: "Samples", numeric: true},
					{title: "Computed"},
				},
				rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}
