package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"driftwatch/internal/ingest"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.jsonl>",
		Short: "Load article records from a line-delimited JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.openServices(false)
			if err != nil {
				return err
			}
			defer svc.Close()

			ingester := ingest.New(svc.store, svc.logger)
			result, err := ingester.FromFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d article(s), skipped %d\n",
				result.Inserted, result.Skipped)
			return nil
		},
	}
}
