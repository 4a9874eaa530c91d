package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue totals and in-flight batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.openServices(false)
			if err != nil {
				return err
			}
			defer svc.Close()

			counts, err := svc.store.CountByStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("count articles: %w", err)
			}
			tracked, err := svc.tracking.List()
			if err != nil {
				return fmt.Errorf("list tracked batches: %w", err)
			}

			if jsonOut {
				batches := make([]map[string]any, 0, len(tracked))
				for _, record := range tracked {
					batches = append(batches, map[string]any{
						"id":           record.ID,
						"status":       record.Status,
						"articles":     record.ArticleCount,
						"submitted_at": record.CreatedAt,
					})
				}
				return writeJSON(cmd, map[string]any{
					"articles": map[string]int{
						"unanalyzed":         counts.Unanalyzed,
						"in_progress":        counts.InProgress,
						"completed":          counts.Completed,
						"failed":             counts.Failed,
						"permanently_failed": counts.PermanentlyFailed,
						"total":              counts.Total(),
					},
					"batches": batches,
				})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			printTable(out,
				[]tableColumn{{title: "Status"}, {title: "Articles", numeric: true}},
				[][]string{
					{"unanalyzed", strconv.Itoa(counts.Unanalyzed)},
					{"in_progress", strconv.Itoa(counts.InProgress)},
					{"completed", strconv.Itoa(counts.Completed)},
					{"failed", strconv.Itoa(counts.Failed)},
					{"permanently_failed", strconv.Itoa(counts.PermanentlyFailed)},
					{"total", strconv.Itoa(counts.Total())},
				})

			if len(tracked) == 0 {
				fmt.Fprintln(out, statusLine("No batches in flight", colorize))
				return nil
			}
			rows := make([][]string, 0, len(tracked))
			for _, record := range tracked {
				rows = append(rows, []string{
					record.ID,
					record.Status,
					strconv.Itoa(record.ArticleCount),
					record.CreatedAt.Local().Format(time.RFC3339),
				})
			}
			printTable(out,
				[]tableColumn{
					{title: "Batch"},
					{title: "Status"},
					{title: "Articles", numeric: true},
					{title: "Submitted"},
				},
				rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

const (
	ansiReset = "\x1b[0m"
	ansiBlue  = "\x1b[34m"
)

func statusLine(message string, colorize bool) string {
	if colorize {
		return ansiBlue + message + ansiReset
	}
	return message
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
