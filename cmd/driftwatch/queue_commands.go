package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"driftwatch/internal/articles"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the article queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List articles, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.openServices(false)
			if err != nil {
				return err
			}
			defer svc.Close()

			var statuses []articles.Status
			if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
				for _, part := range strings.Split(trimmed, ",") {
					status, ok := articles.ParseStatus(part)
					if !ok {
						return fmt.Errorf("unknown status %q", part)
					}
					statuses = append(statuses, status)
				}
			}

			items, err := svc.store.List(cmd.Context(), statuses...)
			if err != nil {
				return fmt.Errorf("list articles: %w", err)
			}

			if jsonOut {
				type jsonItem struct {
					ID         int64    `json:"id"`
					Title      string   `json:"title"`
					Status     string   `json:"status"`
					BatchID    string   `json:"batch_id,omitempty"`
					RetryCount int      `json:"retry_count"`
					Score      *float64 `json:"extremeness_score,omitempty"`
				}
				payload := make([]jsonItem, 0, len(items))
				for _, item := range items {
					payload = append(payload, jsonItem{
						ID:         item.ID,
						Title:      item.Title,
						Status:     string(item.Status),
						BatchID:    item.BatchID,
						RetryCount: item.RetryCount,
						Score:      item.ExtremenessScore,
					})
				}
				return writeJSON(cmd, map[string]any{"articles": payload})
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No matching articles")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				score := "-"
				if item.ExtremenessScore != nil {
					score = strconv.FormatFloat(*item.ExtremenessScore, 'f', 2, 64)
				}
				batchID := item.BatchID
				if batchID == "" {
					batchID = "-"
				}
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					truncate(item.Title, 48),
					string(item.Status),
					batchID,
					strconv.Itoa(item.RetryCount),
					score,
				})
			}
			printTable(out,
				[]tableColumn{
					{title: "ID", numeric: true},
					{title: "Title"},
					{title: "Status"},
					{title: "Batch"},
					{title: "Retries", numeric: true},
					{title: "Score", numeric: true},
				},
				rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Comma-separated status filter (e.g. failed,permanently_failed)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Reset failed articles back to unanalyzed with a fresh retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}

			svc, err := ctx.openServices(false)
			if err != nil {
				return err
			}
			defer svc.Close()

			reset, err := svc.store.ResetForRetry(cmd.Context(), ids...)
			if err != nil {
				return fmt.Errorf("reset articles: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d article(s) reset for retry\n", reset)
			return nil
		},
	}
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue totals per status",
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
			return writeJSON(cmd, map[string]int{
				"unanalyzed":         counts.Unanalyzed,
				"in_progress":        counts.InProgress,
				"completed":          counts.Completed,
				"failed":             counts.Failed,
				"permanently_failed": counts.PermanentlyFailed,
				"total":              counts.Total(),
			})
		},
	}
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid article id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}
