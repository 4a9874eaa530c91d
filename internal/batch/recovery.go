package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"driftwatch/internal/articles"
	"driftwatch/internal/logging"
	"driftwatch/internal/provider"
)

// Recoverer releases articles from terminally failed batches back to the
// eligible pool. Recovery is blanket: every article referencing the batch
// goes back to unanalyzed regardless of its per-item state.
type Recoverer struct {
	store    *articles.Store
	client   provider.SubmissionClient
	tracking *TrackingStore
	logger   *slog.Logger
}

// NewRecoverer constructs a Recoverer.
func NewRecoverer(store *articles.Store, client provider.SubmissionClient, tracking *TrackingStore, logger *slog.Logger) *Recoverer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recoverer{store: store, client: client, tracking: tracking, logger: logger}
}

// RecoverBatch releases the batch's articles, deletes its artifacts, and
// removes its tracking entry.
func (r *Recoverer) RecoverBatch(ctx context.Context, record Record, reason string) error {
	released, err := r.store.ReleaseBatch(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("release articles for batch %s: %w", record.ID, err)
	}

	for _, path := range []string{record.BatchFile, record.LookupFile} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("remove batch artifact",
				logging.String("path", path),
				logging.Error(err))
		}
	}
	if err := r.client.DeleteFile(ctx, record.FileID); err != nil {
		r.logger.Warn("delete submitted payload file",
			logging.String(logging.FieldBatchID, record.ID),
			logging.Error(err))
	}
	if err := r.tracking.Remove(record.ID); err != nil {
		return fmt.Errorf("remove tracking entry for batch %s: %w", record.ID, err)
	}

	r.logger.Info("batch recovered",
		logging.String(logging.FieldBatchID, record.ID),
		logging.String("reason", reason),
		logging.Int64("released", released))
	return nil
}

// ReconcileOrphans releases articles that are stuck referencing a batch id
// with no tracking entry. This happens when a crash lands between claiming
// articles and persisting the batch record.
func (r *Recoverer) ReconcileOrphans(ctx context.Context) (int64, error) {
	active, err := r.store.ActiveBatchIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active batch ids: %w", err)
	}
	if len(active) == 0 {
		return 0, nil
	}
	records, err := r.tracking.List()
	if err != nil {
		return 0, fmt.Errorf("list tracked batches: %w", err)
	}
	tracked := make(map[string]struct{}, len(records))
	for _, record := range records {
		tracked[record.ID] = struct{}{}
	}

	var total int64
	for _, batchID := range active {
		if _, ok := tracked[batchID]; ok {
			continue
		}
		released, err := r.store.ReleaseBatch(ctx, batchID)
		if err != nil {
			return total, fmt.Errorf("release orphaned batch %s: %w", batchID, err)
		}
		total += released
		r.logger.Warn("released articles from untracked batch",
			logging.String(logging.FieldBatchID, batchID),
			logging.Int64("released", released))
	}
	return total, nil
}
