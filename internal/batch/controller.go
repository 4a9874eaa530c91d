package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"driftwatch/internal/articles"
	"driftwatch/internal/config"
	"driftwatch/internal/logging"
	"driftwatch/internal/provider"
)

// CycleStats summarizes one reconciliation cycle.
type CycleStats struct {
	Tracked   int
	Completed int
	Recovered int
	Created   int
	Eligible  int
}

// Idle reports whether the cycle left nothing in flight and nothing to
// submit.
func (s CycleStats) Idle() bool {
	return s.Tracked == 0 && s.Eligible == 0
}

// Controller drives the batch lifecycle: it reconciles every tracked batch
// against the provider, dispatches completed batches to the result
// processor and failed ones to recovery, then fills freed slots with new
// submissions.
type Controller struct {
	store     *articles.Store
	client    provider.SubmissionClient
	tracking  *TrackingStore
	builder   *Builder
	processor *Processor
	recoverer *Recoverer

	maxActiveBatches   int
	pollInterval       time.Duration
	idleShutdownCycles int
	logger             *slog.Logger
}

// NewController wires the lifecycle components together.
func NewController(store *articles.Store, client provider.SubmissionClient, tracking *TrackingStore, builder *Builder, processor *Processor, recoverer *Recoverer, cfg *config.Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		store:              store,
		client:             client,
		tracking:           tracking,
		builder:            builder,
		processor:          processor,
		recoverer:          recoverer,
		maxActiveBatches:   cfg.Batch.MaxActiveBatches,
		pollInterval:       time.Duration(cfg.Batch.PollIntervalSeconds) * time.Second,
		idleShutdownCycles: cfg.Batch.IdleShutdownCycles,
		logger:             logger,
	}
}

// RunCycle executes one reconciliation pass. A polling failure for one
// batch leaves that batch tracked and never aborts the rest of the cycle.
func (c *Controller) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	records, err := c.tracking.List()
	if err != nil {
		return stats, fmt.Errorf("list tracked batches: %w", err)
	}

	remaining := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		job, err := c.client.JobStatus(ctx, record.ID)
		if err != nil {
			c.logger.Warn("poll batch status",
				logging.String(logging.FieldBatchID, record.ID),
				logging.Error(err))
			remaining++
			continue
		}
		if string(job.State) != record.Status {
			if err := c.tracking.UpdateStatus(record.ID, string(job.State)); err != nil {
				c.logger.Warn("record batch status change",
					logging.String(logging.FieldBatchID, record.ID),
					logging.Error(err))
			}
			record.Status = string(job.State)
		}

		switch {
		case job.State.Succeeded():
			if _, err := c.processor.Process(ctx, record, job); err != nil {
				c.logger.Error("apply batch results",
					logging.String(logging.FieldBatchID, record.ID),
					logging.Error(err))
				remaining++
				continue
			}
			stats.Completed++
		case job.State.IsTerminal():
			if err := c.recoverer.RecoverBatch(ctx, record, string(job.State)); err != nil {
				c.logger.Error("recover failed batch",
					logging.String(logging.FieldBatchID, record.ID),
					logging.Error(err))
				remaining++
				continue
			}
			stats.Recovered++
		default:
			remaining++
		}
	}

	for remaining < c.maxActiveBatches {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if _, err := c.builder.Build(ctx); err != nil {
			if !errors.Is(err, ErrBelowMinimum) {
				c.logger.Error("submit new batch", logging.Error(err))
			}
			break
		}
		stats.Created++
		remaining++
	}
	stats.Tracked = remaining

	eligible, err := c.store.CountEligible(ctx)
	if err != nil {
		return stats, fmt.Errorf("count eligible articles: %w", err)
	}
	stats.Eligible = eligible

	c.logger.Info("reconciliation cycle finished",
		logging.Int("tracked", stats.Tracked),
		logging.Int("completed", stats.Completed),
		logging.Int("recovered", stats.Recovered),
		logging.Int("created", stats.Created),
		logging.Int("eligible", stats.Eligible))
	return stats, nil
}

// RunLoop runs reconciliation cycles until the context is cancelled or the
// queue stays idle for idleShutdownCycles consecutive cycles. It returns
// nil on idle shutdown and the context error on cancellation.
func (c *Controller) RunLoop(ctx context.Context) error {
	idle := 0
	for {
		stats, err := c.RunCycle(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Error("reconciliation cycle failed", logging.Error(err))
		} else if stats.Idle() {
			idle++
			if c.idleShutdownCycles > 0 && idle >= c.idleShutdownCycles {
				c.logger.Info("queue idle, shutting down",
					logging.Int("idle_cycles", idle))
				return nil
			}
		} else {
			idle = 0
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
