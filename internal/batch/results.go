package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"driftwatch/internal/articles"
	"driftwatch/internal/config"
	"driftwatch/internal/logging"
	"driftwatch/internal/provider"
	"driftwatch/internal/scoring"
)

// Processor applies one completed batch's results back to the article
// store. Per-item problems mark that article failed and never abort the
// batch; a second pass over the same results leaves the store unchanged.
type Processor struct {
	store          *articles.Store
	client         provider.SubmissionClient
	tracking       *TrackingStore
	scorer         *scoring.Scorer
	clearContent   bool
	maxItemRetries int
	logger         *slog.Logger
}

// NewProcessor constructs a Processor from configuration.
func NewProcessor(store *articles.Store, client provider.SubmissionClient, tracking *TrackingStore, scorer *scoring.Scorer, cfg *config.Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		store:          store,
		client:         client,
		tracking:       tracking,
		scorer:         scorer,
		clearContent:   cfg.Batch.ClearContentOnCompletion,
		maxItemRetries: cfg.Batch.MaxItemRetries,
		logger:         logger,
	}
}

// ProcessResult summarizes one result pass.
type ProcessResult struct {
	Succeeded  int
	Failed     int
	Skipped    int
	Malformed  int
	Released   int64
	Parked     int64
	ScoreCount int
}

// Process downloads and applies the results of a completed batch, then
// removes the batch's artifacts and tracking entry.
func (p *Processor) Process(ctx context.Context, record Record, job *provider.Job) (ProcessResult, error) {
	var result ProcessResult

	lookup, err := ReadCorrelationMap(record.LookupFile)
	if err != nil {
		return result, fmt.Errorf("load correlation map for batch %s: %w", record.ID, err)
	}

	completedBefore, err := p.store.CompletedCount(ctx)
	if err != nil {
		return result, fmt.Errorf("count completed articles: %w", err)
	}

	var failedIDs []int64
	if job.OutputFileID != "" {
		if err := p.applyFile(ctx, record, lookup, job.OutputFileID, &result, &failedIDs); err != nil {
			return result, err
		}
	}
	if job.ErrorFileID != "" {
		if err := p.applyFile(ctx, record, lookup, job.ErrorFileID, &result, &failedIDs); err != nil {
			return result, err
		}
	}

	completedAfter, err := p.store.CompletedCount(ctx)
	if err != nil {
		return result, fmt.Errorf("count completed articles: %w", err)
	}
	if delta := completedAfter - completedBefore; delta != result.Succeeded {
		p.logger.Error("completed count delta does not match applied results",
			logging.String(logging.FieldBatchID, record.ID),
			logging.Int("expected", result.Succeeded),
			logging.Int("observed", delta))
	}

	released, parked, err := p.store.ReleaseForRetry(ctx, failedIDs, p.maxItemRetries)
	if err != nil {
		return result, fmt.Errorf("release failed articles for batch %s: %w", record.ID, err)
	}
	result.Released = released
	result.Parked = parked

	p.cleanup(ctx, record)
	if err := p.tracking.Remove(record.ID); err != nil {
		return result, fmt.Errorf("remove tracking entry for batch %s: %w", record.ID, err)
	}

	p.logger.Info("batch results applied",
		logging.String(logging.FieldBatchID, record.ID),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
		logging.Int("skipped", result.Skipped),
		logging.Int("malformed_lines", result.Malformed),
		logging.Int64("released", result.Released),
		logging.Int64("parked", result.Parked))
	return result, nil
}

func (p *Processor) applyFile(ctx context.Context, record Record, lookup CorrelationMap, fileID string, result *ProcessResult, failedIDs *[]int64) error {
	stream, err := p.client.DownloadFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("download results for batch %s: %w", record.ID, err)
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		// Result files are strict JSONL; only the model content inside a
		// line may need sanitizing.
		var line resultLine
		if err := json.Unmarshal(raw, &line); err != nil {
			result.Malformed++
			continue
		}
		p.applyLine(ctx, record, lookup, line, result, failedIDs)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read results for batch %s: %w", record.ID, err)
	}
	return nil
}

func (p *Processor) applyLine(ctx context.Context, record Record, lookup CorrelationMap, line resultLine, result *ProcessResult, failedIDs *[]int64) {
	articleID, ok := lookup[line.CustomID]
	if !ok {
		result.Skipped++
		p.logger.Warn("result does not match any submitted article",
			logging.String(logging.FieldBatchID, record.ID),
			logging.String(logging.FieldCorrelationID, line.CustomID))
		return
	}
	article, err := p.store.GetByID(ctx, articleID)
	if err != nil {
		result.Skipped++
		p.logger.Warn("load article for result",
			logging.Int64(logging.FieldArticleID, articleID),
			logging.Error(err))
		return
	}
	if article == nil {
		// The article was deleted while the batch was in flight.
		result.Skipped++
		return
	}
	if article.BatchID != record.ID {
		// Already applied by an earlier pass, or re-batched after a
		// release. Either way this result is stale for the item.
		result.Skipped++
		return
	}

	markFailed := func(reason string) {
		if err := p.store.MarkFailed(ctx, articleID, reason); err != nil {
			p.logger.Error("mark article failed",
				logging.Int64(logging.FieldArticleID, articleID),
				logging.Error(err))
			return
		}
		result.Failed++
		*failedIDs = append(*failedIDs, articleID)
	}

	if line.Error != nil {
		markFailed(line.Error.Message)
		return
	}
	if line.Response == nil {
		markFailed("result record has neither response nor error")
		return
	}
	if line.Response.StatusCode != 0 && line.Response.StatusCode != http.StatusOK {
		markFailed(fmt.Sprintf("provider returned status %d", line.Response.StatusCode))
		return
	}

	var payload analysisPayload
	if err := decodeAnalysisJSON(line.content(), &payload); err != nil {
		markFailed(fmt.Sprintf("parse analysis payload: %v", err))
		return
	}
	aspects := make([]articles.Aspect, 0, len(payload.Aspects))
	observations := make([]scoring.Observation, 0, len(payload.Aspects))
	for _, aspect := range payload.Aspects {
		if aspect.Name == "" {
			continue
		}
		stance := clamp(aspect.Stance, -1, 1)
		intensity := clamp(aspect.Intensity, 0, 1)
		aspects = append(aspects, articles.Aspect{
			ArticleID: articleID,
			Name:      aspect.Name,
			Stance:    stance,
			Intensity: intensity,
		})
		observations = append(observations, scoring.Observation{
			Aspect:    aspect.Name,
			Stance:    stance,
			Intensity: intensity,
		})
	}
	if len(aspects) == 0 {
		markFailed("analysis payload contains no aspects")
		return
	}

	hasAspects, err := p.store.HasAspects(ctx, articleID)
	if err != nil {
		markFailed(fmt.Sprintf("check existing aspects: %v", err))
		return
	}
	if !hasAspects {
		if err := p.store.InsertAspects(ctx, articleID, aspects); err != nil {
			markFailed(fmt.Sprintf("persist aspects: %v", err))
			return
		}
	}

	var scorePtr *float64
	score, err := p.scorer.Score(ctx, observations)
	switch {
	case err == nil:
		scorePtr = &score
		result.ScoreCount++
	case errors.Is(err, scoring.ErrNotComputable):
		// Not enough baseline coverage yet; the score stays null.
	default:
		p.logger.Warn("compute extremeness score",
			logging.Int64(logging.FieldArticleID, articleID),
			logging.Error(err))
	}

	if err := p.store.MarkCompleted(ctx, articleID, scorePtr, p.clearContent); err != nil {
		p.logger.Error("mark article completed",
			logging.Int64(logging.FieldArticleID, articleID),
			logging.Error(err))
		return
	}
	result.Succeeded++
}

func (p *Processor) cleanup(ctx context.Context, record Record) {
	for _, path := range []string{record.BatchFile, record.LookupFile} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("remove batch artifact",
				logging.String("path", path),
				logging.Error(err))
		}
	}
	if err := p.client.DeleteFile(ctx, record.FileID); err != nil {
		p.logger.Warn("delete submitted payload file",
			logging.String(logging.FieldBatchID, record.ID),
			logging.Error(err))
	}
}
