package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"driftwatch/internal/articles"
	"driftwatch/internal/config"
	"driftwatch/internal/logging"
	"driftwatch/internal/provider"
)

// ErrBelowMinimum reports that too few articles were eligible to justify
// a submission.
var ErrBelowMinimum = errors.New("not enough eligible articles for a batch")

// Builder selects eligible articles, packages them into one submission
// payload, and submits it. Articles are only claimed after the external
// job exists, so a failed submission mutates nothing.
type Builder struct {
	store        *articles.Store
	client       provider.SubmissionClient
	tracking     *TrackingStore
	artifactsDir string
	model        string
	batchSize    int
	minBatchSize int
	logger       *slog.Logger
}

// NewBuilder constructs a Builder from configuration.
func NewBuilder(store *articles.Store, client provider.SubmissionClient, tracking *TrackingStore, cfg *config.Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{
		store:        store,
		client:       client,
		tracking:     tracking,
		artifactsDir: cfg.BatchArtifactsDir(),
		model:        cfg.Provider.Model,
		batchSize:    cfg.Batch.BatchSize,
		minBatchSize: cfg.Batch.MinBatchSize,
		logger:       logger,
	}
}

// Build assembles and submits one batch. It returns ErrBelowMinimum when
// fewer than the minimum batch size articles are eligible.
func (b *Builder) Build(ctx context.Context) (*Record, error) {
	eligible, err := b.store.SelectEligible(ctx, b.batchSize)
	if err != nil {
		return nil, fmt.Errorf("select eligible articles: %w", err)
	}
	if len(eligible) < b.minBatchSize {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrBelowMinimum, len(eligible), b.minBatchSize)
	}

	var payload bytes.Buffer
	lookup := make(CorrelationMap, len(eligible))
	ids := make([]int64, 0, len(eligible))
	encoder := json.NewEncoder(&payload)
	for _, article := range eligible {
		correlationID := NewCorrelationID()
		line := requestLine{
			CustomID: correlationID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: requestBody{
				Model: b.model,
				Messages: []requestMessage{
					{Role: "system", Content: analysisPrompt},
					{Role: "user", Content: article.Content},
				},
				Temperature:    0,
				ResponseFormat: map[string]string{"type": "json_object"},
			},
		}
		if err := encoder.Encode(line); err != nil {
			return nil, fmt.Errorf("encode request for article %d: %w", article.ID, err)
		}
		lookup[correlationID] = article.ID
		ids = append(ids, article.ID)
	}

	fileID, err := b.client.UploadFile(ctx, "requests.jsonl", bytes.NewReader(payload.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("upload batch payload: %w", err)
	}
	job, err := b.client.CreateJob(ctx, fileID)
	if err != nil {
		b.deleteUploaded(ctx, fileID)
		return nil, fmt.Errorf("create batch job: %w", err)
	}

	if err := os.MkdirAll(b.artifactsDir, 0o755); err != nil {
		b.deleteUploaded(ctx, fileID)
		return nil, fmt.Errorf("create artifacts directory: %w", err)
	}
	batchFile := filepath.Join(b.artifactsDir, job.ID+".jsonl")
	lookupFile := filepath.Join(b.artifactsDir, job.ID+"_lookup.json")
	if err := os.WriteFile(batchFile, payload.Bytes(), 0o644); err != nil {
		b.deleteUploaded(ctx, fileID)
		return nil, fmt.Errorf("write batch payload artifact: %w", err)
	}
	if err := WriteCorrelationMap(lookupFile, lookup); err != nil {
		os.Remove(batchFile)
		b.deleteUploaded(ctx, fileID)
		return nil, fmt.Errorf("write correlation map artifact: %w", err)
	}

	if err := b.store.ClaimForBatch(ctx, ids, job.ID); err != nil {
		os.Remove(batchFile)
		os.Remove(lookupFile)
		b.deleteUploaded(ctx, fileID)
		return nil, fmt.Errorf("claim articles for batch %s: %w", job.ID, err)
	}

	record := Record{
		ID:           job.ID,
		FileID:       fileID,
		CreatedAt:    time.Now().UTC(),
		BatchFile:    batchFile,
		ArticleCount: len(ids),
		Status:       string(job.State),
		LookupFile:   lookupFile,
	}
	if err := b.tracking.Add(record); err != nil {
		// The job exists and articles are claimed; undoing the claim
		// keeps the queue consistent even though the provider will
		// still run the job.
		if _, releaseErr := b.store.ReleaseBatch(ctx, job.ID); releaseErr != nil {
			b.logger.Error("release articles after tracking failure",
				logging.String(logging.FieldBatchID, job.ID),
				logging.Error(releaseErr))
		}
		os.Remove(batchFile)
		os.Remove(lookupFile)
		return nil, fmt.Errorf("track batch %s: %w", job.ID, err)
	}

	b.logger.Info("batch submitted",
		logging.String(logging.FieldBatchID, job.ID),
		logging.String("file_id", fileID),
		logging.Int("articles", len(ids)))
	return &record, nil
}

func (b *Builder) deleteUploaded(ctx context.Context, fileID string) {
	if err := b.client.DeleteFile(ctx, fileID); err != nil {
		b.logger.Warn("delete uploaded payload after failed submission",
			logging.String("file_id", fileID),
			logging.Error(err))
	}
}
