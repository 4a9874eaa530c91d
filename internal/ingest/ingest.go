package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"driftwatch/internal/articles"
	"driftwatch/internal/logging"
)

// record is one line of an ingest file.
type record struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Result summarizes one ingest pass.
type Result struct {
	Inserted int
	Skipped  int
}

// Ingester inserts article records into the store.
type Ingester struct {
	store  *articles.Store
	logger *slog.Logger
}

// New constructs an Ingester.
func New(store *articles.Store, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingester{store: store, logger: logger}
}

// FromFile ingests a line-delimited JSON file of article records.
func (i *Ingester) FromFile(ctx context.Context, path string) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open ingest file: %w", err)
	}
	defer file.Close()
	return i.FromReader(ctx, file)
}

// FromReader ingests line-delimited JSON records from a stream. Records
// with no content are counted as skipped; a malformed line is skipped
// with a warning rather than aborting the pass.
func (i *Ingester) FromReader(ctx context.Context, reader io.Reader) (Result, error) {
	var result Result

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return result, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			result.Skipped++
			i.logger.Warn("skip malformed ingest line",
				logging.Int("line", lineNo),
				logging.Error(err))
			continue
		}
		if strings.TrimSpace(rec.Content) == "" {
			result.Skipped++
			continue
		}
		if _, err := i.store.Insert(ctx, rec.Source, rec.Title, rec.Content); err != nil {
			return result, fmt.Errorf("insert article from line %d: %w", lineNo, err)
		}
		result.Inserted++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read ingest stream: %w", err)
	}

	i.logger.Info("ingest finished",
		logging.Int("inserted", result.Inserted),
		logging.Int("skipped", result.Skipped))
	return result, nil
}
