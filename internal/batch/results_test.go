package batch

import (
	"context"
	"os"
	"sort"
	"strings"
	"testing"

	"driftwatch/internal/articles"
	"driftwatch/internal/config"
	"driftwatch/internal/provider"
	"driftwatch/internal/testsupport"
)

// buildAndComplete submits one batch and scripts a completed job whose
// output is produced by makeLines from the batch's correlation ids.
func buildAndComplete(t *testing.T, e *env, makeLines func(correlationIDs []string) []string) (Record, *provider.Job) {
	t.Helper()

	record, err := e.builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	lookup, err := ReadCorrelationMap(record.LookupFile)
	if err != nil {
		t.Fatalf("ReadCorrelationMap: %v", err)
	}
	correlationIDs := make([]string, 0, len(lookup))
	for id := range lookup {
		correlationIDs = append(correlationIDs, id)
	}
	sort.Strings(correlationIDs)

	outputID := "file-out-" + record.ID
	e.fake.SetFileContent(outputID, strings.Join(makeLines(correlationIDs), "\n")+"\n")
	e.fake.SetJobState(record.ID, provider.StateCompleted, outputID, "")

	job, err := e.fake.JobStatus(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	return *record, job
}

func TestProcessorAppliesMixedResults(t *testing.T) {
	e := newEnv(t, testsupport.WithBatchSizing(50, 50, 3))
	testsupport.SeedArticles(t, e.store, 50)

	record, job := buildAndComplete(t, e, func(ids []string) []string {
		lines := make([]string, 0, len(ids))
		for i, id := range ids {
			if i < 2 {
				lines = append(lines, successLine(t, id, "this is not json at all"))
				continue
			}
			lines = append(lines, successLine(t, id, twoAspectPayload))
		}
		return lines
	})

	result, err := e.processor.Process(context.Background(), record, job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Succeeded != 48 {
		t.Errorf("succeeded = %d, want 48", result.Succeeded)
	}
	if result.Failed != 2 {
		t.Errorf("failed = %d, want 2", result.Failed)
	}
	if result.Released != 2 {
		t.Errorf("released = %d, want 2", result.Released)
	}

	counts := mustStatuses(t, e.store)
	if counts.Completed != 48 {
		t.Errorf("completed = %d, want 48", counts.Completed)
	}
	if counts.Unanalyzed != 2 {
		t.Errorf("unanalyzed = %d, want 2", counts.Unanalyzed)
	}

	released, err := e.store.List(context.Background(), articles.StatusUnanalyzed)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, article := range released {
		if article.BatchID != "" {
			t.Errorf("released article %d still references batch %q", article.ID, article.BatchID)
		}
		if article.RetryCount != 1 {
			t.Errorf("released article %d retry count = %d, want 1", article.ID, article.RetryCount)
		}
	}

	// Without baselines no score is computable; completed articles carry
	// their aspects and a null score.
	completed, err := e.store.List(context.Background(), articles.StatusCompleted)
	if err != nil {
		t.Fatalf("List completed: %v", err)
	}
	for _, article := range completed[:3] {
		aspects, err := e.store.ListAspects(context.Background(), article.ID)
		if err != nil {
			t.Fatalf("ListAspects: %v", err)
		}
		if len(aspects) != 2 {
			t.Errorf("article %d aspects = %d, want 2", article.ID, len(aspects))
		}
		if article.ExtremenessScore != nil {
			t.Errorf("article %d score = %v, want nil without baselines", article.ID, *article.ExtremenessScore)
		}
	}

	// Artifacts and tracking entry are gone.
	if _, err := os.Stat(record.BatchFile); !os.IsNotExist(err) {
		t.Errorf("batch payload artifact still present: %v", err)
	}
	if _, err := os.Stat(record.LookupFile); !os.IsNotExist(err) {
		t.Errorf("correlation map artifact still present: %v", err)
	}
	tracked, err := e.tracking.List()
	if err != nil {
		t.Fatalf("tracking.List: %v", err)
	}
	if len(tracked) != 0 {
		t.Errorf("tracking records = %+v, want none", tracked)
	}
}

func TestProcessorIsIdempotent(t *testing.T) {
	e := newEnv(t, testsupport.WithBatchSizing(5, 5, 3))
	testsupport.SeedArticles(t, e.store, 5)

	record, job := buildAndComplete(t, e, func(ids []string) []string {
		lines := make([]string, 0, len(ids))
		for _, id := range ids {
			lines = append(lines, successLine(t, id, twoAspectPayload))
		}
		return lines
	})

	// Preserve the correlation map so the second pass can run after the
	// first pass deletes the artifacts.
	lookupData, err := os.ReadFile(record.LookupFile)
	if err != nil {
		t.Fatalf("read lookup artifact: %v", err)
	}

	if _, err := e.processor.Process(context.Background(), record, job); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if err := os.WriteFile(record.LookupFile, lookupData, 0o644); err != nil {
		t.Fatalf("restore lookup artifact: %v", err)
	}
	result, err := e.processor.Process(context.Background(), record, job)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if result.Succeeded != 5 {
		t.Errorf("second pass succeeded = %d, want 5", result.Succeeded)
	}

	counts := mustStatuses(t, e.store)
	if counts.Completed != 5 {
		t.Errorf("completed = %d, want 5", counts.Completed)
	}
	completed, err := e.store.List(context.Background(), articles.StatusCompleted)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, article := range completed {
		aspects, err := e.store.ListAspects(context.Background(), article.ID)
		if err != nil {
			t.Fatalf("ListAspects: %v", err)
		}
		if len(aspects) != 2 {
			t.Errorf("article %d aspects = %d after second pass, want 2", article.ID, len(aspects))
		}
		if article.RetryCount != 0 {
			t.Errorf("article %d retry count = %d after second pass, want 0", article.ID, article.RetryCount)
		}
	}
}

func TestProcessorHandlesErrorFile(t *testing.T) {
	e := newEnv(t, testsupport.WithBatchSizing(4, 4, 3))
	testsupport.SeedArticles(t, e.store, 4)

	record, err := e.builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	lookup, err := ReadCorrelationMap(record.LookupFile)
	if err != nil {
		t.Fatalf("ReadCorrelationMap: %v", err)
	}
	correlationIDs := make([]string, 0, len(lookup))
	for id := range lookup {
		correlationIDs = append(correlationIDs, id)
	}
	sort.Strings(correlationIDs)

	var outputLines, errorLines []string
	for i, id := range correlationIDs {
		if i < 3 {
			outputLines = append(outputLines, successLine(t, id, twoAspectPayload))
		} else {
			errorLines = append(errorLines, errorLine(t, id, "rate limit exceeded"))
		}
	}
	e.fake.SetFileContent("file-out", strings.Join(outputLines, "\n"))
	e.fake.SetFileContent("file-err", strings.Join(errorLines, "\n"))
	e.fake.SetJobState(record.ID, provider.StateCompleted, "file-out", "file-err")
	job, err := e.fake.JobStatus(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}

	result, err := e.processor.Process(context.Background(), *record, job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Succeeded != 3 || result.Failed != 1 {
		t.Errorf("result = %+v, want 3 succeeded and 1 failed", result)
	}
	counts := mustStatuses(t, e.store)
	if counts.Completed != 3 || counts.Unanalyzed != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestProcessorSkipsUnresolvedCorrelation(t *testing.T) {
	e := newEnv(t, testsupport.WithBatchSizing(3, 3, 3))
	testsupport.SeedArticles(t, e.store, 3)

	record, job := buildAndComplete(t, e, func(ids []string) []string {
		lines := []string{successLine(t, "corr-unknown", twoAspectPayload)}
		for _, id := range ids {
			lines = append(lines, successLine(t, id, twoAspectPayload))
		}
		return lines
	})

	result, err := e.processor.Process(context.Background(), record, job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Succeeded != 3 {
		t.Errorf("succeeded = %d, want 3", result.Succeeded)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}
}

func TestProcessorParksArticlesAtRetryCeiling(t *testing.T) {
	e := newEnv(t,
		testsupport.WithBatchSizing(2, 2, 3),
		testsupport.WithMaxItemRetries(1),
	)
	testsupport.SeedArticles(t, e.store, 2)

	record, job := buildAndComplete(t, e, func(ids []string) []string {
		lines := make([]string, 0, len(ids))
		for _, id := range ids {
			lines = append(lines, successLine(t, id, "broken payload"))
		}
		return lines
	})

	result, err := e.processor.Process(context.Background(), record, job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Parked != 2 {
		t.Errorf("parked = %d, want 2 at ceiling 1", result.Parked)
	}
	counts := mustStatuses(t, e.store)
	if counts.PermanentlyFailed != 2 {
		t.Errorf("permanently failed = %d, want 2", counts.PermanentlyFailed)
	}
}

func TestProcessorClearsContentWhenConfigured(t *testing.T) {
	e := newEnv(t,
		testsupport.WithBatchSizing(2, 2, 3),
		func(cfg *config.Config) { cfg.Batch.ClearContentOnCompletion = true },
	)
	testsupport.SeedArticles(t, e.store, 2)

	record, job := buildAndComplete(t, e, func(ids []string) []string {
		lines := make([]string, 0, len(ids))
		for _, id := range ids {
			lines = append(lines, successLine(t, id, twoAspectPayload))
		}
		return lines
	})

	if _, err := e.processor.Process(context.Background(), record, job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	completed, err := e.store.List(context.Background(), articles.StatusCompleted)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("completed = %d, want 2", len(completed))
	}
	for _, article := range completed {
		if article.Content != "" {
			t.Errorf("article %d content not cleared: %q", article.ID, article.Content)
		}
	}
}

func TestProcessorLineAndContentDecodingDiffer(t *testing.T) {
	e := newEnv(t, testsupport.WithBatchSizing(3, 3, 3))
	testsupport.SeedArticles(t, e.store, 3)

	// The result file itself is strict JSONL: a prose-wrapped line is
	// malformed even when JSON is buried inside it. Model content within a
	// valid line may still arrive fenced.
	fenced := "```json\n" + twoAspectPayload + "\n```"
	var fencedCorrelation string
	record, job := buildAndComplete(t, e, func(ids []string) []string {
		fencedCorrelation = ids[1]
		return []string{
			"the result was: " + successLine(t, ids[0], twoAspectPayload),
			successLine(t, ids[1], fenced),
			successLine(t, ids[2], twoAspectPayload),
		}
	})
	lookup, err := ReadCorrelationMap(record.LookupFile)
	if err != nil {
		t.Fatalf("ReadCorrelationMap: %v", err)
	}

	result, err := e.processor.Process(context.Background(), record, job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Malformed != 1 {
		t.Errorf("malformed lines = %d, want 1", result.Malformed)
	}
	if result.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", result.Succeeded)
	}

	aspects, err := e.store.ListAspects(context.Background(), lookup[fencedCorrelation])
	if err != nil {
		t.Fatalf("ListAspects: %v", err)
	}
	if len(aspects) != 2 {
		t.Errorf("fenced content produced %d aspects, want 2", len(aspects))
	}
}
