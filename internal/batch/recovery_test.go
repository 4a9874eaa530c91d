package batch

import (
	"context"
	"os"
	"testing"

	"driftwatch/internal/articles"
	"driftwatch/internal/provider"
	"driftwatch/internal/testsupport"
)

func TestRecoverBatchReleasesEveryArticle(t *testing.T) {
	e := newEnv(t, testsupport.WithBatchSizing(6, 6, 3))
	testsupport.SeedArticles(t, e.store, 6)

	record, err := e.builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Mix per-item outcomes before recovery: one completed, one failed,
	// the rest still in progress. Blanket recovery releases them all.
	claimed, err := e.store.ListByBatch(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("ListByBatch: %v", err)
	}
	if err := e.store.MarkCompleted(context.Background(), claimed[0].ID, nil, false); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := e.store.MarkFailed(context.Background(), claimed[1].ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if err := e.recoverer.RecoverBatch(context.Background(), *record, "expired"); err != nil {
		t.Fatalf("RecoverBatch: %v", err)
	}

	counts := mustStatuses(t, e.store)
	if counts.Unanalyzed != 6 {
		t.Errorf("unanalyzed = %d, want 6", counts.Unanalyzed)
	}
	all, err := e.store.List(context.Background(), articles.StatusUnanalyzed)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, article := range all {
		if article.BatchID != "" {
			t.Errorf("article %d still references batch %q", article.ID, article.BatchID)
		}
	}

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

func TestExpiredBatchRecoveredDuringCycle(t *testing.T) {
	e := newEnv(t, testsupport.WithBatchSizing(5, 5, 1))
	testsupport.SeedArticles(t, e.store, 5)

	record, err := e.builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	e.fake.SetJobState(record.ID, provider.StateExpired, "", "")

	stats, err := e.controller.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Recovered != 1 {
		t.Errorf("recovered = %d, want 1", stats.Recovered)
	}

	// The freed slot is refilled in the same cycle, so the five released
	// articles are claimed by a fresh batch.
	counts := mustStatuses(t, e.store)
	if counts.InProgress != 5 || counts.Unanalyzed != 0 {
		t.Errorf("unexpected counts after recovery: %+v", counts)
	}
	tracked, err := e.tracking.List()
	if err != nil {
		t.Fatalf("tracking.List: %v", err)
	}
	for _, rec := range tracked {
		if rec.ID == record.ID {
			t.Errorf("expired batch %s still tracked", record.ID)
		}
	}
}

func TestReconcileOrphansReleasesUntrackedBatch(t *testing.T) {
	e := newEnv(t)
	ids := testsupport.SeedArticles(t, e.store, 3)

	// A crash between claiming articles and persisting the tracking
	// record leaves articles pointing at a batch nobody tracks.
	if err := e.store.ClaimForBatch(context.Background(), ids, "batch_lost"); err != nil {
		t.Fatalf("ClaimForBatch: %v", err)
	}

	released, err := e.recoverer.ReconcileOrphans(context.Background())
	if err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}
	if released != 3 {
		t.Errorf("released = %d, want 3", released)
	}
	counts := mustStatuses(t, e.store)
	if counts.Unanalyzed != 3 {
		t.Errorf("unanalyzed = %d, want 3", counts.Unanalyzed)
	}
}

func TestReconcileOrphansKeepsTrackedBatches(t *testing.T) {
	e := newEnv(t, testsupport.WithBatchSizing(3, 3, 3))
	testsupport.SeedArticles(t, e.store, 3)

	if _, err := e.builder.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	released, err := e.recoverer.ReconcileOrphans(context.Background())
	if err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}
	if released != 0 {
		t.Errorf("released = %d, want 0 for a tracked batch", released)
	}
	counts := mustStatuses(t, e.store)
	if counts.InProgress != 3 {
		t.Errorf("in progress = %d, want 3", counts.InProgress)
	}
}
