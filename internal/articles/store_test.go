package articles_test

import (
	"context"
	"testing"
	"time"

	"driftwatch/internal/articles"
	"driftwatch/internal/testsupport"
)

func TestInsertAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	article, err := store.Insert(ctx, "feed-a", "Headline", "Body text")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if article.ID == 0 {
		t.Fatal("expected article ID to be assigned")
	}
	if article.Status != articles.StatusUnanalyzed {
		t.Fatalf("new article status = %q", article.Status)
	}
	if article.BatchID != "" {
		t.Fatalf("new article should have no batch id, got %q", article.BatchID)
	}

	fetched, err := store.GetByID(ctx, article.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched == nil || fetched.Title != "Headline" {
		t.Fatalf("unexpected fetched article: %#v", fetched)
	}
}

func TestInsertRequiresContent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Insert(context.Background(), "feed-a", "Empty", "  "); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestClaimForBatchIsAllOrNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ids := testsupport.SeedArticles(t, store, 3)

	// Claim one article out from under the batch claim.
	if err := store.ClaimForBatch(ctx, ids[:1], "batch_other"); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}

	err := store.ClaimForBatch(ctx, ids, "batch_main")
	if err == nil {
		t.Fatal("expected claim conflict")
	}

	// Remaining articles must be untouched.
	for _, id := range ids[1:] {
		article, getErr := store.GetByID(ctx, id)
		if getErr != nil {
			t.Fatalf("GetByID: %v", getErr)
		}
		if article.Status != articles.StatusUnanalyzed || article.BatchID != "" {
			t.Fatalf("article %d mutated by failed claim: %+v", id, article)
		}
	}
}

func TestUnanalyzedImpliesNoBatchID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ids := testsupport.SeedArticles(t, store, 2)
	if err := store.ClaimForBatch(ctx, ids, "batch_a"); err != nil {
		t.Fatalf("ClaimForBatch: %v", err)
	}
	if _, err := store.ReleaseBatch(ctx, "batch_a"); err != nil {
		t.Fatalf("ReleaseBatch: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, article := range all {
		if article.Status == articles.StatusUnanalyzed && article.BatchID != "" {
			t.Fatalf("invariant violated: unanalyzed article %d has batch id %q", article.ID, article.BatchID)
		}
	}
}

func TestReleaseBatchIsBlanket(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ids := testsupport.SeedArticles(t, store, 3)
	if err := store.ClaimForBatch(ctx, ids, "batch_a"); err != nil {
		t.Fatalf("ClaimForBatch: %v", err)
	}

	// Mix of per-item outcomes before recovery runs.
	if err := store.MarkCompleted(ctx, ids[0], nil, false); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := store.MarkFailed(ctx, ids[1], "parse error"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	released, err := store.ReleaseBatch(ctx, "batch_a")
	if err != nil {
		t.Fatalf("ReleaseBatch: %v", err)
	}
	if released != 3 {
		t.Fatalf("released = %d, want 3", released)
	}
	for _, id := range ids {
		article, err := store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if article.Status != articles.StatusUnanalyzed || article.BatchID != "" {
			t.Fatalf("article %d not released: %+v", id, article)
		}
	}
}

func TestReleaseForRetryParksAtCeiling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	article := testsupport.NewArticle(t, store, "stubborn", "malformed forever")
	maxRetries := 2

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := store.ClaimForBatch(ctx, []int64{article.ID}, "batch_x"); err != nil {
			t.Fatalf("attempt %d claim: %v", attempt, err)
		}
		if err := store.MarkFailed(ctx, article.ID, "parse error"); err != nil {
			t.Fatalf("attempt %d fail: %v", attempt, err)
		}
		released, parked, err := store.ReleaseForRetry(ctx, []int64{article.ID}, maxRetries)
		if err != nil {
			t.Fatalf("attempt %d release: %v", attempt, err)
		}
		if attempt < maxRetries {
			if released != 1 || parked != 0 {
				t.Fatalf("attempt %d: released=%d parked=%d", attempt, released, parked)
			}
		} else {
			if released != 0 || parked != 1 {
				t.Fatalf("final attempt: released=%d parked=%d", released, parked)
			}
		}
	}

	parked, err := store.GetByID(ctx, article.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if parked.Status != articles.StatusPermanentlyFailed {
		t.Fatalf("status = %q, want permanently_failed", parked.Status)
	}

	eligible, err := store.SelectEligible(ctx, 10)
	if err != nil {
		t.Fatalf("SelectEligible: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("parked article is still eligible: %+v", eligible)
	}
}

func TestSelectEligibleSkipsEmptyContent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	kept := testsupport.NewArticle(t, store, "kept", "has content")
	cleared := testsupport.NewArticle(t, store, "cleared", "had content")
	if err := store.ClaimForBatch(ctx, []int64{cleared.ID}, "batch_a"); err != nil {
		t.Fatalf("ClaimForBatch: %v", err)
	}
	if err := store.MarkCompleted(ctx, cleared.ID, nil, true); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	// Blanket recovery returns it to unanalyzed, now with an empty body.
	if _, err := store.ReleaseBatch(ctx, "batch_a"); err != nil {
		t.Fatalf("ReleaseBatch: %v", err)
	}

	eligible, err := store.SelectEligible(ctx, 10)
	if err != nil {
		t.Fatalf("SelectEligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != kept.ID {
		t.Fatalf("unexpected eligible set: %+v", eligible)
	}
}

func TestMarkCompletedStoresScoreAndClearsContent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	article := testsupport.NewArticle(t, store, "scored", "long body")
	score := 12.5
	if err := store.MarkCompleted(ctx, article.ID, &score, true); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	got, err := store.GetByID(ctx, article.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != articles.StatusCompleted {
		t.Fatalf("status = %q", got.Status)
	}
	if got.ExtremenessScore == nil || *got.ExtremenessScore != 12.5 {
		t.Fatalf("score = %v", got.ExtremenessScore)
	}
	if got.Content != "" {
		t.Fatalf("content should be cleared, got %q", got.Content)
	}
	if got.ProcessedAt == nil {
		t.Fatal("processed_at should be set")
	}
}

func TestAspectUpsertIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	article := testsupport.NewArticle(t, store, "aspects", "body")
	aspects := []articles.Aspect{
		{Name: "economy", Stance: -0.4, Intensity: 0.7},
		{Name: "health", Stance: 0.2, Intensity: 0.3},
	}

	has, err := store.HasAspects(ctx, article.ID)
	if err != nil {
		t.Fatalf("HasAspects: %v", err)
	}
	if has {
		t.Fatal("new article should have no aspects")
	}

	if err := store.InsertAspects(ctx, article.ID, aspects); err != nil {
		t.Fatalf("InsertAspects: %v", err)
	}
	if err := store.InsertAspects(ctx, article.ID, aspects); err != nil {
		t.Fatalf("second InsertAspects: %v", err)
	}

	stored, err := store.ListAspects(ctx, article.ID)
	if err != nil {
		t.Fatalf("ListAspects: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("len(aspects) = %d, want 2", len(stored))
	}
}

func TestCountByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ids := testsupport.SeedArticles(t, store, 4)
	if err := store.ClaimForBatch(ctx, ids[:2], "batch_a"); err != nil {
		t.Fatalf("ClaimForBatch: %v", err)
	}
	if err := store.MarkCompleted(ctx, ids[0], nil, false); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts.Unanalyzed != 2 || counts.InProgress != 1 || counts.Completed != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if counts.Total() != 4 {
		t.Fatalf("total = %d, want 4", counts.Total())
	}
}

func TestTimeLayoutOrdersAsStrings(t *testing.T) {
	// Whole seconds and fractional seconds must interleave correctly under
	// SQL string comparison, which rules out layouts that trim zeros.
	instants := []time.Time{
		time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 1, 12, 0, 0, 500_000_000, time.UTC),
		time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC),
		time.Date(2026, 8, 1, 12, 0, 1, 250_000, time.UTC),
	}
	for i := 1; i < len(instants); i++ {
		prev := instants[i-1].Format(articles.TimeLayout)
		next := instants[i].Format(articles.TimeLayout)
		if prev >= next {
			t.Errorf("formatted %q does not sort before %q", prev, next)
		}
	}

	formatted := instants[1].Format(articles.TimeLayout)
	parsed, err := time.Parse(time.RFC3339Nano, formatted)
	if err != nil {
		t.Fatalf("parse %q: %v", formatted, err)
	}
	if !parsed.Equal(instants[1]) {
		t.Errorf("round trip changed the instant: %v != %v", parsed, instants[1])
	}
}
