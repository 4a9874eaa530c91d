package baseline

import (
	"context"
	"math"
	"testing"
	"time"

	"driftwatch/internal/articles"
	"driftwatch/internal/testsupport"
)

func completedArticleWithAspects(t *testing.T, store *articles.Store, title string, aspects []articles.Aspect) {
	t.Helper()
	ctx := context.Background()

	article := testsupport.NewArticle(t, store, title, "body")
	if err := store.ClaimForBatch(ctx, []int64{article.ID}, "batch_seed_"+title); err != nil {
		t.Fatalf("ClaimForBatch: %v", err)
	}
	if err := store.InsertAspects(ctx, article.ID, aspects); err != nil {
		t.Fatalf("InsertAspects: %v", err)
	}
	if err := store.MarkCompleted(ctx, article.ID, nil, false); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
}

func TestRecomputeProducesPopulationMoments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	cfg.Baseline.MinSamples = 2
	baselines := NewStore(store.DB(), cfg.Baseline)

	// Stance observations 1 and 3: mean 2, population variance 1.
	completedArticleWithAspects(t, store, "one", []articles.Aspect{{Name: "economy", Stance: 1, Intensity: 0.2}})
	completedArticleWithAspects(t, store, "two", []articles.Aspect{{Name: "economy", Stance: 3, Intensity: 0.6}})

	result, err := baselines.Recompute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if result.AspectsUpdated != 1 {
		t.Fatalf("aspects updated = %d, want 1", result.AspectsUpdated)
	}

	stat, err := baselines.Get(context.Background(), "economy")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stat == nil {
		t.Fatal("expected economy baseline")
	}
	if math.Abs(stat.MeanStance-2) > 1e-9 {
		t.Errorf("mean stance = %v, want 2", stat.MeanStance)
	}
	if math.Abs(stat.VarStance-1) > 1e-9 {
		t.Errorf("var stance = %v, want 1", stat.VarStance)
	}
	if math.Abs(stat.MeanIntensity-0.4) > 1e-9 {
		t.Errorf("mean intensity = %v, want 0.4", stat.MeanIntensity)
	}
	// cov = E[xy] - E[x]E[y] = (1*0.2 + 3*0.6)/2 - 2*0.4 = 0.2
	if math.Abs(stat.Cov-0.2) > 1e-9 {
		t.Errorf("cov = %v, want 0.2", stat.Cov)
	}
	if stat.SampleCount != 2 {
		t.Errorf("sample count = %d, want 2", stat.SampleCount)
	}
}

func TestRecomputeSkipsAspectsBelowMinimum(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	cfg.Baseline.MinSamples = 5
	baselines := NewStore(store.DB(), cfg.Baseline)

	completedArticleWithAspects(t, store, "lonely", []articles.Aspect{{Name: "fringe", Stance: 1, Intensity: 1}})

	result, err := baselines.Recompute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if result.AspectsUpdated != 0 || result.AspectsSkipped != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	stat, err := baselines.Get(context.Background(), "fringe")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stat != nil {
		t.Fatalf("expected no baseline for under-sampled aspect, got %+v", stat)
	}
}

func TestBaselinesForOmitsExpired(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	cfg.Baseline.MinSamples = 1
	baselines := NewStore(store.DB(), cfg.Baseline)

	completedArticleWithAspects(t, store, "fresh", []articles.Aspect{{Name: "economy", Stance: 1, Intensity: 1}})
	if _, err := baselines.Recompute(context.Background(), nil); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	available, err := baselines.BaselinesFor(context.Background(), []string{"economy"})
	if err != nil {
		t.Fatalf("BaselinesFor: %v", err)
	}
	if _, ok := available["economy"]; !ok {
		t.Fatal("fresh baseline should be available")
	}

	// Jump the clock past twice the window: the stored baseline is stale.
	baselines.now = func() time.Time {
		return time.Now().Add(2*baselines.Window() + time.Hour)
	}
	available, err = baselines.BaselinesFor(context.Background(), []string{"economy"})
	if err != nil {
		t.Fatalf("BaselinesFor: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("expired baseline should be omitted, got %+v", available)
	}
}

func TestRecomputeExpiresStaleBaselines(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	cfg.Baseline.MinSamples = 1
	baselines := NewStore(store.DB(), cfg.Baseline)

	completedArticleWithAspects(t, store, "old", []articles.Aspect{{Name: "economy", Stance: 1, Intensity: 1}})
	if _, err := baselines.Recompute(context.Background(), nil); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	// A later pass far in the future finds no in-window observations and
	// deletes the stale row.
	baselines.now = func() time.Time {
		return time.Now().Add(2*baselines.Window() + time.Hour)
	}
	result, err := baselines.Recompute(context.Background(), nil)
	if err != nil {
		t.Fatalf("second Recompute: %v", err)
	}
	if result.Expired != 1 {
		t.Fatalf("expired = %d, want 1", result.Expired)
	}

	stat, err := baselines.Get(context.Background(), "economy")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stat != nil {
		t.Fatalf("stale baseline should be deleted, got %+v", stat)
	}
}
