package batch

import (
	"context"
	"encoding/json"
	"testing"

	"driftwatch/internal/articles"
	"driftwatch/internal/baseline"
	"driftwatch/internal/config"
	"driftwatch/internal/scoring"
	"driftwatch/internal/testsupport"
)

type env struct {
	cfg        *config.Config
	store      *articles.Store
	fake       *testsupport.FakeProvider
	tracking   *TrackingStore
	builder    *Builder
	processor  *Processor
	recoverer  *Recoverer
	controller *Controller
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeProvider()
	tracking := NewTrackingStore(cfg.TrackingStorePath())
	scorer := scoring.NewScorer(baseline.NewStore(store.DB(), cfg.Baseline))
	builder := NewBuilder(store, fake, tracking, cfg, nil)
	processor := NewProcessor(store, fake, tracking, scorer, cfg, nil)
	recoverer := NewRecoverer(store, fake, tracking, nil)
	controller := NewController(store, fake, tracking, builder, processor, recoverer, cfg, nil)
	return &env{
		cfg:        cfg,
		store:      store,
		fake:       fake,
		tracking:   tracking,
		builder:    builder,
		processor:  processor,
		recoverer:  recoverer,
		controller: controller,
	}
}

func successLine(t *testing.T, correlationID, content string) string {
	t.Helper()
	line := map[string]any{
		"custom_id": correlationID,
		"response": map[string]any{
			"status_code": 200,
			"body": map[string]any{
				"choices": []any{
					map[string]any{"message": map[string]any{"content": content}},
				},
			},
		},
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		t.Fatalf("marshal result line: %v", err)
	}
	return string(encoded)
}

func errorLine(t *testing.T, correlationID, message string) string {
	t.Helper()
	line := map[string]any{
		"custom_id": correlationID,
		"error":     map[string]any{"message": message},
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		t.Fatalf("marshal error line: %v", err)
	}
	return string(encoded)
}

const twoAspectPayload = `{"aspects":[{"name":"economy","stance":0.5,"intensity":0.7},{"name":"immigration","stance":-0.3,"intensity":0.4}]}`

func mustStatuses(t *testing.T, store *articles.Store) articles.StatusCounts {
	t.Helper()
	counts, err := store.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	return counts
}
