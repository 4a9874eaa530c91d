// Package testsupport provides shared helpers for driftwatch tests: temp-dir
// configs, store setup, and a scripted fake submission client.
package testsupport

import (
	"path/filepath"
	"testing"

	"driftwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Provider.APIKey = "sk-test"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithBatchSizing overrides batch sizing on the test config.
func WithBatchSizing(batchSize, minBatchSize, maxActive int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Batch.BatchSize = batchSize
		cfg.Batch.MinBatchSize = minBatchSize
		cfg.Batch.MaxActiveBatches = maxActive
	}
}

// WithMaxItemRetries overrides the per-article retry ceiling.
func WithMaxItemRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Batch.MaxItemRetries = n
	}
}
