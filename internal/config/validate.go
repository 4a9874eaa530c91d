package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateBaseline(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateProvider() error {
	if c.Provider.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/driftwatch/config.toml"
		}
		return fmt.Errorf("provider.api_key is required. Set DRIFTWATCH_API_KEY env var or edit %s (create with 'driftwatch config init')", defaultPath)
	}
	if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return fmt.Errorf("provider.base_url must be an http(s) URL, got %q", c.Provider.BaseURL)
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.MinBatchSize > c.Batch.BatchSize {
		return fmt.Errorf("batch.min_batch_size (%d) must not exceed batch.batch_size (%d)", c.Batch.MinBatchSize, c.Batch.BatchSize)
	}
	if c.Batch.MaxItemRetries < 1 {
		return fmt.Errorf("batch.max_item_retries must be at least 1, got %d", c.Batch.MaxItemRetries)
	}
	return nil
}

func (c *Config) validateBaseline() error {
	// Empty disables the scheduled recompute; "driftwatch baseline
	// recompute" still works on demand.
	if c.Baseline.RecomputeSchedule == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(c.Baseline.RecomputeSchedule); err != nil {
		return fmt.Errorf("baseline.recompute_schedule: invalid cron expression %q: %w", c.Baseline.RecomputeSchedule, err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
