package config

import (
	"os"
	"strings"
)

// normalize expands path fields, applies environment fallbacks, and fills
// zero values with defaults so Validate can assume a fully populated config.
func (c *Config) normalize() error {
	for _, field := range []*string{&c.Paths.DataDir, &c.Paths.WorkDir, &c.Paths.LogDir} {
		expanded, err := expandPath(strings.TrimSpace(*field))
		if err != nil {
			return err
		}
		*field = expanded
	}

	c.Provider.APIKey = strings.TrimSpace(c.Provider.APIKey)
	if c.Provider.APIKey == "" {
		c.Provider.APIKey = strings.TrimSpace(os.Getenv("DRIFTWATCH_API_KEY"))
	}
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = defaultProviderBaseURL
	}
	c.Provider.Model = strings.TrimSpace(c.Provider.Model)
	if c.Provider.Model == "" {
		c.Provider.Model = defaultProviderModel
	}
	if strings.TrimSpace(c.Provider.CompletionWindow) == "" {
		c.Provider.CompletionWindow = defaultCompletionWindow
	}
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = defaultProviderTimeout
	}
	if c.Provider.RequestsPerMinute <= 0 {
		c.Provider.RequestsPerMinute = defaultRequestsPerMinute
	}

	if c.Batch.BatchSize <= 0 {
		c.Batch.BatchSize = defaultBatchSize
	}
	if c.Batch.MinBatchSize <= 0 {
		c.Batch.MinBatchSize = defaultMinBatchSize
	}
	if c.Batch.MaxActiveBatches <= 0 {
		c.Batch.MaxActiveBatches = defaultMaxActiveBatches
	}
	if c.Batch.PollIntervalSeconds <= 0 {
		c.Batch.PollIntervalSeconds = defaultPollInterval
	}
	if c.Batch.IdleShutdownCycles < 0 {
		c.Batch.IdleShutdownCycles = defaultIdleCycles
	}

	if c.Baseline.WindowDays <= 0 {
		c.Baseline.WindowDays = defaultBaselineWindow
	}
	if c.Baseline.MinSamples <= 0 {
		c.Baseline.MinSamples = defaultBaselineSamples
	}

	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaultLogFormat
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}
