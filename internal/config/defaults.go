package config

const (
	defaultDataDir           = "~/.local/share/driftwatch"
	defaultWorkDir           = "~/.local/share/driftwatch/work"
	defaultLogDir            = "~/.local/share/driftwatch/logs"
	defaultProviderBaseURL   = "https://api.openai.com/v1"
	defaultProviderModel     = "gpt-4o-mini"
	defaultCompletionWindow  = "24h"
	defaultProviderTimeout   = 60
	defaultRequestsPerMinute = 60
	defaultBatchSize         = 50
	defaultMinBatchSize      = 50
	defaultMaxActiveBatches  = 3
	defaultPollInterval      = 300
	defaultIdleCycles        = 3
	defaultMaxItemRetries    = 5
	defaultBaselineWindow    = 7
	defaultBaselineSamples   = 5
	defaultBaselineSchedule  = "15 */6 * * *"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Provider: Provider{
			BaseURL:           defaultProviderBaseURL,
			Model:             defaultProviderModel,
			CompletionWindow:  defaultCompletionWindow,
			TimeoutSeconds:    defaultProviderTimeout,
			RequestsPerMinute: defaultRequestsPerMinute,
		},
		Batch: Batch{
			BatchSize:           defaultBatchSize,
			MinBatchSize:        defaultMinBatchSize,
			MaxActiveBatches:    defaultMaxActiveBatches,
			PollIntervalSeconds: defaultPollInterval,
			IdleShutdownCycles:  defaultIdleCycles,
			MaxItemRetries:      defaultMaxItemRetries,
		},
		Baseline: Baseline{
			WindowDays:        defaultBaselineWindow,
			MinSamples:        defaultBaselineSamples,
			RecomputeSchedule: defaultBaselineSchedule,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
