package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"driftwatch/internal/articles"
	"driftwatch/internal/baseline"
	"driftwatch/internal/batch"
	"driftwatch/internal/config"
	"driftwatch/internal/daemon"
	"driftwatch/internal/logging"
	"driftwatch/internal/provider/openaibatch"
	"driftwatch/internal/scoring"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// services bundles the wired components a command needs. Close releases
// the store.
type services struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *articles.Store
	tracking   *batch.TrackingStore
	baselines  *baseline.Store
	controller *batch.Controller
	recoverer  *batch.Recoverer
	daemon     *daemon.Daemon
}

func (s *services) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

// openServices wires the full batch lifecycle stack. When logToFile is set
// the logger also writes to the daemon log under the configured log dir.
func (c *commandContext) openServices(logToFile bool) (*services, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	outputs := []string{"stdout"}
	if logToFile {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "driftwatch.log"))
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := articles.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open article store: %w", err)
	}

	client := openaibatch.NewClient(openaibatch.Config{
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		CompletionWindow:  cfg.Provider.CompletionWindow,
		TimeoutSeconds:    cfg.Provider.TimeoutSeconds,
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
	})

	tracking := batch.NewTrackingStore(cfg.TrackingStorePath())
	baselines := baseline.NewStore(store.DB(), cfg.Baseline)
	scorer := scoring.NewScorer(baselines)
	builder := batch.NewBuilder(store, client, tracking, cfg, logger)
	processor := batch.NewProcessor(store, client, tracking, scorer, cfg, logger)
	recoverer := batch.NewRecoverer(store, client, tracking, logger)
	controller := batch.NewController(store, client, tracking, builder, processor, recoverer, cfg, logger)

	d, err := daemon.New(cfg, store, controller, recoverer, baselines, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &services{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		tracking:   tracking,
		baselines:  baselines,
		controller: controller,
		recoverer:  recoverer,
		daemon:     d,
	}, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
