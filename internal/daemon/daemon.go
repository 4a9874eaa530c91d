package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"driftwatch/internal/articles"
	"driftwatch/internal/baseline"
	"driftwatch/internal/batch"
	"driftwatch/internal/config"
	"driftwatch/internal/logging"
)

// ErrLockHeld reports that another instance holds the single-instance
// lock. Concurrent controllers would double-submit batches, so this is
// fatal rather than retryable.
var ErrLockHeld = errors.New("another driftwatch instance is already running")

// Daemon owns the controller lifecycle, the advisory lock, and the
// baseline recomputation schedule.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *articles.Store
	controller *batch.Controller
	recoverer  *batch.Recoverer
	baselines  *baseline.Store

	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *articles.Store, controller *batch.Controller, recoverer *batch.Recoverer, baselines *baseline.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || controller == nil || recoverer == nil || baselines == nil {
		return nil, errors.New("daemon requires config, store, controller, recoverer, and baselines")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		controller: controller,
		recoverer:  recoverer,
		baselines:  baselines,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// LockPath returns the advisory lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Running reports whether the daemon loop is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// RunOnce acquires the lock, reconciles orphaned work, and executes a
// single reconciliation cycle.
func (d *Daemon) RunOnce(ctx context.Context) (batch.CycleStats, error) {
	if err := d.acquire(); err != nil {
		return batch.CycleStats{}, err
	}
	defer d.release()

	if err := d.reconcileStartup(ctx); err != nil {
		return batch.CycleStats{}, err
	}
	return d.controller.RunCycle(ctx)
}

// Run acquires the lock and drives the controller loop until the context
// is cancelled or the queue stays idle long enough to shut down. On idle
// shutdown the configured hook command runs before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()

	d.running.Store(true)
	defer d.running.Store(false)

	if err := d.reconcileStartup(ctx); err != nil {
		return err
	}

	scheduler, err := d.startBaselineSchedule(ctx)
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer func() { <-scheduler.Stop().Done() }()
	}

	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("poll_interval_seconds", d.cfg.Batch.PollIntervalSeconds))

	err = d.controller.RunLoop(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			d.logger.Info("daemon stopped")
			return nil
		}
		return err
	}

	// Idle shutdown: the queue drained and stayed empty.
	d.runIdleHook()
	d.logger.Info("daemon stopped after idle shutdown")
	return nil
}

func (d *Daemon) acquire() error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

func (d *Daemon) release() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release instance lock", logging.Error(err))
	}
}

func (d *Daemon) reconcileStartup(ctx context.Context) error {
	released, err := d.recoverer.ReconcileOrphans(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	if released > 0 {
		d.logger.Warn("startup reconciliation released orphaned articles",
			logging.Int64("released", released))
	}
	return nil
}

func (d *Daemon) startBaselineSchedule(ctx context.Context) (*cron.Cron, error) {
	schedule := d.cfg.Baseline.RecomputeSchedule
	if schedule == "" {
		return nil, nil
	}
	scheduler := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	_, err := scheduler.AddFunc(schedule, func() {
		if _, err := d.baselines.Recompute(ctx, d.logger); err != nil {
			d.logger.Error("scheduled baseline recomputation", logging.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule baseline recomputation: %w", err)
	}
	scheduler.Start()
	return scheduler, nil
}

func (d *Daemon) runIdleHook() {
	command := d.cfg.Batch.OnIdleExit
	if command == "" {
		return
	}
	cmd := exec.Command("sh", "-c", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		d.logger.Error("idle exit hook failed",
			logging.String("command", command),
			logging.String("output", string(output)),
			logging.Error(err))
		return
	}
	d.logger.Info("idle exit hook finished", logging.String("command", command))
}
