package baseline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"driftwatch/internal/articles"
	"driftwatch/internal/config"
	"driftwatch/internal/scoring"
)

// Stat is the persisted baseline distribution for one aspect.
type Stat struct {
	Aspect        string
	MeanStance    float64
	MeanIntensity float64
	VarStance     float64
	VarIntensity  float64
	Cov           float64
	SampleCount   int
	WindowStart   time.Time
	WindowEnd     time.Time
	ComputedAt    time.Time
}

// Store reads and writes aspect baselines. It shares the article database.
type Store struct {
	db         *sql.DB
	window     time.Duration
	minSamples int
	now        func() time.Time
}

// NewStore constructs a baseline store over an existing database handle.
func NewStore(db *sql.DB, cfg config.Baseline) *Store {
	return &Store{
		db:         db,
		window:     time.Duration(cfg.WindowDays) * 24 * time.Hour,
		minSamples: cfg.MinSamples,
		now:        time.Now,
	}
}

// Window returns the trailing aggregation window.
func (s *Store) Window() time.Duration {
	return s.window
}

// Get returns the stored baseline for one aspect, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, aspect string) (*Stat, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT aspect, mean_stance, mean_intensity, var_stance, var_intensity, cov,
                sample_count, window_start, window_end, computed_at
         FROM aspect_baselines WHERE aspect = ?`,
		aspect,
	)
	stat, err := scanStat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	return stat, nil
}

// List returns all stored baselines ordered by aspect.
func (s *Store) List(ctx context.Context) ([]*Stat, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT aspect, mean_stance, mean_intensity, var_stance, var_intensity, cov,
                sample_count, window_start, window_end, computed_at
         FROM aspect_baselines ORDER BY aspect`,
	)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	var stats []*Stat
	for rows.Next() {
		stat, err := scanStat(rows)
		if err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// BaselinesFor implements scoring.BaselineSource. Baselines older than twice
// the aggregation window are treated as expired and omitted.
func (s *Store) BaselinesFor(ctx context.Context, aspects []string) (map[string]scoring.Baseline, error) {
	out := make(map[string]scoring.Baseline, len(aspects))
	cutoff := s.now().Add(-2 * s.window)
	for _, aspect := range aspects {
		stat, err := s.Get(ctx, aspect)
		if err != nil {
			return nil, err
		}
		if stat == nil || stat.ComputedAt.Before(cutoff) {
			continue
		}
		out[aspect] = scoring.Baseline{
			MeanStance:    stat.MeanStance,
			MeanIntensity: stat.MeanIntensity,
			VarStance:     stat.VarStance,
			VarIntensity:  stat.VarIntensity,
			Cov:           stat.Cov,
		}
	}
	return out, nil
}

func (s *Store) upsert(ctx context.Context, stat Stat) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO aspect_baselines (aspect, mean_stance, mean_intensity, var_stance, var_intensity, cov,
                                       sample_count, window_start, window_end, computed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (aspect) DO UPDATE SET
             mean_stance = excluded.mean_stance,
             mean_intensity = excluded.mean_intensity,
             var_stance = excluded.var_stance,
             var_intensity = excluded.var_intensity,
             cov = excluded.cov,
             sample_count = excluded.sample_count,
             window_start = excluded.window_start,
             window_end = excluded.window_end,
             computed_at = excluded.computed_at`,
		stat.Aspect,
		stat.MeanStance,
		stat.MeanIntensity,
		stat.VarStance,
		stat.VarIntensity,
		stat.Cov,
		stat.SampleCount,
		stat.WindowStart.UTC().Format(articles.TimeLayout),
		stat.WindowEnd.UTC().Format(articles.TimeLayout),
		stat.ComputedAt.UTC().Format(articles.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert baseline %q: %w", stat.Aspect, err)
	}
	return nil
}

func scanStat(scanner interface{ Scan(dest ...any) error }) (*Stat, error) {
	var (
		stat        Stat
		windowStart string
		windowEnd   string
		computedAt  string
	)
	if err := scanner.Scan(
		&stat.Aspect,
		&stat.MeanStance,
		&stat.MeanIntensity,
		&stat.VarStance,
		&stat.VarIntensity,
		&stat.Cov,
		&stat.SampleCount,
		&windowStart,
		&windowEnd,
		&computedAt,
	); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, windowStart); err == nil {
		stat.WindowStart = t
	}
	if t, err := time.Parse(time.RFC3339Nano, windowEnd); err == nil {
		stat.WindowEnd = t
	}
	if t, err := time.Parse(time.RFC3339Nano, computedAt); err == nil {
		stat.ComputedAt = t
	}
	return &stat, nil
}
