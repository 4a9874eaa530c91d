package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"driftwatch/internal/articles"
	"driftwatch/internal/logging"
)

// RecomputeResult summarizes one recomputation pass.
type RecomputeResult struct {
	AspectsUpdated int
	AspectsSkipped int
	Expired        int64
	WindowStart    time.Time
	WindowEnd      time.Time
}

// Recompute rebuilds every aspect baseline from completed-article
// observations inside the trailing window, then expires baselines older
// than twice the window. Aspects below the minimum sample count are skipped
// (and their stale baseline, if any, ages out on its own).
func (s *Store) Recompute(ctx context.Context, logger *slog.Logger) (RecomputeResult, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	now := s.now().UTC()
	windowStart := now.Add(-s.window)
	result := RecomputeResult{WindowStart: windowStart, WindowEnd: now}

	// Population moments per aspect over the window. Variance and
	// covariance derive from E[x²]−E[x]² and E[xy]−E[x]E[y].
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT aa.aspect,
                COUNT(1),
                AVG(aa.stance),
                AVG(aa.intensity),
                AVG(aa.stance * aa.stance),
                AVG(aa.intensity * aa.intensity),
                AVG(aa.stance * aa.intensity)
         FROM article_aspects aa
         JOIN articles a ON a.id = aa.article_id
         WHERE a.status = 'completed'
           AND a.processed_at IS NOT NULL
           AND a.processed_at >= ?
           AND a.processed_at <= ?
         GROUP BY aa.aspect`,
		windowStart.Format(articles.TimeLayout),
		now.Format(articles.TimeLayout),
	)
	if err != nil {
		return result, fmt.Errorf("aggregate observations: %w", err)
	}
	defer rows.Close()

	var stats []Stat
	for rows.Next() {
		var (
			aspect        string
			count         int
			meanStance    float64
			meanIntensity float64
			meanStanceSq  float64
			meanIntensSq  float64
			meanCross     float64
		)
		if err := rows.Scan(&aspect, &count, &meanStance, &meanIntensity, &meanStanceSq, &meanIntensSq, &meanCross); err != nil {
			return result, err
		}
		if count < s.minSamples {
			result.AspectsSkipped++
			logger.Debug("aspect below minimum sample count",
				logging.String(logging.FieldAspect, aspect),
				logging.Int("samples", count),
				logging.Int("min_samples", s.minSamples),
			)
			continue
		}
		stats = append(stats, Stat{
			Aspect:        aspect,
			MeanStance:    meanStance,
			MeanIntensity: meanIntensity,
			VarStance:     meanStanceSq - meanStance*meanStance,
			VarIntensity:  meanIntensSq - meanIntensity*meanIntensity,
			Cov:           meanCross - meanStance*meanIntensity,
			SampleCount:   count,
			WindowStart:   windowStart,
			WindowEnd:     now,
			ComputedAt:    now,
		})
	}
	if err := rows.Err(); err != nil {
		return result, err
	}

	for _, stat := range stats {
		if err := s.upsert(ctx, stat); err != nil {
			return result, err
		}
		result.AspectsUpdated++
	}

	expired, err := s.expire(ctx, now)
	if err != nil {
		return result, err
	}
	result.Expired = expired

	logger.Info("baseline recomputation finished",
		logging.Int("aspects_updated", result.AspectsUpdated),
		logging.Int("aspects_skipped", result.AspectsSkipped),
		logging.Int64("expired", result.Expired),
	)
	return result, nil
}

// expire deletes baselines whose computed_at is older than twice the window.
func (s *Store) expire(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-2 * s.window)
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM aspect_baselines WHERE computed_at < ?`,
		cutoff.UTC().Format(articles.TimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("expire baselines: %w", err)
	}
	return res.RowsAffected()
}
