package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ErrNotComputable indicates a score cannot be produced for this article:
// too few aspects carry baselines, or the covariance matrix is singular even
// after regularization. Callers store a null score and move on.
var ErrNotComputable = errors.New("extremeness score not computable")

// regularizationEpsilon is added to the covariance diagonal to guard
// against near-singular matrices.
const regularizationEpsilon = 1e-6

// minAspects is the smallest number of baseline-backed aspects that makes
// the multivariate statistic meaningful.
const minAspects = 2

// Observation is one aspect's score pair extracted from an article.
type Observation struct {
	Aspect    string
	Stance    float64
	Intensity float64
}

// Baseline is the reference distribution for one aspect.
type Baseline struct {
	MeanStance    float64
	MeanIntensity float64
	VarStance     float64
	VarIntensity  float64
	Cov           float64
}

// BaselineSource supplies baselines for a set of aspects. Aspects without a
// current baseline are simply absent from the returned map.
type BaselineSource interface {
	BaselinesFor(ctx context.Context, aspects []string) (map[string]Baseline, error)
}

// Scorer computes Hotelling T² scores against a baseline source.
type Scorer struct {
	source BaselineSource
}

// NewScorer constructs a scorer backed by the given baseline source.
func NewScorer(source BaselineSource) *Scorer {
	return &Scorer{source: source}
}

// Score computes T² = (X−μ)ᵀ Σ⁻¹ (X−μ) for the article's observations.
//
// The observation vector X concatenates each aspect's (stance, intensity)
// pair in sorted aspect order; μ concatenates the matching baseline means.
// Σ is block-diagonal with one 2×2 block per aspect; cross-aspect
// covariance is taken as zero.
func (s *Scorer) Score(ctx context.Context, observations []Observation) (float64, error) {
	if len(observations) == 0 {
		return 0, ErrNotComputable
	}

	names := make([]string, 0, len(observations))
	byAspect := make(map[string]Observation, len(observations))
	for _, obs := range observations {
		if _, dup := byAspect[obs.Aspect]; !dup {
			names = append(names, obs.Aspect)
		}
		byAspect[obs.Aspect] = obs
	}

	baselines, err := s.source.BaselinesFor(ctx, names)
	if err != nil {
		return 0, fmt.Errorf("fetch baselines: %w", err)
	}

	scored := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := baselines[name]; ok {
			scored = append(scored, name)
		}
	}
	if len(scored) < minAspects {
		return 0, ErrNotComputable
	}
	sort.Strings(scored)

	dim := len(scored) * 2
	diff := mat.NewVecDense(dim, nil)
	sigma := mat.NewDense(dim, dim, nil)
	for i, name := range scored {
		obs := byAspect[name]
		base := baselines[name]
		row := i * 2

		diff.SetVec(row, obs.Stance-base.MeanStance)
		diff.SetVec(row+1, obs.Intensity-base.MeanIntensity)

		sigma.Set(row, row, base.VarStance+regularizationEpsilon)
		sigma.Set(row, row+1, base.Cov)
		sigma.Set(row+1, row, base.Cov)
		sigma.Set(row+1, row+1, base.VarIntensity+regularizationEpsilon)
	}

	var inverse mat.Dense
	if err := inverse.Inverse(sigma); err != nil {
		// Singular even after regularization; report not-computable
		// rather than surfacing a numeric failure.
		return 0, ErrNotComputable
	}

	var scaled mat.VecDense
	scaled.MulVec(&inverse, diff)
	return mat.Dot(diff, &scaled), nil
}
