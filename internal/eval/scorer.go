package eval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// ScoreProvider is the external text-scoring capability, invocable
// per-dimension.
type ScoreProvider interface {
	ScoreDimension(ctx context.Context, dimension string, candidate Candidate) (DimensionScore, error)
}

// Scorer fans one candidate out to every configured dimension concurrently.
// Dimensions have no data dependency on each other; each call carries its own
// timeout and a bounded exponential-backoff retry. A dimension that stays
// unavailable after retries is reported as missing, never defaulted to a
// passing score.
type Scorer struct {
	provider ScoreProvider
	policy   Policy
}

func NewScorer(provider ScoreProvider, policy Policy) *Scorer {
	return &Scorer{provider: provider, policy: policy}
}

// Score returns the scores obtained in policy order plus the names of
// dimensions whose scoring failed. Partial results are returned; the caller
// decides what a missing dimension means (the aggregator turns any missing
// dimension into VerdictError).
func (s *Scorer) Score(ctx context.Context, candidate Candidate) ([]DimensionScore, []string, error) {
	if strings.TrimSpace(candidate.Text) == "" {
		return nil, nil, errors.New("candidate text is empty")
	}
	dims := s.policy.Dimensions
	scores := make([]DimensionScore, len(dims))
	failures := make([]error, len(dims))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, dim := range dims {
		group.Go(func() error {
			scores[i], failures[i] = s.scoreDimension(groupCtx, dim.Name, candidate)
			return nil
		})
	}
	_ = group.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	out := make([]DimensionScore, 0, len(dims))
	missing := make([]string, 0)
	for i, dim := range dims {
		if failures[i] != nil {
			missing = append(missing, dim.Name)
			continue
		}
		out = append(out, scores[i])
	}
	return out, missing, nil
}

func (s *Scorer) scoreDimension(ctx context.Context, dimension string, candidate Candidate) (DimensionScore, error) {
	operation := func() (DimensionScore, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.policy.ScoringTimeout())
		defer cancel()
		score, err := s.provider.ScoreDimension(callCtx, dimension, candidate)
		if err != nil {
			return DimensionScore{}, err
		}
		if math.IsNaN(score.Value) || score.Value < 0 || score.Value > 1 {
			return DimensionScore{}, fmt.Errorf("score value %v outside [0,1]", score.Value)
		}
		score.Dimension = dimension
		return score, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 3 * time.Second
	score, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.policy.ScoreRetries+1)),
	)
	if err != nil {
		return DimensionScore{}, &ScoringUnavailableError{Dimension: dimension, Err: err}
	}
	return score, nil
}
