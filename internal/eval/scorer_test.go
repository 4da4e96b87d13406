package eval

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeScoreProvider struct {
	mu        sync.Mutex
	values    map[string]float64
	failAfter map[string]int // fail the first N calls for a dimension
	broken    map[string]bool
	calls     map[string]int
}

func newFakeScoreProvider(values map[string]float64) *fakeScoreProvider {
	return &fakeScoreProvider{
		values:    values,
		failAfter: map[string]int{},
		broken:    map[string]bool{},
		calls:     map[string]int{},
	}
}

func (p *fakeScoreProvider) ScoreDimension(_ context.Context, dimension string, _ Candidate) (DimensionScore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[dimension]++
	if p.broken[dimension] {
		return DimensionScore{}, errors.New("provider down")
	}
	if p.calls[dimension] <= p.failAfter[dimension] {
		return DimensionScore{}, errors.New("transient failure")
	}
	value, ok := p.values[dimension]
	if !ok {
		value = 0.9
	}
	return DimensionScore{Value: value, Rationale: "ok"}, nil
}

func (p *fakeScoreProvider) callCount(dimension string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[dimension]
}

func testPolicy() Policy {
	policy := DefaultPolicy()
	policy.ScoreRetries = 0
	policy.ScoringTimeoutMS = 2000
	policy.GenerationTimeoutMS = 2000
	return policy
}

func TestScorerScoresEveryDimension(t *testing.T) {
	policy := testPolicy()
	provider := newFakeScoreProvider(map[string]float64{
		"safety":             0.9,
		"relevance":          0.8,
		"accuracy":           0.85,
		"success_likelihood": 0.7,
		"engagement":         0.75,
	})
	scorer := NewScorer(provider, policy)

	scores, missing, err := scorer.Score(context.Background(), NewCandidate("hello", nil, 1, ""))
	if err != nil {
		t.Fatalf("Score error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing dimensions, got %v", missing)
	}
	if len(scores) != len(policy.Dimensions) {
		t.Fatalf("expected %d scores, got %d", len(policy.Dimensions), len(scores))
	}
	// Scores come back in policy order regardless of completion order.
	for i, dim := range policy.Dimensions {
		if scores[i].Dimension != dim.Name {
			t.Fatalf("expected scores[%d]=%s, got %s", i, dim.Name, scores[i].Dimension)
		}
	}
	for _, dim := range policy.Dimensions {
		if provider.callCount(dim.Name) != 1 {
			t.Fatalf("expected one call for %s, got %d", dim.Name, provider.callCount(dim.Name))
		}
	}
}

func TestScorerRetriesTransientFailure(t *testing.T) {
	policy := testPolicy()
	policy.ScoreRetries = 2
	provider := newFakeScoreProvider(nil)
	provider.failAfter["safety"] = 1
	scorer := NewScorer(provider, policy)

	_, missing, err := scorer.Score(context.Background(), NewCandidate("hello", nil, 1, ""))
	if err != nil {
		t.Fatalf("Score error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected retry to recover, missing=%v", missing)
	}
	if provider.callCount("safety") != 2 {
		t.Fatalf("expected 2 calls for safety, got %d", provider.callCount("safety"))
	}
}

func TestScorerReportsMissingAfterExhaustion(t *testing.T) {
	policy := testPolicy()
	provider := newFakeScoreProvider(nil)
	provider.broken["accuracy"] = true
	scorer := NewScorer(provider, policy)

	scores, missing, err := scorer.Score(context.Background(), NewCandidate("hello", nil, 1, ""))
	if err != nil {
		t.Fatalf("Score error: %v", err)
	}
	if len(missing) != 1 || missing[0] != "accuracy" {
		t.Fatalf("expected missing=[accuracy], got %v", missing)
	}
	if len(scores) != len(policy.Dimensions)-1 {
		t.Fatalf("expected partial scores, got %d", len(scores))
	}
}

func TestScorerRejectsOutOfRangeValue(t *testing.T) {
	policy := testPolicy()
	provider := newFakeScoreProvider(map[string]float64{"safety": 1.5})
	scorer := NewScorer(provider, policy)

	_, missing, err := scorer.Score(context.Background(), NewCandidate("hello", nil, 1, ""))
	if err != nil {
		t.Fatalf("Score error: %v", err)
	}
	if len(missing) != 1 || missing[0] != "safety" {
		t.Fatalf("expected out-of-range value to count as missing, got %v", missing)
	}
}

func TestScorerRejectsEmptyCandidate(t *testing.T) {
	scorer := NewScorer(newFakeScoreProvider(nil), testPolicy())
	if _, _, err := scorer.Score(context.Background(), Candidate{Text: "  "}); err == nil {
		t.Fatalf("expected error for empty candidate text")
	}
}

func TestScorerReturnsContextError(t *testing.T) {
	scorer := NewScorer(newFakeScoreProvider(nil), testPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := scorer.Score(ctx, NewCandidate("hello", nil, 1, ""))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
