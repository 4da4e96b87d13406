package eval

import (
	"context"
	"fmt"
	"sync"
)

// StubProvider is a deterministic in-process generator and scorer used by
// dry-run chains and tests. Every dimension scores Values[name] when set,
// otherwise 0.92.
type StubProvider struct {
	Text   string
	Values map[string]float64

	mu        sync.Mutex
	generated int
}

func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (p *StubProvider) Generate(_ context.Context, _ map[string]any, feedback []RejectionFeedback) (string, error) {
	p.mu.Lock()
	p.generated++
	attempt := p.generated
	p.mu.Unlock()
	if p.Text != "" {
		return p.Text, nil
	}
	if len(feedback) > 0 {
		return fmt.Sprintf("dry-run candidate (attempt %d, revised)", attempt), nil
	}
	return fmt.Sprintf("dry-run candidate (attempt %d)", attempt), nil
}

func (p *StubProvider) ScoreDimension(_ context.Context, dimension string, _ Candidate) (DimensionScore, error) {
	value := 0.92
	if v, ok := p.Values[dimension]; ok {
		value = v
	}
	return DimensionScore{
		Dimension: dimension,
		Value:     value,
		Rationale: "dry-run simulated score",
	}, nil
}

// Generated reports how many generation calls were made.
func (p *StubProvider) Generated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generated
}
