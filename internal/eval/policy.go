package eval

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DimensionPolicy configures one quality axis: its contribution to the
// weighted overall score and the hard-gate minimum below which the candidate
// is rejected regardless of the aggregate.
type DimensionPolicy struct {
	Name         string  `json:"name" yaml:"name"`
	Weight       float64 `json:"weight" yaml:"weight"`
	MinThreshold float64 `json:"min_threshold" yaml:"min_threshold"`
}

// Policy is the full admission configuration for a gate. Dimension order is
// preserved: failed dimensions are reported in the order configured here.
type Policy struct {
	Dimensions          []DimensionPolicy `json:"dimensions" yaml:"dimensions"`
	OverallMinimum      float64           `json:"overall_minimum" yaml:"overall_minimum"`
	MaxAttempts         int               `json:"max_attempts" yaml:"max_attempts"`
	ScoringTimeoutMS    int               `json:"scoring_timeout_ms" yaml:"scoring_timeout_ms"`
	GenerationTimeoutMS int               `json:"generation_timeout_ms" yaml:"generation_timeout_ms"`
	ScoreRetries        int               `json:"score_retries" yaml:"score_retries"`
}

// DefaultPolicy mirrors the intervention thresholds the gate shipped with:
// safety is weighted highest and carries the strictest hard gate.
func DefaultPolicy() Policy {
	return Policy{
		Dimensions: []DimensionPolicy{
			{Name: "safety", Weight: 0.25, MinThreshold: 0.8},
			{Name: "relevance", Weight: 0.20, MinThreshold: 0.7},
			{Name: "accuracy", Weight: 0.20, MinThreshold: 0.8},
			{Name: "success_likelihood", Weight: 0.20, MinThreshold: 0.6},
			{Name: "engagement", Weight: 0.15, MinThreshold: 0.7},
		},
		OverallMinimum:      0.7,
		MaxAttempts:         3,
		ScoringTimeoutMS:    20000,
		GenerationTimeoutMS: 30000,
		ScoreRetries:        2,
	}
}

// Validate fails fast on misconfiguration. A policy that passes Validate can
// always be aggregated without runtime configuration errors.
func (p Policy) Validate() error {
	if len(p.Dimensions) == 0 {
		return &ConfigError{Field: "dimensions", Reason: "at least one dimension is required"}
	}
	seen := map[string]bool{}
	totalWeight := 0.0
	for i, dim := range p.Dimensions {
		name := strings.TrimSpace(dim.Name)
		if name == "" {
			return &ConfigError{Field: fmt.Sprintf("dimensions[%d].name", i), Reason: "name is empty"}
		}
		if seen[name] {
			return &ConfigError{Field: fmt.Sprintf("dimensions[%d].name", i), Reason: "duplicate dimension " + name}
		}
		seen[name] = true
		if dim.Weight < 0 || math.IsNaN(dim.Weight) {
			return &ConfigError{Field: name + ".weight", Reason: "weight must be >= 0"}
		}
		if dim.MinThreshold < 0 || dim.MinThreshold > 1 {
			return &ConfigError{Field: name + ".min_threshold", Reason: "threshold must be in [0,1]"}
		}
		totalWeight += dim.Weight
	}
	if totalWeight <= 0 {
		return &ConfigError{Field: "dimensions", Reason: "total weight is zero"}
	}
	if p.OverallMinimum < 0 || p.OverallMinimum > 1 {
		return &ConfigError{Field: "overall_minimum", Reason: "must be in [0,1]"}
	}
	if p.MaxAttempts < 1 {
		return &ConfigError{Field: "max_attempts", Reason: "must be >= 1"}
	}
	if p.ScoreRetries < 0 {
		return &ConfigError{Field: "score_retries", Reason: "must be >= 0"}
	}
	return nil
}

// LoadPolicy reads a policy from a YAML or JSON file. Fields the file omits
// keep their defaults, so a file can override just the thresholds.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return policy, fmt.Errorf("read policy: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &policy); err != nil {
			return policy, fmt.Errorf("parse json policy: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &policy); err != nil {
			return policy, fmt.Errorf("parse yaml policy: %w", err)
		}
	}
	return policy, nil
}

func (p Policy) ScoringTimeout() time.Duration {
	if p.ScoringTimeoutMS <= 0 {
		return 20 * time.Second
	}
	return time.Duration(p.ScoringTimeoutMS) * time.Millisecond
}

func (p Policy) GenerationTimeout() time.Duration {
	if p.GenerationTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.GenerationTimeoutMS) * time.Millisecond
}

// DimensionNames returns names in configured order.
func (p Policy) DimensionNames() []string {
	out := make([]string, 0, len(p.Dimensions))
	for _, dim := range p.Dimensions {
		out = append(out, dim.Name)
	}
	return out
}
