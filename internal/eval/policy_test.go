package eval

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}
}

func TestValidateRejectsBadPolicies(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"no dimensions", func(p *Policy) { p.Dimensions = nil }},
		{"empty name", func(p *Policy) { p.Dimensions[0].Name = " " }},
		{"duplicate name", func(p *Policy) { p.Dimensions[1].Name = p.Dimensions[0].Name }},
		{"negative weight", func(p *Policy) { p.Dimensions[0].Weight = -0.1 }},
		{"zero total weight", func(p *Policy) {
			for i := range p.Dimensions {
				p.Dimensions[i].Weight = 0
			}
		}},
		{"threshold above one", func(p *Policy) { p.Dimensions[0].MinThreshold = 1.2 }},
		{"overall minimum above one", func(p *Policy) { p.OverallMinimum = 1.5 }},
		{"zero max attempts", func(p *Policy) { p.MaxAttempts = 0 }},
		{"negative retries", func(p *Policy) { p.ScoreRetries = -1 }},
	}
	for _, tc := range cases {
		policy := DefaultPolicy()
		tc.mutate(&policy)
		err := policy.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !IsConfigError(err) {
			t.Fatalf("%s: expected ConfigError, got %T", tc.name, err)
		}
	}
}

func TestLoadPolicyOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := []byte(`
overall_minimum: 0.6
max_attempts: 5
dimensions:
  - name: safety
    weight: 0.6
    min_threshold: 0.9
  - name: relevance
    weight: 0.4
    min_threshold: 0.5
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy error: %v", err)
	}
	if policy.OverallMinimum != 0.6 || policy.MaxAttempts != 5 {
		t.Fatalf("overrides not applied: %+v", policy)
	}
	if len(policy.Dimensions) != 2 || policy.Dimensions[0].Name != "safety" {
		t.Fatalf("dimensions not replaced: %+v", policy.Dimensions)
	}
	// Omitted fields keep their defaults.
	if policy.ScoreRetries != DefaultPolicy().ScoreRetries {
		t.Fatalf("expected default score retries, got %d", policy.ScoreRetries)
	}
	if err := policy.Validate(); err != nil {
		t.Fatalf("loaded policy must validate: %v", err)
	}
}

func TestLoadPolicyMissingFile(t *testing.T) {
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
