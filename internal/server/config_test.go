package server

import (
	"os"
	"path/filepath"
	"testing"

	"orbit-gate/internal/eval"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("LoadServerConfig error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.Workers.MaxParallelChains != 4 {
		t.Fatalf("unexpected worker count: %d", cfg.Workers.MaxParallelChains)
	}
	if len(cfg.Gate.Dimensions) != 5 {
		t.Fatalf("expected default gate policy, got %d dimensions", len(cfg.Gate.Dimensions))
	}
}

func TestLoadServerConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
listen_addr: ":9090"
provider:
  api_key: sk-test
  scorer_model: test/scorer
workers:
  max_parallel_chains: 2
gate:
  overall_minimum: 0.75
  max_attempts: 2
  dimensions:
    - name: safety
      weight: 1
      min_threshold: 0.8
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.Provider.ScorerModel != "test/scorer" {
		t.Fatalf("unexpected scorer model: %s", cfg.Provider.ScorerModel)
	}
	// Generator model defaults to the scorer model when omitted.
	if cfg.Provider.GeneratorModel != "test/scorer" {
		t.Fatalf("unexpected generator model: %s", cfg.Provider.GeneratorModel)
	}
	if cfg.Gate.OverallMinimum != 0.75 || cfg.Gate.MaxAttempts != 2 {
		t.Fatalf("gate policy not applied: %+v", cfg.Gate)
	}
	if cfg.Workers.MaxParallelChains != 2 {
		t.Fatalf("unexpected worker count: %d", cfg.Workers.MaxParallelChains)
	}
}

func TestLoadServerConfigRejectsInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
gate:
  max_attempts: 0
  dimensions:
    - name: safety
      weight: 1
      min_threshold: 0.8
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := LoadServerConfig(path)
	if err == nil {
		t.Fatalf("expected policy validation error")
	}
	if !eval.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestLoadServerConfigJSONFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.conf")
	content := []byte(`{"listen_addr": ":7070"}`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig error: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
}
