package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"orbit-gate/internal/eval"
)

type ServerConfig struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Provider   ProviderConfig      `json:"provider" yaml:"provider"`
	Gate       eval.Policy         `json:"gate" yaml:"gate"`
	Workers    WorkerConfig        `json:"workers" yaml:"workers"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
	SnapshotPath   string `json:"snapshot_path" yaml:"snapshot_path"`
}

type ProviderConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	ScorerModel    string `json:"scorer_model" yaml:"scorer_model"`
	GeneratorModel string `json:"generator_model" yaml:"generator_model"`
	Referer        string `json:"referer" yaml:"referer"`
	Title          string `json:"title" yaml:"title"`
}

type WorkerConfig struct {
	MaxParallelChains      int `json:"max_parallel_chains" yaml:"max_parallel_chains"`
	DefaultChainTimeoutSec int `json:"default_chain_timeout_sec" yaml:"default_chain_timeout_sec"`
}

type SecurityConfig struct {
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Provider: ProviderConfig{
			ScorerModel:    "anthropic/claude-sonnet-4",
			GeneratorModel: "anthropic/claude-sonnet-4",
		},
		Gate: eval.DefaultPolicy(),
		Workers: WorkerConfig{
			MaxParallelChains:      4,
			DefaultChainTimeoutSec: 300,
		},
		Observer: ObservabilityConfig{
			ServiceName: "gate-api",
			SampleRatio: 1,
		},
	}
}

// LoadServerConfig reads YAML or JSON config and validates the gate policy.
// A malformed policy is rejected here, at startup, never at decision time.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	if err := cfg.Gate.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Provider.ScorerModel) == "" {
		cfg.Provider.ScorerModel = "anthropic/claude-sonnet-4"
	}
	if strings.TrimSpace(cfg.Provider.GeneratorModel) == "" {
		cfg.Provider.GeneratorModel = cfg.Provider.ScorerModel
	}
	if len(cfg.Gate.Dimensions) == 0 {
		cfg.Gate = eval.DefaultPolicy()
	}
	if cfg.Workers.MaxParallelChains <= 0 {
		cfg.Workers.MaxParallelChains = 4
	}
	if cfg.Workers.DefaultChainTimeoutSec <= 0 {
		cfg.Workers.DefaultChainTimeoutSec = 300
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "gate-api"
	}
}
