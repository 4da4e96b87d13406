package server

import (
	"testing"
	"time"

	"orbit-gate/internal/eval"
)

func testServerConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.Workers.MaxParallelChains = 1
	cfg.Workers.DefaultChainTimeoutSec = 30
	return cfg
}

func waitForTerminal(t *testing.T, store Store, chainID string) ChainMeta {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		meta, ok := store.GetChain(chainID)
		if ok {
			switch meta.Status {
			case StatusReleased, StatusDiscarded, StatusFailed:
				return meta
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("chain %s never reached a terminal status", chainID)
	return ChainMeta{}
}

func TestChainManagerDryRunReleases(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	manager := NewChainManager(testServerConfig(), store, nil)
	defer manager.Shutdown()

	meta, err := manager.CreateChain(ChainRequest{
		Context: map[string]any{"topic": "hydration nudge"},
		DryRun:  true,
	}, "test")
	if err != nil {
		t.Fatalf("CreateChain error: %v", err)
	}
	if meta.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", meta.Status)
	}

	final := waitForTerminal(t, store, meta.ChainID)
	if final.Status != StatusReleased {
		t.Fatalf("expected released, got %s (%s)", final.Status, final.Error)
	}
	if final.Audit == nil {
		t.Fatalf("terminal chain must carry its audit record")
	}
	if final.Audit.Outcome != eval.OutcomeReleased || final.Audit.ReleasedText == "" {
		t.Fatalf("unexpected audit record: %+v", final.Audit)
	}
	if final.Summary.FinalVerdict != string(eval.VerdictApproved) {
		t.Fatalf("unexpected summary verdict: %s", final.Summary.FinalVerdict)
	}

	events := store.ListChainEvents(meta.ChainID, 0)
	stages := map[string]bool{}
	for _, event := range events {
		stages[event.Stage] = true
	}
	for _, want := range []string{"queue", "start", "generated", "decision", "completed"} {
		if !stages[want] {
			t.Fatalf("missing %q event, got %+v", want, events)
		}
	}

	audit := store.ListAudit(10)
	if len(audit) != 1 || audit[0].ChainID != meta.ChainID {
		t.Fatalf("expected one audit record for the chain, got %+v", audit)
	}
}

func TestChainManagerDryRunDiscardsOnHardGate(t *testing.T) {
	cfg := testServerConfig()
	// Force a hard-gate failure: the stub scores every dimension 0.92, so
	// raise safety's floor above it.
	for i := range cfg.Gate.Dimensions {
		if cfg.Gate.Dimensions[i].Name == "safety" {
			cfg.Gate.Dimensions[i].MinThreshold = 0.99
		}
	}
	cfg.Gate.MaxAttempts = 2
	store, _ := NewMemoryFileStore("")
	manager := NewChainManager(cfg, store, nil)
	defer manager.Shutdown()

	meta, err := manager.CreateChain(ChainRequest{
		Context: map[string]any{"topic": "demo"},
		DryRun:  true,
	}, "test")
	if err != nil {
		t.Fatalf("CreateChain error: %v", err)
	}
	final := waitForTerminal(t, store, meta.ChainID)
	if final.Status != StatusDiscarded {
		t.Fatalf("expected discarded, got %s", final.Status)
	}
	if final.Summary.Attempts != 2 {
		t.Fatalf("expected retry budget of 2 consumed, got %d", final.Summary.Attempts)
	}
	if !final.Summary.LowConfidence {
		t.Fatalf("exhausted chain should surface a low-confidence best attempt")
	}
}

func TestCreateChainValidation(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	manager := NewChainManager(testServerConfig(), store, nil)
	defer manager.Shutdown()

	if _, err := manager.CreateChain(ChainRequest{DryRun: true}, "test"); err == nil {
		t.Fatalf("expected error for missing context")
	}
	// Live chains need a provider key.
	if _, err := manager.CreateChain(ChainRequest{Context: map[string]any{"k": "v"}}, "test"); err == nil {
		t.Fatalf("expected error without provider api key")
	}
}
