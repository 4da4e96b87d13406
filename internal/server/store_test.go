package server

import (
	"path/filepath"
	"testing"

	"orbit-gate/internal/eval"
)

func TestMemoryStoreChainLifecycle(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := ChainMeta{
		ChainID:   "chain_test_1",
		Status:    StatusQueued,
		Source:    "test",
		CreatedAt: nowRFC3339(),
	}
	if err := store.CreateChain(meta); err != nil {
		t.Fatalf("CreateChain error: %v", err)
	}
	if err := store.CreateChain(meta); err == nil {
		t.Fatalf("expected duplicate chain id to fail")
	}
	event, err := store.AppendChainEvent(meta.ChainID, "queue", "queued", nil)
	if err != nil {
		t.Fatalf("AppendChainEvent error: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected first seq=1, got %d", event.Seq)
	}
	updated, err := store.UpdateChain(meta.ChainID, func(item *ChainMeta) {
		item.Status = StatusRunning
	})
	if err != nil {
		t.Fatalf("UpdateChain error: %v", err)
	}
	if updated.Status != StatusRunning {
		t.Fatalf("expected status running, got %s", updated.Status)
	}
	if _, ok := store.GetChain("missing"); ok {
		t.Fatalf("expected missing chain lookup to fail")
	}
}

func TestMemoryStoreEventCursor(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	_ = store.CreateChain(ChainMeta{ChainID: "chain_events", Status: StatusQueued, CreatedAt: nowRFC3339()})
	for i := 0; i < 3; i++ {
		if _, err := store.AppendChainEvent("chain_events", "stage", "msg", nil); err != nil {
			t.Fatalf("AppendChainEvent error: %v", err)
		}
	}
	all := store.ListChainEvents("chain_events", 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	tail := store.ListChainEvents("chain_events", 2)
	if len(tail) != 1 || tail[0].Seq != 3 {
		t.Fatalf("expected only seq 3 past cursor 2, got %+v", tail)
	}
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "store.json")
	store, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	_ = store.CreateChain(ChainMeta{ChainID: "chain_snap", Status: StatusQueued, CreatedAt: nowRFC3339()})
	_, _ = store.AppendChainEvent("chain_snap", "queue", "queued", map[string]any{"k": "v"})
	if err := store.AppendAudit(eval.AuditRecord{ChainID: "chain_snap", Outcome: eval.OutcomeReleased}); err != nil {
		t.Fatalf("AppendAudit error: %v", err)
	}

	reloaded, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if _, ok := reloaded.GetChain("chain_snap"); !ok {
		t.Fatalf("chain missing after reload")
	}
	events := reloaded.ListChainEvents("chain_snap", 0)
	if len(events) != 1 || events[0].Data["k"] != "v" {
		t.Fatalf("events missing after reload: %+v", events)
	}
	// The sequence counter resumes past the persisted events.
	next, err := reloaded.AppendChainEvent("chain_snap", "stage", "msg", nil)
	if err != nil {
		t.Fatalf("AppendChainEvent after reload: %v", err)
	}
	if next.Seq != 2 {
		t.Fatalf("expected seq=2 after reload, got %d", next.Seq)
	}
	audit := reloaded.ListAudit(10)
	if len(audit) != 1 || audit[0].ChainID != "chain_snap" {
		t.Fatalf("audit missing after reload: %+v", audit)
	}
	if audit[0].DecisionTimestamp == "" {
		t.Fatalf("audit timestamp should be backfilled on append")
	}
}

func TestMemoryStoreMetricsOverview(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	add := func(id, status string, summary ChainSummary) {
		_ = store.CreateChain(ChainMeta{ChainID: id, Status: status, CreatedAt: nowRFC3339(), Summary: summary})
	}
	add("c1", StatusReleased, ChainSummary{Outcome: eval.OutcomeReleased, Attempts: 1, FinalOverallScore: 0.9})
	add("c2", StatusDiscarded, ChainSummary{Outcome: eval.OutcomeDiscarded, Attempts: 3, FinalOverallScore: 0.5, FailedDimensions: []string{"safety"}})
	add("c3", StatusRunning, ChainSummary{})

	overview := store.GetMetricsOverview()
	if overview.TotalChains != 3 {
		t.Fatalf("expected 3 chains, got %d", overview.TotalChains)
	}
	if overview.ReleasedChains != 1 || overview.DiscardedChains != 1 || overview.RunningChains != 1 {
		t.Fatalf("unexpected status counts: %+v", overview)
	}
	if overview.TotalAttempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", overview.TotalAttempts)
	}
	if overview.HardGateRejects != 1 {
		t.Fatalf("expected 1 hard-gate reject, got %d", overview.HardGateRejects)
	}
	if overview.ReleaseRate != 0.5 {
		t.Fatalf("expected release rate 0.5, got %.2f", overview.ReleaseRate)
	}
}

func TestSummarize(t *testing.T) {
	record := eval.AuditRecord{
		Outcome:          eval.OutcomeDiscarded,
		RetryChainLength: 3,
		Attempts: []eval.AttemptRecord{
			{Result: eval.EvaluationResult{Verdict: eval.VerdictRejected, OverallScore: 0.6, FailedDimensions: []string{"safety"}, RiskLevel: eval.RiskHigh}},
		},
		BestAttempt: &eval.BestAttempt{LowConfidence: true},
	}
	summary := summarize(record)
	if summary.Outcome != eval.OutcomeDiscarded || summary.Attempts != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.FinalVerdict != "rejected" || summary.RiskLevel != "high" {
		t.Fatalf("final result not summarized: %+v", summary)
	}
	if !summary.LowConfidence {
		t.Fatalf("low-confidence flag not carried")
	}
}
