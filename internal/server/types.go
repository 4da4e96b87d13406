package server

import (
	"time"

	"orbit-gate/internal/eval"
)

// ChainRequest is the API payload that starts one evaluation chain.
type ChainRequest struct {
	Context    map[string]any `json:"context"`
	DryRun     bool           `json:"dry_run,omitempty"`
	TimeoutSec int            `json:"timeout_sec,omitempty"`
}

// ChainSummary is the roll-up of a finished chain kept on its metadata for
// listing without loading the full audit record.
type ChainSummary struct {
	Outcome           string   `json:"outcome,omitempty"`
	Attempts          int      `json:"attempts"`
	FinalVerdict      string   `json:"final_verdict,omitempty"`
	FinalOverallScore float64  `json:"final_overall_score"`
	FailedDimensions  []string `json:"failed_dimensions,omitempty"`
	RiskLevel         string   `json:"risk_level,omitempty"`
	LowConfidence     bool     `json:"low_confidence,omitempty"`
}

type ChainMeta struct {
	ChainID    string            `json:"chain_id"`
	Status     string            `json:"status"`
	Source     string            `json:"source"`
	Request    ChainRequest      `json:"request"`
	CreatedAt  string            `json:"created_at"`
	StartedAt  string            `json:"started_at,omitempty"`
	FinishedAt string            `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	Summary    ChainSummary      `json:"summary"`
	Audit      *eval.AuditRecord `json:"audit,omitempty"`
}

type ChainEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt     string  `json:"generated_at"`
	TotalChains     int     `json:"total_chains"`
	RunningChains   int     `json:"running_chains"`
	ReleasedChains  int     `json:"released_chains"`
	DiscardedChains int     `json:"discarded_chains"`
	FailedChains    int     `json:"failed_chains"`
	TotalAttempts   int     `json:"total_attempts"`
	HardGateRejects int     `json:"hard_gate_rejects"`
	AverageOverall  float64 `json:"average_overall_score"`
	ReleaseRate     float64 `json:"release_rate"`
}

// Chain status values. Queued and running are transient; the rest mirror the
// terminal audit outcomes.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusReleased  = "released"
	StatusDiscarded = "discarded"
	StatusFailed    = "failed"
)

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func summarize(record eval.AuditRecord) ChainSummary {
	summary := ChainSummary{
		Outcome:  record.Outcome,
		Attempts: record.RetryChainLength,
	}
	if result, ok := record.FinalResult(); ok {
		summary.FinalVerdict = string(result.Verdict)
		summary.FinalOverallScore = result.OverallScore
		summary.FailedDimensions = result.FailedDimensions
		summary.RiskLevel = string(result.RiskLevel)
	}
	if record.BestAttempt != nil {
		summary.LowConfidence = record.BestAttempt.LowConfidence
	}
	return summary
}
