package eval

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the aggregator's three-way outcome for one candidate.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
	VerdictError    Verdict = "error"
)

// GateAction is the decision gate's instruction for one evaluated candidate.
type GateAction string

const (
	ActionRelease    GateAction = "release"
	ActionDiscard    GateAction = "discard"
	ActionRegenerate GateAction = "regenerate"
)

// ChainState tracks where a retry chain sits in its lifecycle.
type ChainState string

const (
	StatePending              ChainState = "pending"
	StateAwaitingRegeneration ChainState = "awaiting_regeneration"
	StateReleased             ChainState = "released"
	StateDiscarded            ChainState = "discarded"
)

// Terminal chain outcomes as recorded in the audit log.
const (
	OutcomeReleased  = "released"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Candidate is one generated piece of content awaiting admission. Candidates
// are immutable once created; a retry produces a new Candidate linked to its
// predecessor through PreviousAttemptID.
type Candidate struct {
	ID                string         `json:"id"`
	Text              string         `json:"text"`
	Context           map[string]any `json:"context,omitempty"`
	Attempt           int            `json:"attempt"`
	PreviousAttemptID string         `json:"previous_attempt_id,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

func NewCandidate(text string, genContext map[string]any, attempt int, previousAttemptID string) Candidate {
	return Candidate{
		ID:                uuid.NewString(),
		Text:              text,
		Context:           genContext,
		Attempt:           attempt,
		PreviousAttemptID: previousAttemptID,
		CreatedAt:         nowRFC3339(),
	}
}

// DimensionScore is one scorer verdict on one quality axis.
type DimensionScore struct {
	Dimension string  `json:"dimension"`
	Value     float64 `json:"value"`
	Rationale string  `json:"rationale,omitempty"`
}

// EvaluationResult is the aggregator's output for one candidate. Missing
// lists dimensions whose scoring failed after retries; any missing dimension
// forces VerdictError. FailedDimensions lists hard-gate failures in policy
// order.
type EvaluationResult struct {
	CandidateID      string           `json:"candidate_id"`
	Scores           []DimensionScore `json:"scores"`
	Missing          []string         `json:"missing_dimensions,omitempty"`
	OverallScore     float64          `json:"overall_score"`
	Verdict          Verdict          `json:"verdict"`
	FailedDimensions []string         `json:"failed_dimensions,omitempty"`
	RiskLevel        RiskLevel        `json:"risk_level"`
}

// GateDecision is the gate's action for one attempt. Terminal decisions end
// the chain.
type GateDecision struct {
	Action   GateAction `json:"action"`
	Terminal bool       `json:"terminal"`
	Reason   string     `json:"reason"`
}

// NextState maps a decision onto the chain state machine.
func (d GateDecision) NextState() ChainState {
	switch d.Action {
	case ActionRelease:
		return StateReleased
	case ActionDiscard:
		return StateDiscarded
	default:
		return StateAwaitingRegeneration
	}
}

// RejectionFeedback carries one rejected attempt's failure signals back to
// the generator so the next attempt is informed rather than blind.
type RejectionFeedback struct {
	Attempt          int      `json:"attempt"`
	OverallScore     float64  `json:"overall_score"`
	FailedDimensions []string `json:"failed_dimensions,omitempty"`
	Rationales       []string `json:"rationales,omitempty"`
}

// AttemptRecord pairs a candidate with its evaluation and gate decision.
type AttemptRecord struct {
	Candidate Candidate        `json:"candidate"`
	Result    EvaluationResult `json:"result"`
	Decision  GateDecision     `json:"decision"`
}

// BestAttempt is the highest-scoring rejected candidate of an exhausted
// chain. It is surfaced with LowConfidence set and is never presented as an
// approved release.
type BestAttempt struct {
	CandidateID   string  `json:"candidate_id"`
	Text          string  `json:"text"`
	OverallScore  float64 `json:"overall_score"`
	LowConfidence bool    `json:"low_confidence"`
}

// AuditRecord is the immutable trail for one terminal chain decision. Exactly
// one record exists per terminated chain.
type AuditRecord struct {
	ChainID           string          `json:"chain_id"`
	Outcome           string          `json:"outcome"`
	Reason            string          `json:"reason,omitempty"`
	DecisionTimestamp string          `json:"decision_timestamp"`
	RetryChainLength  int             `json:"retry_chain_length"`
	Attempts          []AttemptRecord `json:"attempts"`
	ReleasedText      string          `json:"released_text,omitempty"`
	BestAttempt       *BestAttempt    `json:"best_attempt,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// FinalResult returns the last attempt's evaluation, if any.
func (r AuditRecord) FinalResult() (EvaluationResult, bool) {
	if len(r.Attempts) == 0 {
		return EvaluationResult{}, false
	}
	return r.Attempts[len(r.Attempts)-1].Result, true
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
