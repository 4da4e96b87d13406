package eval

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Generator is the external text-generation capability. Feedback carries the
// rejection signals of earlier attempts in the same chain.
type Generator interface {
	Generate(ctx context.Context, genContext map[string]any, feedback []RejectionFeedback) (string, error)
}

// AuditWriter appends one immutable record per terminal chain decision. The
// write must be all-or-nothing: a partially written record must never be
// observable.
type AuditWriter interface {
	Record(ctx context.Context, record AuditRecord) error
}

// ChainEvent is a progress notification emitted between chain steps.
type ChainEvent struct {
	Stage   string
	Message string
	Data    map[string]any
}

type EventFunc func(ChainEvent)

// ChainRequest starts one evaluation chain.
type ChainRequest struct {
	ChainID string
	Context map[string]any
}

// Controller orchestrates one retry chain: generate, score, aggregate,
// decide, feeding rejection reasons back into each regeneration until a
// terminal gate decision. Steps within a chain are strictly sequential;
// independent chains run concurrently with no coordination.
type Controller struct {
	generator Generator
	scorer    *Scorer
	policy    Policy
	audit     AuditWriter
	onEvent   EventFunc
}

func NewController(generator Generator, scorer *Scorer, policy Policy, audit AuditWriter, onEvent EventFunc) *Controller {
	if onEvent == nil {
		onEvent = func(ChainEvent) {}
	}
	return &Controller{
		generator: generator,
		scorer:    scorer,
		policy:    policy,
		audit:     audit,
		onEvent:   onEvent,
	}
}

// Run executes the chain to a terminal outcome and writes its audit record.
// Generator failure aborts immediately with a GenerationUnavailableError and
// a "failed" record; it does not consume the retry budget. Cancellation
// between steps returns ctx.Err() with nothing partially written.
func (c *Controller) Run(ctx context.Context, request ChainRequest) (AuditRecord, error) {
	chainID := strings.TrimSpace(request.ChainID)
	if chainID == "" {
		chainID = uuid.NewString()
	}

	var attempts []AttemptRecord
	var feedback []RejectionFeedback
	previousID := ""
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return AuditRecord{}, err
		}

		text, err := c.generate(ctx, request.Context, feedback)
		if err != nil {
			genErr := &GenerationUnavailableError{Err: err}
			slog.Warn("chain aborted: generator unavailable", "chain_id", chainID, "attempt", attempt, "error", err)
			record := buildRecord(chainID, OutcomeFailed, "generator unavailable", attempts)
			record.Error = genErr.Error()
			if auditErr := c.audit.Record(ctx, record); auditErr != nil {
				return record, errors.Join(genErr, auditErr)
			}
			return record, genErr
		}
		candidate := NewCandidate(text, request.Context, attempt, previousID)
		previousID = candidate.ID
		c.onEvent(ChainEvent{
			Stage:   "generated",
			Message: "candidate generated",
			Data:    map[string]any{"candidate_id": candidate.ID, "attempt": attempt},
		})

		scores, missing, err := c.scorer.Score(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return AuditRecord{}, ctx.Err()
			}
			// Empty candidate text is a generator defect, not a quality
			// rejection.
			genErr := &GenerationUnavailableError{Err: err}
			record := buildRecord(chainID, OutcomeFailed, "generator produced unscorable candidate", attempts)
			record.Error = genErr.Error()
			if auditErr := c.audit.Record(ctx, record); auditErr != nil {
				return record, errors.Join(genErr, auditErr)
			}
			return record, genErr
		}

		result := Aggregate(candidate, scores, missing, c.policy)
		decision := Decide(result, attempt, c.policy.MaxAttempts)
		attempts = append(attempts, AttemptRecord{Candidate: candidate, Result: result, Decision: decision})
		c.onEvent(ChainEvent{
			Stage:   "decision",
			Message: decision.Reason,
			Data: map[string]any{
				"candidate_id":      candidate.ID,
				"attempt":           attempt,
				"verdict":           string(result.Verdict),
				"overall_score":     result.OverallScore,
				"failed_dimensions": result.FailedDimensions,
				"action":            string(decision.Action),
			},
		})

		switch decision.Action {
		case ActionRelease:
			record := buildRecord(chainID, OutcomeReleased, decision.Reason, attempts)
			record.ReleasedText = candidate.Text
			return record, c.audit.Record(ctx, record)
		case ActionDiscard:
			reason := decision.Reason
			if result.Verdict == VerdictRejected {
				reason = reason + ": " + RejectionReason(result, c.policy)
			}
			record := buildRecord(chainID, OutcomeDiscarded, reason, attempts)
			if result.Verdict == VerdictError {
				record.Error = RejectionReason(result, c.policy)
			} else {
				record.BestAttempt = bestOf(attempts)
			}
			return record, c.audit.Record(ctx, record)
		default:
			feedback = append(feedback, RejectionFeedback{
				Attempt:          attempt,
				OverallScore:     result.OverallScore,
				FailedDimensions: result.FailedDimensions,
				Rationales:       failedRationales(result),
			})
		}
	}
	return AuditRecord{}, errors.New("retry loop exited without terminal decision")
}

func (c *Controller) generate(ctx context.Context, genContext map[string]any, feedback []RejectionFeedback) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, c.policy.GenerationTimeout())
	defer cancel()
	text, err := c.generator.Generate(genCtx, genContext, feedback)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("generator returned empty candidate")
	}
	return text, nil
}

func buildRecord(chainID, outcome, reason string, attempts []AttemptRecord) AuditRecord {
	return AuditRecord{
		ChainID:           chainID,
		Outcome:           outcome,
		Reason:            reason,
		DecisionTimestamp: nowRFC3339(),
		RetryChainLength:  len(attempts),
		Attempts:          attempts,
	}
}

// bestOf picks the highest-scoring rejected attempt. It is surfaced with the
// low-confidence flag, never as an approved release.
func bestOf(attempts []AttemptRecord) *BestAttempt {
	best := (*AttemptRecord)(nil)
	for i := range attempts {
		if attempts[i].Result.Verdict == VerdictError {
			continue
		}
		if best == nil || attempts[i].Result.OverallScore > best.Result.OverallScore {
			best = &attempts[i]
		}
	}
	if best == nil {
		return nil
	}
	return &BestAttempt{
		CandidateID:   best.Candidate.ID,
		Text:          best.Candidate.Text,
		OverallScore:  best.Result.OverallScore,
		LowConfidence: true,
	}
}

func failedRationales(result EvaluationResult) []string {
	if len(result.FailedDimensions) == 0 {
		return nil
	}
	failed := map[string]bool{}
	for _, name := range result.FailedDimensions {
		failed[name] = true
	}
	out := make([]string, 0, len(result.FailedDimensions))
	for _, score := range result.Scores {
		if failed[score.Dimension] && strings.TrimSpace(score.Rationale) != "" {
			out = append(out, score.Dimension+": "+score.Rationale)
		}
	}
	return out
}
