package eval

import "fmt"

// Decide is the single authoritative conversion of an evaluation result into
// a gate action. The state machine per chain is total: every path reaches a
// terminal decision within MaxAttempts.
//
//	Approved                             -> release (terminal)
//	Rejected, attempt <  maxAttempts     -> regenerate
//	Rejected, attempt >= maxAttempts     -> discard (terminal)
//	Error                                -> discard (terminal, not retried)
//
// Evaluation errors are never retried by generating new candidates: that
// would spend generation cost on an evaluation infrastructure problem.
func Decide(result EvaluationResult, attempt, maxAttempts int) GateDecision {
	switch result.Verdict {
	case VerdictApproved:
		return GateDecision{
			Action:   ActionRelease,
			Terminal: true,
			Reason:   "all dimensions passed",
		}
	case VerdictError:
		return GateDecision{
			Action:   ActionDiscard,
			Terminal: true,
			Reason:   fmt.Sprintf("evaluation unavailable (missing %d dimension scores)", len(result.Missing)),
		}
	default:
		if attempt >= maxAttempts {
			return GateDecision{
				Action:   ActionDiscard,
				Terminal: true,
				Reason:   fmt.Sprintf("retry budget exhausted after %d attempts", attempt),
			}
		}
		return GateDecision{
			Action:   ActionRegenerate,
			Terminal: false,
			Reason:   "rejected, requesting regeneration",
		}
	}
}
