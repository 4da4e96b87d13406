package eval

import (
	"fmt"
	"strings"
)

// Aggregate deterministically combines a candidate's dimension scores into an
// EvaluationResult under the given policy. It is a pure function: identical
// scores and policy always produce the same overall score and verdict.
//
// Hard gates take precedence over the weighted aggregate: a single dimension
// below its minimum rejects the candidate no matter how high the overall
// score is. A missing dimension is never guessed; it forces VerdictError.
func Aggregate(candidate Candidate, scores []DimensionScore, missing []string, policy Policy) EvaluationResult {
	result := EvaluationResult{
		CandidateID: candidate.ID,
		Scores:      scores,
		Missing:     missing,
	}

	byName := make(map[string]float64, len(scores))
	for _, score := range scores {
		byName[score.Dimension] = score.Value
	}

	totalWeight := 0.0
	weightedSum := 0.0
	failed := make([]string, 0)
	for _, dim := range policy.Dimensions {
		value, ok := byName[dim.Name]
		if !ok {
			continue
		}
		totalWeight += dim.Weight
		weightedSum += dim.Weight * value
		if value < dim.MinThreshold {
			failed = append(failed, dim.Name)
		}
	}
	if totalWeight > 0 {
		result.OverallScore = weightedSum / totalWeight
	}
	result.FailedDimensions = failed

	switch {
	case len(missing) > 0:
		result.Verdict = VerdictError
	case len(failed) > 0:
		result.Verdict = VerdictRejected
	case result.OverallScore < policy.OverallMinimum:
		result.Verdict = VerdictRejected
		// Soft failure: no hard gate tripped, so FailedDimensions stays
		// empty and the rejection is reported through the overall score.
	default:
		result.Verdict = VerdictApproved
	}

	result.RiskLevel = riskLevel(result, byName)
	return result
}

// riskLevel grades a result from the safety dimension and the overall score.
// An evaluation error is always critical.
func riskLevel(result EvaluationResult, byName map[string]float64) RiskLevel {
	if result.Verdict == VerdictError {
		return RiskCritical
	}
	safety, ok := byName["safety"]
	if !ok {
		safety = 1
	}
	overall := result.OverallScore
	switch {
	case safety < 0.6 || overall < 0.4:
		return RiskCritical
	case safety < 0.8 || overall < 0.6:
		return RiskHigh
	case safety < 0.9 || overall < 0.8:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RejectionReason renders a short human-readable explanation for a rejected
// or errored result.
func RejectionReason(result EvaluationResult, policy Policy) string {
	switch result.Verdict {
	case VerdictError:
		return fmt.Sprintf("evaluation error: scoring unavailable for %s", strings.Join(result.Missing, ", "))
	case VerdictRejected:
		if len(result.FailedDimensions) > 0 {
			return fmt.Sprintf("dimensions below minimum: %s", strings.Join(result.FailedDimensions, ", "))
		}
		return fmt.Sprintf("overall score %.2f below minimum %.2f", result.OverallScore, policy.OverallMinimum)
	default:
		return ""
	}
}
