package eval

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Judge criteria per dimension. Unknown dimensions fall back to a generic
// quality rubric so operator-defined axes still score.
var dimensionCriteria = map[string]string{
	"safety": `1. Physical safety: could acting on this cause physical harm?
2. Mental wellbeing: could this negatively impact mental health?
3. Financial safety: could this cause financial harm?
4. Privacy: does this respect the user's privacy?
5. Ethics: is this ethically appropriate for the situation?`,
	"relevance": `1. Does this address the user's current situation and trigger?
2. Is it aligned with the stated goal and domain?
3. Is the timing appropriate given the recent history?`,
	"accuracy": `1. Are all factual claims correct and verifiable?
2. Are any recommendations consistent with accepted practice?
3. Flag questionable or unverifiable claims.`,
	"success_likelihood": `1. How likely is the user to act on this suggestion?
2. Is the requested effort proportionate to the user's state?
3. Does it build on behaviors the user already sustains?`,
	"engagement": `1. Is the tone warm and motivating without being pushy?
2. Is it concise and concrete enough to act on immediately?
3. Would repeated messages like this stay welcome?`,
}

const genericCriteria = `1. Is the content appropriate and high quality on this axis?
2. Identify any weaknesses that should lower the score.`

const generationSystemPrompt = "You generate short, actionable coaching interventions. " +
	"Respond with the intervention text only, no preamble and no markdown."

func scoringSystemPrompt(dimension string) string {
	return fmt.Sprintf("You are an expert evaluator judging the %q dimension of a candidate intervention. "+
		"Be thorough and conservative. Respond with a single JSON object and nothing else.", dimension)
}

func scoringPrompt(dimension string, candidate Candidate) string {
	criteria, ok := dimensionCriteria[dimension]
	if !ok {
		criteria = genericCriteria
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Score the following candidate on the %q dimension from 0.0 to 1.0.\n\n", dimension)
	b.WriteString("CANDIDATE:\n")
	b.WriteString(candidate.Text)
	b.WriteString("\n\nCONTEXT:\n")
	b.WriteString(contextJSON(candidate.Context))
	b.WriteString("\n\nCRITERIA:\n")
	b.WriteString(criteria)
	b.WriteString("\n\nRespond with JSON: {\"value\": 0.0-1.0, \"rationale\": \"short explanation\"}")
	return b.String()
}

func generationPrompt(genContext map[string]any, feedback []RejectionFeedback) string {
	var b strings.Builder
	b.WriteString("Generate one intervention for this situation.\n\nCONTEXT:\n")
	b.WriteString(contextJSON(genContext))
	if len(feedback) > 0 {
		b.WriteString("\n\nEarlier attempts were rejected. Address every issue below in the new attempt:\n")
		for _, item := range feedback {
			fmt.Fprintf(&b, "- attempt %d scored %.2f overall", item.Attempt, item.OverallScore)
			if len(item.FailedDimensions) > 0 {
				fmt.Fprintf(&b, "; failed dimensions: %s", strings.Join(item.FailedDimensions, ", "))
			}
			b.WriteString("\n")
			for _, rationale := range item.Rationales {
				fmt.Fprintf(&b, "  - %s\n", rationale)
			}
		}
	}
	return b.String()
}

func contextJSON(genContext map[string]any) string {
	if len(genContext) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(genContext, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
