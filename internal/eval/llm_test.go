package eval

import (
	"strings"
	"testing"
)

func TestParseScorePayload(t *testing.T) {
	cases := []struct {
		name      string
		content   string
		value     float64
		rationale string
	}{
		{"plain", `{"value": 0.82, "rationale": "clear and on topic"}`, 0.82, "clear and on topic"},
		{"fenced", "```json\n{\"value\": 0.5, \"rationale\": \"mixed\"}\n```", 0.5, "mixed"},
		{"surrounding prose", `Here is my assessment: {"value": 1, "rationale": "perfect"} hope that helps`, 1, "perfect"},
		{"braces inside string", `{"value": 0.3, "rationale": "uses {placeholders} oddly"}`, 0.3, "uses {placeholders} oddly"},
		{"no rationale", `{"value": 0}`, 0, ""},
	}
	for _, tc := range cases {
		value, rationale, err := parseScorePayload(tc.content)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if value != tc.value {
			t.Fatalf("%s: expected value %v, got %v", tc.name, tc.value, value)
		}
		if rationale != tc.rationale {
			t.Fatalf("%s: expected rationale %q, got %q", tc.name, tc.rationale, rationale)
		}
	}
}

func TestParseScorePayloadRejectsMalformed(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"no object", "the score is 0.8"},
		{"missing value", `{"rationale": "looks fine"}`},
		{"unterminated", `{"value": 0.8`},
		{"non numeric", `{"value": "high"}`},
	}
	for _, tc := range cases {
		if _, _, err := parseScorePayload(tc.content); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestExtractJSONObjectHandlesEscapes(t *testing.T) {
	content := `noise {"a": "quote \" and brace }", "b": {"c": 1}} trailing`
	got := extractJSONObject(content)
	want := `{"a": "quote \" and brace }", "b": {"c": 1}}`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestGenerationPromptCarriesFeedback(t *testing.T) {
	prompt := generationPrompt(map[string]any{"topic": "onboarding email"}, []RejectionFeedback{
		{
			Attempt:          1,
			OverallScore:     0.55,
			FailedDimensions: []string{"engagement"},
			Rationales:       []string{"engagement: reads flat"},
		},
	})
	if !strings.Contains(prompt, "onboarding email") {
		t.Fatalf("prompt missing context: %q", prompt)
	}
	if !strings.Contains(prompt, "engagement") {
		t.Fatalf("prompt missing failed dimension: %q", prompt)
	}
	if !strings.Contains(prompt, "reads flat") {
		t.Fatalf("prompt missing rationale: %q", prompt)
	}
}
