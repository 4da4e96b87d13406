package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"orbit-gate/internal/openrouter"
)

// LLMProvider implements both capabilities the gate consumes over one
// OpenRouter-compatible endpoint: per-dimension judging and candidate
// generation. Scoring uses a low temperature; generation runs warmer.
type LLMProvider struct {
	client         *openrouter.Client
	scorerModel    string
	generatorModel string
}

func NewLLMProvider(client *openrouter.Client, scorerModel, generatorModel string) *LLMProvider {
	return &LLMProvider{
		client:         client,
		scorerModel:    scorerModel,
		generatorModel: generatorModel,
	}
}

func (p *LLMProvider) ScoreDimension(ctx context.Context, dimension string, candidate Candidate) (DimensionScore, error) {
	resp, _, err := p.client.CreateChatCompletion(ctx, openrouter.ChatRequest{
		Model: p.scorerModel,
		Messages: []openrouter.Message{
			{Role: "system", Content: scoringSystemPrompt(dimension)},
			{Role: "user", Content: scoringPrompt(dimension, candidate)},
		},
		Temperature: 0.2,
		MaxTokens:   512,
	})
	if err != nil {
		return DimensionScore{}, err
	}
	value, rationale, err := parseScorePayload(resp.FirstContent())
	if err != nil {
		return DimensionScore{}, fmt.Errorf("dimension %s: %w", dimension, err)
	}
	return DimensionScore{Dimension: dimension, Value: value, Rationale: rationale}, nil
}

func (p *LLMProvider) Generate(ctx context.Context, genContext map[string]any, feedback []RejectionFeedback) (string, error) {
	resp, _, err := p.client.CreateChatCompletion(ctx, openrouter.ChatRequest{
		Model: p.generatorModel,
		Messages: []openrouter.Message{
			{Role: "system", Content: generationSystemPrompt},
			{Role: "user", Content: generationPrompt(genContext, feedback)},
		},
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.FirstContent()), nil
}

type scorePayload struct {
	Value     *float64 `json:"value"`
	Rationale string   `json:"rationale"`
}

// parseScorePayload extracts {value, rationale} from judge output, tolerating
// markdown code fences and surrounding prose but nothing looser: a payload
// without a numeric value is malformed, not a zero.
func parseScorePayload(content string) (float64, string, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return 0, "", fmt.Errorf("no JSON object in scorer output: %q", truncate(content, 120))
	}
	var payload scorePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return 0, "", fmt.Errorf("decode scorer output: %w", err)
	}
	if payload.Value == nil {
		return 0, "", fmt.Errorf("scorer output missing value field")
	}
	return *payload.Value, strings.TrimSpace(payload.Rationale), nil
}

// extractJSONObject returns the first balanced top-level {...} block.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
