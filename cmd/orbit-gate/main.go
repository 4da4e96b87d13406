package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orbit-gate/internal/eval"
	"orbit-gate/internal/openrouter"
)

func main() {
	baseURL := flag.String("base-url", envOr("ORBIT_BASE_URL", "https://openrouter.ai/api"), "OpenRouter-compatible base URL")
	apiKey := flag.String("api-key", envOr("ORBIT_API_KEY", ""), "API key for the provider")
	scorerModel := flag.String("scorer-model", envOr("ORBIT_SCORER_MODEL", "anthropic/claude-sonnet-4"), "Model used for dimension scoring")
	generatorModel := flag.String("generator-model", envOr("ORBIT_GENERATOR_MODEL", ""), "Model used for candidate generation (defaults to scorer model)")
	contextPath := flag.String("context", "", "Path to generation context JSON (use - for stdin)")
	contextInline := flag.String("context-json", "", "Inline generation context JSON")
	policyPath := flag.String("policy", "", "Path to gate policy YAML/JSON (defaults to built-in policy)")
	maxAttempts := flag.Int("max-attempts", 0, "Override max attempts per chain (0=policy value)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall chain timeout")
	dryRun := flag.Bool("dry-run", false, "Use the built-in stub provider instead of live calls")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write full audit record JSON to this file")
	auditPath := flag.String("audit-log", "", "Append audit record as JSONL to this file")
	strict := flag.Bool("strict", false, "Exit non-zero unless the chain released a candidate")
	flag.Parse()

	genContext, err := loadContext(*contextPath, *contextInline)
	if err != nil {
		exitWith("failed to load context: " + err.Error())
	}
	policy, err := loadPolicy(*policyPath)
	if err != nil {
		exitWith("failed to load policy: " + err.Error())
	}
	if *maxAttempts > 0 {
		policy.MaxAttempts = *maxAttempts
	}
	if err := policy.Validate(); err != nil {
		exitWith("invalid policy: " + err.Error())
	}

	var provider interface {
		eval.Generator
		eval.ScoreProvider
	}
	if *dryRun {
		provider = eval.NewStubProvider()
	} else {
		if strings.TrimSpace(*apiKey) == "" {
			exitWith("ORBIT_API_KEY or -api-key is required (or use -dry-run)")
		}
		client := openrouter.NewClient(openrouter.Config{
			BaseURL: *baseURL,
			APIKey:  *apiKey,
		})
		generator := strings.TrimSpace(*generatorModel)
		if generator == "" {
			generator = *scorerModel
		}
		provider = eval.NewLLMProvider(client, *scorerModel, generator)
	}

	audit, err := newAuditSink(*auditPath)
	if err != nil {
		exitWith("failed to open audit log: " + err.Error())
	}
	defer audit.Close()

	scorer := eval.NewScorer(provider, policy)
	controller := eval.NewController(provider, scorer, policy, audit, func(event eval.ChainEvent) {
		if strings.EqualFold(*format, "text") {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", event.Stage, event.Message)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	record, runErr := controller.Run(ctx, eval.ChainRequest{Context: genContext})
	if runErr != nil && record.Outcome == "" {
		exitWith("chain aborted: " + runErr.Error())
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(record)
	default:
		printText(record)
	}

	if strings.TrimSpace(*outputPath) != "" {
		if err := writeRecord(*outputPath, record); err != nil {
			exitWith("failed to write record: " + err.Error())
		}
	}

	if *strict && record.Outcome != eval.OutcomeReleased {
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, message)
	os.Exit(1)
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func loadContext(path, inline string) (map[string]any, error) {
	var data []byte
	switch {
	case strings.TrimSpace(inline) != "":
		data = []byte(inline)
	case strings.TrimSpace(path) == "-":
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		data = raw
	case strings.TrimSpace(path) != "":
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, err
		}
		data = raw
	default:
		return nil, fmt.Errorf("-context or -context-json is required")
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("context must be a non-empty JSON object")
	}
	return out, nil
}

func loadPolicy(path string) (eval.Policy, error) {
	if strings.TrimSpace(path) == "" {
		return eval.DefaultPolicy(), nil
	}
	return eval.LoadPolicy(path)
}

func printText(record eval.AuditRecord) {
	fmt.Printf("Chain: %s\n", record.ChainID)
	fmt.Printf("Outcome: %s\n", record.Outcome)
	fmt.Printf("Reason: %s\n", record.Reason)
	fmt.Printf("Attempts: %d\n\n", record.RetryChainLength)
	for _, attempt := range record.Attempts {
		result := attempt.Result
		fmt.Printf("[attempt %d] verdict=%s overall=%.3f action=%s\n",
			attempt.Candidate.Attempt, result.Verdict, result.OverallScore, attempt.Decision.Action)
		for _, score := range result.Scores {
			fmt.Printf("  %s=%.3f", score.Dimension, score.Value)
			if strings.TrimSpace(score.Rationale) != "" {
				fmt.Printf(" (%s)", score.Rationale)
			}
			fmt.Println()
		}
		if len(result.FailedDimensions) > 0 {
			fmt.Printf("  failed: %s\n", strings.Join(result.FailedDimensions, ", "))
		}
		fmt.Println()
	}
	if record.ReleasedText != "" {
		fmt.Printf("Released text:\n%s\n", record.ReleasedText)
	}
	if record.BestAttempt != nil {
		fmt.Printf("Best rejected attempt (low confidence): %s score=%.3f\n",
			record.BestAttempt.CandidateID, record.BestAttempt.OverallScore)
	}
	if record.Error != "" {
		fmt.Printf("Error: %s\n", record.Error)
	}
}

func printJSON(record eval.AuditRecord) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		exitWith("failed to encode record JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func writeRecord(path string, record eval.AuditRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}

// auditSink appends each terminal record as one JSONL line. A single Write
// call on an O_APPEND file keeps the record all-or-nothing.
type auditSink struct {
	file *os.File
}

func newAuditSink(path string) (*auditSink, error) {
	if strings.TrimSpace(path) == "" {
		return &auditSink{}, nil
	}
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &auditSink{file: file}, nil
}

func (s *auditSink) Record(_ context.Context, record eval.AuditRecord) error {
	if s.file == nil {
		return nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.file.Write(append(data, '\n'))
	return err
}

func (s *auditSink) Close() {
	if s.file != nil {
		_ = s.file.Close()
	}
}
