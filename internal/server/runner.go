package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orbit-gate/internal/eval"
	"orbit-gate/internal/openrouter"
)

// ChainManager owns the worker pool that drains queued chains. Each chain
// runs to its terminal decision on one worker; independent chains proceed in
// parallel up to the configured limit.
type ChainManager struct {
	cfg   ServerConfig
	store Store
	obs   *Observability
	queue chan queuedChain
	wg    sync.WaitGroup
}

type ChainService interface {
	CreateChain(request ChainRequest, source string) (ChainMeta, error)
}

type queuedChain struct {
	ChainID string
	Request ChainRequest
	Source  string
}

func NewChainManager(cfg ServerConfig, store Store, obs *Observability) *ChainManager {
	maxParallel := cfg.Workers.MaxParallelChains
	if maxParallel <= 0 {
		maxParallel = 4
	}
	manager := &ChainManager{
		cfg:   cfg,
		store: store,
		obs:   obs,
		queue: make(chan queuedChain, maxParallel*8),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager
}

func (m *ChainManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *ChainManager) CreateChain(request ChainRequest, source string) (ChainMeta, error) {
	if len(request.Context) == 0 {
		return ChainMeta{}, errors.New("context is required")
	}
	if !request.DryRun && strings.TrimSpace(m.cfg.Provider.APIKey) == "" {
		return ChainMeta{}, errors.New("provider api key not configured; use dry_run or set provider.api_key")
	}
	if request.TimeoutSec <= 0 {
		request.TimeoutSec = m.cfg.Workers.DefaultChainTimeoutSec
	}
	chainID := uuid.NewString()
	meta := ChainMeta{
		ChainID:   chainID,
		Status:    StatusQueued,
		Source:    source,
		Request:   request,
		CreatedAt: nowRFC3339(),
	}
	if err := m.store.CreateChain(meta); err != nil {
		return ChainMeta{}, err
	}
	_, _ = m.store.AppendChainEvent(chainID, "queue", "chain queued", map[string]any{
		"source":  source,
		"dry_run": request.DryRun,
	})
	m.queue <- queuedChain{
		ChainID: chainID,
		Request: request,
		Source:  source,
	}
	return meta, nil
}

func (m *ChainManager) worker() {
	for queued := range m.queue {
		m.executeChain(queued)
	}
}

func (m *ChainManager) executeChain(queued queuedChain) {
	startedAt := nowRFC3339()
	start := time.Now()
	_, _ = m.store.UpdateChain(queued.ChainID, func(meta *ChainMeta) {
		meta.Status = StatusRunning
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendChainEvent(queued.ChainID, "start", "chain started", nil)

	timeout := time.Duration(queued.Request.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(m.cfg.Workers.DefaultChainTimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	provider := m.buildProvider(queued.Request)
	scorer := eval.NewScorer(provider, m.cfg.Gate)
	controller := eval.NewController(provider, scorer, m.cfg.Gate, &storeAuditWriter{store: m.store}, func(event eval.ChainEvent) {
		_, _ = m.store.AppendChainEvent(queued.ChainID, event.Stage, event.Message, event.Data)
		if event.Stage == "decision" {
			if action, ok := event.Data["action"].(string); ok {
				m.obs.MarkDecision(ctx, action)
			}
		}
	})

	record, err := controller.Run(ctx, eval.ChainRequest{
		ChainID: queued.ChainID,
		Context: queued.Request.Context,
	})
	durationMS := time.Since(start).Milliseconds()

	if eval.IsGenerationUnavailable(err) {
		m.obs.MarkGenerationUnavailable(ctx)
	}
	if err != nil && record.Outcome == "" {
		// Cancelled or timed out between steps; no terminal record exists.
		_, _ = m.store.UpdateChain(queued.ChainID, func(meta *ChainMeta) {
			meta.Status = StatusFailed
			meta.FinishedAt = nowRFC3339()
			meta.Error = err.Error()
		})
		_, _ = m.store.AppendChainEvent(queued.ChainID, "error", "chain aborted", map[string]any{
			"error": err.Error(),
		})
		m.obs.MarkChain(ctx, StatusFailed, durationMS)
		return
	}

	status := statusFromOutcome(record.Outcome)
	summary := summarize(record)
	storedRecord := record
	_, _ = m.store.UpdateChain(queued.ChainID, func(meta *ChainMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Summary = summary
		meta.Audit = &storedRecord
		if err != nil {
			meta.Error = err.Error()
		} else if record.Error != "" {
			meta.Error = record.Error
		}
	})
	_, _ = m.store.AppendChainEvent(queued.ChainID, "completed", "chain completed", map[string]any{
		"outcome":  record.Outcome,
		"attempts": record.RetryChainLength,
	})
	m.obs.MarkChain(ctx, record.Outcome, durationMS)
	if result, ok := record.FinalResult(); ok {
		for _, score := range result.Scores {
			m.obs.MarkDimensionScore(ctx, score.Dimension, score.Value)
		}
		for _, dimension := range result.Missing {
			m.obs.MarkScoringFailure(ctx, dimension)
		}
	}
}

func (m *ChainManager) buildProvider(request ChainRequest) chainProvider {
	if request.DryRun {
		return eval.NewStubProvider()
	}
	client := openrouter.NewClient(openrouter.Config{
		BaseURL: m.cfg.Provider.BaseURL,
		APIKey:  m.cfg.Provider.APIKey,
		Referer: m.cfg.Provider.Referer,
		Title:   m.cfg.Provider.Title,
	})
	return eval.NewLLMProvider(client, m.cfg.Provider.ScorerModel, m.cfg.Provider.GeneratorModel)
}

// chainProvider is satisfied by both the live LLM provider and the dry-run
// stub.
type chainProvider interface {
	eval.Generator
	eval.ScoreProvider
}

func statusFromOutcome(outcome string) string {
	switch outcome {
	case eval.OutcomeReleased:
		return StatusReleased
	case eval.OutcomeDiscarded:
		return StatusDiscarded
	default:
		return StatusFailed
	}
}

// storeAuditWriter adapts the Store to the audit sink the controller writes
// terminal records to.
type storeAuditWriter struct {
	store Store
}

func (w *storeAuditWriter) Record(_ context.Context, record eval.AuditRecord) error {
	return w.store.AppendAudit(record)
}
