package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"orbit-gate/internal/eval"
)

type Store interface {
	CreateChain(meta ChainMeta) error
	UpdateChain(chainID string, mutate func(*ChainMeta)) (ChainMeta, error)
	GetChain(chainID string) (ChainMeta, bool)
	ListChains(limit int) []ChainMeta
	AppendChainEvent(chainID string, stage, message string, data map[string]any) (ChainEvent, error)
	ListChainEvents(chainID string, sinceSeq int64) []ChainEvent
	AppendAudit(record eval.AuditRecord) error
	ListAudit(limit int) []eval.AuditRecord
	GetMetricsOverview() MetricsOverview
}

// MemoryFileStore keeps everything in memory and, when a path is configured,
// mirrors it to a JSON snapshot using write-then-rename so a crashed write
// never leaves a partial file behind.
type MemoryFileStore struct {
	mu      sync.RWMutex
	path    string
	chains  map[string]ChainMeta
	events  map[string][]ChainEvent
	audit   []eval.AuditRecord
	nextSeq map[string]int64
}

func NewMemoryFileStore(path string) (*MemoryFileStore, error) {
	store := &MemoryFileStore{
		path:    path,
		chains:  map[string]ChainMeta{},
		events:  map[string][]ChainEvent{},
		audit:   []eval.AuditRecord{},
		nextSeq: map[string]int64{},
	}
	if strings.TrimSpace(path) == "" {
		return store, nil
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MemoryFileStore) CreateChain(meta ChainMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chains[meta.ChainID]; exists {
		return fmt.Errorf("chain %s already exists", meta.ChainID)
	}
	s.chains[meta.ChainID] = meta
	if _, ok := s.events[meta.ChainID]; !ok {
		s.events[meta.ChainID] = []ChainEvent{}
	}
	if _, ok := s.nextSeq[meta.ChainID]; !ok {
		s.nextSeq[meta.ChainID] = 1
	}
	return s.persistLocked()
}

func (s *MemoryFileStore) UpdateChain(chainID string, mutate func(*ChainMeta)) (ChainMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.chains[chainID]
	if !ok {
		return ChainMeta{}, fmt.Errorf("chain not found: %s", chainID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	s.chains[chainID] = meta
	if err := s.persistLocked(); err != nil {
		return ChainMeta{}, err
	}
	return meta, nil
}

func (s *MemoryFileStore) GetChain(chainID string) (ChainMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.chains[chainID]
	return meta, ok
}

func (s *MemoryFileStore) ListChains(limit int) []ChainMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChainMeta, 0, len(s.chains))
	for _, meta := range s.chains {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) AppendChainEvent(chainID string, stage, message string, data map[string]any) (ChainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[chainID]; !ok {
		return ChainEvent{}, fmt.Errorf("chain not found: %s", chainID)
	}
	seq := s.nextSeq[chainID]
	if seq < 1 {
		seq = 1
	}
	event := ChainEvent{
		Seq:       seq,
		Timestamp: nowRFC3339(),
		Stage:     stage,
		Message:   message,
		Data:      cloneMap(data),
	}
	s.nextSeq[chainID] = seq + 1
	s.events[chainID] = append(s.events[chainID], event)
	if err := s.persistLocked(); err != nil {
		return ChainEvent{}, err
	}
	return event, nil
}

func (s *MemoryFileStore) ListChainEvents(chainID string, sinceSeq int64) []ChainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[chainID]
	if len(events) == 0 {
		return []ChainEvent{}
	}
	out := make([]ChainEvent, 0, len(events))
	for _, event := range events {
		if event.Seq > sinceSeq {
			out = append(out, event)
		}
	}
	return out
}

func (s *MemoryFileStore) AppendAudit(record eval.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(record.DecisionTimestamp) == "" {
		record.DecisionTimestamp = nowRFC3339()
	}
	s.audit = append(s.audit, record)
	return s.persistLocked()
}

func (s *MemoryFileStore) ListAudit(limit int) []eval.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return []eval.AuditRecord{}
	}
	out := make([]eval.AuditRecord, len(s.audit))
	copy(out, s.audit)
	sort.Slice(out, func(i, j int) bool {
		return out[i].DecisionTimestamp > out[j].DecisionTimestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) GetMetricsOverview() MetricsOverview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overview := MetricsOverview{
		GeneratedAt: nowRFC3339(),
	}
	var overallTotal float64
	overallCount := 0
	for _, chain := range s.chains {
		overview.TotalChains++
		switch chain.Status {
		case StatusQueued, StatusRunning:
			overview.RunningChains++
		case StatusReleased:
			overview.ReleasedChains++
		case StatusDiscarded:
			overview.DiscardedChains++
		case StatusFailed:
			overview.FailedChains++
		}
		overview.TotalAttempts += chain.Summary.Attempts
		if len(chain.Summary.FailedDimensions) > 0 {
			overview.HardGateRejects++
		}
		if chain.Summary.Outcome != "" {
			overallTotal += chain.Summary.FinalOverallScore
			overallCount++
		}
	}
	finished := overview.ReleasedChains + overview.DiscardedChains + overview.FailedChains
	if finished > 0 {
		overview.ReleaseRate = float64(overview.ReleasedChains) / float64(finished)
	}
	if overallCount > 0 {
		overview.AverageOverall = overallTotal / float64(overallCount)
	}
	return overview
}

func (s *MemoryFileStore) load() error {
	data, err := os.ReadFile(filepath.Clean(s.path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store snapshot: %w", err)
	}
	var snapshot storeSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode store snapshot: %w", err)
	}
	for _, chain := range snapshot.Chains {
		s.chains[chain.ChainID] = chain
	}
	for chainID, events := range snapshot.Events {
		s.events[chainID] = events
		maxSeq := int64(0)
		for _, event := range events {
			if event.Seq > maxSeq {
				maxSeq = event.Seq
			}
		}
		s.nextSeq[chainID] = maxSeq + 1
	}
	s.audit = snapshot.Audit
	return nil
}

type storeSnapshot struct {
	Chains []ChainMeta             `json:"chains"`
	Events map[string][]ChainEvent `json:"events"`
	Audit  []eval.AuditRecord      `json:"audit"`
}

func (s *MemoryFileStore) persistLocked() error {
	if strings.TrimSpace(s.path) == "" {
		return nil
	}
	chains := make([]ChainMeta, 0, len(s.chains))
	for _, chain := range s.chains {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].CreatedAt < chains[j].CreatedAt
	})
	snapshot := storeSnapshot{
		Chains: chains,
		Events: s.events,
		Audit:  s.audit,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write store temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace store snapshot: %w", err)
	}
	return nil
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
