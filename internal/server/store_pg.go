package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"orbit-gate/internal/eval"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) CreateChain(meta ChainMeta) error {
	req, _ := json.Marshal(meta.Request)
	summary, _ := json.Marshal(meta.Summary)
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO chains (chain_id,status,source,request,created_at,summary)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		meta.ChainID, meta.Status, meta.Source, req, meta.CreatedAt, summary)
	return err
}

func (s *PgStore) UpdateChain(chainID string, mutate func(*ChainMeta)) (ChainMeta, error) {
	tx, err := s.pool.Begin(context.Background())
	if err != nil {
		return ChainMeta{}, err
	}
	defer tx.Rollback(context.Background())

	row := tx.QueryRow(context.Background(),
		`SELECT chain_id,status,source,request,created_at,started_at,finished_at,error,summary,audit
		 FROM chains WHERE chain_id=$1 FOR UPDATE`, chainID)
	meta, err := scanChainMeta(row)
	if err != nil {
		return ChainMeta{}, fmt.Errorf("chain not found: %s", chainID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	req, _ := json.Marshal(meta.Request)
	summary, _ := json.Marshal(meta.Summary)
	var auditJSON []byte
	if meta.Audit != nil {
		auditJSON, _ = json.Marshal(meta.Audit)
	}
	_, err = tx.Exec(context.Background(),
		`UPDATE chains SET status=$1,started_at=$2,finished_at=$3,error=$4,summary=$5,audit=$6,request=$7
		 WHERE chain_id=$8`,
		meta.Status, nullStr(meta.StartedAt), nullStr(meta.FinishedAt), meta.Error,
		summary, auditJSON, req, chainID)
	if err != nil {
		return ChainMeta{}, err
	}
	return meta, tx.Commit(context.Background())
}

func (s *PgStore) GetChain(chainID string) (ChainMeta, bool) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT chain_id,status,source,request,created_at,started_at,finished_at,error,summary,audit
		 FROM chains WHERE chain_id=$1`, chainID)
	meta, err := scanChainMeta(row)
	if err != nil {
		return ChainMeta{}, false
	}
	return meta, true
}

func (s *PgStore) ListChains(limit int) []ChainMeta {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT chain_id,status,source,request,created_at,started_at,finished_at,error,summary,audit
		 FROM chains ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return []ChainMeta{}
	}
	defer rows.Close()
	out := []ChainMeta{}
	for rows.Next() {
		meta, err := scanChainMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out
}

func (s *PgStore) AppendChainEvent(chainID string, stage, message string, data map[string]any) (ChainEvent, error) {
	var dataJSON []byte
	if data != nil {
		dataJSON, _ = json.Marshal(data)
	}
	var seq int64
	var ts time.Time
	err := s.pool.QueryRow(context.Background(),
		`INSERT INTO chain_events (chain_id, seq, stage, message, data)
		 VALUES ($1, COALESCE((SELECT MAX(seq) FROM chain_events WHERE chain_id=$1),0)+1, $2, $3, $4)
		 RETURNING seq, timestamp`, chainID, stage, message, dataJSON).Scan(&seq, &ts)
	if err != nil {
		return ChainEvent{}, err
	}
	return ChainEvent{
		Seq:       seq,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Stage:     stage,
		Message:   message,
		Data:      data,
	}, nil
}

func (s *PgStore) ListChainEvents(chainID string, sinceSeq int64) []ChainEvent {
	rows, err := s.pool.Query(context.Background(),
		`SELECT seq, timestamp, stage, message, data
		 FROM chain_events WHERE chain_id=$1 AND seq>$2 ORDER BY seq`, chainID, sinceSeq)
	if err != nil {
		return []ChainEvent{}
	}
	defer rows.Close()
	out := []ChainEvent{}
	for rows.Next() {
		var e ChainEvent
		var ts time.Time
		var dataJSON []byte
		if err := rows.Scan(&e.Seq, &ts, &e.Stage, &e.Message, &dataJSON); err != nil {
			continue
		}
		e.Timestamp = ts.UTC().Format(time.RFC3339)
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &e.Data)
		}
		out = append(out, e)
	}
	return out
}

// AppendAudit inserts the record inside one transaction so a reader never
// observes a partially written audit row.
func (s *PgStore) AppendAudit(record eval.AuditRecord) error {
	if strings.TrimSpace(record.DecisionTimestamp) == "" {
		record.DecisionTimestamp = nowRFC3339()
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	tx, err := s.pool.Begin(context.Background())
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())
	_, err = tx.Exec(context.Background(),
		`INSERT INTO audit_records (chain_id,outcome,decision_timestamp,retry_chain_length,record)
		 VALUES ($1,$2,$3,$4,$5)`,
		record.ChainID, record.Outcome, record.DecisionTimestamp, record.RetryChainLength, recordJSON)
	if err != nil {
		return err
	}
	return tx.Commit(context.Background())
}

func (s *PgStore) ListAudit(limit int) []eval.AuditRecord {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT record FROM audit_records ORDER BY decision_timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return []eval.AuditRecord{}
	}
	defer rows.Close()
	out := []eval.AuditRecord{}
	for rows.Next() {
		var recordJSON []byte
		if rows.Scan(&recordJSON) != nil {
			continue
		}
		var record eval.AuditRecord
		if json.Unmarshal(recordJSON, &record) != nil {
			continue
		}
		out = append(out, record)
	}
	return out
}

func (s *PgStore) GetMetricsOverview() MetricsOverview {
	overview := MetricsOverview{GeneratedAt: nowRFC3339()}
	_ = s.pool.QueryRow(context.Background(),
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('queued','running')),
			COUNT(*) FILTER (WHERE status='released'),
			COUNT(*) FILTER (WHERE status='discarded'),
			COUNT(*) FILTER (WHERE status='failed')
		 FROM chains`).Scan(
		&overview.TotalChains, &overview.RunningChains, &overview.ReleasedChains,
		&overview.DiscardedChains, &overview.FailedChains)

	rows, _ := s.pool.Query(context.Background(),
		`SELECT summary FROM chains WHERE summary IS NOT NULL`)
	if rows != nil {
		defer rows.Close()
		var overallTotal float64
		overallCount := 0
		for rows.Next() {
			var summaryJSON []byte
			if rows.Scan(&summaryJSON) != nil {
				continue
			}
			var summary ChainSummary
			if json.Unmarshal(summaryJSON, &summary) != nil {
				continue
			}
			overview.TotalAttempts += summary.Attempts
			if len(summary.FailedDimensions) > 0 {
				overview.HardGateRejects++
			}
			if summary.Outcome != "" {
				overallTotal += summary.FinalOverallScore
				overallCount++
			}
		}
		if overallCount > 0 {
			overview.AverageOverall = overallTotal / float64(overallCount)
		}
	}
	finished := overview.ReleasedChains + overview.DiscardedChains + overview.FailedChains
	if finished > 0 {
		overview.ReleaseRate = float64(overview.ReleasedChains) / float64(finished)
	}
	return overview
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanChainMeta(row scannable) (ChainMeta, error) {
	var m ChainMeta
	var reqJSON, summaryJSON, auditJSON []byte
	var source, startedAt, finishedAt, errStr *string
	err := row.Scan(&m.ChainID, &m.Status, &source, &reqJSON, &m.CreatedAt,
		&startedAt, &finishedAt, &errStr, &summaryJSON, &auditJSON)
	if err != nil {
		return ChainMeta{}, err
	}
	m.Source = deref(source)
	m.StartedAt = deref(startedAt)
	m.FinishedAt = deref(finishedAt)
	m.Error = deref(errStr)
	_ = json.Unmarshal(reqJSON, &m.Request)
	if len(summaryJSON) > 0 {
		_ = json.Unmarshal(summaryJSON, &m.Summary)
	}
	if len(auditJSON) > 0 {
		var record eval.AuditRecord
		if json.Unmarshal(auditJSON, &record) == nil {
			m.Audit = &record
		}
	}
	return m, nil
}

func nullStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Ensure PgStore implements Store at compile time.
var _ Store = (*PgStore)(nil)
