package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one journaled terminal outcome.
type Record struct {
	RequestID   string
	ExecutionID string
	Kind        string
	Status      string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store persists terminal execution outcomes.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store on an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert journals one record.
func (s *Store) Insert(ctx context.Context, r Record) error {
	var startedAt *time.Time
	if !r.StartedAt.IsZero() {
		startedAt = &r.StartedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (request_id, execution_id, kind, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.RequestID, nullable(r.ExecutionID), r.Kind, r.Status, nullable(r.Error), startedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// Recent returns the latest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, COALESCE(execution_id, ''), kind, status, COALESCE(error, ''),
		       COALESCE(started_at, 'epoch'::timestamptz), finished_at
		FROM executions
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.RequestID, &r.ExecutionID, &r.Kind, &r.Status,
			&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying pool.
func (s *Store) Close() { s.pool.Close() }

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
