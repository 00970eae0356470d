// Package postgres implements dcop.RoundStore on PostgreSQL via pgx,
// for deployments where the coordinator's history must survive the
// host and be queryable by operations tooling.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/muglyon/dcop"
)

// StoreOption configures a postgres Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements dcop.RoundStore backed by a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ dcop.RoundStore = (*Store)(nil)

// New connects to the database described by dsn.
func New(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{pool: pool, logger: dcop.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Init creates the rounds table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		urgent BOOLEAN NOT NULL,
		root INTEGER NOT NULL,
		results JSONB NOT NULL,
		priorities JSONB NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("postgres: init: %w", err)
	}
	return nil
}

// SaveRound appends one completed round.
func (s *Store) SaveRound(ctx context.Context, rec dcop.RoundRecord) error {
	start := time.Now()
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("postgres: marshal results: %w", err)
	}
	priorities, err := json.Marshal(rec.Priorities)
	if err != nil {
		return fmt.Errorf("postgres: marshal priorities: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO rounds (id, started_at, duration_ms, urgent, root, results, priorities)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.StartedAt, rec.Duration.Milliseconds(),
		rec.Urgent, int(rec.Root), results, priorities)
	if err != nil {
		return fmt.Errorf("postgres: save round: %w", err)
	}
	s.logger.Debug("postgres: round saved", "id", rec.ID, "took", time.Since(start))
	return nil
}

// LastRound returns the most recent record.
func (s *Store) LastRound(ctx context.Context) (dcop.RoundRecord, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, started_at, duration_ms, urgent, root, results, priorities
		 FROM rounds ORDER BY started_at DESC LIMIT 1`)

	var rec dcop.RoundRecord
	var durationMs int64
	var root int
	var results, priorities []byte
	err := row.Scan(&rec.ID, &rec.StartedAt, &durationMs, &rec.Urgent, &root, &results, &priorities)
	if errors.Is(err, pgx.ErrNoRows) {
		return dcop.RoundRecord{}, false, nil
	}
	if err != nil {
		return dcop.RoundRecord{}, false, fmt.Errorf("postgres: last round: %w", err)
	}

	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.Root = dcop.AgentID(root)
	if err := json.Unmarshal(results, &rec.Results); err != nil {
		return dcop.RoundRecord{}, false, fmt.Errorf("postgres: decode results: %w", err)
	}
	if err := json.Unmarshal(priorities, &rec.Priorities); err != nil {
		return dcop.RoundRecord{}, false, fmt.Errorf("postgres: decode priorities: %w", err)
	}
	return rec, true, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
