// Package sqlite implements dcop.RoundStore using pure-Go SQLite.
// Zero CGO required; suitable for single-host deployments and the
// simulator.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/muglyon/dcop"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the
// store emits debug logs when it opens and when it saves a round.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements dcop.RoundStore backed by a local SQLite file.
// Assignments and priorities are stored as JSON text.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ dcop.RoundStore = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath. A single
// shared connection serializes all goroutines, eliminating
// SQLITE_BUSY errors from concurrent writers.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with
		// the blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: dcop.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the rounds table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		urgent INTEGER NOT NULL,
		root INTEGER NOT NULL,
		results TEXT NOT NULL,
		priorities TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: init: %w", err)
	}
	return nil
}

// SaveRound appends one completed round.
func (s *Store) SaveRound(ctx context.Context, rec dcop.RoundRecord) error {
	start := time.Now()
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("sqlite: marshal results: %w", err)
	}
	priorities, err := json.Marshal(rec.Priorities)
	if err != nil {
		return fmt.Errorf("sqlite: marshal priorities: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rounds (id, started_at, duration_ms, urgent, root, results, priorities)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(),
		boolToInt(rec.Urgent), int(rec.Root), string(results), string(priorities))
	if err != nil {
		return fmt.Errorf("sqlite: save round: %w", err)
	}
	s.logger.Debug("sqlite: round saved", "id", rec.ID, "took", time.Since(start))
	return nil
}

// LastRound returns the most recent record.
func (s *Store) LastRound(ctx context.Context) (dcop.RoundRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, duration_ms, urgent, root, results, priorities
		 FROM rounds ORDER BY started_at DESC LIMIT 1`)

	var rec dcop.RoundRecord
	var startedAt, durationMs int64
	var urgent, root int
	var results, priorities string
	err := row.Scan(&rec.ID, &startedAt, &durationMs, &urgent, &root, &results, &priorities)
	if errors.Is(err, sql.ErrNoRows) {
		return dcop.RoundRecord{}, false, nil
	}
	if err != nil {
		return dcop.RoundRecord{}, false, fmt.Errorf("sqlite: last round: %w", err)
	}

	rec.StartedAt = time.UnixMilli(startedAt)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.Urgent = urgent != 0
	rec.Root = dcop.AgentID(root)
	if err := json.Unmarshal([]byte(results), &rec.Results); err != nil {
		return dcop.RoundRecord{}, false, fmt.Errorf("sqlite: decode results: %w", err)
	}
	if err := json.Unmarshal([]byte(priorities), &rec.Priorities); err != nil {
		return dcop.RoundRecord{}, false, fmt.Errorf("sqlite: decode priorities: %w", err)
	}
	return rec, true, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
