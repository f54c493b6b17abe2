// Package store persists engine state in an embedded sqlite database:
// bracket occupancy for warm restarts and retirement progress so an
// interrupted exit sequence can resume. It also implements the generic
// persistence backend the host seam declares.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"bothive/engine/internal/host"
	"bothive/engine/internal/retire"
)

// ErrClosed reports use after Close.
var ErrClosed = errors.New("store: closed")

const schema = `
CREATE TABLE IF NOT EXISTS bracket_counters (
	min_level INTEGER NOT NULL,
	faction   INTEGER NOT NULL,
	count     INTEGER NOT NULL,
	PRIMARY KEY (min_level, faction)
);
CREATE TABLE IF NOT EXISTS retirement_progress (
	bot_id     INTEGER PRIMARY KEY,
	stage      TEXT    NOT NULL,
	attempts   INTEGER NOT NULL,
	level      INTEGER NOT NULL DEFAULT 0,
	faction    INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT    NOT NULL DEFAULT (datetime('now'))
);
`

// Config tunes the store.
type Config struct {
	// Path is the database file; ":memory:" keeps everything in RAM.
	Path         string
	AsyncWorkers int
	QueueSize    int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Path:         "bothive.db",
		AsyncWorkers: 2,
		QueueSize:    256,
	}
}

type job struct {
	query string
	args  []any
	done  func(error)
}

// BracketCount is one persisted occupancy row.
type BracketCount struct {
	MinLevel int
	Faction  host.Faction
	Count    uint64
}

// RetirementRow is one persisted retirement in flight.
type RetirementRow struct {
	BotID    uint64
	Stage    string
	Attempts int
	Level    int
	Faction  host.Faction
}

// Store wraps a single sqlite handle. Exec and Query are synchronous;
// Async runs statements on a small worker pool.
type Store struct {
	db     *sql.DB
	jobs   chan job
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open opens (or creates) the database and applies the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = "bothive.db"
	}
	if cfg.AsyncWorkers <= 0 {
		cfg.AsyncWorkers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}
	// sqlite serializes writers anyway; a single connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{
		db:   db,
		jobs: make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.AsyncWorkers; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
	return s, nil
}

// Close drains the async queue and closes the handle.
func (s *Store) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.jobs)
	s.wg.Wait()
	return s.db.Close()
}

// Exec runs one statement synchronously.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	if s == nil || s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// Query runs one query synchronously. The caller closes the rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s == nil || s.closed.Load() {
		return nil, ErrClosed
	}
	return s.db.QueryContext(ctx, query, args...)
}

// Async queues a statement for a worker; done receives the result. A
// full queue fails fast rather than blocking the caller.
func (s *Store) Async(query string, args []any, done func(error)) {
	if s == nil || s.closed.Load() {
		if done != nil {
			done(ErrClosed)
		}
		return
	}
	select {
	case s.jobs <- job{query: query, args: args, done: done}:
	default:
		if done != nil {
			done(errors.New("store: async queue full"))
		}
	}
}

var (
	_ host.PersistenceBackend = (*Store)(nil)
	_ retire.ProgressStore    = (*Store)(nil)
)

func (s *Store) runWorker() {
	defer s.wg.Done()
	for j := range s.jobs {
		_, err := s.db.Exec(j.query, j.args...)
		if j.done != nil {
			j.done(err)
		}
	}
}

// SaveBracketCount upserts one occupancy counter.
func (s *Store) SaveBracketCount(ctx context.Context, minLevel int, faction host.Faction, count uint64) error {
	return s.Exec(ctx, `
		INSERT INTO bracket_counters (min_level, faction, count) VALUES (?, ?, ?)
		ON CONFLICT (min_level, faction) DO UPDATE SET count = excluded.count`,
		minLevel, int(faction), count)
}

// AsyncSaveBracketCount queues the upsert on the worker pool; the periodic
// counter flush must not block the tick loop.
func (s *Store) AsyncSaveBracketCount(minLevel int, faction host.Faction, count uint64, done func(error)) {
	s.Async(`
		INSERT INTO bracket_counters (min_level, faction, count) VALUES (?, ?, ?)
		ON CONFLICT (min_level, faction) DO UPDATE SET count = excluded.count`,
		[]any{minLevel, int(faction), count}, done)
}

// LoadBracketCounts reads every persisted occupancy counter.
func (s *Store) LoadBracketCounts(ctx context.Context) ([]BracketCount, error) {
	rows, err := s.Query(ctx, `SELECT min_level, faction, count FROM bracket_counters ORDER BY min_level, faction`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BracketCount
	for rows.Next() {
		var row BracketCount
		var faction int
		if err := rows.Scan(&row.MinLevel, &faction, &row.Count); err != nil {
			return nil, err
		}
		row.Faction = host.Faction(faction)
		out = append(out, row)
	}
	return out, rows.Err()
}

// SaveRetirement upserts a retirement's current stage.
func (s *Store) SaveRetirement(botID uint64, stage string, attempts, level int, faction host.Faction) error {
	return s.Exec(context.Background(), `
		INSERT INTO retirement_progress (bot_id, stage, attempts, level, faction, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (bot_id) DO UPDATE SET
			stage = excluded.stage,
			attempts = excluded.attempts,
			level = excluded.level,
			faction = excluded.faction,
			updated_at = excluded.updated_at`,
		botID, stage, attempts, level, int(faction))
}

// ClearRetirement removes a settled retirement.
func (s *Store) ClearRetirement(botID uint64) error {
	return s.Exec(context.Background(), `DELETE FROM retirement_progress WHERE bot_id = ?`, botID)
}

// PendingRetirements lists retirements interrupted by a restart.
func (s *Store) PendingRetirements(ctx context.Context) ([]RetirementRow, error) {
	rows, err := s.Query(ctx, `SELECT bot_id, stage, attempts, level, faction FROM retirement_progress ORDER BY bot_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RetirementRow
	for rows.Next() {
		var row RetirementRow
		var faction int
		if err := rows.Scan(&row.BotID, &row.Stage, &row.Attempts, &row.Level, &faction); err != nil {
			return nil, err
		}
		row.Faction = host.Faction(faction)
		out = append(out, row)
	}
	return out, rows.Err()
}
