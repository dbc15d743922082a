// Package sqlite is the embedded store used for local runs and the test
// suite. A single connection serializes every transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"localrank/internal/repository"
	"localrank/pkg/metrics"
	"localrank/pkg/otel"
)

const driverName = "sqlite"

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ repository.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	dsn += "?" + q.Encode()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: keeps :memory: alive and makes transactions serial
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	logger.Info("SQLite store ready", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Driver() string { return driverName }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close sqlite", zap.Error(err))
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	start := time.Now()
	ctx, span := otel.DBSpan(ctx, driverName, "tx")
	defer func() {
		otel.EndSpan(span, err)
		metrics.RecordDBQueryDuration("tx", driverName, time.Since(start))
	}()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, &tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return repository.ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", repository.ErrDuplicate, err)
	default:
		return err
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS agencies (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	company_name TEXT NOT NULL,
	logo_url TEXT,
	subscription_status TEXT NOT NULL DEFAULT 'trial',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	agency_id TEXT NOT NULL REFERENCES agencies(id) ON DELETE CASCADE,
	business_name TEXT NOT NULL,
	service_type TEXT NOT NULL,
	location TEXT NOT NULL,
	phone TEXT,
	email TEXT,
	website_url TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clients_agency ON clients(agency_id);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL UNIQUE REFERENCES clients(id) ON DELETE CASCADE,
	agency_id TEXT NOT NULL REFERENCES agencies(id) ON DELETE CASCADE,
	current_phase INTEGER NOT NULL DEFAULT 1 CHECK (current_phase BETWEEN 1 AND 6),
	phase_1_progress INTEGER NOT NULL DEFAULT 0 CHECK (phase_1_progress BETWEEN 0 AND 100),
	phase_2_progress INTEGER NOT NULL DEFAULT 0 CHECK (phase_2_progress BETWEEN 0 AND 100),
	phase_3_progress INTEGER NOT NULL DEFAULT 0 CHECK (phase_3_progress BETWEEN 0 AND 100),
	phase_4_progress INTEGER NOT NULL DEFAULT 0 CHECK (phase_4_progress BETWEEN 0 AND 100),
	phase_5_progress INTEGER NOT NULL DEFAULT 0 CHECK (phase_5_progress BETWEEN 0 AND 100),
	phase_6_progress INTEGER NOT NULL DEFAULT 0 CHECK (phase_6_progress BETWEEN 0 AND 100),
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	phase INTEGER NOT NULL CHECK (phase BETWEEN 1 AND 6),
	title TEXT NOT NULL,
	description TEXT,
	assigned_to TEXT,
	completed INTEGER NOT NULL DEFAULT 0,
	completed_at DATETIME,
	order_index INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_project_phase ON tasks(project_id, phase);

CREATE TABLE IF NOT EXISTS keywords (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	agency_id TEXT NOT NULL REFERENCES agencies(id) ON DELETE CASCADE,
	keyword TEXT NOT NULL,
	search_volume INTEGER NOT NULL,
	difficulty TEXT NOT NULL CHECK (difficulty IN ('easy', 'medium', 'hard')),
	commercial_intent TEXT NOT NULL CHECK (commercial_intent IN ('low', 'medium', 'high')),
	keyword_type TEXT NOT NULL CHECK (keyword_type IN ('service', 'location', 'emergency')),
	priority INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 10),
	current_ranking INTEGER,
	target_page TEXT,
	position INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (client_id, position)
);

CREATE TABLE IF NOT EXISTS competitors (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	agency_id TEXT NOT NULL REFERENCES agencies(id) ON DELETE CASCADE,
	business_name TEXT NOT NULL,
	website_url TEXT NOT NULL,
	review_count INTEGER NOT NULL DEFAULT 0 CHECK (review_count >= 0),
	average_rating REAL CHECK (average_rating IS NULL OR average_rating BETWEEN 0 AND 5),
	strengths TEXT NOT NULL DEFAULT '',
	weaknesses TEXT NOT NULL DEFAULT '',
	ranking_position INTEGER CHECK (ranking_position IS NULL OR ranking_position >= 1),
	analyzed_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id TEXT PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	agency_id TEXT NOT NULL,
	routing_key TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at INTEGER,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events(status, created_at);

CREATE TABLE IF NOT EXISTS activities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE,
	agency_id TEXT NOT NULL,
	client_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	occurred_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activities_agency ON activities(agency_id, id);
`
