package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"localrank/internal/repository"
	"localrank/pkg/metrics"
	"localrank/pkg/otel"
	"localrank/pkg/outbox"
)

const driverName = "postgres"

type Store struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		outbox: outbox.NewRepository(db),
		logger: logger,
	}
}

// Outbox exposes the outbox repository sharing this pool.
func (s *Store) Outbox() *outbox.Repository {
	return s.outbox
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	s.logger.Info("PostgreSQL schema applied")
	return nil
}

func (s *Store) Driver() string { return driverName }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	start := time.Now()
	ctx, span := otel.DBSpan(ctx, driverName, "tx")
	defer func() {
		otel.EndSpan(span, err)
		metrics.RecordDBQueryDuration("tx", driverName, time.Since(start))
	}()

	pgTx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// no-op after a successful commit
		if rbErr := pgTx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("Rollback failed", zap.Error(rbErr))
		}
	}()

	if err = fn(ctx, &tx{tx: pgTx, outbox: s.outbox, logger: s.logger}); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", repository.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS agencies (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	company_name TEXT NOT NULL,
	logo_url TEXT,
	subscription_status TEXT NOT NULL DEFAULT 'trial'
		CHECK (subscription_status IN ('trial', 'active', 'past_due', 'canceled')),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
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
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'paused', 'archived')),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clients_agency ON clients(agency_id, created_at);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL UNIQUE REFERENCES clients(id) ON DELETE CASCADE,
	agency_id TEXT NOT NULL REFERENCES agencies(id) ON DELETE CASCADE,
	current_phase INT NOT NULL DEFAULT 1 CHECK (current_phase BETWEEN 1 AND 6),
	phase_1_progress INT NOT NULL DEFAULT 0 CHECK (phase_1_progress BETWEEN 0 AND 100),
	phase_2_progress INT NOT NULL DEFAULT 0 CHECK (phase_2_progress BETWEEN 0 AND 100),
	phase_3_progress INT NOT NULL DEFAULT 0 CHECK (phase_3_progress BETWEEN 0 AND 100),
	phase_4_progress INT NOT NULL DEFAULT 0 CHECK (phase_4_progress BETWEEN 0 AND 100),
	phase_5_progress INT NOT NULL DEFAULT 0 CHECK (phase_5_progress BETWEEN 0 AND 100),
	phase_6_progress INT NOT NULL DEFAULT 0 CHECK (phase_6_progress BETWEEN 0 AND 100),
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	seq BIGSERIAL UNIQUE,
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	phase INT NOT NULL CHECK (phase BETWEEN 1 AND 6),
	title TEXT NOT NULL,
	description TEXT,
	assigned_to TEXT,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	completed_at TIMESTAMPTZ,
	order_index INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_project_phase ON tasks(project_id, phase, order_index, seq);

CREATE TABLE IF NOT EXISTS keywords (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	agency_id TEXT NOT NULL REFERENCES agencies(id) ON DELETE CASCADE,
	keyword TEXT NOT NULL,
	search_volume INT NOT NULL,
	difficulty TEXT NOT NULL CHECK (difficulty IN ('easy', 'medium', 'hard')),
	commercial_intent TEXT NOT NULL CHECK (commercial_intent IN ('low', 'medium', 'high')),
	keyword_type TEXT NOT NULL CHECK (keyword_type IN ('service', 'location', 'emergency')),
	priority INT NOT NULL CHECK (priority BETWEEN 1 AND 10),
	current_ranking INT,
	target_page TEXT,
	position INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (client_id, position)
);

CREATE TABLE IF NOT EXISTS competitors (
	seq BIGSERIAL UNIQUE,
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	agency_id TEXT NOT NULL REFERENCES agencies(id) ON DELETE CASCADE,
	business_name TEXT NOT NULL,
	website_url TEXT NOT NULL,
	review_count INT NOT NULL DEFAULT 0 CHECK (review_count >= 0),
	average_rating DOUBLE PRECISION CHECK (average_rating IS NULL OR average_rating BETWEEN 0 AND 5),
	strengths TEXT NOT NULL DEFAULT '',
	weaknesses TEXT NOT NULL DEFAULT '',
	ranking_position INT CHECK (ranking_position IS NULL OR ranking_position >= 1),
	analyzed_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id TEXT PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	agency_id TEXT NOT NULL,
	routing_key TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INT NOT NULL DEFAULT 0,
	next_retry_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events(status, created_at);

CREATE TABLE IF NOT EXISTS activities (
	id BIGSERIAL PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	agency_id TEXT NOT NULL,
	client_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activities_agency ON activities(agency_id, id DESC);
`
