package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"localrank/pkg/outbox"
)

var _ outbox.Store = (*Store)(nil)

const outboxColumns = `id, aggregate_type, aggregate_id, agency_id, routing_key, payload, status,
	retry_count, next_retry_at, created_at, updated_at`

func (s *Store) GetPendingEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, rowid
		LIMIT ?`, time.Now().UnixMilli(), limit)
}

func (s *Store) GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE status = 'failed'
		ORDER BY created_at DESC
		LIMIT ?`, limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*outbox.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanOutboxEvent(row interface{ Scan(...any) error }) (*outbox.Event, error) {
	var (
		e       outbox.Event
		payload string
		next    sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.AgencyID, &e.RoutingKey, &payload,
		&e.Status, &e.RetryCount, &next, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	if next.Valid {
		at := time.UnixMilli(next.Int64)
		e.NextRetryAt = &at
	}
	return &e, nil
}

func (s *Store) MarkAsSent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = 'sent', updated_at = ? WHERE id = ?`, time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

func (s *Store) MarkAsFailed(ctx context.Context, eventID string, maxRetries int) error {
	var retryCount int
	if err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM outbox_events WHERE id = ?`, eventID).Scan(&retryCount); err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}
	retryCount++

	now := time.Now().UTC()
	status, nextRetryAt := outbox.NextRetryAt(now, retryCount, maxRetries)
	var next sql.NullInt64
	if nextRetryAt != nil {
		next = sql.NullInt64{Int64: nextRetryAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = ?, retry_count = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ?`, status, retryCount, next, now, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

func (s *Store) GetEventByID(ctx context.Context, eventID string) (*outbox.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE id = ?`, eventID)
	e, err := scanOutboxEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", outbox.ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

func (s *Store) ReplayEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = ?
		WHERE id = ?`, time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("failed to replay event: %w", err)
	}
	return nil
}
