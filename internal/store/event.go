package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookwire/hookwire/internal/model"
)

type EventStore struct {
	pool *pgxpool.Pool
}

// Insert persists the event and fills in its id. When ev carries an
// idempotency key and the same (tenant, key) pair was seen before, the
// existing row's id is returned and created reports false.
func (s *EventStore) Insert(ctx context.Context, ev *model.Event) (created bool, err error) {
	if ev.IdempotencyKey == "" {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO hookwire.events (tenant_id, event_type, payload)
			VALUES ($1, $2, $3)
			RETURNING id, created_at`,
			ev.TenantID, ev.EventType, string(ev.Payload),
		).Scan(&ev.ID, &ev.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("insert event: %w", err)
		}
		return true, nil
	}

	ct, err := s.pool.Exec(ctx, `
		INSERT INTO hookwire.events (tenant_id, event_type, payload, idempotency_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT uq_events_tenant_idem DO NOTHING`,
		ev.TenantID, ev.EventType, string(ev.Payload), ev.IdempotencyKey)
	if err != nil {
		return false, fmt.Errorf("insert event (idempotent): %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT id, created_at FROM hookwire.events
		WHERE tenant_id IS NOT DISTINCT FROM $1 AND idempotency_key = $2
		LIMIT 1`,
		ev.TenantID, ev.IdempotencyKey,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("select event id (idempotent): %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// CountDeliveries reports how many deliveries already reference the event.
func (s *EventStore) CountDeliveries(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM hookwire.deliveries WHERE event_id = $1`, eventID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deliveries for event: %w", err)
	}
	return n, nil
}
