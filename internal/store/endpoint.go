package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookwire/hookwire/internal/model"
)

type EndpointStore struct {
	pool *pgxpool.Pool
}

const endpointCols = `id, name, url, secret, events, tenant_id, active, created_at, updated_at`

func scanEndpoint(row interface{ Scan(...any) error }) (*model.Endpoint, error) {
	var ep model.Endpoint
	var eventsJSON []byte
	if err := row.Scan(&ep.ID, &ep.Name, &ep.URL, &ep.Secret, &eventsJSON,
		&ep.TenantID, &ep.Active, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(eventsJSON, &ep.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	return &ep, nil
}

// Create registers a new endpoint and fills in its id and timestamps.
func (s *EndpointStore) Create(ctx context.Context, ep *model.Endpoint) error {
	eventsJSON, err := json.Marshal(ep.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO hookwire.endpoints (name, url, secret, events, tenant_id, active)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		RETURNING id, created_at, updated_at`,
		ep.Name, ep.URL, ep.Secret, string(eventsJSON), ep.TenantID, ep.Active,
	).Scan(&ep.ID, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

func (s *EndpointStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Endpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+endpointCols+` FROM hookwire.endpoints WHERE id = $1`, id)
	ep, err := scanEndpoint(row)
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return ep, nil
}

func (s *EndpointStore) List(ctx context.Context, limit int) ([]model.Endpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+endpointCols+` FROM hookwire.endpoints ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []model.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

// ListActive returns every active endpoint. Subscription and tenant matching
// happens in the emitter over this set.
func (s *EndpointStore) ListActive(ctx context.Context) ([]model.Endpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+endpointCols+` FROM hookwire.endpoints WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active endpoints: %w", err)
	}
	defer rows.Close()

	var out []model.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

// Deactivate flips the endpoint inactive. Endpoints are never deleted so
// delivery history stays attached.
func (s *EndpointStore) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookwire.endpoints SET active = FALSE, updated_at = now()
		WHERE id = $1 AND active`, id)
	if err != nil {
		return false, fmt.Errorf("deactivate endpoint: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
