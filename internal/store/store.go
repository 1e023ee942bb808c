package store

import "github.com/jackc/pgx/v5/pgxpool"

// Store bundles the per-table stores over one pgx pool.
type Store struct {
	Endpoints  *EndpointStore
	Events     *EventStore
	Deliveries *DeliveryStore
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Endpoints:  &EndpointStore{pool: pool},
		Events:     &EventStore{pool: pool},
		Deliveries: &DeliveryStore{pool: pool},
	}
}
