package model

import (
	"time"

	"github.com/google/uuid"
)

// Endpoint is a registered third-party HTTP receiver subscribed to one or
// more event types. Endpoints are deactivated rather than deleted so that
// delivery history stays attached; the secret is fixed once deliveries
// reference it (rotation means registering a new endpoint).
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	TenantID  *string   `json:"tenant_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is one emitted event occurrence. Payload holds the canonical envelope
// bytes; deliveries copy them verbatim so re-delivery is byte-identical.
type Event struct {
	ID             uuid.UUID `json:"id"`
	TenantID       *string   `json:"tenant_id,omitempty"`
	EventType      string    `json:"event_type"`
	Payload        []byte    `json:"-"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusInflight  DeliveryStatus = "inflight"
	StatusRetrying  DeliveryStatus = "retrying"
	StatusSuccess   DeliveryStatus = "success"
	StatusFailed    DeliveryStatus = "failed"
	StatusAbandoned DeliveryStatus = "abandoned"
)

// Terminal reports whether no further transition may leave the status.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusAbandoned:
		return true
	}
	return false
}

// Claimable reports whether a worker may claim a delivery in this status for
// an attempt.
func (s DeliveryStatus) Claimable() bool {
	return s == StatusPending || s == StatusRetrying
}

// CanTransition reports whether the status may move to next. Inflight is the
// claim marker a worker holds during an attempt; every attempt result leaves
// inflight and terminal states accept nothing.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending, StatusRetrying:
		return next == StatusInflight
	case StatusInflight:
		return next == StatusSuccess || next == StatusRetrying ||
			next == StatusFailed || next == StatusAbandoned
	}
	return false
}

// Delivery is one tracked attempt-series of sending a single event occurrence
// to a single endpoint.
type Delivery struct {
	ID             uuid.UUID      `json:"id"`
	EndpointID     uuid.UUID      `json:"endpoint_id"`
	EventID        *uuid.UUID     `json:"event_id,omitempty"`
	ReplayOf       *uuid.UUID     `json:"replay_of,omitempty"`
	EventType      string         `json:"event_type"`
	Payload        []byte         `json:"-"`
	Status         DeliveryStatus `json:"status"`
	ResponseStatus *int           `json:"response_status,omitempty"`
	ResponseBody   *string        `json:"response_body,omitempty"`
	LastError      *string        `json:"last_error,omitempty"`
	AttemptCount   int            `json:"attempt_count"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DeadLetter records a delivery that exhausted its retry budget.
type DeadLetter struct {
	ID         uuid.UUID `json:"id"`
	DeliveryID uuid.UUID `json:"delivery_id"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}
