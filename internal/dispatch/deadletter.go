package dispatch

import (
	"encoding/json"
	"time"

	"github.com/hookwire/hookwire/internal/model"
)

const DeadLetterType = "delivery.dead"

// DeadLetterEnvelope is the message published to the dead-letter topic when a
// delivery exhausts its retry budget. It carries enough context to triage
// without a ledger lookup.
type DeadLetterEnvelope struct {
	Type       string `json:"type"`    // "delivery.dead"
	Version    string `json:"version"` // schema version
	At         string `json:"at"`      // RFC3339 time the envelope was emitted
	DeliveryID string `json:"delivery_id"`
	EndpointID string `json:"endpoint_id"`
	URL        string `json:"url"`
	EventType  string `json:"event_type"`
	Attempt    int    `json:"attempt"`
	HTTPStatus int    `json:"http_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

func NewDeadLetterEnvelope(del *model.Delivery, ep *model.Endpoint, attempt, httpStatus int, lastErr string) DeadLetterEnvelope {
	return DeadLetterEnvelope{
		Type:       DeadLetterType,
		Version:    "v1",
		At:         time.Now().UTC().Format(time.RFC3339Nano),
		DeliveryID: del.ID.String(),
		EndpointID: ep.ID.String(),
		URL:        ep.URL,
		EventType:  del.EventType,
		Attempt:    attempt,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
	}
}

func (e DeadLetterEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
