package dispatch

import "github.com/google/uuid"

// Task is the queue envelope for "dispatch this delivery". The payload and
// endpoint details live in the ledger; the worker loads them at claim time so
// the signed bytes can never diverge from what was stored. EndpointID and
// EventType are informational for queue inspection and may be zero on
// sweeper-requeued tasks.
type Task struct {
	DeliveryID   uuid.UUID         `json:"delivery_id"`
	EndpointID   uuid.UUID         `json:"endpoint_id"`
	EventType    string            `json:"event_type,omitempty"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}
