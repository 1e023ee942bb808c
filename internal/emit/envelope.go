package emit

import (
	"encoding/json"
	"time"
)

// Envelope is the canonical wire body receivers get. It is marshaled exactly
// once when the event is emitted; every delivery and every retry sends the
// same bytes, so signatures stay valid across attempts.
type Envelope struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// CanonicalPayload builds and marshals the envelope for an event occurrence.
func CanonicalPayload(eventType string, data json.RawMessage, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		EventType: eventType,
		Data:      data,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}
