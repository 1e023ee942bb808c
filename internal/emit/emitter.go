package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hookwire/hookwire/internal/dispatch"
	"github.com/hookwire/hookwire/internal/logging"
	"github.com/hookwire/hookwire/internal/metrics"
	"github.com/hookwire/hookwire/internal/model"
	"github.com/hookwire/hookwire/internal/tracing"
)

// Store is the slice of persistence the emitter needs.
type Store interface {
	InsertEvent(ctx context.Context, ev *model.Event) (created bool, err error)
	CreateDeliveries(ctx context.Context, deliveries []*model.Delivery) error
}

// EndpointSource yields the active endpoint set, usually through a cache.
type EndpointSource interface {
	ListActive(ctx context.Context) ([]model.Endpoint, error)
}

// Publisher publishes a message to a queue topic.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Request is one event occurrence to emit.
type Request struct {
	EventType      string          `json:"event_type"`
	Data           json.RawMessage `json:"data"`
	TenantID       *string         `json:"tenant_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Result reports what an emit did. Duplicate means the idempotency key was
// seen before and no new deliveries were created.
type Result struct {
	EventID   uuid.UUID `json:"event_id"`
	FanOut    int       `json:"fan_out"`
	Duplicate bool      `json:"duplicate"`
}

// Emitter turns event occurrences into pending deliveries and queues them for
// dispatch. Emit is fire-and-forget from the caller's side: once the ledger
// rows exist the call has succeeded, and queue publish problems are absorbed
// (the sweeper re-queues stale pending rows).
type Emitter struct {
	store     Store
	endpoints EndpointSource
	pub       Publisher
	topic     string
	log       *logging.Logger
	now       func() time.Time
}

func New(store Store, endpoints EndpointSource, pub Publisher, topic string, log *logging.Logger) *Emitter {
	return &Emitter{
		store:     store,
		endpoints: endpoints,
		pub:       pub,
		topic:     topic,
		log:       log,
		now:       time.Now,
	}
}

// Emit persists the event, fans it out to matching endpoints and queues one
// dispatch task per delivery.
func (e *Emitter) Emit(ctx context.Context, req Request) (*Result, error) {
	if req.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("{}")
	}

	ctx, span := tracing.StartSpan(ctx, "emit.event",
		attribute.String("event_type", req.EventType),
	)
	defer span.End()

	payload, err := CanonicalPayload(req.EventType, req.Data, e.now())
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	ev := &model.Event{
		TenantID:       req.TenantID,
		EventType:      req.EventType,
		Payload:        payload,
		IdempotencyKey: req.IdempotencyKey,
	}
	created, err := e.store.InsertEvent(ctx, ev)
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, fmt.Errorf("persist event: %w", err)
	}
	span.SetAttributes(attribute.String("event_id", ev.ID.String()))
	if !created {
		e.log.WithContext(ctx).WithEvent(ev.ID.String()).
			WithField("idempotency_key", req.IdempotencyKey).
			Info("duplicate event, fan-out skipped")
		return &Result{EventID: ev.ID, Duplicate: true}, nil
	}
	metrics.EventsEmittedTotal.WithLabelValues(req.EventType).Inc()

	endpoints, err := e.endpoints.ListActive(ctx)
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	matched := Match(endpoints, req.EventType, req.TenantID)
	span.SetAttributes(attribute.Int("fan_out", len(matched)))
	if len(matched) == 0 {
		e.log.WithContext(ctx).WithEvent(ev.ID.String()).
			WithField("event_type", req.EventType).Info("event emitted, no subscribers")
		return &Result{EventID: ev.ID}, nil
	}

	deliveries := make([]*model.Delivery, 0, len(matched))
	for i := range matched {
		deliveries = append(deliveries, &model.Delivery{
			EndpointID: matched[i].ID,
			EventID:    &ev.ID,
			EventType:  req.EventType,
			Payload:    payload,
		})
	}
	if err := e.store.CreateDeliveries(ctx, deliveries); err != nil {
		tracing.SetError(ctx, err)
		return nil, fmt.Errorf("create deliveries: %w", err)
	}

	// Publish failures are logged, not returned. The rows are already
	// pending, so the sweeper picks them up if the queue is down.
	headers := tracing.InjectTask(ctx)
	for _, del := range deliveries {
		task := dispatch.Task{
			DeliveryID:   del.ID,
			EndpointID:   del.EndpointID,
			EventType:    del.EventType,
			TraceHeaders: headers,
		}
		body, err := json.Marshal(task)
		if err != nil {
			e.log.WithContext(ctx).WithDelivery(del.ID.String()).WithError(err).
				Error("marshal dispatch task failed")
			continue
		}
		if err := e.pub.Publish(e.topic, body); err != nil {
			e.log.WithContext(ctx).WithDelivery(del.ID.String()).WithError(err).
				Error("publish dispatch task failed, sweeper will recover")
		}
	}

	e.log.WithContext(ctx).WithEvent(ev.ID.String()).
		WithFields(map[string]any{"event_type": req.EventType, "fan_out": len(deliveries)}).
		Info("event emitted")
	return &Result{EventID: ev.ID, FanOut: len(deliveries)}, nil
}
