package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hookwire/hookwire/internal/dispatch"
	"github.com/hookwire/hookwire/internal/logging"
	"github.com/hookwire/hookwire/internal/model"
)

type fakeStore struct {
	created    bool
	insertErr  error
	events     []*model.Event
	deliveries []*model.Delivery
	createErr  error
}

func (f *fakeStore) InsertEvent(ctx context.Context, ev *model.Event) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}
	ev.ID = uuid.New()
	f.events = append(f.events, ev)
	return f.created, nil
}

func (f *fakeStore) CreateDeliveries(ctx context.Context, deliveries []*model.Delivery) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, d := range deliveries {
		d.ID = uuid.New()
	}
	f.deliveries = append(f.deliveries, deliveries...)
	return nil
}

type fakeEndpoints struct {
	endpoints []model.Endpoint
	err       error
}

func (f *fakeEndpoints) ListActive(ctx context.Context) ([]model.Endpoint, error) {
	return f.endpoints, f.err
}

type fakePublisher struct {
	topics []string
	bodies [][]byte
	err    error
}

func (p *fakePublisher) Publish(topic string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, body)
	return nil
}

func activeEndpoint(events ...string) model.Endpoint {
	return model.Endpoint{ID: uuid.New(), URL: "https://x.example/hook", Events: events, Active: true}
}

func TestEmitFanOut(t *testing.T) {
	store := &fakeStore{created: true}
	eps := &fakeEndpoints{endpoints: []model.Endpoint{
		activeEndpoint("order.created"),
		activeEndpoint("order.created", "order.paid"),
		activeEndpoint("user.created"),
	}}
	pub := &fakePublisher{}
	e := New(store, eps, pub, "deliveries", logging.New("test"))

	res, err := e.Emit(context.Background(), Request{
		EventType: "order.created",
		Data:      json.RawMessage(`{"id":42}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FanOut != 2 {
		t.Fatalf("expected fan-out 2, got %d", res.FanOut)
	}
	if len(store.deliveries) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(store.deliveries))
	}
	if len(pub.topics) != 2 {
		t.Fatalf("expected 2 published tasks, got %d", len(pub.topics))
	}

	// every delivery carries the same canonical payload bytes as the event
	payload := store.events[0].Payload
	for _, d := range store.deliveries {
		if !bytes.Equal(d.Payload, payload) {
			t.Error("delivery payload differs from event payload")
		}
		if d.EventID == nil || *d.EventID != store.events[0].ID {
			t.Error("delivery does not reference the event")
		}
	}

	var task dispatch.Task
	if err := json.Unmarshal(pub.bodies[0], &task); err != nil {
		t.Fatalf("task unmarshal: %v", err)
	}
	if task.DeliveryID != store.deliveries[0].ID {
		t.Error("published task does not reference the delivery")
	}
}

func TestEmitEnvelopeShape(t *testing.T) {
	store := &fakeStore{created: true}
	e := New(store, &fakeEndpoints{}, &fakePublisher{}, "deliveries", logging.New("test"))
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	if _, err := e.Emit(context.Background(), Request{
		EventType: "order.created",
		Data:      json.RawMessage(`{"id":7}`),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(store.events[0].Payload, &env); err != nil {
		t.Fatalf("envelope unmarshal: %v", err)
	}
	if env.EventType != "order.created" {
		t.Errorf("envelope event_type = %q", env.EventType)
	}
	if string(env.Data) != `{"id":7}` {
		t.Errorf("envelope data = %s", env.Data)
	}
	if env.Timestamp != "2026-03-04T05:06:07Z" {
		t.Errorf("envelope timestamp = %q", env.Timestamp)
	}
}

func TestEmitNoSubscribers(t *testing.T) {
	store := &fakeStore{created: true}
	pub := &fakePublisher{}
	e := New(store, &fakeEndpoints{endpoints: []model.Endpoint{activeEndpoint("other.event")}}, pub, "deliveries", logging.New("test"))

	res, err := e.Emit(context.Background(), Request{EventType: "order.created"})
	if err != nil {
		t.Fatalf("emit with no subscribers must succeed: %v", err)
	}
	if res.FanOut != 0 {
		t.Errorf("expected fan-out 0, got %d", res.FanOut)
	}
	if len(store.deliveries) != 0 || len(pub.topics) != 0 {
		t.Error("no deliveries or tasks expected without subscribers")
	}
	if len(store.events) != 1 {
		t.Error("the event itself must still be recorded")
	}
}

func TestEmitDuplicateIdempotencyKey(t *testing.T) {
	store := &fakeStore{created: false} // key seen before
	eps := &fakeEndpoints{endpoints: []model.Endpoint{activeEndpoint("order.created")}}
	pub := &fakePublisher{}
	e := New(store, eps, pub, "deliveries", logging.New("test"))

	res, err := e.Emit(context.Background(), Request{
		EventType:      "order.created",
		IdempotencyKey: "order-42",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Duplicate {
		t.Fatal("expected duplicate result")
	}
	if res.FanOut != 0 || len(store.deliveries) != 0 || len(pub.topics) != 0 {
		t.Error("duplicate emit must create no deliveries and publish nothing")
	}
}

func TestEmitPublishFailureIsAbsorbed(t *testing.T) {
	store := &fakeStore{created: true}
	eps := &fakeEndpoints{endpoints: []model.Endpoint{activeEndpoint("order.created")}}
	pub := &fakePublisher{err: errors.New("nsqd down")}
	e := New(store, eps, pub, "deliveries", logging.New("test"))

	res, err := e.Emit(context.Background(), Request{EventType: "order.created"})
	if err != nil {
		t.Fatalf("publish failure must not fail the emit: %v", err)
	}
	if res.FanOut != 1 {
		t.Errorf("expected fan-out 1, got %d", res.FanOut)
	}
	if len(store.deliveries) != 1 {
		t.Error("the ledger row must exist even when the publish fails")
	}
}

func TestEmitRequiresEventType(t *testing.T) {
	e := New(&fakeStore{}, &fakeEndpoints{}, &fakePublisher{}, "deliveries", logging.New("test"))
	if _, err := e.Emit(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for missing event_type")
	}
}
