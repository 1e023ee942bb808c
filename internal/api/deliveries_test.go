package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hookwire/hookwire/internal/dispatch"
	"github.com/hookwire/hookwire/internal/model"
	"github.com/hookwire/hookwire/internal/store"
)

type fakeDeliveryStore struct {
	deliveries  map[uuid.UUID]*model.Delivery
	deadLetters []model.DeadLetter
	gotFilter   store.ListFilter
	listErr     error
	replayErr   error
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{deliveries: make(map[uuid.UUID]*model.Delivery)}
}

func (s *fakeDeliveryStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	del, ok := s.deliveries[id]
	if !ok {
		return nil, errors.New("delivery not found")
	}
	return del, nil
}

func (s *fakeDeliveryStore) List(ctx context.Context, f store.ListFilter) ([]model.Delivery, error) {
	s.gotFilter = f
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.Delivery
	for _, del := range s.deliveries {
		out = append(out, *del)
	}
	return out, nil
}

func (s *fakeDeliveryStore) CreateReplay(ctx context.Context, sourceID uuid.UUID) (*model.Delivery, error) {
	if s.replayErr != nil {
		return nil, s.replayErr
	}
	src, ok := s.deliveries[sourceID]
	if !ok {
		return nil, errors.New("delivery not found")
	}
	replay := &model.Delivery{
		ID:         uuid.New(),
		EndpointID: src.EndpointID,
		EventID:    src.EventID,
		ReplayOf:   &src.ID,
		EventType:  src.EventType,
		Payload:    src.Payload,
		Status:     model.StatusPending,
	}
	s.deliveries[replay.ID] = replay
	return replay, nil
}

func (s *fakeDeliveryStore) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	return s.deadLetters, nil
}

type fakeTaskPublisher struct {
	topics []string
	bodies [][]byte
	err    error
}

func (p *fakeTaskPublisher) Publish(topic string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, body)
	return nil
}

func newDeliveryRouter(s *fakeDeliveryStore, pub *fakeTaskPublisher) *gin.Engine {
	h := NewDeliveryHandler(s, pub, "deliveries", testLog)
	r := gin.New()
	r.GET("/deliveries", h.List)
	r.GET("/deliveries/:id", h.Get)
	r.POST("/deliveries/:id/replay", h.Replay)
	r.GET("/dead-letters", h.ListDeadLetters)
	return r
}

func seedDelivery(s *fakeDeliveryStore, status model.DeliveryStatus) *model.Delivery {
	eventID := uuid.New()
	del := &model.Delivery{
		ID:         uuid.New(),
		EndpointID: uuid.New(),
		EventID:    &eventID,
		EventType:  "order.created",
		Payload:    []byte(`{"event_type":"order.created","data":{},"timestamp":"2026-01-02T03:04:05Z"}`),
		Status:     status,
	}
	s.deliveries[del.ID] = del
	return del
}

func TestGetDelivery(t *testing.T) {
	s := newFakeDeliveryStore()
	del := seedDelivery(s, model.StatusSuccess)
	r := newDeliveryRouter(s, &fakeTaskPublisher{})

	w := doJSON(r, http.MethodGet, "/deliveries/"+del.ID.String(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got model.Delivery
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.ID != del.ID || got.Status != model.StatusSuccess {
		t.Errorf("got delivery %+v, want id %s status success", got, del.ID)
	}

	w = doJSON(r, http.MethodGet, "/deliveries/not-a-uuid", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doJSON(r, http.MethodGet, "/deliveries/"+uuid.NewString(), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListDeliveriesFilter(t *testing.T) {
	s := newFakeDeliveryStore()
	seedDelivery(s, model.StatusRetrying)
	r := newDeliveryRouter(s, &fakeTaskPublisher{})

	endpointID := uuid.New()
	eventID := uuid.New()
	path := "/deliveries?status=retrying&endpoint_id=" + endpointID.String() +
		"&event_id=" + eventID.String() + "&limit=5"

	w := doJSON(r, http.MethodGet, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	f := s.gotFilter
	if f.Status != model.StatusRetrying {
		t.Errorf("filter status = %q, want retrying", f.Status)
	}
	if f.EndpointID != endpointID {
		t.Errorf("filter endpoint_id = %v, want %s", f.EndpointID, endpointID)
	}
	if f.EventID != eventID {
		t.Errorf("filter event_id = %v, want %s", f.EventID, eventID)
	}
	if f.Limit != 5 {
		t.Errorf("filter limit = %d, want 5", f.Limit)
	}
}

func TestListDeliveriesRejectsBadIDs(t *testing.T) {
	r := newDeliveryRouter(newFakeDeliveryStore(), &fakeTaskPublisher{})

	w := doJSON(r, http.MethodGet, "/deliveries?endpoint_id=nope", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad endpoint_id status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doJSON(r, http.MethodGet, "/deliveries?event_id=nope", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad event_id status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListDeliveriesEmpty(t *testing.T) {
	r := newDeliveryRouter(newFakeDeliveryStore(), &fakeTaskPublisher{})

	w := doJSON(r, http.MethodGet, "/deliveries", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"deliveries":[]`) {
		t.Errorf("empty list body = %q, want deliveries:[]", w.Body.String())
	}
}

func TestReplayDelivery(t *testing.T) {
	s := newFakeDeliveryStore()
	del := seedDelivery(s, model.StatusFailed)
	pub := &fakeTaskPublisher{}
	r := newDeliveryRouter(s, pub)

	w := doJSON(r, http.MethodPost, "/deliveries/"+del.ID.String()+"/replay", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	var replay model.Delivery
	if err := json.Unmarshal(w.Body.Bytes(), &replay); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if replay.ID == del.ID {
		t.Error("replay reused the source delivery id")
	}
	if replay.ReplayOf == nil || *replay.ReplayOf != del.ID {
		t.Errorf("replay_of = %v, want %s", replay.ReplayOf, del.ID)
	}

	if len(pub.bodies) != 1 || pub.topics[0] != "deliveries" {
		t.Fatalf("published %d tasks to %v, want 1 to deliveries", len(pub.bodies), pub.topics)
	}
	var task dispatch.Task
	if err := json.Unmarshal(pub.bodies[0], &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.DeliveryID != replay.ID {
		t.Errorf("task delivery_id = %s, want the replay id %s", task.DeliveryID, replay.ID)
	}
}

func TestReplayDeliveryNotReplayable(t *testing.T) {
	s := newFakeDeliveryStore()
	s.replayErr = errors.New("delivery not in a terminal status")
	r := newDeliveryRouter(s, &fakeTaskPublisher{})

	w := doJSON(r, http.MethodPost, "/deliveries/"+uuid.NewString()+"/replay", "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestReplayPublishFailureStillCreated(t *testing.T) {
	s := newFakeDeliveryStore()
	del := seedDelivery(s, model.StatusFailed)
	r := newDeliveryRouter(s, &fakeTaskPublisher{err: errors.New("nsqd unreachable")})

	w := doJSON(r, http.MethodPost, "/deliveries/"+del.ID.String()+"/replay", "")
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d (publish failures are absorbed)", w.Code, http.StatusCreated)
	}
}

func TestListDeadLetters(t *testing.T) {
	s := newFakeDeliveryStore()
	r := newDeliveryRouter(s, &fakeTaskPublisher{})

	w := doJSON(r, http.MethodGet, "/dead-letters", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"dead_letters":[]`) {
		t.Errorf("empty list body = %q, want dead_letters:[]", w.Body.String())
	}

	s.deadLetters = []model.DeadLetter{
		{ID: uuid.New(), DeliveryID: uuid.New(), Reason: "max retries exhausted"},
	}
	w = doJSON(r, http.MethodGet, "/dead-letters?limit=10", "")
	var resp struct {
		DeadLetters []model.DeadLetter `json:"dead_letters"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.DeadLetters) != 1 || resp.DeadLetters[0].Reason != "max retries exhausted" {
		t.Errorf("dead_letters = %+v, want one entry", resp.DeadLetters)
	}
}
