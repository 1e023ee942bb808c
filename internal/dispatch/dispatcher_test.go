package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hookwire/hookwire/internal/config"
	"github.com/hookwire/hookwire/internal/logging"
	"github.com/hookwire/hookwire/internal/model"
	"github.com/hookwire/hookwire/internal/signing"
)

func testCfg() config.Delivery {
	return config.Delivery{
		MaxRetries:        3,
		BaseDelay:         30 * time.Second,
		MaxDelay:          10 * time.Minute,
		Timeout:           2 * time.Second,
		ResponseBodyLimit: 1000,
		SignatureHeader:   "X-Webhook-Signature",
		EventTypeHeader:   "X-Event-Type",
	}
}

// fakeLedger records every transition the dispatcher persists.
type fakeLedger struct {
	delivery *model.Delivery
	endpoint *model.Endpoint
	claimOK  bool

	success   bool
	retrying  bool
	failed    bool
	abandoned bool

	attempt     int
	respStatus  *int
	respBody    *string
	lastError   string
	nextRetryAt time.Time
	reason      string
	deadLetters []string
}

func (f *fakeLedger) Claim(ctx context.Context, id uuid.UUID) (*model.Delivery, bool, error) {
	if !f.claimOK {
		return nil, false, nil
	}
	return f.delivery, true, nil
}

func (f *fakeLedger) Endpoint(ctx context.Context, id uuid.UUID) (*model.Endpoint, error) {
	return f.endpoint, nil
}

func (f *fakeLedger) MarkSuccess(ctx context.Context, id uuid.UUID, attempt, responseStatus int, responseBody string) error {
	f.success = true
	f.attempt = attempt
	f.respStatus = &responseStatus
	f.respBody = &responseBody
	return nil
}

func (f *fakeLedger) MarkRetrying(ctx context.Context, id uuid.UUID, attempt int, responseStatus *int, responseBody *string, lastError string, nextRetryAt time.Time) error {
	f.retrying = true
	f.attempt = attempt
	f.respStatus = responseStatus
	f.respBody = responseBody
	f.lastError = lastError
	f.nextRetryAt = nextRetryAt
	return nil
}

func (f *fakeLedger) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, responseStatus *int, responseBody *string, lastError string) error {
	f.failed = true
	f.attempt = attempt
	f.respStatus = responseStatus
	f.lastError = lastError
	return nil
}

func (f *fakeLedger) MarkAbandoned(ctx context.Context, id uuid.UUID, reason string) error {
	f.abandoned = true
	f.reason = reason
	return nil
}

func (f *fakeLedger) InsertDeadLetter(ctx context.Context, deliveryID uuid.UUID, reason string) error {
	f.deadLetters = append(f.deadLetters, reason)
	return nil
}

func newFakeLedger(url string, attemptCount int) *fakeLedger {
	epID := uuid.New()
	return &fakeLedger{
		claimOK: true,
		delivery: &model.Delivery{
			ID:           uuid.New(),
			EndpointID:   epID,
			EventType:    "order.created",
			Payload:      []byte(`{"event_type":"order.created","data":{"id":1},"timestamp":"2026-01-02T15:04:05Z"}`),
			Status:       model.StatusInflight,
			AttemptCount: attemptCount,
		},
		endpoint: &model.Endpoint{
			ID:     epID,
			URL:    url,
			Secret: "test-secret",
			Events: []string{"order.created"},
			Active: true,
		},
	}
}

func TestDispatchSuccess(t *testing.T) {
	var gotSig, gotEvent string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ledger := newFakeLedger(srv.URL, 0)
	d := New(ledger, testCfg(), logging.New("test"))

	outcome, err := d.Dispatch(context.Background(), ledger.delivery.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != ResultDelivered {
		t.Fatalf("expected ResultDelivered, got %v", outcome.Result)
	}
	if !ledger.success || ledger.retrying || ledger.failed {
		t.Errorf("expected only MarkSuccess, got success=%v retrying=%v failed=%v", ledger.success, ledger.retrying, ledger.failed)
	}
	if ledger.attempt != 1 {
		t.Errorf("expected attempt 1, got %d", ledger.attempt)
	}

	if gotEvent != "order.created" {
		t.Errorf("expected event type header 'order.created', got %q", gotEvent)
	}
	// the receiver can verify the signature over the exact bytes it got
	if !signing.Verify("test-secret", gotBody, gotSig) {
		t.Errorf("signature %q does not verify against received body", gotSig)
	}
}

func TestDispatchFailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ledger := newFakeLedger(srv.URL, 0)
	d := New(ledger, testCfg(), logging.New("test"))
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	outcome, err := d.Dispatch(context.Background(), ledger.delivery.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != ResultRetry {
		t.Fatalf("expected ResultRetry, got %v", outcome.Result)
	}
	if !ledger.retrying {
		t.Fatal("expected MarkRetrying")
	}
	if ledger.attempt != 1 {
		t.Errorf("expected attempt 1, got %d", ledger.attempt)
	}
	// first failure: next retry at now + base delay
	want := now.Add(30 * time.Second)
	if !ledger.nextRetryAt.Equal(want) {
		t.Errorf("expected next retry at %v, got %v", want, ledger.nextRetryAt)
	}
	if outcome.Delay != 30*time.Second {
		t.Errorf("expected delay 30s, got %v", outcome.Delay)
	}
	if ledger.respStatus == nil || *ledger.respStatus != 500 {
		t.Errorf("expected stored response status 500, got %v", ledger.respStatus)
	}
}

func TestDispatchSecondFailureBacksOffLonger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	// one prior failed attempt
	ledger := newFakeLedger(srv.URL, 1)
	d := New(ledger, testCfg(), logging.New("test"))

	outcome, err := d.Dispatch(context.Background(), ledger.delivery.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != ResultRetry {
		t.Fatalf("expected ResultRetry, got %v", outcome.Result)
	}
	if ledger.attempt != 2 {
		t.Errorf("expected attempt 2, got %d", ledger.attempt)
	}
	if outcome.Delay != 60*time.Second {
		t.Errorf("expected delay 60s, got %v", outcome.Delay)
	}
}

func TestDispatchExhaustionDeadLetters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	// two prior failed attempts, max 3: this attempt is the last
	ledger := newFakeLedger(srv.URL, 2)
	d := New(ledger, testCfg(), logging.New("test"))

	outcome, err := d.Dispatch(context.Background(), ledger.delivery.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != ResultDead {
		t.Fatalf("expected ResultDead, got %v", outcome.Result)
	}
	if !ledger.failed || ledger.retrying {
		t.Errorf("expected MarkFailed only, got failed=%v retrying=%v", ledger.failed, ledger.retrying)
	}
	if ledger.attempt != 3 {
		t.Errorf("expected attempt 3, got %d", ledger.attempt)
	}
	if len(ledger.deadLetters) != 1 {
		t.Errorf("expected one dead letter, got %d", len(ledger.deadLetters))
	}
}

func TestDispatchInactiveEndpointAbandons(t *testing.T) {
	ledger := newFakeLedger("http://127.0.0.1:1", 0)
	ledger.endpoint.Active = false
	d := New(ledger, testCfg(), logging.New("test"))

	outcome, err := d.Dispatch(context.Background(), ledger.delivery.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != ResultAbandoned {
		t.Fatalf("expected ResultAbandoned, got %v", outcome.Result)
	}
	if !ledger.abandoned {
		t.Fatal("expected MarkAbandoned")
	}
	if ledger.success || ledger.retrying || ledger.failed {
		t.Error("no delivery attempt should be recorded for an inactive endpoint")
	}
}

func TestDispatchClaimMissSkips(t *testing.T) {
	ledger := &fakeLedger{claimOK: false}
	d := New(ledger, testCfg(), logging.New("test"))

	outcome, err := d.Dispatch(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != ResultSkipped {
		t.Fatalf("expected ResultSkipped, got %v", outcome.Result)
	}
}

func TestDispatchTransportErrorCountsAgainstBudget(t *testing.T) {
	// nothing listens here
	ledger := newFakeLedger("http://127.0.0.1:1", 0)
	d := New(ledger, testCfg(), logging.New("test"))

	outcome, err := d.Dispatch(context.Background(), ledger.delivery.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != ResultRetry {
		t.Fatalf("expected ResultRetry, got %v", outcome.Result)
	}
	if ledger.respStatus != nil {
		t.Errorf("transport failure should store no response status, got %v", *ledger.respStatus)
	}
	if ledger.lastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestDispatchTruncatesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 500; i++ {
			w.Write([]byte("0123456789"))
		}
	}))
	defer srv.Close()

	ledger := newFakeLedger(srv.URL, 0)
	cfg := testCfg()
	cfg.ResponseBodyLimit = 100
	d := New(ledger, cfg, logging.New("test"))

	if _, err := d.Dispatch(context.Background(), ledger.delivery.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ledger.respBody == nil || len(*ledger.respBody) != 100 {
		t.Errorf("expected response body truncated to 100 bytes, got %d", len(*ledger.respBody))
	}
}

// fakePublisher captures dead-letter envelopes.
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

func TestDispatchDeadLetterPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ledger := newFakeLedger(srv.URL, 2)
	pub := &fakePublisher{}
	d := New(ledger, testCfg(), logging.New("test")).WithDeadLetterTopic(pub, "deliveries_dead")

	outcome, err := d.Dispatch(context.Background(), ledger.delivery.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != ResultDead {
		t.Fatalf("expected ResultDead, got %v", outcome.Result)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "deliveries_dead" {
		t.Fatalf("expected one publish to deliveries_dead, got %v", pub.topics)
	}
}
