package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hookwire/hookwire/internal/config"
	"github.com/hookwire/hookwire/internal/logging"
	"github.com/hookwire/hookwire/internal/metrics"
	"github.com/hookwire/hookwire/internal/model"
	"github.com/hookwire/hookwire/internal/signing"
	"github.com/hookwire/hookwire/internal/tracing"
)

// Ledger is the slice of the delivery store the dispatcher needs. Every Mark*
// call persists a full state transition in a single conditional update.
type Ledger interface {
	Claim(ctx context.Context, id uuid.UUID) (*model.Delivery, bool, error)
	Endpoint(ctx context.Context, id uuid.UUID) (*model.Endpoint, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, attempt, responseStatus int, responseBody string) error
	MarkRetrying(ctx context.Context, id uuid.UUID, attempt int, responseStatus *int, responseBody *string, lastError string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempt int, responseStatus *int, responseBody *string, lastError string) error
	MarkAbandoned(ctx context.Context, id uuid.UUID, reason string) error
	InsertDeadLetter(ctx context.Context, deliveryID uuid.UUID, reason string) error
}

// Publisher publishes a message to a queue topic.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Result is the worker-facing outcome of one dispatch attempt.
type Result string

const (
	ResultDelivered Result = "delivered"
	ResultRetry     Result = "retry"
	ResultDead      Result = "dead"
	ResultAbandoned Result = "abandoned"
	ResultSkipped   Result = "skipped"
)

// Outcome tells the worker what happened and, for ResultRetry, how long until
// the delivery is due again.
type Outcome struct {
	Result  Result
	Attempt int
	Delay   time.Duration
}

// Dispatcher performs one signed delivery attempt per call. It owns no
// scheduling; retries are persisted state that the worker or sweeper turns
// back into attempts.
type Dispatcher struct {
	ledger Ledger
	client *http.Client
	cfg    config.Delivery
	dlq    Publisher // optional dead-letter topic
	dlqTo  string
	log    *logging.Logger
	now    func() time.Time
}

func New(ledger Ledger, cfg config.Delivery, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		ledger: ledger,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// WithDeadLetterTopic makes terminal failures also publish an envelope to the
// given topic.
func (d *Dispatcher) WithDeadLetterTopic(pub Publisher, topic string) *Dispatcher {
	d.dlq = pub
	d.dlqTo = topic
	return d
}

// Dispatch claims the delivery, performs the HTTP POST and persists the
// resulting transition. It never returns an error for receiver or transport
// failures; those live in the ledger. The returned error covers only ledger
// access problems.
func (d *Dispatcher) Dispatch(ctx context.Context, deliveryID uuid.UUID) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.attempt",
		attribute.String("delivery_id", deliveryID.String()),
	)
	defer span.End()

	del, claimed, err := d.ledger.Claim(ctx, deliveryID)
	if err != nil {
		tracing.SetError(ctx, err)
		return Outcome{}, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		// Another worker holds it, or it is already terminal.
		metrics.RecordAttempt("skipped", 0)
		return Outcome{Result: ResultSkipped}, nil
	}

	ep, err := d.ledger.Endpoint(ctx, del.EndpointID)
	if err != nil {
		tracing.SetError(ctx, err)
		// Claim is held; surface the broken reference as a terminal failure.
		reason := fmt.Sprintf("endpoint lookup failed: %v", err)
		if mErr := d.ledger.MarkAbandoned(ctx, del.ID, reason); mErr != nil {
			return Outcome{}, fmt.Errorf("mark abandoned: %w", mErr)
		}
		metrics.RecordAttempt("abandoned", 0)
		return Outcome{Result: ResultAbandoned}, nil
	}
	span.SetAttributes(
		attribute.String("endpoint_id", ep.ID.String()),
		attribute.String("event_type", del.EventType),
		attribute.Int("attempt", del.AttemptCount+1),
	)

	if !ep.Active {
		if err := d.ledger.MarkAbandoned(ctx, del.ID, "endpoint deactivated"); err != nil {
			return Outcome{}, fmt.Errorf("mark abandoned: %w", err)
		}
		d.log.WithContext(ctx).WithDelivery(del.ID.String()).WithEndpoint(ep.ID.String()).
			Info("delivery abandoned, endpoint deactivated")
		metrics.RecordAttempt("abandoned", 0)
		return Outcome{Result: ResultAbandoned}, nil
	}

	attempt := del.AttemptCount + 1
	status, body, httpErr, latency := d.post(ctx, ep, del)
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	if httpErr == nil && status >= 200 && status < 300 {
		if err := d.ledger.MarkSuccess(ctx, del.ID, attempt, status, body); err != nil {
			return Outcome{}, fmt.Errorf("mark success: %w", err)
		}
		d.log.WithContext(ctx).WithDelivery(del.ID.String()).WithEndpoint(ep.ID.String()).
			WithField("attempt", attempt).WithField("status", status).Info("delivery succeeded")
		metrics.RecordAttempt("success", latency)
		return Outcome{Result: ResultDelivered, Attempt: attempt}, nil
	}

	// Transport errors and non-2xx responses count identically against the
	// retry budget; they differ only in the stored detail.
	var respStatus *int
	var respBody *string
	if httpErr == nil {
		respStatus = &status
		respBody = &body
	}
	lastError := errorDetail(httpErr, status)
	reason := classifyReason(httpErr, status)
	span.SetAttributes(attribute.String("failure_reason", reason))

	if attempt < d.cfg.MaxRetries {
		delay := Backoff(d.cfg, attempt)
		nextRetryAt := d.now().Add(delay)
		if err := d.ledger.MarkRetrying(ctx, del.ID, attempt, respStatus, respBody, lastError, nextRetryAt); err != nil {
			return Outcome{}, fmt.Errorf("mark retrying: %w", err)
		}
		d.log.WithContext(ctx).WithDelivery(del.ID.String()).WithEndpoint(ep.ID.String()).
			WithFields(map[string]any{"attempt": attempt, "delay": delay.String(), "reason": reason}).
			Info("delivery failed, retry scheduled")
		metrics.RecordAttempt("retrying", latency)
		metrics.RetriesTotal.WithLabelValues(reason).Inc()
		return Outcome{Result: ResultRetry, Attempt: attempt, Delay: delay}, nil
	}

	if err := d.ledger.MarkFailed(ctx, del.ID, attempt, respStatus, respBody, lastError); err != nil {
		return Outcome{}, fmt.Errorf("mark failed: %w", err)
	}
	deadReason := fmt.Sprintf("max retries reached (%d), last status=%d, err=%s", attempt, status, lastError)
	if err := d.ledger.InsertDeadLetter(ctx, del.ID, deadReason); err != nil {
		d.log.WithContext(ctx).WithDelivery(del.ID.String()).WithError(err).Error("dead letter insert failed")
	}
	if d.dlq != nil {
		env := NewDeadLetterEnvelope(del, ep, attempt, status, lastError)
		if b, err := env.Marshal(); err == nil {
			if err := d.dlq.Publish(d.dlqTo, b); err != nil {
				d.log.WithContext(ctx).WithDelivery(del.ID.String()).WithError(err).Error("dead letter publish failed")
			}
		}
	}
	d.log.WithContext(ctx).WithDelivery(del.ID.String()).WithEndpoint(ep.ID.String()).
		WithFields(map[string]any{"attempt": attempt, "reason": reason}).
		Error("delivery terminally failed")
	metrics.RecordAttempt("failed", latency)
	metrics.DeadLettersTotal.Inc()
	return Outcome{Result: ResultDead, Attempt: attempt}, nil
}

// post signs the stored payload bytes and POSTs them verbatim. The body is
// never re-serialized, so the signature always matches what is sent.
func (d *Dispatcher) post(ctx context.Context, ep *model.Endpoint, del *model.Delivery) (status int, body string, err error, latency time.Duration) {
	sig := signing.Sign(ep.Secret, del.Payload)

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, ep.URL, bytes.NewReader(del.Payload))
	if err != nil {
		return 0, "", err, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(d.cfg.SignatureHeader, sig)
	req.Header.Set(d.cfg.EventTypeHeader, del.EventType)
	if traceID := tracing.TraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	latency = time.Since(start)
	if err != nil {
		return 0, "", err, latency
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, int64(d.cfg.ResponseBodyLimit)))
	return resp.StatusCode, string(b), nil, latency
}

func errorDetail(err error, status int) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("HTTP %d", status)
}
