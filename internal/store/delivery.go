package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookwire/hookwire/internal/model"
)

type DeliveryStore struct {
	pool *pgxpool.Pool
}

const deliveryCols = `id, endpoint_id, event_id, replay_of, event_type, payload, status,
	response_status, response_body, last_error, attempt_count, next_retry_at,
	created_at, updated_at`

func scanDelivery(row interface{ Scan(...any) error }) (*model.Delivery, error) {
	var d model.Delivery
	var payload string
	if err := row.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.ReplayOf, &d.EventType,
		&payload, &d.Status, &d.ResponseStatus, &d.ResponseBody, &d.LastError,
		&d.AttemptCount, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Payload = []byte(payload)
	return &d, nil
}

// CreateBatch inserts one pending delivery per element and fills in ids.
// Payload bytes are stored verbatim; they are the exact bytes that will be
// signed on every attempt.
func (s *DeliveryStore) CreateBatch(ctx context.Context, deliveries []*model.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range deliveries {
		batch.Queue(`
			INSERT INTO hookwire.deliveries (endpoint_id, event_id, replay_of, event_type, payload, status)
			VALUES ($1, $2, $3, $4, $5, 'pending')
			RETURNING id, created_at, updated_at`,
			d.EndpointID, d.EventID, d.ReplayOf, d.EventType, string(d.Payload))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, d := range deliveries {
		d.Status = model.StatusPending
		if err := br.QueryRow().Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return fmt.Errorf("insert delivery: %w", err)
		}
	}
	return nil
}

func (s *DeliveryStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryCols+` FROM hookwire.deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// ListFilter narrows List; zero values mean no constraint.
type ListFilter struct {
	Status     model.DeliveryStatus
	EndpointID uuid.UUID
	EventID    uuid.UUID
	Limit      int
}

func (s *DeliveryStore) List(ctx context.Context, f ListFilter) ([]model.Delivery, error) {
	where := "1=1"
	args := []any{}
	argn := 0
	if f.Status != "" {
		argn++
		where += fmt.Sprintf(" AND status = $%d", argn)
		args = append(args, f.Status)
	}
	if f.EndpointID != uuid.Nil {
		argn++
		where += fmt.Sprintf(" AND endpoint_id = $%d", argn)
		args = append(args, f.EndpointID)
	}
	if f.EventID != uuid.Nil {
		argn++
		where += fmt.Sprintf(" AND event_id = $%d", argn)
		args = append(args, f.EventID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	argn++
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT `+deliveryCols+` FROM hookwire.deliveries
		WHERE %s ORDER BY created_at DESC LIMIT $%d`, where, argn)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Claim conditionally moves a pending or retrying delivery to inflight and
// returns the claimed row. ok reports false when another worker holds the
// claim or the delivery is already terminal.
func (s *DeliveryStore) Claim(ctx context.Context, id uuid.UUID) (*model.Delivery, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE hookwire.deliveries
		SET status = 'inflight', next_retry_at = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'retrying')
		RETURNING `+deliveryCols, id)
	d, err := scanDelivery(row)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim delivery: %w", err)
	}
	return d, true, nil
}

// MarkSuccess records a delivered attempt. Terminal; next_retry_at stays
// cleared.
func (s *DeliveryStore) MarkSuccess(ctx context.Context, id uuid.UUID, attempt, responseStatus int, responseBody string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE hookwire.deliveries
		SET status = 'success', attempt_count = $2, response_status = $3,
		    response_body = $4, last_error = NULL, next_retry_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'inflight'`,
		id, attempt, responseStatus, responseBody)
	if err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	return nil
}

// MarkRetrying records a failed attempt that stays under the retry budget and
// schedules the next one.
func (s *DeliveryStore) MarkRetrying(ctx context.Context, id uuid.UUID, attempt int, responseStatus *int, responseBody *string, lastError string, nextRetryAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE hookwire.deliveries
		SET status = 'retrying', attempt_count = $2, response_status = $3,
		    response_body = $4, last_error = $5, next_retry_at = $6, updated_at = now()
		WHERE id = $1 AND status = 'inflight'`,
		id, attempt, responseStatus, responseBody, lastError, nextRetryAt)
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	return nil
}

// MarkFailed records the terminal failure once the retry budget is spent.
func (s *DeliveryStore) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, responseStatus *int, responseBody *string, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE hookwire.deliveries
		SET status = 'failed', attempt_count = $2, response_status = $3,
		    response_body = $4, last_error = $5, next_retry_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'inflight'`,
		id, attempt, responseStatus, responseBody, lastError)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkAbandoned terminates a delivery whose endpoint was deactivated between
// attempts. Attempt count is left untouched; no request was made.
func (s *DeliveryStore) MarkAbandoned(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE hookwire.deliveries
		SET status = 'abandoned', last_error = $2, next_retry_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'inflight'`,
		id, reason)
	if err != nil {
		return fmt.Errorf("mark abandoned: %w", err)
	}
	return nil
}

// DueRetries returns deliveries whose backoff window has elapsed and which
// still have retry budget left.
func (s *DeliveryStore) DueRetries(ctx context.Context, now time.Time, maxRetries, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM hookwire.deliveries
		WHERE status = 'retrying' AND next_retry_at <= $1 AND attempt_count < $2
		ORDER BY next_retry_at ASC LIMIT $3`,
		now, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// Rearm claims a due retrying delivery for one sweep by pushing its
// next_retry_at to until. A concurrent sweep loses the conditional update and
// skips the row, so a delivery is re-queued at most once per window.
func (s *DeliveryStore) Rearm(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookwire.deliveries
		SET next_retry_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'retrying' AND next_retry_at <= $2`,
		id, now, until)
	if err != nil {
		return false, fmt.Errorf("rearm delivery: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// StalePending returns pending deliveries whose dispatch task was apparently
// lost. The queue is at-least-once, so republishing is safe; the worker claim
// deduplicates.
func (s *DeliveryStore) StalePending(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM hookwire.deliveries
		WHERE status = 'pending' AND updated_at <= $1
		ORDER BY updated_at ASC LIMIT $2`,
		olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// TouchPending bumps a stale pending row so the next sweep does not republish
// it immediately; the conditional update doubles as the per-sweep claim.
func (s *DeliveryStore) TouchPending(ctx context.Context, id uuid.UUID, olderThan time.Time) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookwire.deliveries SET updated_at = now()
		WHERE id = $1 AND status = 'pending' AND updated_at <= $2`,
		id, olderThan)
	if err != nil {
		return false, fmt.Errorf("touch pending: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// StaleInflight returns inflight deliveries whose claiming worker apparently
// died mid-attempt and never recorded an outcome.
func (s *DeliveryStore) StaleInflight(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM hookwire.deliveries
		WHERE status = 'inflight' AND updated_at <= $1
		ORDER BY updated_at ASC LIMIT $2`,
		olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale inflight: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// ReleaseInflight reverts a stale inflight delivery to retrying with its
// next_retry_at pushed to until, making the row claimable again. The
// conditional update doubles as the per-sweep claim; ok reports false when a
// concurrent sweep released the row first or the worker finished after all.
// The attempt that died is not counted; Mark* transitions own attempt_count.
func (s *DeliveryStore) ReleaseInflight(ctx context.Context, id uuid.UUID, olderThan, until time.Time) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookwire.deliveries
		SET status = 'retrying', next_retry_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'inflight' AND updated_at <= $2`,
		id, olderThan, until)
	if err != nil {
		return false, fmt.Errorf("release inflight: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// CreateReplay inserts a fresh pending delivery copying the source's payload
// bytes, so the replay signature is identical to the original's.
func (s *DeliveryStore) CreateReplay(ctx context.Context, sourceID uuid.UUID) (*model.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO hookwire.deliveries (endpoint_id, event_id, replay_of, event_type, payload, status)
		SELECT endpoint_id, event_id, id, event_type, payload, 'pending'
		FROM hookwire.deliveries WHERE id = $1
		RETURNING `+deliveryCols, sourceID)
	d, err := scanDelivery(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("source delivery %s not found", sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("create replay: %w", err)
	}
	return d, nil
}

// InsertDeadLetter records why a delivery was terminally failed.
func (s *DeliveryStore) InsertDeadLetter(ctx context.Context, deliveryID uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hookwire.dead_letters (delivery_id, reason) VALUES ($1, $2)`,
		deliveryID, reason)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *DeliveryStore) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, delivery_id, reason, created_at FROM hookwire.dead_letters
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []model.DeadLetter
	for rows.Next() {
		var dl model.DeadLetter
		if err := rows.Scan(&dl.ID, &dl.DeliveryID, &dl.Reason, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
