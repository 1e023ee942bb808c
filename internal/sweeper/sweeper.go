package sweeper

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hookwire/hookwire/internal/config"
	"github.com/hookwire/hookwire/internal/dispatch"
	"github.com/hookwire/hookwire/internal/logging"
	"github.com/hookwire/hookwire/internal/metrics"
	"github.com/hookwire/hookwire/internal/tracing"
)

// Store is the slice of the ledger the sweeper needs. Rearm, TouchPending and
// ReleaseInflight are conditional updates that double as per-row claims, so
// overlapping sweeps never queue the same row twice within a claim window.
type Store interface {
	DueRetries(ctx context.Context, now time.Time, maxRetries, limit int) ([]uuid.UUID, error)
	Rearm(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error)
	StalePending(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
	TouchPending(ctx context.Context, id uuid.UUID, olderThan time.Time) (bool, error)
	StaleInflight(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
	ReleaseInflight(ctx context.Context, id uuid.UUID, olderThan, until time.Time) (bool, error)
}

// Publisher publishes a message to a queue topic.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Sweeper periodically re-queues deliveries whose retry time has passed, plus
// pending rows whose original queue publish never landed.
type Sweeper struct {
	store      Store
	pub        Publisher
	topic      string
	cfg        config.Sweeper
	maxRetries int
	log        *logging.Logger
	now        func() time.Time
}

func New(store Store, pub Publisher, topic string, cfg config.Sweeper, maxRetries int, log *logging.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		pub:        pub,
		topic:      topic,
		cfg:        cfg,
		maxRetries: maxRetries,
		log:        log,
		now:        time.Now,
	}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Plain().WithField("interval", s.cfg.Interval.String()).Info("sweeper started")
	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Plain().Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. A failure on one row is logged and never halts the
// rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "sweeper.sweep")
	defer span.End()
	metrics.SweepsTotal.Inc()

	retries := s.sweepRetries(ctx)
	pending := s.sweepPending(ctx)
	inflight := s.sweepInflight(ctx)
	span.SetAttributes(
		attribute.Int("swept_retries", retries),
		attribute.Int("swept_pending", pending),
		attribute.Int("swept_inflight", inflight),
	)
	if retries > 0 || pending > 0 || inflight > 0 {
		s.log.WithContext(ctx).
			WithFields(map[string]any{"retries": retries, "pending": pending, "inflight": inflight}).
			Info("sweep re-queued deliveries")
	}
}

func (s *Sweeper) sweepRetries(ctx context.Context) int {
	now := s.now()
	ids, err := s.store.DueRetries(ctx, now, s.maxRetries, s.cfg.BatchSize)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Error("due retries query failed")
		return 0
	}

	swept := 0
	for _, id := range ids {
		claimed, err := s.store.Rearm(ctx, id, now, now.Add(s.cfg.ClaimGrace))
		if err != nil {
			s.log.WithContext(ctx).WithDelivery(id.String()).WithError(err).Error("rearm failed")
			continue
		}
		if !claimed {
			continue
		}
		if s.publishTask(ctx, id) {
			metrics.SweptDeliveriesTotal.WithLabelValues("retry").Inc()
			swept++
		}
	}
	return swept
}

func (s *Sweeper) sweepPending(ctx context.Context) int {
	olderThan := s.now().Add(-s.cfg.PendingGrace)
	ids, err := s.store.StalePending(ctx, olderThan, s.cfg.BatchSize)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Error("stale pending query failed")
		return 0
	}

	swept := 0
	for _, id := range ids {
		claimed, err := s.store.TouchPending(ctx, id, olderThan)
		if err != nil {
			s.log.WithContext(ctx).WithDelivery(id.String()).WithError(err).Error("touch pending failed")
			continue
		}
		if !claimed {
			continue
		}
		if s.publishTask(ctx, id) {
			metrics.SweptDeliveriesTotal.WithLabelValues("pending").Inc()
			swept++
		}
	}
	return swept
}

// sweepInflight recovers claims orphaned by a worker that died between Claim
// and recording an outcome. The row goes back to retrying and is re-queued;
// the grace period must comfortably exceed the dispatch timeout so a slow but
// alive attempt is never stolen.
func (s *Sweeper) sweepInflight(ctx context.Context) int {
	now := s.now()
	olderThan := now.Add(-s.cfg.InflightGrace)
	ids, err := s.store.StaleInflight(ctx, olderThan, s.cfg.BatchSize)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Error("stale inflight query failed")
		return 0
	}

	swept := 0
	for _, id := range ids {
		claimed, err := s.store.ReleaseInflight(ctx, id, olderThan, now.Add(s.cfg.ClaimGrace))
		if err != nil {
			s.log.WithContext(ctx).WithDelivery(id.String()).WithError(err).Error("release inflight failed")
			continue
		}
		if !claimed {
			continue
		}
		s.log.WithContext(ctx).WithDelivery(id.String()).Warn("recovered orphaned inflight delivery")
		if s.publishTask(ctx, id) {
			metrics.SweptDeliveriesTotal.WithLabelValues("inflight").Inc()
			swept++
		}
	}
	return swept
}

// publishTask queues a dispatch task carrying only ids; the worker reloads
// row state at claim time. A publish failure is safe to drop because the row
// stays eligible for the next sweep once its claim window lapses.
func (s *Sweeper) publishTask(ctx context.Context, id uuid.UUID) bool {
	task := dispatch.Task{
		DeliveryID:   id,
		TraceHeaders: tracing.InjectTask(ctx),
	}
	body, err := json.Marshal(task)
	if err != nil {
		s.log.WithContext(ctx).WithDelivery(id.String()).WithError(err).Error("marshal task failed")
		return false
	}
	if err := s.pub.Publish(s.topic, body); err != nil {
		s.log.WithContext(ctx).WithDelivery(id.String()).WithError(err).Error("publish task failed")
		return false
	}
	return true
}
