package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookwire/hookwire/internal/config"
	"github.com/hookwire/hookwire/internal/db"
	"github.com/hookwire/hookwire/internal/dispatch"
	"github.com/hookwire/hookwire/internal/health"
	"github.com/hookwire/hookwire/internal/logging"
	"github.com/hookwire/hookwire/internal/metrics"
	"github.com/hookwire/hookwire/internal/model"
	"github.com/hookwire/hookwire/internal/store"
	"github.com/hookwire/hookwire/internal/tracing"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("hookwire-worker")

	shutdown, err := tracing.Init(ctx, "hookwire-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	st := store.New(pool)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, nil))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	conf := nsq.NewConfig()
	conf.MaxInFlight = 1000
	consumer, err := nsq.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	dispatcher := dispatch.New(workerLedger{st}, cfg.Delivery, logger)
	if cfg.Delivery.PublishDeadLetter {
		producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer creation failed")
		}
		defer producer.Stop()
		dispatcher.WithDeadLetterTopic(producer, cfg.NSQ.DeadLetterTopic)
	}

	startBacklogMonitor(cfg, logger)

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse() // we manually requeue or finish
		defer func() {
			if !m.HasResponded() {
				logger.Plain().Warn("message had no response, finishing")
				m.Finish()
			}
		}()

		var t dispatch.Task
		if err := json.Unmarshal(m.Body, &t); err != nil {
			logger.Plain().WithError(err).Error("bad task payload")
			m.Finish() // terminal: don't retry bad payloads
			return nil
		}

		msgCtx := tracing.ExtractTask(ctx, t.TraceHeaders)
		outcome, err := dispatcher.Dispatch(msgCtx, t.DeliveryID)
		if err != nil {
			// Ledger access failed; the row keeps its prior state, so a
			// short requeue retries the whole attempt.
			logger.WithContext(msgCtx).WithDelivery(t.DeliveryID.String()).WithError(err).
				Error("dispatch errored, requeueing")
			m.Requeue(30 * time.Second)
			return nil
		}

		// Short backoffs ride the queue's deferred requeue; longer ones are
		// persisted state the sweeper turns back into tasks.
		if outcome.Result == dispatch.ResultRetry && outcome.Delay <= cfg.Delivery.RequeueThreshold {
			m.RequeueWithoutBackoff(outcome.Delay)
			return nil
		}
		m.Finish()
		return nil
	}))

	// Connecting directly to nsqd forces channel creation instead of the
	// channel being lazily created on first publish.
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}

// workerLedger adapts the split stores to the dispatcher's single interface.
type workerLedger struct {
	st *store.Store
}

func (w workerLedger) Claim(ctx context.Context, id uuid.UUID) (*model.Delivery, bool, error) {
	return w.st.Deliveries.Claim(ctx, id)
}

func (w workerLedger) Endpoint(ctx context.Context, id uuid.UUID) (*model.Endpoint, error) {
	return w.st.Endpoints.GetByID(ctx, id)
}

func (w workerLedger) MarkSuccess(ctx context.Context, id uuid.UUID, attempt, responseStatus int, responseBody string) error {
	return w.st.Deliveries.MarkSuccess(ctx, id, attempt, responseStatus, responseBody)
}

func (w workerLedger) MarkRetrying(ctx context.Context, id uuid.UUID, attempt int, responseStatus *int, responseBody *string, lastError string, nextRetryAt time.Time) error {
	return w.st.Deliveries.MarkRetrying(ctx, id, attempt, responseStatus, responseBody, lastError, nextRetryAt)
}

func (w workerLedger) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, responseStatus *int, responseBody *string, lastError string) error {
	return w.st.Deliveries.MarkFailed(ctx, id, attempt, responseStatus, responseBody, lastError)
}

func (w workerLedger) MarkAbandoned(ctx context.Context, id uuid.UUID, reason string) error {
	return w.st.Deliveries.MarkAbandoned(ctx, id, reason)
}

func (w workerLedger) InsertDeadLetter(ctx context.Context, deliveryID uuid.UUID, reason string) error {
	return w.st.Deliveries.InsertDeadLetter(ctx, deliveryID, reason)
}

// startBacklogMonitor polls nsqd stats and exports channel depth.
func startBacklogMonitor(cfg config.Config, logger *logging.Logger) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		httpClient := &http.Client{Timeout: 5 * time.Second}

		for range ticker.C {
			// nsqd serves stats on its HTTP port, one above the TCP port
			nsqdHTTPAddr := strings.Replace(cfg.NSQ.NsqdTCPAddr, ":4150", ":4151", 1)
			resp, err := httpClient.Get(fmt.Sprintf("http://%s/stats?format=json", nsqdHTTPAddr))
			if err != nil {
				logger.Plain().WithError(err).Error("failed to get NSQ stats")
				continue
			}

			var stats struct {
				Topics []struct {
					Name     string `json:"topic_name"`
					Channels []struct {
						Name  string `json:"channel_name"`
						Depth int64  `json:"depth"`
					} `json:"channels"`
				} `json:"topics"`
			}

			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				resp.Body.Close()
				logger.Plain().WithError(err).Error("failed to decode NSQ stats")
				continue
			}
			resp.Body.Close()

			for _, topic := range stats.Topics {
				if topic.Name != cfg.NSQ.DeliveriesTopic {
					continue
				}
				for _, channel := range topic.Channels {
					metrics.QueueDepth.WithLabelValues(topic.Name, channel.Name).Set(float64(channel.Depth))
				}
			}
		}
	}()
}
