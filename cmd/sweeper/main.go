package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookwire/hookwire/internal/config"
	"github.com/hookwire/hookwire/internal/db"
	"github.com/hookwire/hookwire/internal/health"
	"github.com/hookwire/hookwire/internal/logging"
	"github.com/hookwire/hookwire/internal/metrics"
	"github.com/hookwire/hookwire/internal/store"
	"github.com/hookwire/hookwire/internal/sweeper"
	"github.com/hookwire/hookwire/internal/tracing"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger := logging.New("hookwire-sweeper")

	shutdown, err := tracing.Init(ctx, "hookwire-sweeper")
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

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, nil))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.SweeperHTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("sweeper HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("sweeper HTTP server failed")
		}
	}()

	s := sweeper.New(st.Deliveries, producer, cfg.NSQ.DeliveriesTopic, cfg.Sweeper, cfg.Delivery.MaxRetries, logger)
	s.Run(ctx)

	_ = httpSrv.Shutdown(context.Background())
}
