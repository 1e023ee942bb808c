package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hookwire/hookwire/internal/api"
	"github.com/hookwire/hookwire/internal/auth"
	"github.com/hookwire/hookwire/internal/cache"
	"github.com/hookwire/hookwire/internal/config"
	"github.com/hookwire/hookwire/internal/db"
	"github.com/hookwire/hookwire/internal/emit"
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
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger := logging.New("hookwire-api")

	shutdown, err := tracing.Init(ctx, "hookwire-api")
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

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	endpointCache := cache.NewEndpointCache(rdb, st.Endpoints, cfg.Redis.CacheTTL)

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	var validator *auth.JWTValidator
	if cfg.Auth.PublicKeyPEM != "" {
		validator, err = auth.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("jwt validator creation failed")
		}
	} else {
		logger.Plain().Warn("JWT_PUBLIC_KEY not set, api is unauthenticated")
	}

	emitter := emit.New(emitStore{st}, endpointCache, producer, cfg.NSQ.DeliveriesTopic, logger)

	server := api.NewServer(cfg, logger)
	server.SetupRoutes(&api.Handlers{
		Endpoints:  api.NewEndpointHandler(st.Endpoints, endpointCache, logger),
		Events:     api.NewEventHandler(emitter, logger),
		Deliveries: api.NewDeliveryHandler(st.Deliveries, producer, cfg.NSQ.DeliveriesTopic, logger),
	}, validator, health.HTTPHandler(pool, rdb), reg)

	if err := server.Start(ctx); err != nil {
		logger.Plain().WithError(err).Error("api server failed")
		os.Exit(1)
	}
}

// emitStore adapts the split stores to the emitter's single interface.
type emitStore struct {
	st *store.Store
}

func (e emitStore) InsertEvent(ctx context.Context, ev *model.Event) (bool, error) {
	return e.st.Events.Insert(ctx, ev)
}

func (e emitStore) CreateDeliveries(ctx context.Context, deliveries []*model.Delivery) error {
	return e.st.Deliveries.CreateBatch(ctx, deliveries)
}
