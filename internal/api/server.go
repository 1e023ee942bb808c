package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookwire/hookwire/internal/auth"
	"github.com/hookwire/hookwire/internal/config"
	"github.com/hookwire/hookwire/internal/logging"
)

// Server wires the HTTP surface: public health and metrics plus the
// token-protected management API.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	log        *logging.Logger
}

// Handlers groups the route handlers the server mounts.
type Handlers struct {
	Endpoints  *EndpointHandler
	Events     *EventHandler
	Deliveries *DeliveryHandler
}

func NewServer(cfg config.Config, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.HTTPPort,
			Handler: engine,
		},
		engine: engine,
		log:    log,
	}
}

// SetupRoutes mounts all routes. healthz stays unauthenticated; everything
// under /api/v1 requires a valid bearer token when a validator is given.
func (s *Server) SetupRoutes(h *Handlers, validator *auth.JWTValidator, healthz http.HandlerFunc, registry *prometheus.Registry) {
	s.engine.Use(requestLogger(s.log))

	s.engine.GET("/healthz", gin.WrapF(healthz))
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/api/v1")
	if validator != nil {
		v1.Use(validator.GinMiddleware())
	}
	{
		v1.POST("/endpoints", h.Endpoints.Create)
		v1.GET("/endpoints", h.Endpoints.List)
		v1.GET("/endpoints/:id", h.Endpoints.Get)
		v1.POST("/endpoints/:id/deactivate", h.Endpoints.Deactivate)

		v1.POST("/events", h.Events.Emit)

		v1.GET("/deliveries", h.Deliveries.List)
		v1.GET("/deliveries/:id", h.Deliveries.Get)
		v1.POST("/deliveries/:id/replay", h.Deliveries.Replay)

		v1.GET("/dead-letters", h.Deliveries.ListDeadLetters)
	}
}

// Start serves until ctx is canceled, then drains with a short grace period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Plain().WithField("addr", s.httpServer.Addr).Info("api server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Plain().Info("api server stopped")
	return nil
}

func requestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			return
		}
		log.WithContext(c.Request.Context()).WithFields(map[string]any{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request handled")
	}
}
