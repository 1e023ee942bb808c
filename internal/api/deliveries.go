package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hookwire/hookwire/internal/dispatch"
	"github.com/hookwire/hookwire/internal/logging"
	"github.com/hookwire/hookwire/internal/model"
	"github.com/hookwire/hookwire/internal/store"
	"github.com/hookwire/hookwire/internal/tracing"
)

// DeliveryStore is the delivery ledger surface the handler needs.
type DeliveryStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	List(ctx context.Context, f store.ListFilter) ([]model.Delivery, error)
	CreateReplay(ctx context.Context, sourceID uuid.UUID) (*model.Delivery, error)
	ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error)
}

// Publisher publishes a message to a queue topic.
type Publisher interface {
	Publish(topic string, body []byte) error
}

type DeliveryHandler struct {
	store DeliveryStore
	pub   Publisher
	topic string
	log   *logging.Logger
}

func NewDeliveryHandler(store DeliveryStore, pub Publisher, topic string, log *logging.Logger) *DeliveryHandler {
	return &DeliveryHandler{store: store, pub: pub, topic: topic, log: log}
}

func (h *DeliveryHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery id"})
		return
	}

	del, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "delivery not found"})
		return
	}
	c.JSON(http.StatusOK, del)
}

func (h *DeliveryHandler) List(c *gin.Context) {
	f := store.ListFilter{}
	if s := c.Query("status"); s != "" {
		f.Status = model.DeliveryStatus(s)
	}
	if s := c.Query("endpoint_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endpoint_id"})
			return
		}
		f.EndpointID = id
	}
	if s := c.Query("event_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_id"})
			return
		}
		f.EventID = id
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit"))

	deliveries, err := h.store.List(c.Request.Context(), f)
	if err != nil {
		h.log.WithContext(c.Request.Context()).WithError(err).Error("list deliveries failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deliveries"})
		return
	}
	if deliveries == nil {
		deliveries = []model.Delivery{}
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}

// Replay creates a fresh delivery from a terminal one, reusing the stored
// payload bytes so the new attempts send exactly what the original sent.
func (h *DeliveryHandler) Replay(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery id"})
		return
	}

	replay, err := h.store.CreateReplay(c.Request.Context(), id)
	if err != nil {
		h.log.WithContext(c.Request.Context()).WithDelivery(id.String()).WithError(err).
			Error("replay failed")
		c.JSON(http.StatusConflict, gin.H{"error": "delivery not found or not replayable"})
		return
	}

	task := dispatch.Task{
		DeliveryID:   replay.ID,
		EndpointID:   replay.EndpointID,
		EventType:    replay.EventType,
		TraceHeaders: tracing.InjectTask(c.Request.Context()),
	}
	if body, err := json.Marshal(task); err == nil {
		if err := h.pub.Publish(h.topic, body); err != nil {
			h.log.WithContext(c.Request.Context()).WithDelivery(replay.ID.String()).WithError(err).
				Error("replay publish failed, sweeper will recover")
		}
	}

	h.log.WithContext(c.Request.Context()).WithDelivery(replay.ID.String()).
		WithField("replay_of", id.String()).Info("delivery replayed")
	c.JSON(http.StatusCreated, replay)
}

func (h *DeliveryHandler) ListDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	letters, err := h.store.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		h.log.WithContext(c.Request.Context()).WithError(err).Error("list dead letters failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}
	if letters == nil {
		letters = []model.DeadLetter{}
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": letters})
}
