package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hookwire/hookwire/internal/auth"
	"github.com/hookwire/hookwire/internal/emit"
	"github.com/hookwire/hookwire/internal/logging"
)

// Emitter turns one accepted event into ledger rows and queued work.
type Emitter interface {
	Emit(ctx context.Context, req emit.Request) (*emit.Result, error)
}

type EventHandler struct {
	emitter Emitter
	log     *logging.Logger
}

func NewEventHandler(emitter Emitter, log *logging.Logger) *EventHandler {
	return &EventHandler{emitter: emitter, log: log}
}

// Emit accepts the event once its ledger rows exist; actual delivery is
// asynchronous and the caller is never blocked on receivers.
func (h *EventHandler) Emit(c *gin.Context) {
	var req emit.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.EventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_type is required"})
		return
	}
	if req.TenantID == nil {
		if tenant, ok := auth.TenantFromGin(c); ok {
			req.TenantID = &tenant
		}
	}

	res, err := h.emitter.Emit(c.Request.Context(), req)
	if err != nil {
		h.log.WithContext(c.Request.Context()).WithError(err).Error("emit event failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to emit event"})
		return
	}
	c.JSON(http.StatusAccepted, res)
}
