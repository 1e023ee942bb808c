package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hookwire/hookwire/internal/logging"
	"github.com/hookwire/hookwire/internal/model"
)

// EndpointStore is the endpoint persistence the handler needs.
type EndpointStore interface {
	Create(ctx context.Context, ep *model.Endpoint) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Endpoint, error)
	List(ctx context.Context, limit int) ([]model.Endpoint, error)
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
}

// Invalidator drops the cached active-endpoint set after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type EndpointHandler struct {
	store EndpointStore
	cache Invalidator
	log   *logging.Logger
}

func NewEndpointHandler(store EndpointStore, cache Invalidator, log *logging.Logger) *EndpointHandler {
	return &EndpointHandler{store: store, cache: cache, log: log}
}

type createEndpointRequest struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Secret   string   `json:"secret,omitempty"`
	Events   []string `json:"events"`
	TenantID *string  `json:"tenant_id,omitempty"`
}

type createEndpointResponse struct {
	model.Endpoint
	// The secret is returned exactly once, at creation.
	Secret string `json:"secret"`
}

// generateSecret returns n random bytes base64url-encoded.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (h *EndpointHandler) Create(c *gin.Context) {
	var req createEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	// Relative or scheme-less URLs must never reach the dispatcher; they
	// would burn the whole retry budget on an unroutable request.
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be absolute http or https"})
		return
	}
	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "events is required"})
		return
	}

	secret := req.Secret
	if secret == "" {
		var err error
		secret, err = generateSecret(32) // 256-bit
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate secret"})
			return
		}
	}

	ep := &model.Endpoint{
		Name:     req.Name,
		URL:      req.URL,
		Secret:   secret,
		Events:   req.Events,
		TenantID: req.TenantID,
		Active:   true,
	}
	if err := h.store.Create(c.Request.Context(), ep); err != nil {
		h.log.WithContext(c.Request.Context()).WithError(err).Error("create endpoint failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create endpoint"})
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(c.Request.Context()); err != nil {
			h.log.WithContext(c.Request.Context()).WithError(err).Warn("endpoint cache invalidate failed")
		}
	}

	c.JSON(http.StatusCreated, createEndpointResponse{Endpoint: *ep, Secret: secret})
}

func (h *EndpointHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endpoint id"})
		return
	}

	ep, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
		return
	}
	c.JSON(http.StatusOK, ep)
}

func (h *EndpointHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = 50
	}

	endpoints, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		h.log.WithContext(c.Request.Context()).WithError(err).Error("list endpoints failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list endpoints"})
		return
	}
	if endpoints == nil {
		endpoints = []model.Endpoint{}
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

func (h *EndpointHandler) Deactivate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endpoint id"})
		return
	}

	ok, err := h.store.Deactivate(c.Request.Context(), id)
	if err != nil {
		h.log.WithContext(c.Request.Context()).WithError(err).Error("deactivate endpoint failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate endpoint"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found or already inactive"})
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(c.Request.Context()); err != nil {
			h.log.WithContext(c.Request.Context()).WithError(err).Warn("endpoint cache invalidate failed")
		}
	}
	h.log.WithContext(c.Request.Context()).WithEndpoint(id.String()).Info("endpoint deactivated")
	c.JSON(http.StatusOK, gin.H{"id": id, "active": false})
}
