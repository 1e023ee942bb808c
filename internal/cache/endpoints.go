package cache

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookwire/hookwire/internal/metrics"
	"github.com/hookwire/hookwire/internal/model"
)

const activeEndpointsKey = "hookwire:endpoints:active"

// EndpointLister is the piece of the store the cache wraps.
type EndpointLister interface {
	ListActive(ctx context.Context) ([]model.Endpoint, error)
}

// EndpointCache serves the active-endpoint set from Redis with a short TTL,
// falling back to the store on miss or Redis error. Registration and
// deactivation must call Invalidate.
type EndpointCache struct {
	client *goredis.Client
	store  EndpointLister
	ttl    time.Duration
}

func NewEndpointCache(client *goredis.Client, store EndpointLister, ttl time.Duration) *EndpointCache {
	return &EndpointCache{client: client, store: store, ttl: ttl}
}

// ListActive returns the active endpoints, preferring the cached copy.
func (c *EndpointCache) ListActive(ctx context.Context) ([]model.Endpoint, error) {
	if data, err := c.client.Get(ctx, activeEndpointsKey).Bytes(); err == nil {
		var cached []cachedEndpoint
		if err := json.Unmarshal(data, &cached); err == nil {
			metrics.EndpointCacheTotal.WithLabelValues("hit").Inc()
			return fromCached(cached), nil
		}
	}
	metrics.EndpointCacheTotal.WithLabelValues("miss").Inc()

	endpoints, err := c.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(toCached(endpoints)); err == nil {
		// Best effort: a failed SET just means the next call misses too.
		_ = c.client.Set(ctx, activeEndpointsKey, data, c.ttl).Err()
	}
	return endpoints, nil
}

// Invalidate drops the cached set after an endpoint mutation.
func (c *EndpointCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, activeEndpointsKey).Err()
}

// cachedEndpoint exists because Endpoint hides its secret from JSON; the
// cache is internal and must round-trip it.
type cachedEndpoint struct {
	model.Endpoint
	Secret string `json:"secret"`
}

func toCached(endpoints []model.Endpoint) []cachedEndpoint {
	out := make([]cachedEndpoint, len(endpoints))
	for i, ep := range endpoints {
		out[i] = cachedEndpoint{Endpoint: ep, Secret: ep.Secret}
	}
	return out
}

func fromCached(cached []cachedEndpoint) []model.Endpoint {
	out := make([]model.Endpoint, len(cached))
	for i, ce := range cached {
		out[i] = ce.Endpoint
		out[i].Secret = ce.Secret
	}
	return out
}
