package dispatch

import (
	"math/rand"
	"strings"
	"time"

	"github.com/hookwire/hookwire/internal/config"
)

// Backoff returns the delay before the next attempt after attempt failures:
// BaseDelay doubled per prior attempt, capped at MaxDelay, with optional
// +/- JitterPercent.
func Backoff(cfg config.Delivery, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.JitterPercent > 0 {
		j := 1 + (rand.Float64()*2-1)*cfg.JitterPercent
		if j < 0.1 {
			j = 0.1
		}
		delay = time.Duration(float64(delay) * j)
	}
	return delay
}

// classifyReason buckets a failure for the retry metrics label.
func classifyReason(err error, status int) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return "timeout"
		case strings.Contains(msg, "connection refused"):
			return "connection_refused"
		case strings.Contains(msg, "no such host"), strings.Contains(msg, "dns"):
			return "dns_error"
		}
		return "network"
	}
	switch {
	case status >= 500:
		return "http_5xx"
	case status == 429:
		return "http_429"
	case status >= 400:
		return "http_4xx"
	}
	return "other"
}
