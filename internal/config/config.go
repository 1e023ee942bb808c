package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // topic carrying dispatch tasks
	DeadLetterTopic string // topic for dead-letter envelopes
	WorkerChannel   string // channel name for dispatch workers
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration // active-endpoint cache TTL
}

// Delivery holds every dispatcher tunable. It is injected into the dispatcher
// and sweeper at construction; nothing reads these from ambient globals.
type Delivery struct {
	MaxRetries        int           // attempts before a delivery is terminally failed
	BaseDelay         time.Duration // backoff = BaseDelay * 2^(attempt-1)
	MaxDelay          time.Duration // backoff ceiling
	JitterPercent     float64       // +/- fraction applied to the computed backoff
	Timeout           time.Duration // per-request HTTP timeout
	ResponseBodyLimit int           // stored response body truncation, bytes
	RequeueThreshold  time.Duration // backoffs at or under this use deferred queue requeue
	PublishDeadLetter bool          // also publish dead-letter envelopes to NSQ
	SignatureHeader   string
	EventTypeHeader   string
}

type Sweeper struct {
	Interval      time.Duration // time between sweeps
	BatchSize     int           // max deliveries re-queued per sweep
	ClaimGrace    time.Duration // re-arm window claimed per swept delivery
	PendingGrace  time.Duration // age before a pending delivery counts as stale
	InflightGrace time.Duration // age before an inflight claim counts as orphaned
}

type Auth struct {
	PublicKeyPEM string // RS256 public key for API tokens
	Issuer       string
	Audience     string
}

type Worker struct {
	HTTPPort string // worker metrics/health port
}

type Config struct {
	AppName         string
	HTTPPort        string // :8080
	SweeperHTTPPort string
	Worker          Worker
	DB              DB
	NSQ             NSQ
	Redis           Redis
	Delivery        Delivery
	Sweeper         Sweeper
	Auth            Auth
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// FromEnv builds the full configuration from environment variables, falling
// back to defaults suitable for local compose.
func FromEnv() Config {
	return Config{
		AppName:         getenv("APP_NAME", "hookwire"),
		HTTPPort:        getenv("HTTP_PORT", ":8080"),
		SweeperHTTPPort: getenv("SWEEPER_HTTP_PORT", ":8084"),
		Worker: Worker{
			HTTPPort: ":" + getenv("WORKER_HTTP_PORT", "8082"),
		},
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "hookwire"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			DeadLetterTopic: getenv("NSQ_DEAD_LETTER_TOPIC", "deliveries_dead"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", "redis:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
			CacheTTL: getenvDuration("ENDPOINT_CACHE_TTL", 30*time.Second),
		},
		Delivery: Delivery{
			MaxRetries:        getenvInt("MAX_RETRIES", 3),
			BaseDelay:         getenvDuration("RETRY_BASE_DELAY", 30*time.Second),
			MaxDelay:          getenvDuration("RETRY_MAX_DELAY", 10*time.Minute),
			JitterPercent:     getenvFloat("RETRY_JITTER_PCT", 0),
			Timeout:           getenvDuration("DELIVERY_TIMEOUT", 15*time.Second),
			ResponseBodyLimit: getenvInt("RESPONSE_BODY_LIMIT", 1000),
			RequeueThreshold:  getenvDuration("REQUEUE_THRESHOLD", time.Minute),
			PublishDeadLetter: getenvBool("PUBLISH_DEAD_LETTER_TOPIC", false),
			SignatureHeader:   getenv("WEBHOOK_SIGNATURE_HEADER", "X-Webhook-Signature"),
			EventTypeHeader:   getenv("WEBHOOK_EVENT_TYPE_HEADER", "X-Event-Type"),
		},
		Sweeper: Sweeper{
			Interval:      getenvDuration("SWEEP_INTERVAL", 5*time.Minute),
			BatchSize:     getenvInt("SWEEP_BATCH_SIZE", 100),
			ClaimGrace:    getenvDuration("SWEEP_CLAIM_GRACE", 2*time.Minute),
			PendingGrace:  getenvDuration("SWEEP_PENDING_GRACE", 5*time.Minute),
			InflightGrace: getenvDuration("SWEEP_INFLIGHT_GRACE", 10*time.Minute),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("JWT_PUBLIC_KEY", ""),
			Issuer:       getenv("JWT_ISSUER", "hookwire"),
			Audience:     getenv("JWT_AUDIENCE", "hookwire-api"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
