package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hookwire/hookwire/internal/tracing"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

// Entry is one structured log line. Domain ids get first-class fields so
// operators can query by delivery or endpoint directly.
type Entry struct {
	Time       time.Time      `json:"time"`
	Level      Level          `json:"level"`
	Message    string         `json:"msg"`
	Service    string         `json:"service,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	EventID    string         `json:"event_id,omitempty"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	EndpointID string         `json:"endpoint_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`

	logger *Logger
}

// Logger emits JSON entries for one service, filtered by a minimum level.
type Logger struct {
	service  string
	minLevel Level
	mu       sync.Mutex
	out      io.Writer
}

// New creates a logger for the given service name. The minimum level comes
// from LOG_LEVEL (default info).
func New(service string) *Logger {
	min := Level(os.Getenv("LOG_LEVEL"))
	if _, ok := levelRank[min]; !ok {
		min = LevelInfo
	}
	return &Logger{service: service, minLevel: min, out: os.Stdout}
}

func (l *Logger) entry() *Entry {
	return &Entry{
		Time:    time.Now().UTC(),
		Service: l.service,
		logger:  l,
	}
}

// Plain starts an entry without context correlation.
func (l *Logger) Plain() *Entry {
	return l.entry()
}

// WithContext starts an entry carrying the trace id from ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Entry {
	e := l.entry()
	e.TraceID = tracing.TraceID(ctx)
	return e
}

// Fluent field setters.

func (e *Entry) WithTenant(id string) *Entry     { e.TenantID = id; return e }
func (e *Entry) WithEvent(id string) *Entry      { e.EventID = id; return e }
func (e *Entry) WithDelivery(id string) *Entry   { e.DeliveryID = id; return e }
func (e *Entry) WithEndpoint(id string) *Entry   { e.EndpointID = id; return e }

func (e *Entry) WithField(key string, value any) *Entry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

func (e *Entry) WithFields(fields map[string]any) *Entry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

func (e *Entry) WithError(err error) *Entry {
	if err != nil {
		e.WithField("error", err.Error())
	}
	return e
}

func (e *Entry) Debug(msg string)                  { e.log(LevelDebug, msg) }
func (e *Entry) Debugf(f string, args ...any)      { e.log(LevelDebug, fmt.Sprintf(f, args...)) }
func (e *Entry) Info(msg string)                   { e.log(LevelInfo, msg) }
func (e *Entry) Infof(f string, args ...any)       { e.log(LevelInfo, fmt.Sprintf(f, args...)) }
func (e *Entry) Warn(msg string)                   { e.log(LevelWarn, msg) }
func (e *Entry) Warnf(f string, args ...any)       { e.log(LevelWarn, fmt.Sprintf(f, args...)) }
func (e *Entry) Error(msg string)                  { e.log(LevelError, msg) }
func (e *Entry) Errorf(f string, args ...any)      { e.log(LevelError, fmt.Sprintf(f, args...)) }

// Fatal logs the entry and exits the process.
func (e *Entry) Fatal(msg string) {
	e.log(LevelFatal, msg)
	os.Exit(1)
}

func (e *Entry) log(level Level, msg string) {
	l := e.logger
	if l == nil {
		l = defaultLogger
	}
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}
	e.Level = level
	e.Message = msg
	if len(e.Fields) == 0 {
		e.Fields = nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		return
	}
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

var defaultLogger = New("hookwire")

// Plain starts an entry on the default logger.
func Plain() *Entry { return defaultLogger.Plain() }

// WithContext starts a context-correlated entry on the default logger.
func WithContext(ctx context.Context) *Entry { return defaultLogger.WithContext(ctx) }
