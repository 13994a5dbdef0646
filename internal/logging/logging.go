// Package logging wraps logrus with request trace IDs and a few structured
// helpers shared by the HTTP layer.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// TraceHeader carries the trace ID on requests and responses.
const TraceHeader = "X-Trace-ID"

// Logger is a logrus logger bound to a service name.
type Logger struct {
	*logrus.Logger
	service string
}

var defaultLogger atomic.Pointer[Logger]

// New creates a logger. format is "json" or "text"; unknown levels fall back to info.
func New(service, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	return &Logger{Logger: l, service: service}
}

// NewForTest returns a logger writing text to w at debug level.
func NewForTest(w io.Writer) *Logger {
	l := New("test", "debug", "text")
	l.SetOutput(w)
	return l
}

// Default returns the process-wide logger.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	defaultLogger.CompareAndSwap(nil, New("x402ui", os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger. Safe for concurrent use.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Service returns the service name attached to every entry.
func (l *Logger) Service() string {
	return l.service
}

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace ID in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID stored in ctx, if any.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithContext returns an entry carrying the service name and trace ID.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

// WithFields returns an entry carrying the service name and fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithField("service", l.service).WithFields(logrus.Fields(fields))
}

// LogRequest logs a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})

	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400 && status != 402:
		entry.Warn("request rejected")
	default:
		entry.Info("request handled")
	}
}

// LogPayment logs the outcome of a payment check. reason is empty on success.
func (l *Logger) LogPayment(ctx context.Context, method, payer, signature, reason string, amount uint64) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"payment_method": method,
		"payer":          payer,
		"signature":      signature,
		"amount":         amount,
	})
	if reason != "" {
		entry.WithField("reason", reason).Warn("payment rejected")
		return
	}
	entry.Info("payment verified")
}

// LogSecurityEvent logs abuse signals such as rate limiting or replays.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, details map[string]interface{}) {
	l.WithContext(ctx).WithField("security_event", event).WithFields(logrus.Fields(details)).Warn("security event")
}
