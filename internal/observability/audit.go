package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Type     string // "run", "provider" or "config"
	Actor    string // user id or "system"
	Action   string // e.g. "run.submit", "provider.register:openai"
	Status   string
	Metadata map[string]interface{}
}

// AuditLogger appends audit events as JSON lines. When the caller's context
// carries a sampled span the event is mirrored onto it.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// NewAuditLogger writes events to w. If w is an io.Closer, Close closes it.
func NewAuditLogger(w io.Writer) *AuditLogger {
	a := &AuditLogger{logger: zerolog.New(w).With().Timestamp().Logger()}
	if c, ok := w.(io.Closer); ok {
		a.closer = c
	}
	return a
}

var auditInst atomic.Pointer[AuditLogger]

// GetAuditLogger returns the process audit logger, writing to stderr until
// InitAuditLogger is called.
func GetAuditLogger() *AuditLogger {
	if a := auditInst.Load(); a != nil {
		return a
	}
	auditInst.CompareAndSwap(nil, NewAuditLogger(os.Stderr))
	return auditInst.Load()
}

// InitAuditLogger points the global audit logger at the file at path.
// A previously installed file logger is closed.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if prev := auditInst.Swap(NewAuditLogger(file)); prev != nil {
		_ = prev.Close()
	}
	return nil
}

func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	var traceID string
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if traceID != "" {
		entry = entry.Str("trace_id", traceID)
	}
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close closes the underlying file, if any. Stderr is never closed.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil || a.closer == io.Closer(os.Stderr) {
		return nil
	}
	c := a.closer
	a.closer = nil
	return c.Close()
}

// RecordRunAudit records a run lifecycle action taken on behalf of actor.
func RecordRunAudit(ctx context.Context, action, runID, actor, status string) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "run",
		Actor:    actor,
		Action:   action,
		Status:   status,
		Metadata: map[string]interface{}{"run_id": runID},
	})
}

// RecordProviderAudit records a change to the provider registry.
func RecordProviderAudit(ctx context.Context, action, provider, actor string) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "provider",
		Actor:    actor,
		Action:   action + ":" + provider,
		Status:   "success",
		Metadata: map[string]interface{}{"provider": provider},
	})
}

func RecordConfigAudit(ctx context.Context, action, actor string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "config",
		Actor:    actor,
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}
