package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToProvider derives the context for one gateway attempt. Trace and
// run ids are inherited; the provider changes per attempt.
func PropagateToProvider(ctx context.Context, provider string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return WithProvider(ctx, provider)
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := logger.With()

	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.Agent != "" {
		lc = lc.Str("agent", tc.Agent)
	}
	if tc.Provider != "" {
		lc = lc.Str("provider", tc.Provider)
	}
	if tc.SessionID != "" {
		lc = lc.Str("session_id", tc.SessionID)
	}

	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach copies the tracing values of ctx onto a fresh background context.
// Runs outlive the HTTP request that submitted them, so they must not inherit
// its cancellation.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
