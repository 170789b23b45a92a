package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// These keys are used to store values in context.Context that will be
// automatically extracted and added to log entries.
const (
	// ContextKeyRunID identifies the current engine run.
	ContextKeyRunID contextKey = "run_id"

	// ContextKeyStage identifies the dataflow stage doing the work.
	ContextKeyStage contextKey = "stage"

	// ContextKeySymbol identifies the market symbol being processed.
	ContextKeySymbol contextKey = "symbol"

	// ContextKeySessionID identifies a feed subscriber session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyEnvironment identifies the deployment environment.
	ContextKeyEnvironment contextKey = "environment"
)

// allContextKeys lists all context keys that should be extracted for logging.
// This is used by the handler to iterate over all possible context values.
var allContextKeys = []contextKey{
	ContextKeyRunID,
	ContextKeyStage,
	ContextKeySymbol,
	ContextKeySessionID,
	ContextKeyEnvironment,
}

// LoggingFields bundles the context fields set by WithLoggingContext.
type LoggingFields struct {
	RunID       string
	Stage       string
	Symbol      string
	SessionID   string
	Environment string
}

// WithRunID returns a new context with the engine run ID set.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// WithStage returns a new context with the dataflow stage name set.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ContextKeyStage, stage)
}

// WithSymbol returns a new context with the market symbol set.
func WithSymbol(ctx context.Context, symbol string) context.Context {
	return context.WithValue(ctx, ContextKeySymbol, symbol)
}

// WithSessionID returns a new context with the feed session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithEnvironment returns a new context with the environment set.
func WithEnvironment(ctx context.Context, environment string) context.Context {
	return context.WithValue(ctx, ContextKeyEnvironment, environment)
}

// WithLoggingContext returns a new context with multiple logging fields set at once.
// This is a convenience function for setting multiple fields in one call.
// Only non-empty values are set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.RunID != "" {
		ctx = WithRunID(ctx, fields.RunID)
	}
	if fields.Stage != "" {
		ctx = WithStage(ctx, fields.Stage)
	}
	if fields.Symbol != "" {
		ctx = WithSymbol(ctx, fields.Symbol)
	}
	if fields.SessionID != "" {
		ctx = WithSessionID(ctx, fields.SessionID)
	}
	if fields.Environment != "" {
		ctx = WithEnvironment(ctx, fields.Environment)
	}
	return ctx
}
