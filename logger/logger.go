// Package logger provides structured logging for the tickwork runtime.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Dataflow graph and stage lifecycle logging
//   - Market data download and persistence logging
//   - Contextual logging with run and session tracing
//   - Level-based verbosity control, per-module when configured
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tickwork/tickwork/version"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// logOutput is the destination for log records. Tests swap it for a buffer.
	logOutput io.Writer = os.Stderr

	// customHandler, when set via SetLogger, takes precedence over Configure.
	customHandler slog.Handler
)

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = ParseLevel(envLevel)
	}

	useJSON := strings.EqualFold(os.Getenv("LOG_FORMAT"), FormatJSON)
	initLoggerWithConfig(level, nil, nil, useJSON)
	version.LogStartup()
}

// ParseLevel maps a level name to a slog.Level. Unknown names default to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SetLogger replaces the global logger with one built on the given handler.
// Subsequent Configure calls preserve it. Pass nil to restore the default
// construction path.
func SetLogger(handler slog.Handler) {
	customHandler = handler
	if handler != nil {
		DefaultLogger = slog.New(handler)
		slog.SetDefault(DefaultLogger)
		return
	}
	initLoggerWithConfig(slog.LevelInfo, nil, globalModuleConfig, false)
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	initLoggerWithConfig(level, nil, nil, false)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// With returns a logger carrying the given attributes on every record.
// Use it to scope a component logger: logger.With("component", "store").
func With(args ...any) *slog.Logger {
	return DefaultLogger.With(args...)
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
// The context can be used for run tracing and cancellation.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
// Debug messages are only output when the log level is set to LevelDebug or lower.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
// Use for errors that affect operation but don't cause complete failure.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// Download logs the start of a market data download with structured fields.
// Additional attributes can be passed as key-value pairs after the required parameters.
func Download(symbol, product, day string, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"symbol", symbol,
		"product", product,
		"day", day,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("⬇️ Downloading market data", allAttrs...)
}

// Saved logs a completed persistence batch with item counts for observability.
func Saved(symbol, product string, items int, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"symbol", symbol,
		"product", product,
		"items", items,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("💾 Saved market data", allAttrs...)
}

// OrderEmitted logs an order surfaced by the engine at debug level.
func OrderEmitted(orderID string, ts float64, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"order_id", orderID,
		"ts", ts,
	)
	allAttrs = append(allAttrs, attrs...)
	Debug("📤 Order emitted", allAttrs...)
}
