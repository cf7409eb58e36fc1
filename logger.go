package esdm

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/esdm/model"
)

// Logger wraps slog.Logger with esdm-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithDataset adds a dataset field to the logger.
func (l *Logger) WithDataset(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dataset", id),
	}
}

// WithVariable adds a variable field to the logger.
func (l *Logger) WithVariable(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("variable", name),
	}
}

// LogWrite logs a region write.
func (l *Logger) LogWrite(ctx context.Context, region model.Box, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "write failed",
			"region", region.String(),
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "write completed",
			"region", region.String(),
			"bytes", bytes,
		)
	}
}

// LogRead logs a region read.
func (l *Logger) LogRead(ctx context.Context, region model.Box, filled int, err error) {
	if err != nil {
		l.WarnContext(ctx, "read failed",
			"region", region.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "read completed",
			"region", region.String(),
			"filled_regions", filled,
		)
	}
}

// LogCommit logs a catalog flush or compaction.
func (l *Logger) LogCommit(ctx context.Context, op string, lsn uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "catalog "+op+" failed",
			"lsn", lsn,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "catalog "+op+" completed",
			"lsn", lsn,
		)
	}
}

// LogRecovery logs the catalog recovery at open.
func (l *Logger) LogRecovery(ctx context.Context, recordsReplayed int, truncatedBytes int64, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "catalog recovery failed",
			"records_replayed", recordsReplayed,
			"error", err,
		)
	case truncatedBytes > 0:
		l.WarnContext(ctx, "catalog recovered with torn log tail",
			"records_replayed", recordsReplayed,
			"truncated_bytes", truncatedBytes,
		)
	default:
		l.InfoContext(ctx, "catalog recovery completed",
			"records_replayed", recordsReplayed,
		)
	}
}

// LogBackend logs a backend open.
func (l *Logger) LogBackend(ctx context.Context, name, kind string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backend open failed",
			"backend", name,
			"kind", kind,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "backend ready",
			"backend", name,
			"kind", kind,
		)
	}
}

// LogDataset logs a dataset lifecycle operation.
func (l *Logger) LogDataset(ctx context.Context, op, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dataset "+op+" failed",
			"dataset", id,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "dataset "+op,
			"dataset", id,
		)
	}
}
