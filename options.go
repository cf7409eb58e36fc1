package esdm

import (
	"log/slog"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/blobstore"
	"github.com/hupe1980/esdm/codec"
)

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	drivers          []backend.Driver
	metadataStore    blobstore.BlobStore
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec used for catalog records and snapshots.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &esdm.BasicMetricsCollector{}
//	inst, _ := esdm.Open(ctx, cfg, esdm.WithMetricsCollector(metrics))
//	// ... use inst ...
//	stats := metrics.GetStats()
//	fmt.Printf("Writes: %d, I/O bytes: %d\n", stats.WriteCount, stats.BytesWrittenIO)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := esdm.NewJSONLogger(slog.LevelInfo)
//	inst, _ := esdm.Open(ctx, cfg, esdm.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithDriver adds a pre-built backend next to the configured ones. The
// instance takes ownership and closes it on Close. A configuration using
// only WithDriver backends may leave Config.Backends empty.
func WithDriver(d backend.Driver) Option {
	return func(o *options) {
		if d != nil {
			o.drivers = append(o.drivers, d)
		}
	}
}

// WithMetadataStore persists the catalog as snapshots in store, one per
// commit, instead of what Config.Metadata selects. Stores with conditional
// updates, such as blobstore/s3.DDBCommitStore, make concurrent writers
// from several processes safe.
func WithMetadataStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.metadataStore = store
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}
