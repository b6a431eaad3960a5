package entidx

import (
	"log/slog"

	"github.com/hupe1980/entidx/blobstore"
	"github.com/hupe1980/entidx/codec"
	"github.com/hupe1980/entidx/persistence"
	"github.com/hupe1980/entidx/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	store            blobstore.BlobStore
	codec            codec.Codec
	compression      persistence.Compression
	cacheSize        int
	resources        *resource.Config
	retain           int
}

func defaultOptions() options {
	return options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		codec:            codec.Default,
		compression:      persistence.CompressionZSTD,
		retain:           persistence.DefaultOptions.Retain,
	}
}

// Option configures Open.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := entidx.NewJSONLogger(slog.LevelInfo)
//	db, _ := entidx.Open(ctx, entidx.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
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

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &entidx.BasicMetricsCollector{}
//	db, _ := entidx.Open(ctx, entidx.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithBlobStore sets where snapshots are saved and loaded from. Open loads
// the latest snapshot in store, if any.
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCodec configures the codec used for snapshot manifests.
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

// WithCompression sets the block compression of saved snapshots.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithResultCache shares computed sub-query results across queries, up to
// size entries. The cache is purged on every commit.
func WithResultCache(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

// WithResourceLimits bounds the workers, memory and I/O bandwidth of
// snapshot saves and loads.
func WithResourceLimits(cfg resource.Config) Option {
	return func(o *options) {
		o.resources = &cfg
	}
}

// WithSnapshotRetention sets how many superseded snapshots Save keeps.
// A negative value disables pruning.
func WithSnapshotRetention(n int) Option {
	return func(o *options) {
		o.retain = n
	}
}
