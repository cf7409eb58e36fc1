package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/esdm/blobstore"
	minioblob "github.com/hupe1980/esdm/blobstore/minio"
	s3blob "github.com/hupe1980/esdm/blobstore/s3"
	"github.com/hupe1980/esdm/internal/compress"
	"github.com/hupe1980/esdm/internal/resource"
)

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	logger *slog.Logger
	store  blobstore.BlobStore
}

// WithLogger sets the logger handed to the driver.
func WithLogger(l *slog.Logger) Option {
	return func(o *openOptions) { o.logger = l }
}

// WithStore replaces the blob store the kind would build. Used to point a
// backend at a pre-built client.
func WithStore(s blobstore.BlobStore) Option {
	return func(o *openOptions) { o.store = s }
}

// Open builds the Driver for cfg. If the entry sets max-threads or an
// I/O limit the driver is wrapped by Limited.
func Open(ctx context.Context, cfg Config, opts ...Option) (Driver, error) {
	kind, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	o := openOptions{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	ctype, _ := compress.ParseType(cfg.Compression)

	bo := BlobOptions{
		Kind:          kind,
		CapacityBytes: cfg.CapacityBytes,
		Throughput:    cfg.throughput(),
		Perf:          cfg.perf(),
		Compression:   ctype,
		Logger:        o.logger,
	}

	store := o.store
	if store == nil {
		store, err = openStore(ctx, kind, cfg)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", cfg.Name, err)
		}
	}
	if local, ok := store.(*blobstore.LocalStore); ok {
		bo.DiskUsage = local.DiskUsage
	}

	d, err := NewBlobDriver(ctx, cfg.Name, store, bo)
	if err != nil {
		return nil, err
	}
	o.logger.Info("backend opened", "backend", cfg.Name, "kind", kind, "compression", ctype)

	if cfg.MaxThreads > 0 || cfg.IOLimitBytesPerSec > 0 {
		return Limited(d, resource.NewController(resource.Config{
			MaxConcurrentIO:    cfg.MaxThreads,
			IOLimitBytesPerSec: cfg.IOLimitBytesPerSec,
		})), nil
	}
	return d, nil
}

func openStore(ctx context.Context, kind Kind, cfg Config) (blobstore.BlobStore, error) {
	switch kind {
	case KindPosix:
		return blobstore.NewLocalStore(cfg.Endpoint), nil
	case KindMemory:
		return blobstore.NewMemoryStore(), nil
	case KindS3:
		client, _, err := s3blob.LoadClients(ctx, s3blob.ClientConfig{
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.Endpoint != "",
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return s3blob.NewStore(client, cfg.Bucket, cfg.Prefix), nil
	case KindMinio:
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, err
		}
		store := minioblob.NewStore(client, cfg.Bucket, cfg.Prefix)
		if err := store.EnsureBucket(ctx, cfg.Region); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, kind)
	}
}
