package esdm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/esdm/backend"
	s3blob "github.com/hupe1980/esdm/blobstore/s3"
	"github.com/hupe1980/esdm/internal/cache"
	"github.com/hupe1980/esdm/internal/catalog"
	"github.com/hupe1980/esdm/internal/engine"
	"github.com/hupe1980/esdm/internal/fs"
	"github.com/hupe1980/esdm/internal/resource"
	"github.com/hupe1980/esdm/internal/scheduler"
)

// Instance is an open middleware session: a catalog plus the configured
// backends. It is safe for concurrent use.
type Instance struct {
	cfg    Config
	logger *Logger

	catalog *catalog.Catalog
	engine  *engine.Engine
	cache   cache.FragmentCache
	stats   *BasicMetricsCollector

	closed atomic.Bool
}

// Open starts an instance: it opens every backend, loads the catalog and
// replays its log.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Instance, error) {
	o := applyOptions(opts)
	if err := cfg.validate(len(o.drivers) == 0); err != nil {
		return nil, err
	}

	drivers, err := openDrivers(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	closeDrivers := func() {
		for _, d := range drivers {
			_ = d.Close()
		}
	}

	journal, err := openJournal(ctx, cfg.Metadata, o)
	if err != nil {
		closeDrivers()
		o.logger.LogRecovery(ctx, 0, 0, err)
		return nil, translateError(err)
	}
	cat, err := catalog.Open(ctx, journal, catalog.WithLogger(o.logger.Logger))
	if err != nil {
		_ = journal.Close()
		closeDrivers()
		o.logger.LogRecovery(ctx, 0, 0, err)
		return nil, translateError(err)
	}
	if lj, ok := journal.(*catalog.LogJournal); ok {
		info := lj.Recovery()
		o.logger.LogRecovery(ctx, info.Records, info.TruncatedBytes, nil)
	}

	inst := &Instance{
		cfg:     cfg,
		logger:  o.logger,
		catalog: cat,
		stats:   &BasicMetricsCollector{},
	}

	policy, _ := scheduler.ParsePolicy(cfg.SchedulingPolicy)
	sched := scheduler.New()
	sched.Policy = policy

	rc := resource.NewController(resource.Config{MaxConcurrentIO: cfg.MaxConcurrentRequests})
	engOpts := []engine.Option{
		engine.WithLogger(o.logger.Logger),
		engine.WithMetricsObserver(multiCollector{inst.stats, o.metricsCollector}),
		engine.WithResourceController(rc),
	}
	if cfg.CacheBytes > 0 {
		inst.cache = cache.NewShardedLRU(cfg.CacheBytes, 0, rc)
		engOpts = append(engOpts, engine.WithCache(inst.cache))
	}

	eng, err := engine.New(cat, drivers, engine.Config{
		Planner:           cfg.planner(),
		Scheduler:         sched,
		ReplicationFactor: cfg.ReplicationFactor,
		MaxPutRetries:     cfg.MaxPutRetries,
		MaxGetRetries:     cfg.MaxGetRetries,
		RetryBackoff:      time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
		MaxParallelIO:     cfg.MaxParallelIO,
	}, engOpts...)
	if err != nil {
		_ = cat.Close()
		closeDrivers()
		return nil, translateError(err)
	}
	inst.engine = eng

	o.logger.InfoContext(ctx, "instance opened",
		"backends", len(drivers),
		"datasets", len(cat.Datasets()),
		"lsn", cat.LSN(),
	)
	return inst, nil
}

func openDrivers(ctx context.Context, cfg Config, o options) ([]backend.Driver, error) {
	drivers := make([]backend.Driver, 0, len(cfg.Backends)+len(o.drivers))
	for _, bc := range cfg.Backends {
		d, err := backend.Open(ctx, bc, backend.WithLogger(o.logger.Logger))
		o.logger.LogBackend(ctx, bc.Name, bc.Kind, err)
		if err != nil {
			for _, opened := range drivers {
				_ = opened.Close()
			}
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return append(drivers, o.drivers...), nil
}

func openJournal(ctx context.Context, mc MetadataConfig, o options) (catalog.Journal, error) {
	snapOpts := catalog.SnapshotOptions{
		KeepSnapshots: mc.KeepSnapshots,
		Codec:         o.codec,
		Logger:        o.logger.Logger,
	}
	if o.metadataStore != nil {
		return catalog.NewSnapshotJournal(o.metadataStore, snapOpts), nil
	}

	switch mc.Kind {
	case MetadataMemory:
		return catalog.NewMemoryJournal(), nil
	case MetadataPosix, "local":
		lo := catalog.DefaultLogOptions()
		lo.Durability, _ = mc.durability()
		if mc.CompactEvery > 0 {
			lo.CompactEvery = mc.CompactEvery
		}
		if mc.KeepSnapshots > 0 {
			lo.KeepSnapshots = mc.KeepSnapshots
		}
		lo.FileSystem = fs.Default
		lo.Codec = o.codec
		lo.Logger = o.logger.Logger
		return catalog.OpenLogJournal(ctx, mc.Endpoint, lo)
	case MetadataS3:
		s3c, ddb, err := s3blob.LoadClients(ctx, s3blob.ClientConfig{
			Region:    mc.Region,
			Endpoint:  mc.Endpoint,
			PathStyle: mc.Endpoint != "",
			AccessKey: mc.AccessKey,
			SecretKey: mc.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		store := s3blob.NewStore(s3c, mc.Bucket, mc.Prefix)
		commit := s3blob.NewDDBCommitStore(store, ddb, mc.Table, fmt.Sprintf("s3://%s/%s", mc.Bucket, mc.Prefix))
		return catalog.NewSnapshotJournal(commit, snapOpts), nil
	default:
		return nil, fmt.Errorf("%w: metadata: unknown kind %q", ErrInvalidConfig, mc.Kind)
	}
}

func (in *Instance) checkOpen() error {
	if in.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Config returns the configuration the instance was opened with.
func (in *Instance) Config() Config { return in.cfg }

// CreateDataset registers a new, empty dataset. id may be an esdm:// URI.
func (in *Instance) CreateDataset(ctx context.Context, id string) (*Dataset, error) {
	if err := in.checkOpen(); err != nil {
		return nil, err
	}
	id, err := ParseURI(id)
	if err != nil {
		return nil, err
	}
	err = in.catalog.RegisterDataset(ctx, id)
	in.logger.LogDataset(ctx, "created", id, err)
	if err != nil {
		return nil, translateError(err)
	}
	return in.dataset(id), nil
}

// OpenDataset returns a handle to an existing dataset.
func (in *Instance) OpenDataset(_ context.Context, id string) (*Dataset, error) {
	if err := in.checkOpen(); err != nil {
		return nil, err
	}
	id, err := ParseURI(id)
	if err != nil {
		return nil, err
	}
	if _, err := in.catalog.Dataset(id); err != nil {
		return nil, translateError(err)
	}
	return in.dataset(id), nil
}

func (in *Instance) dataset(id string) *Dataset {
	return &Dataset{inst: in, id: id, logger: in.logger.WithDataset(id)}
}

// DeleteDataset removes a dataset from the catalog and then deletes its
// fragments. Fragment deletion is best effort: failures are logged and
// leave unreferenced fragments behind.
func (in *Instance) DeleteDataset(ctx context.Context, id string) error {
	if err := in.checkOpen(); err != nil {
		return err
	}
	id, err := ParseURI(id)
	if err != nil {
		return err
	}
	frags, err := in.catalog.DeleteDataset(ctx, id)
	in.logger.LogDataset(ctx, "deleted", id, err)
	if err != nil {
		return translateError(err)
	}
	if err := in.engine.DeleteFragments(context.WithoutCancel(ctx), frags); err != nil {
		in.logger.WarnContext(ctx, "orphaned fragments after dataset delete", "dataset", id, "error", err)
	}
	return nil
}

// Datasets returns the ids of all datasets in sorted order.
func (in *Instance) Datasets() []string {
	return in.catalog.Datasets()
}

// Compact folds the catalog log into a fresh snapshot.
func (in *Instance) Compact(ctx context.Context) error {
	if err := in.checkOpen(); err != nil {
		return err
	}
	err := in.catalog.Compact(ctx)
	in.logger.LogCommit(ctx, "compaction", in.catalog.LSN(), err)
	return translateError(err)
}

// Stats is a snapshot of instance statistics.
type Stats struct {
	BasicMetricsStats

	Datasets    int
	CatalogLSN  uint64
	Backends    []backend.Profile
	CacheBytes  int64
	CacheHits   int64
	CacheMisses int64
}

// Stats returns read and write statistics since Open together with fresh
// backend profiles.
func (in *Instance) Stats(ctx context.Context) Stats {
	st := Stats{
		BasicMetricsStats: in.stats.GetStats(),
		Datasets:          len(in.catalog.Datasets()),
		CatalogLSN:        in.catalog.LSN(),
	}
	if !in.closed.Load() {
		st.Backends = in.engine.Profiles(ctx)
	}
	if in.cache != nil {
		st.CacheBytes = in.cache.Size()
		st.CacheHits, st.CacheMisses = in.cache.Stats()
	}
	return st
}

// Close waits for in-flight requests, closes the backends and flushes the
// catalog.
func (in *Instance) Close() error {
	if !in.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	var errs []error
	if err := in.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := in.catalog.Close(); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil {
		in.logger.Error("instance close failed", "error", err)
	} else {
		in.logger.Info("instance closed")
	}
	return err
}
