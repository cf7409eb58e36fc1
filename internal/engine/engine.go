package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/internal/cache"
	"github.com/hupe1980/esdm/internal/catalog"
	"github.com/hupe1980/esdm/internal/layout"
	"github.com/hupe1980/esdm/internal/resource"
	"github.com/hupe1980/esdm/internal/scheduler"
)

// Config holds the data path tunables.
type Config struct {
	Planner   layout.Planner
	Scheduler scheduler.Scheduler

	// ReplicationFactor is the number of backends each chunk is written to.
	// A chunk is durable once one replica is stored.
	ReplicationFactor int

	// MaxPutRetries bounds the extra put attempts per replica slot.
	MaxPutRetries int

	// MaxGetRetries bounds the extra passes over a chunk's replicas.
	MaxGetRetries int

	// RetryBackoff is the first backoff delay; it doubles per attempt.
	RetryBackoff time.Duration

	// MaxParallelIO bounds concurrent fragment transfers per request.
	MaxParallelIO int
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Planner:           layout.DefaultPlanner(),
		Scheduler:         scheduler.New(),
		ReplicationFactor: 1,
		MaxPutRetries:     3,
		MaxGetRetries:     2,
		RetryBackoff:      10 * time.Millisecond,
		MaxParallelIO:     16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Planner.MinChunkBytes == 0 && c.Planner.MaxChunkBytes == 0 {
		c.Planner = d.Planner
	}
	if c.Scheduler.FreeWeight == 0 && c.Scheduler.ThroughputWeight == 0 {
		c.Scheduler.FreeWeight = d.Scheduler.FreeWeight
		c.Scheduler.ThroughputWeight = d.Scheduler.ThroughputWeight
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = d.ReplicationFactor
	}
	if c.MaxPutRetries < 0 {
		c.MaxPutRetries = 0
	}
	if c.MaxGetRetries < 0 {
		c.MaxGetRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxParallelIO <= 0 {
		c.MaxParallelIO = d.MaxParallelIO
	}
	return c
}

// MetricsObserver receives data path measurements.
type MetricsObserver interface {
	RecordWrite(bytes int64, chunks int, d time.Duration, err error)
	RecordRead(bytes int64, chunks int, d time.Duration, err error)
	RecordFragmentPut(backend string, bytes int64, d time.Duration, err error)
	RecordFragmentGet(backend string, bytes int64, d time.Duration, err error)
	RecordCommit(d time.Duration, err error)
}

// NoopMetricsObserver discards everything.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) RecordWrite(int64, int, time.Duration, error) {}
func (NoopMetricsObserver) RecordRead(int64, int, time.Duration, error) {}
func (NoopMetricsObserver) RecordFragmentPut(string, int64, time.Duration, error) {}
func (NoopMetricsObserver) RecordFragmentGet(string, int64, time.Duration, error) {}
func (NoopMetricsObserver) RecordCommit(time.Duration, error) {}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithCache enables caching of fetched fragments.
func WithCache(c cache.FragmentCache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithResourceController bounds concurrent requests and IO bandwidth.
func WithResourceController(rc *resource.Controller) Option {
	return func(e *Engine) {
		e.rc = rc
	}
}

// WithStateObserver registers fn to be called on every write state
// transition. fn must be safe for concurrent use.
func WithStateObserver(fn func(requestID string, s WriteState)) Option {
	return func(e *Engine) {
		e.onState = fn
	}
}

// WithIDGenerator replaces the request id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// Engine runs writes and reads against a catalog and a set of backends.
type Engine struct {
	cfg      Config
	catalog  *catalog.Catalog
	backends map[string]backend.Driver
	names    []string

	cache   cache.FragmentCache
	rc      *resource.Controller
	logger  *slog.Logger
	metrics MetricsObserver
	onState func(string, WriteState)
	newID   func() string

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an engine. The engine takes ownership of drivers and closes
// them on Close; the catalog stays owned by the caller.
func New(cat *catalog.Catalog, drivers []backend.Driver, cfg Config, opts ...Option) (*Engine, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: nil catalog", catalog.ErrInvalidArgument)
	}
	if len(drivers) == 0 {
		return nil, fmt.Errorf("%w: no backends", catalog.ErrInvalidArgument)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Planner.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		catalog:  cat,
		backends: make(map[string]backend.Driver, len(drivers)),
		logger:   slog.New(slog.DiscardHandler),
		metrics:  NoopMetricsObserver{},
		newID:    newRequestID,
	}
	for _, d := range drivers {
		name := d.Name()
		if _, ok := e.backends[name]; ok {
			return nil, fmt.Errorf("%w: duplicate backend %q", catalog.ErrInvalidArgument, name)
		}
		e.backends[name] = d
		e.names = append(e.names, name)
	}
	sort.Strings(e.names)

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Backends returns the configured backend names in sorted order.
func (e *Engine) Backends() []string {
	return append([]string(nil), e.names...)
}

// Profiles returns a fresh profile per backend. A backend whose profile
// cannot be read is reported unavailable.
func (e *Engine) Profiles(ctx context.Context) []backend.Profile {
	out := make([]backend.Profile, 0, len(e.names))
	for _, name := range e.names {
		p, err := e.backends[name].Profile(ctx)
		if err != nil {
			e.logger.Warn("backend profile failed", "backend", name, "error", err)
			p = backend.Profile{Available: false}
		}
		p.Name = name
		out = append(out, p)
	}
	return out
}

// begin registers an in-flight request. The returned func must be called
// when it completes.
func (e *Engine) begin(ctx context.Context) (func(), error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	e.wg.Add(1)
	e.mu.RUnlock()

	if e.rc != nil {
		if err := e.rc.AcquireSlot(ctx); err != nil {
			e.wg.Done()
			return nil, err
		}
		return func() {
			e.rc.ReleaseSlot()
			e.wg.Done()
		}, nil
	}
	return e.wg.Done, nil
}

// DeleteFragments removes fragments from their backends. Failures are
// logged and joined; missing fragments are not an error.
func (e *Engine) DeleteFragments(ctx context.Context, frags []catalog.Fragment) error {
	done, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return e.deleteFragments(ctx, frags)
}

func (e *Engine) deleteFragments(ctx context.Context, frags []catalog.Fragment) error {
	if len(frags) == 0 {
		return nil
	}
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
		sem  = make(chan struct{}, e.cfg.MaxParallelIO)
	)
	for _, f := range frags {
		drv, ok := e.backends[f.Backend]
		if !ok {
			e.logger.Warn("fragment on unknown backend left behind", "backend", f.Backend, "key", f.Key)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := drv.Delete(ctx, f.Key); err != nil && !errors.Is(err, backend.ErrNotFound) {
				e.logger.Warn("fragment delete failed", "backend", f.Backend, "key", f.Key, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("delete %s on %s: %w", f.Key, f.Backend, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if e.cache != nil {
		keys := make(map[cache.CacheKey]struct{}, len(frags))
		for _, f := range frags {
			keys[cache.CacheKey{Backend: f.Backend, Key: f.Key}] = struct{}{}
		}
		e.cache.Invalidate(func(k cache.CacheKey) bool {
			_, ok := keys[k]
			return ok
		})
	}
	return errors.Join(errs...)
}

// Close waits for in-flight requests and closes every backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()

	var errs []error
	for _, name := range e.names {
		if err := e.backends[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// backoff returns the delay before retry attempt n (n >= 1).
func (e *Engine) backoff(n int) time.Duration {
	if n > 6 {
		n = 6
	}
	return e.cfg.RetryBackoff << (n - 1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
