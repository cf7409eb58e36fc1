package backend

import (
	"context"

	"github.com/hupe1980/esdm/internal/resource"
)

// LimitedDriver bounds concurrency and bandwidth of the wrapped Driver.
type LimitedDriver struct {
	Driver
	rc *resource.Controller
}

// Limited wraps d. Every Put and Get holds one slot of rc for its duration
// and is charged its payload size against the bandwidth limit.
func Limited(d Driver, rc *resource.Controller) *LimitedDriver {
	return &LimitedDriver{Driver: d, rc: rc}
}

// Controller returns the resource controller.
func (l *LimitedDriver) Controller() *resource.Controller { return l.rc }

// Unwrap returns the wrapped driver.
func (l *LimitedDriver) Unwrap() Driver { return l.Driver }

func (l *LimitedDriver) Put(ctx context.Context, key string, data []byte) (uint32, error) {
	if err := l.rc.AcquireSlot(ctx); err != nil {
		return 0, err
	}
	defer l.rc.ReleaseSlot()

	if err := l.rc.AcquireIO(ctx, len(data)); err != nil {
		return 0, err
	}
	return l.Driver.Put(ctx, key, data)
}

func (l *LimitedDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := l.rc.AcquireSlot(ctx); err != nil {
		return nil, err
	}
	defer l.rc.ReleaseSlot()

	data, err := l.Driver.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	// Reads are charged after the fact; the size is unknown up front.
	if err := l.rc.AcquireIO(ctx, len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

func (l *LimitedDriver) Delete(ctx context.Context, key string) error {
	if err := l.rc.AcquireSlot(ctx); err != nil {
		return err
	}
	defer l.rc.ReleaseSlot()
	return l.Driver.Delete(ctx, key)
}
