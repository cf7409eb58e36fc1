package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// FaultyDriver wraps a Driver and injects failures. It is meant for tests
// of the write and read paths.
type FaultyDriver struct {
	Driver

	mu          sync.Mutex
	unavailable bool
	full        bool
	corrupt     bool
	failPuts    int
	failGets    int
	putDelay    time.Duration

	puts atomic.Int64
	gets atomic.Int64
}

// NewFaultyDriver wraps d with no faults enabled.
func NewFaultyDriver(d Driver) *FaultyDriver {
	return &FaultyDriver{Driver: d}
}

// SetUnavailable makes every call fail with ErrBackendUnavailable.
func (f *FaultyDriver) SetUnavailable(v bool) {
	f.mu.Lock()
	f.unavailable = v
	f.mu.Unlock()
}

// SetFull makes puts fail with ErrBackendFull and reports no free space.
func (f *FaultyDriver) SetFull(v bool) {
	f.mu.Lock()
	f.full = v
	f.mu.Unlock()
}

// SetCorrupt flips a bit in every fragment returned by Get.
func (f *FaultyDriver) SetCorrupt(v bool) {
	f.mu.Lock()
	f.corrupt = v
	f.mu.Unlock()
}

// FailNextPuts makes the next n puts fail with ErrBackendUnavailable.
func (f *FaultyDriver) FailNextPuts(n int) {
	f.mu.Lock()
	f.failPuts = n
	f.mu.Unlock()
}

// FailNextGets makes the next n gets fail with ErrBackendUnavailable.
func (f *FaultyDriver) FailNextGets(n int) {
	f.mu.Lock()
	f.failGets = n
	f.mu.Unlock()
}

// SetPutDelay delays every put by d, honoring context cancellation.
func (f *FaultyDriver) SetPutDelay(d time.Duration) {
	f.mu.Lock()
	f.putDelay = d
	f.mu.Unlock()
}

// Puts returns the number of Put calls that reached the wrapped driver.
func (f *FaultyDriver) Puts() int64 { return f.puts.Load() }

// Gets returns the number of Get calls that reached the wrapped driver.
func (f *FaultyDriver) Gets() int64 { return f.gets.Load() }

func (f *FaultyDriver) Put(ctx context.Context, key string, data []byte) (uint32, error) {
	f.mu.Lock()
	switch {
	case f.unavailable:
		f.mu.Unlock()
		return 0, fmt.Errorf("backend %s: %w: injected", f.Name(), ErrBackendUnavailable)
	case f.full:
		f.mu.Unlock()
		return 0, fmt.Errorf("backend %s: %w: injected", f.Name(), ErrBackendFull)
	case f.failPuts > 0:
		f.failPuts--
		f.mu.Unlock()
		return 0, fmt.Errorf("backend %s: %w: injected put failure", f.Name(), ErrBackendUnavailable)
	}
	delay := f.putDelay
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
	f.puts.Add(1)
	return f.Driver.Put(ctx, key, data)
}

func (f *FaultyDriver) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	if f.unavailable {
		f.mu.Unlock()
		return nil, fmt.Errorf("backend %s: %w: injected", f.Name(), ErrBackendUnavailable)
	}
	if f.failGets > 0 {
		f.failGets--
		f.mu.Unlock()
		return nil, fmt.Errorf("backend %s: %w: injected get failure", f.Name(), ErrBackendUnavailable)
	}
	corrupt := f.corrupt
	f.mu.Unlock()

	f.gets.Add(1)
	data, err := f.Driver.Get(ctx, key)
	if err != nil || !corrupt || len(data) == 0 {
		return data, err
	}
	bad := make([]byte, len(data))
	copy(bad, data)
	bad[0] ^= 0xFF
	return bad, nil
}

func (f *FaultyDriver) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	unavailable := f.unavailable
	f.mu.Unlock()
	if unavailable {
		return fmt.Errorf("backend %s: %w: injected", f.Name(), ErrBackendUnavailable)
	}
	return f.Driver.Delete(ctx, key)
}

func (f *FaultyDriver) Profile(ctx context.Context) (Profile, error) {
	p, err := f.Driver.Profile(ctx)
	if err != nil {
		return p, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		p.Available = false
	}
	if f.full {
		p.FreeBytes = 0
	}
	return p, nil
}
