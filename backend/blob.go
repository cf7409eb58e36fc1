package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/esdm/blobstore"
	"github.com/hupe1980/esdm/internal/compress"
	"github.com/hupe1980/esdm/internal/hash"
)

// checksumSize prefixes every stored fragment with the CRC32C of its
// logical bytes.
const checksumSize = 4

// BlobOptions configures a BlobDriver.
type BlobOptions struct {
	Kind          Kind
	CapacityBytes int64
	Throughput    ThroughputClass
	Perf          PerfModel
	Compression   compress.Type
	// DiskUsage, if set, caps free space by the underlying file system.
	DiskUsage func() (total, free uint64, err error)
	Logger    *slog.Logger
}

// BlobDriver implements Driver on a blobstore.BlobStore.
type BlobDriver struct {
	name  string
	store blobstore.BlobStore
	opts  BlobOptions

	mu    sync.Mutex
	usage map[string]int64
	used  int64

	closed atomic.Bool
}

var _ Driver = (*BlobDriver)(nil)

// NewBlobDriver creates a driver and scans the store to account for
// fragments left by earlier runs.
func NewBlobDriver(ctx context.Context, name string, store blobstore.BlobStore, opts BlobOptions) (*BlobDriver, error) {
	if opts.Throughput == 0 {
		opts.Throughput = ThroughputStandard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	d := &BlobDriver{
		name:  name,
		store: store,
		opts:  opts,
		usage: make(map[string]int64),
	}

	names, err := store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("backend %s: scan: %w: %v", name, ErrBackendUnavailable, err)
	}
	for _, n := range names {
		b, err := store.Open(ctx, n)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("backend %s: scan %s: %w: %v", name, n, ErrBackendUnavailable, err)
		}
		d.usage[n] = b.Size()
		d.used += b.Size()
		_ = b.Close()
	}
	if len(names) > 0 {
		opts.Logger.Debug("backend usage scanned", "backend", name, "fragments", len(names), "bytes", d.used)
	}
	return d, nil
}

// Name returns the backend name.
func (d *BlobDriver) Name() string { return d.name }

// Store returns the underlying blob store.
func (d *BlobDriver) Store() blobstore.BlobStore { return d.store }

// Put stores data and returns its CRC32C.
func (d *BlobDriver) Put(ctx context.Context, key string, data []byte) (uint32, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sum := hash.CRC32C(data)
	frame, err := compress.Encode(data, d.opts.Compression)
	if err != nil {
		return 0, err
	}
	blob := make([]byte, checksumSize+len(frame))
	binary.LittleEndian.PutUint32(blob, sum)
	copy(blob[checksumSize:], frame)
	size := int64(len(blob))

	old, existed, err := d.reserve(key, size)
	if err != nil {
		return 0, err
	}
	if err := d.store.Put(ctx, key, blob); err != nil {
		d.unreserve(key, size, old, existed)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("backend %s: put %s: %w: %v", d.name, key, ErrBackendUnavailable, err)
	}
	return sum, nil
}

func (d *BlobDriver) reserve(key string, size int64) (old int64, existed bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	old, existed = d.usage[key]
	delta := size - old
	if d.opts.CapacityBytes > 0 && d.used+delta > d.opts.CapacityBytes {
		return 0, false, fmt.Errorf("backend %s: %w: need %d bytes, %d free", d.name, ErrBackendFull, delta, d.opts.CapacityBytes-d.used)
	}
	if d.opts.DiskUsage != nil && delta > 0 {
		if _, free, err := d.opts.DiskUsage(); err == nil && uint64(delta) > free {
			return 0, false, fmt.Errorf("backend %s: %w: file system has %d bytes free", d.name, ErrBackendFull, free)
		}
	}
	d.usage[key] = size
	d.used += delta
	return old, existed, nil
}

func (d *BlobDriver) unreserve(key string, size, old int64, existed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.usage[key] != size {
		return
	}
	d.used -= size - old
	if existed {
		d.usage[key] = old
	} else {
		delete(d.usage, key)
	}
}

// Get returns the fragment stored under key after verifying its checksum.
func (d *BlobDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	blob, err := blobstore.ReadAll(ctx, d.store, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("backend %s: %s: %w", d.name, key, ErrNotFound)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("backend %s: get %s: %w: %v", d.name, key, ErrBackendUnavailable, err)
	}
	if len(blob) < checksumSize {
		return nil, fmt.Errorf("backend %s: %s: %w: truncated fragment", d.name, key, ErrChecksumMismatch)
	}

	want := binary.LittleEndian.Uint32(blob)
	data, err := compress.Decode(blob[checksumSize:])
	if err != nil {
		return nil, fmt.Errorf("backend %s: %s: %w: %v", d.name, key, ErrChecksumMismatch, err)
	}
	if got := hash.CRC32C(data); got != want {
		return nil, fmt.Errorf("backend %s: %s: %w: stored %08x, computed %08x", d.name, key, ErrChecksumMismatch, want, got)
	}
	return data, nil
}

// Delete removes key and releases its usage.
func (d *BlobDriver) Delete(ctx context.Context, key string) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := d.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("backend %s: delete %s: %w: %v", d.name, key, ErrBackendUnavailable, err)
	}

	d.mu.Lock()
	if size, ok := d.usage[key]; ok {
		d.used -= size
		delete(d.usage, key)
	}
	d.mu.Unlock()
	return nil
}

// Profile reports capacity and usage.
func (d *BlobDriver) Profile(_ context.Context) (Profile, error) {
	if d.closed.Load() {
		return Profile{}, ErrClosed
	}

	d.mu.Lock()
	used := d.used
	d.mu.Unlock()

	p := Profile{
		Name:          d.name,
		Kind:          d.opts.Kind,
		CapacityBytes: d.opts.CapacityBytes,
		UsedBytes:     used,
		FreeBytes:     Unlimited,
		Throughput:    d.opts.Throughput,
		Perf:          d.opts.Perf,
		Available:     true,
	}
	if p.CapacityBytes > 0 {
		p.FreeBytes = max(p.CapacityBytes-used, 0)
	}

	if d.opts.DiskUsage != nil {
		total, free, err := d.opts.DiskUsage()
		switch {
		case errors.Is(err, errors.ErrUnsupported):
		case err != nil:
			d.opts.Logger.Warn("backend disk usage failed", "backend", d.name, "error", err)
			p.Available = false
		case p.CapacityBytes == 0:
			p.CapacityBytes = int64(total)
			p.FreeBytes = int64(free)
		default:
			p.FreeBytes = min(p.FreeBytes, int64(free))
		}
	}
	return p, nil
}

// Close marks the driver closed.
func (d *BlobDriver) Close() error {
	d.closed.Store(true)
	return nil
}
