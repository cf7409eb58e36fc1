package backend

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Unlimited is the FreeBytes of a backend without a capacity bound.
const Unlimited int64 = math.MaxInt64

// ThroughputClass ranks backends from slowest (1) to fastest (5).
type ThroughputClass int

const (
	ThroughputArchive  ThroughputClass = 1
	ThroughputCapacity ThroughputClass = 2
	ThroughputStandard ThroughputClass = 3
	ThroughputFast     ThroughputClass = 4
	ThroughputMemory   ThroughputClass = 5

	// MaxThroughputClass is the upper bound used to normalize scores.
	MaxThroughputClass = ThroughputMemory
)

// Valid reports whether c is within 1..5.
func (c ThroughputClass) Valid() bool {
	return c >= ThroughputArchive && c <= MaxThroughputClass
}

// PerfModel estimates transfer time as Latency + bytes/Throughput.
type PerfModel struct {
	// Latency is the per-request latency in seconds.
	Latency float64 `json:"latency"`
	// Throughput is in MiB/s. Zero means 100 MiB/s.
	Throughput float64 `json:"throughput"`
}

const defaultThroughputMiBs = 100

// IsZero reports whether no model is configured.
func (m PerfModel) IsZero() bool {
	return m.Latency == 0 && m.Throughput == 0
}

// Estimate returns the modeled time to move size bytes.
func (m PerfModel) Estimate(size int64) time.Duration {
	thr := m.Throughput
	if thr <= 0 {
		thr = defaultThroughputMiBs
	}
	secs := m.Latency + float64(size)/(thr*(1<<20))
	return time.Duration(secs * float64(time.Second))
}

// classModels are the models assumed for backends configured with only a
// throughput class.
var classModels = [...]PerfModel{
	ThroughputArchive:  {Latency: 100e-3, Throughput: 20},
	ThroughputCapacity: {Latency: 10e-3, Throughput: 100},
	ThroughputStandard: {Latency: 1e-3, Throughput: 500},
	ThroughputFast:     {Latency: 100e-6, Throughput: 2000},
	ThroughputMemory:   {Latency: 1e-6, Throughput: 10000},
}

// ClassModel returns the model assumed for c.
func ClassModel(c ThroughputClass) PerfModel {
	if !c.Valid() {
		c = ThroughputStandard
	}
	return classModels[c]
}

// Kind selects a Driver implementation.
type Kind string

const (
	KindPosix  Kind = "posix"
	KindMemory Kind = "memory"
	KindS3     Kind = "s3"
	KindMinio  Kind = "minio"
)

// ParseKind normalizes a configured kind name. "local" is an alias for posix.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPosix, "local":
		return KindPosix, nil
	case KindMemory, KindS3, KindMinio:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, s)
	}
}

// Profile is a point-in-time capability snapshot of a backend.
type Profile struct {
	Name string
	Kind Kind
	// CapacityBytes is 0 for unbounded backends.
	CapacityBytes int64
	UsedBytes     int64
	// FreeBytes is Unlimited for unbounded backends.
	FreeBytes  int64
	Throughput ThroughputClass
	// Perf is the configured performance model; zero if none.
	Perf      PerfModel
	Available bool
}

// Model returns the configured performance model, or the model of the
// throughput class.
func (p Profile) Model() PerfModel {
	if p.Perf.IsZero() {
		return ClassModel(p.Throughput)
	}
	return p.Perf
}

// Fits reports whether size more bytes can be stored.
func (p Profile) Fits(size int64) bool {
	return p.Available && p.FreeBytes >= size
}

// FreeFraction returns free/capacity in [0, 1]. Unbounded backends report 1.
func (p Profile) FreeFraction() float64 {
	if p.CapacityBytes <= 0 || p.FreeBytes == Unlimited {
		return 1
	}
	f := float64(p.FreeBytes) / float64(p.CapacityBytes)
	return math.Max(0, math.Min(1, f))
}

// Driver stores opaque byte fragments on one storage tier.
type Driver interface {
	// Name returns the configured backend name.
	Name() string
	// Put stores data under key and returns the CRC32C of data. Repeating a
	// put with the same key and data is safe.
	Put(ctx context.Context, key string, data []byte) (checksum uint32, err error)
	// Get returns the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Profile returns a fresh capability snapshot.
	Profile(ctx context.Context) (Profile, error)
	// Close releases resources.
	Close() error
}
