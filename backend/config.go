package backend

import (
	"fmt"

	"github.com/hupe1980/esdm/internal/compress"
)

// Config describes one backend entry of the instance configuration.
type Config struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint,omitempty"`

	// CapacityBytes bounds the bytes stored; 0 means unbounded.
	CapacityBytes   int64           `json:"capacity-bytes,omitempty"`
	ThroughputClass ThroughputClass `json:"throughput-class,omitempty"`
	// Performance is a measured latency/throughput model. It refines the
	// throughput class when scheduling.
	Performance *PerfModel `json:"performance-model,omitempty"`

	// MaxThreads bounds concurrent requests against the backend; 0 means unlimited.
	MaxThreads         int64 `json:"max-threads,omitempty"`
	IOLimitBytesPerSec int64 `json:"io-limit-bytes-per-sec,omitempty"`

	// Compression is one of "", "none", "lz4", "zstd".
	Compression string `json:"compression,omitempty"`

	// Object store settings (kinds s3 and minio).
	Bucket    string `json:"bucket,omitempty"`
	Region    string `json:"region,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	AccessKey string `json:"access-key,omitempty"`
	SecretKey string `json:"secret-key,omitempty"`
	Secure    bool   `json:"secure,omitempty"`
}

// Validate checks the entry and returns the normalized kind.
func (c Config) Validate() (Kind, error) {
	if c.Name == "" {
		return "", fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	kind, err := ParseKind(c.Kind)
	if err != nil {
		return "", fmt.Errorf("backend %q: %w", c.Name, err)
	}
	if c.CapacityBytes < 0 {
		return "", fmt.Errorf("%w: backend %q: negative capacity", ErrInvalidConfig, c.Name)
	}
	if c.ThroughputClass != 0 && !c.ThroughputClass.Valid() {
		return "", fmt.Errorf("%w: backend %q: throughput class %d outside 1..5", ErrInvalidConfig, c.Name, c.ThroughputClass)
	}
	if m := c.Performance; m != nil && (m.Latency < 0 || m.Throughput < 0) {
		return "", fmt.Errorf("%w: backend %q: negative latency or throughput", ErrInvalidConfig, c.Name)
	}
	if c.MaxThreads < 0 || c.IOLimitBytesPerSec < 0 {
		return "", fmt.Errorf("%w: backend %q: negative limit", ErrInvalidConfig, c.Name)
	}
	if _, err := compress.ParseType(c.Compression); err != nil {
		return "", fmt.Errorf("%w: backend %q: %v", ErrInvalidConfig, c.Name, err)
	}
	switch kind {
	case KindPosix:
		if c.Endpoint == "" {
			return "", fmt.Errorf("%w: backend %q: posix needs an endpoint directory", ErrInvalidConfig, c.Name)
		}
	case KindS3, KindMinio:
		if c.Bucket == "" {
			return "", fmt.Errorf("%w: backend %q: %s needs a bucket", ErrInvalidConfig, c.Name, kind)
		}
		if kind == KindMinio && c.Endpoint == "" {
			return "", fmt.Errorf("%w: backend %q: minio needs an endpoint", ErrInvalidConfig, c.Name)
		}
	}
	return kind, nil
}

func (c Config) throughput() ThroughputClass {
	if c.ThroughputClass == 0 {
		return ThroughputStandard
	}
	return c.ThroughputClass
}

func (c Config) perf() PerfModel {
	if c.Performance == nil {
		return PerfModel{}
	}
	return *c.Performance
}
