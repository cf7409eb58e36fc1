package esdm

import (
	"fmt"
	"os"
	"strings"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/codec"
	"github.com/hupe1980/esdm/internal/layout"
	"github.com/hupe1980/esdm/internal/scheduler"
	"github.com/hupe1980/esdm/internal/wal"
)

// Metadata kinds.
const (
	// MetadataPosix keeps the catalog in a write-ahead log plus snapshots
	// in a local directory.
	MetadataPosix = "posix"
	// MetadataMemory keeps the catalog in memory only.
	MetadataMemory = "memory"
	// MetadataS3 writes a catalog snapshot to S3 per commit and moves the
	// CURRENT pointer with a conditional DynamoDB update.
	MetadataS3 = "s3"
)

// MetadataConfig selects where the catalog is persisted.
type MetadataConfig struct {
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint,omitempty"`

	// Durability is "sync" (default) or "async" for kind posix.
	Durability string `json:"durability,omitempty"`
	// CompactEvery folds the log into a snapshot after this many records.
	CompactEvery int `json:"compact-every,omitempty"`
	// KeepSnapshots is the number of superseded snapshots retained.
	KeepSnapshots int `json:"keep-snapshots,omitempty"`

	// Kind s3.
	Bucket    string `json:"bucket,omitempty"`
	Region    string `json:"region,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Table     string `json:"table,omitempty"`
	AccessKey string `json:"access-key,omitempty"`
	SecretKey string `json:"secret-key,omitempty"`
}

func (m MetadataConfig) durability() (wal.Durability, error) {
	switch strings.ToLower(m.Durability) {
	case "", "sync":
		return wal.DurabilitySync, nil
	case "async":
		return wal.DurabilityAsync, nil
	default:
		return wal.DurabilitySync, fmt.Errorf("unknown durability %q", m.Durability)
	}
}

// Config is the instance configuration.
type Config struct {
	Backends []backend.Config `json:"backends"`
	Metadata MetadataConfig   `json:"metadata"`

	// Chunk size band of the planner.
	MinChunkBytes int64 `json:"min-chunk-bytes,omitempty"`
	MaxChunkBytes int64 `json:"max-chunk-bytes,omitempty"`

	ReplicationFactor int   `json:"replication-factor,omitempty"`
	MaxPutRetries     int   `json:"max-put-retries"`
	MaxGetRetries     int   `json:"max-get-retries"`
	RetryBackoffMs    int64 `json:"retry-backoff-ms,omitempty"`

	// MaxParallelIO bounds concurrent fragment transfers per request.
	MaxParallelIO int `json:"max-parallel-io,omitempty"`
	// MaxConcurrentRequests bounds in-flight reads and writes; 0 is unlimited.
	MaxConcurrentRequests int64 `json:"max-concurrent-requests,omitempty"`

	// SchedulingPolicy is "score" (default) or "weighted".
	SchedulingPolicy string `json:"scheduling-policy,omitempty"`

	// CacheBytes enables a fragment cache for reads.
	CacheBytes int64 `json:"cache-bytes,omitempty"`
}

type configFile struct {
	ESDM *Config `json:"esdm"`
}

// DefaultConfig returns a configuration with an in-memory catalog and no
// backends.
func DefaultConfig() Config {
	return Config{
		Metadata:          MetadataConfig{Kind: MetadataMemory},
		MinChunkBytes:     layout.DefaultMinChunkBytes,
		MaxChunkBytes:     layout.DefaultMaxChunkBytes,
		ReplicationFactor: 1,
		MaxPutRetries:     3,
		MaxGetRetries:     2,
		RetryBackoffMs:    10,
		MaxParallelIO:     16,
		SchedulingPolicy:  scheduler.PolicyScore.String(),
	}
}

// LoadConfig reads a JSON configuration file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return ParseConfig(b)
}

// ParseConfig parses a JSON configuration of the form {"esdm": {...}}.
// Fields absent from the document keep their DefaultConfig value.
func ParseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := codec.Default.Unmarshal(b, &configFile{ESDM: &cfg}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return c.validate(true)
}

func (c Config) validate(requireBackends bool) error {
	if requireBackends && len(c.Backends) == 0 {
		return fmt.Errorf("%w: no backends", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if _, err := b.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if _, ok := seen[b.Name]; ok {
			return fmt.Errorf("%w: duplicate backend %q", ErrInvalidConfig, b.Name)
		}
		seen[b.Name] = struct{}{}
	}

	if err := c.planner().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.ReplicationFactor < 1 {
		return fmt.Errorf("%w: replication-factor %d < 1", ErrInvalidConfig, c.ReplicationFactor)
	}
	if c.MaxPutRetries < 0 || c.MaxGetRetries < 0 || c.RetryBackoffMs < 0 {
		return fmt.Errorf("%w: negative retry setting", ErrInvalidConfig)
	}
	if c.MaxParallelIO < 0 || c.MaxConcurrentRequests < 0 || c.CacheBytes < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	if _, err := scheduler.ParsePolicy(c.SchedulingPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.Metadata.validate()
}

func (m MetadataConfig) validate() error {
	if _, err := m.durability(); err != nil {
		return fmt.Errorf("%w: metadata: %v", ErrInvalidConfig, err)
	}
	if m.CompactEvery < 0 || m.KeepSnapshots < 0 {
		return fmt.Errorf("%w: metadata: negative setting", ErrInvalidConfig)
	}
	switch m.Kind {
	case MetadataPosix, "local":
		if m.Endpoint == "" {
			return fmt.Errorf("%w: metadata: posix needs an endpoint directory", ErrInvalidConfig)
		}
	case MetadataMemory:
	case MetadataS3:
		if m.Bucket == "" || m.Table == "" {
			return fmt.Errorf("%w: metadata: s3 needs a bucket and a table", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: metadata: unknown kind %q", ErrInvalidConfig, m.Kind)
	}
	return nil
}

func (c Config) planner() layout.Planner {
	return layout.Planner{MinChunkBytes: c.MinChunkBytes, MaxChunkBytes: c.MaxChunkBytes}
}
