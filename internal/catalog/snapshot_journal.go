package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/esdm/blobstore"
	"github.com/hupe1980/esdm/codec"
	"github.com/hupe1980/esdm/internal/manifest"
)

// SnapshotOptions configures a SnapshotJournal.
type SnapshotOptions struct {
	// KeepSnapshots is the number of superseded snapshots Compact keeps.
	KeepSnapshots int
	Codec         codec.Codec
	Logger        *slog.Logger
}

// SnapshotJournal writes a full snapshot for every commit. Commits are
// serialized. Backed by a store with conditional pointer updates, a commit
// that lost the race against another process fails with ErrCommitFailed
// wrapping blobstore.ErrConflict; the instance must then be reopened.
type SnapshotJournal struct {
	opts  SnapshotOptions
	store *manifest.Store

	mu   sync.Mutex
	last *manifest.Manifest
}

// NewSnapshotJournal returns a journal on store.
func NewSnapshotJournal(store blobstore.BlobStore, opts SnapshotOptions) *SnapshotJournal {
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &SnapshotJournal{
		opts:  opts,
		store: manifest.NewStore(store),
		last:  &manifest.Manifest{Codec: opts.Codec.Name()},
	}
}

func (j *SnapshotJournal) Load(ctx context.Context) (*State, []*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	m, err := j.store.Load(ctx)
	if errors.Is(err, manifest.ErrNotFound) {
		return &State{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	st, err := decodeState(m)
	if err != nil {
		return nil, nil, err
	}
	j.last = m
	return st, nil, nil
}

func (j *SnapshotJournal) Commit(ctx context.Context, rec *Record, c *Catalog) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec.LSN = j.last.MaxLSN + 1
	st, err := c.export(rec)
	if err != nil {
		return err
	}
	data, err := j.opts.Codec.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	next := *j.last
	next.MaxLSN = rec.LSN
	next.Codec = j.opts.Codec.Name()
	next.State = data
	if err := j.store.Save(ctx, &next); err != nil {
		if errors.Is(err, blobstore.ErrConflict) {
			j.opts.Logger.Error("catalog: snapshot pointer moved by another writer", "snapshot", next.ID)
		}
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	j.last = &next
	return c.applyCommitted(rec)
}

func (j *SnapshotJournal) Sync(context.Context) error { return nil }

// Compact prunes superseded snapshots.
func (j *SnapshotJournal) Compact(ctx context.Context, _ *Catalog) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	n, err := j.store.Prune(ctx, j.opts.KeepSnapshots)
	if err != nil {
		return err
	}
	if n > 0 {
		j.opts.Logger.Info("catalog: pruned snapshots", "deleted", n)
	}
	return nil
}

func (j *SnapshotJournal) Close() error { return nil }
