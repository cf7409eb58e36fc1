package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/esdm/blobstore"
	"github.com/hupe1980/esdm/codec"
	"github.com/hupe1980/esdm/internal/fs"
	"github.com/hupe1980/esdm/internal/manifest"
	"github.com/hupe1980/esdm/internal/wal"
)

// LogFileName is the name of the catalog log inside the journal directory.
const LogFileName = "catalog.wal"

// LogOptions configures a LogJournal.
type LogOptions struct {
	// FileSystem holds the log. Snapshots always go to the local disk.
	FileSystem fs.FileSystem
	Durability wal.Durability
	// CompactEvery folds the log into a snapshot after this many records.
	// Zero disables automatic compaction.
	CompactEvery int
	// KeepSnapshots is the number of superseded snapshots kept on disk.
	KeepSnapshots int
	Codec         codec.Codec
	Logger        *slog.Logger
}

// DefaultLogOptions returns synchronous durability with compaction every
// 1024 records.
func DefaultLogOptions() LogOptions {
	return LogOptions{
		FileSystem:    fs.Default,
		Durability:    wal.DurabilitySync,
		CompactEvery:  1024,
		KeepSnapshots: 1,
		Codec:         codec.Default,
	}
}

// LogJournal appends every record to a write-ahead log and periodically
// rewrites the catalog as a snapshot.
type LogJournal struct {
	opts      LogOptions
	snapshots *manifest.Store
	log       *wal.WAL

	// Commits hold gate shared between log append and apply; compaction
	// holds it exclusively so the snapshot matches the log exactly.
	gate       sync.RWMutex
	snapshot   *manifest.Manifest
	pending    atomic.Int64
	compacting atomic.Bool
}

// OpenLogJournal opens or creates the journal in dir.
func OpenLogJournal(ctx context.Context, dir string, opts LogOptions) (*LogJournal, error) {
	if opts.FileSystem == nil {
		opts.FileSystem = fs.Default
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if err := opts.FileSystem.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	j := &LogJournal{
		opts:      opts,
		snapshots: manifest.NewStore(blobstore.NewLocalStore(dir)),
	}

	m, err := j.snapshots.Load(ctx)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		m = &manifest.Manifest{Codec: opts.Codec.Name()}
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	j.snapshot = m

	j.log, err = wal.Open(opts.FileSystem, filepath.Join(dir, LogFileName), wal.Options{
		Durability: opts.Durability,
		NextLSN:    m.MaxLSN + 1,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog log: %w", err)
	}
	return j, nil
}

// Recovery reports what opening the log found.
func (j *LogJournal) Recovery() wal.RecoveryInfo {
	return j.log.Recovery()
}

func (j *LogJournal) Load(ctx context.Context) (*State, []*Record, error) {
	st, err := decodeState(j.snapshot)
	if err != nil {
		return nil, nil, err
	}

	r, err := j.log.Reader()
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var recs []*Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		wr, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read catalog log: %w", err)
		}
		if wr.LSN <= j.snapshot.MaxLSN {
			// Folded into the snapshot before the log was reset.
			continue
		}
		rec, err := decodeRecord(j.opts.Codec, wr)
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, rec)
	}
	j.pending.Store(int64(len(recs)))

	if info := j.log.Recovery(); info.TruncatedBytes > 0 {
		j.opts.Logger.Warn("catalog: dropped torn log tail", "bytes", info.TruncatedBytes, "last_lsn", info.LastLSN)
	}
	return st, recs, nil
}

func decodeState(m *manifest.Manifest) (*State, error) {
	st := &State{}
	if len(m.State) == 0 {
		return st, nil
	}
	c, ok := codec.ByName(m.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %d uses unknown codec %q", ErrCorrupt, m.ID, m.Codec)
	}
	if err := c.Unmarshal(m.State, st); err != nil {
		return nil, fmt.Errorf("%w: snapshot %d: %v", ErrCorrupt, m.ID, err)
	}
	return st, nil
}

func (j *LogJournal) Commit(ctx context.Context, rec *Record, c *Catalog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wr, err := encodeRecord(j.opts.Codec, rec)
	if err != nil {
		return err
	}

	j.gate.RLock()
	lsn, err := j.log.Append(wr)
	if err != nil {
		j.gate.RUnlock()
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	rec.LSN = lsn
	err = c.applyCommitted(rec)
	j.gate.RUnlock()
	if err != nil {
		return err
	}

	if every := int64(j.opts.CompactEvery); every > 0 && j.pending.Add(1) >= every {
		if err := j.Compact(context.WithoutCancel(ctx), c); err != nil {
			j.opts.Logger.Warn("catalog: automatic compaction failed", "error", err)
		}
	}
	return nil
}

func (j *LogJournal) Sync(context.Context) error {
	return j.log.Sync()
}

// Compact writes a snapshot of the catalog and resets the log.
func (j *LogJournal) Compact(ctx context.Context, c *Catalog) error {
	if !j.compacting.CompareAndSwap(false, true) {
		return nil
	}
	defer j.compacting.Store(false)

	j.gate.Lock()
	defer j.gate.Unlock()

	maxLSN := j.log.NextLSN() - 1
	if maxLSN == j.snapshot.MaxLSN && j.snapshot.ID > 0 {
		return nil
	}

	st, err := c.export(nil)
	if err != nil {
		return err
	}
	data, err := j.opts.Codec.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	next := *j.snapshot
	next.MaxLSN = maxLSN
	next.Codec = j.opts.Codec.Name()
	next.State = data
	if err := j.snapshots.Save(ctx, &next); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	j.snapshot = &next

	if err := j.log.Reset(maxLSN + 1); err != nil {
		// The snapshot is durable; records up to maxLSN are skipped on load.
		return fmt.Errorf("reset catalog log: %w", err)
	}
	j.pending.Store(0)

	if _, err := j.snapshots.Prune(ctx, j.opts.KeepSnapshots); err != nil {
		j.opts.Logger.Warn("catalog: pruning snapshots failed", "error", err)
	}
	j.opts.Logger.Info("catalog: compacted", "snapshot", next.ID, "lsn", maxLSN, "bytes", len(data))
	return nil
}

func (j *LogJournal) Close() error {
	return j.log.Close()
}
