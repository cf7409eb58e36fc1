package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/esdm/blobstore"
	"github.com/hupe1980/esdm/internal/fs"
	"github.com/hupe1980/esdm/internal/manifest"
	"github.com/hupe1980/esdm/model"
)

func openLog(t *testing.T, dir string, opts LogOptions) (*Catalog, *LogJournal) {
	t.Helper()
	ctx := context.Background()
	j, err := OpenLogJournal(ctx, dir, opts)
	require.NoError(t, err)
	c, err := Open(ctx, j)
	require.NoError(t, err)
	return c, j
}

func TestLogJournal_ReopenReplays(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := DefaultLogOptions()
	opts.CompactEvery = 0

	c, _ := openLog(t, dir, opts)
	newTimeSeries(t, c)
	require.NoError(t, c.AppendFragments(ctx, "ds", "temp", []ChunkPlacement{
		placement(box([]int64{0, 0}, []int64{10, 4})),
	}))
	require.NoError(t, c.AppendFragments(ctx, "ds", "temp", []ChunkPlacement{
		placement(box([]int64{10, 0}, []int64{5, 4})),
	}))
	require.NoError(t, c.SetAttribute(ctx, "ds", "temp", "units", model.String("K")))
	lsn := c.LSN()
	require.NoError(t, c.Close())

	c, j := openLog(t, dir, opts)
	defer c.Close()

	assert.Equal(t, 7, j.Recovery().Records)
	assert.Equal(t, lsn, c.LSN())

	v, err := c.Variable("ds", "temp")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Chunks)
	assert.Equal(t, []int64{15, 4}, v.Shape)
	assert.Equal(t, []int64{10, 4}, v.ChunkShape)
	assert.Equal(t, model.String("K"), v.Attributes["units"])

	// Committed boxes still conflict after replay.
	err = c.AppendFragments(ctx, "ds", "temp", []ChunkPlacement{placement(box([]int64{12, 0}, []int64{1, 4}))})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLogJournal_Compaction(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := DefaultLogOptions()
	opts.CompactEvery = 3

	c, _ := openLog(t, dir, opts)
	newTimeSeries(t, c)
	for row := range 5 {
		require.NoError(t, c.AppendFragments(ctx, "ds", "temp", []ChunkPlacement{
			placement(box([]int64{int64(row * 10), 0}, []int64{10, 4})),
		}))
	}
	lsn := c.LSN()
	require.NoError(t, c.Close())

	names, err := blobstore.NewLocalStore(dir).List(ctx, manifest.SnapshotPrefix)
	require.NoError(t, err)
	assert.NotEmpty(t, names)
	assert.LessOrEqual(t, len(names), 2, "superseded snapshots are pruned")

	c, j := openLog(t, dir, opts)
	defer c.Close()

	// 9 records, compacted after the 3rd, 6th and 9th.
	assert.Zero(t, j.Recovery().Records)
	assert.Equal(t, lsn, c.LSN())
	v, err := c.Variable("ds", "temp")
	require.NoError(t, err)
	assert.Equal(t, 5, v.Chunks)
	assert.Equal(t, int64(50), v.Shape[0])

	// Numbering continues after the snapshot.
	require.NoError(t, c.RegisterDataset(ctx, "other"))
	assert.Equal(t, lsn+1, c.LSN())
}

func TestLogJournal_ExplicitCompact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := DefaultLogOptions()
	opts.CompactEvery = 0

	c, _ := openLog(t, dir, opts)
	newTimeSeries(t, c)
	require.NoError(t, c.Compact(ctx))
	require.NoError(t, c.AppendFragments(ctx, "ds", "temp", []ChunkPlacement{
		placement(box([]int64{0, 0}, []int64{10, 4})),
	}))
	require.NoError(t, c.Close())

	c, j := openLog(t, dir, opts)
	defer c.Close()

	assert.Equal(t, 1, j.Recovery().Records, "only the record after the snapshot")
	v, err := c.Variable("ds", "temp")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Chunks)
}

func TestLogJournal_TornTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := DefaultLogOptions()
	opts.CompactEvery = 0

	c, _ := openLog(t, dir, opts)
	newTimeSeries(t, c)
	require.NoError(t, c.Close())

	// Simulate a crash in the middle of appending a record.
	f, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x07})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c, j := openLog(t, dir, opts)
	defer c.Close()

	assert.Equal(t, int64(5), j.Recovery().TruncatedBytes)
	_, err = c.Variable("ds", "temp")
	require.NoError(t, err)
	require.NoError(t, c.RegisterDataset(ctx, "after-crash"))
}

func TestLogJournal_FailedAppendLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := DefaultLogOptions()
	opts.CompactEvery = 0

	c, _ := openLog(t, dir, opts)
	newTimeSeries(t, c)
	require.NoError(t, c.Close())

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(LogFileName, fs.Fault{FailAfterBytes: 0})
	faulty := opts
	faulty.FileSystem = ffs

	c, _ = openLog(t, dir, faulty)
	before, err := c.export(nil)
	require.NoError(t, err)

	err = c.AppendFragments(ctx, "ds", "temp", []ChunkPlacement{placement(box([]int64{0, 0}, []int64{10, 4}))})
	require.ErrorIs(t, err, ErrCommitFailed)
	assert.ErrorIs(t, err, fs.ErrInjected)

	after, err := c.export(nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_ = c.Close()

	c, _ = openLog(t, dir, opts)
	defer c.Close()
	v, err := c.Variable("ds", "temp")
	require.NoError(t, err)
	assert.Zero(t, v.Chunks)
}

// conflictStore rejects CURRENT updates while reject is set.
type conflictStore struct {
	*blobstore.MemoryStore
	reject bool
}

func (s *conflictStore) Put(ctx context.Context, name string, data []byte) error {
	if s.reject && name == manifest.CurrentFileName {
		return blobstore.ErrConflict
	}
	return s.MemoryStore.Put(ctx, name, data)
}

func TestSnapshotJournal(t *testing.T) {
	ctx := context.Background()
	store := &conflictStore{MemoryStore: blobstore.NewMemoryStore()}

	c, err := Open(ctx, NewSnapshotJournal(store, SnapshotOptions{}))
	require.NoError(t, err)
	newTimeSeries(t, c)
	require.NoError(t, c.AppendFragments(ctx, "ds", "temp", []ChunkPlacement{
		placement(box([]int64{0, 0}, []int64{10, 4})),
	}))
	assert.Equal(t, uint64(5), c.LSN())

	t.Run("reload", func(t *testing.T) {
		other, err := Open(ctx, NewSnapshotJournal(store, SnapshotOptions{}))
		require.NoError(t, err)
		v, err := other.Variable("ds", "temp")
		require.NoError(t, err)
		assert.Equal(t, 1, v.Chunks)
		assert.Equal(t, uint64(5), other.LSN())
	})

	t.Run("lost pointer race", func(t *testing.T) {
		store.reject = true
		defer func() { store.reject = false }()

		err := c.AppendFragments(ctx, "ds", "temp", []ChunkPlacement{
			placement(box([]int64{10, 0}, []int64{10, 4})),
		})
		require.ErrorIs(t, err, ErrCommitFailed)
		assert.ErrorIs(t, err, blobstore.ErrConflict)

		v, err := c.Variable("ds", "temp")
		require.NoError(t, err)
		assert.Equal(t, 1, v.Chunks)
	})

	t.Run("validation errors do not write", func(t *testing.T) {
		before, err := store.List(ctx, manifest.SnapshotPrefix)
		require.NoError(t, err)
		err = c.AppendFragments(ctx, "ds", "temp", []ChunkPlacement{
			placement(box([]int64{5, 0}, []int64{1, 4})),
		})
		require.ErrorIs(t, err, ErrConflict)
		after, err := store.List(ctx, manifest.SnapshotPrefix)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("compact prunes", func(t *testing.T) {
		require.NoError(t, c.Compact(ctx))
		names, err := store.List(ctx, manifest.SnapshotPrefix)
		require.NoError(t, err)
		assert.Len(t, names, 1)
	})

	require.NoError(t, c.Close())
}
