package esdm

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/blobstore"
	"github.com/hupe1980/esdm/model"
	"github.com/hupe1980/esdm/testutil"
)

// memDriver returns a FaultyDriver over a BlobDriver over a MemoryStore.
func memDriver(t *testing.T, name string, tc backend.ThroughputClass) (*backend.FaultyDriver, *blobstore.MemoryStore) {
	t.Helper()
	store := blobstore.NewMemoryStore()
	bd, err := backend.NewBlobDriver(context.Background(), name, store, backend.BlobOptions{
		Kind:       backend.KindMemory,
		Throughput: tc,
	})
	require.NoError(t, err)
	return backend.NewFaultyDriver(bd), store
}

func countBlobs(t *testing.T, store *blobstore.MemoryStore) int {
	t.Helper()
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	return len(names)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoffMs = 1
	return cfg
}

func openMemory(t *testing.T, opts ...Option) *Instance {
	t.Helper()
	cfg := testConfig()
	cfg.Backends = []backend.Config{{Name: "mem", Kind: "memory"}}
	inst, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

// rows returns float32 rows [from, from+n) of width 4 where element
// (t, x) is 100t + x.
func rows(from, n int64) []byte {
	vals := make([]float32, 0, n*4)
	for t := from; t < from+n; t++ {
		for x := int64(0); x < 4; x++ {
			vals = append(vals, float32(100*t+x))
		}
	}
	return testutil.Float32Bytes(vals)
}

// createTimeSeries declares time (unlimited) x x (4) and a float32
// variable "temp" chunked [10, 4].
func createTimeSeries(t *testing.T, inst *Instance, id string, opts ...VariableOption) (*Dataset, *Variable) {
	t.Helper()
	ctx := context.Background()
	ds, err := inst.CreateDataset(ctx, id)
	require.NoError(t, err)
	_, err = ds.CreateDimension(ctx, "time", Unlimited)
	require.NoError(t, err)
	_, err = ds.CreateDimension(ctx, "x", 4)
	require.NoError(t, err)
	opts = append([]VariableOption{WithChunkShape(10, 4)}, opts...)
	v, err := ds.CreateVariable(ctx, "temp", model.Float32, []string{"time", "x"}, opts...)
	require.NoError(t, err)
	return ds, v
}

func TestInstance_WriteRead(t *testing.T) {
	ctx := context.Background()
	inst := openMemory(t)
	ds, v := createTimeSeries(t, inst, "esdm://climate/run1")

	assert.Equal(t, "climate/run1", ds.ID())
	assert.Equal(t, "esdm://climate/run1", ds.URI())

	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{25, 4}, rows(0, 25)))

	shape, err := v.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int64{25, 4}, shape)

	dim, err := ds.Dimension("time")
	require.NoError(t, err)
	assert.True(t, dim.Unlimited)
	assert.Equal(t, int64(25), dim.Extent)

	got, err := v.Read(ctx, []int64{5, 0}, []int64{10, 4})
	require.NoError(t, err)
	assert.Equal(t, rows(5, 10), got)

	// A sub-box narrower than a row.
	got, err = v.Read(ctx, []int64{12, 1}, []int64{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float32{1201, 1202, 1301, 1302}, testutil.BytesFloat32(got))

	info, err := v.Info()
	require.NoError(t, err)
	assert.Equal(t, 3, info.Chunks)
	assert.Equal(t, int64(25*4*4), info.Bytes)

	require.NoError(t, ds.Close(ctx))
}

func TestInstance_PlannedChunking(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Backends = []backend.Config{{Name: "mem", Kind: "memory"}}
	cfg.MinChunkBytes = 64
	cfg.MaxChunkBytes = 256
	inst, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer inst.Close()

	ds, err := inst.CreateDataset(ctx, "planned")
	require.NoError(t, err)
	_, err = ds.CreateDimension(ctx, "t", Unlimited)
	require.NoError(t, err)
	_, err = ds.CreateDimension(ctx, "x", 8)
	require.NoError(t, err)
	v, err := ds.CreateVariable(ctx, "v", model.Int32, []string{"t", "x"}, WithChunkHint(HintAppend))
	require.NoError(t, err)

	cs, err := v.ChunkShape()
	require.NoError(t, err)
	assert.Nil(t, cs)

	vals := make([]int32, 4*8)
	for i := range vals {
		vals[i] = int32(i)
	}
	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{4, 8}, testutil.Int32Bytes(vals)))

	cs, err = v.ChunkShape()
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 8}, cs)

	got, err := v.Read(ctx, []int64{0, 0}, []int64{4, 8})
	require.NoError(t, err)
	assert.Equal(t, vals, testutil.BytesInt32(got))
}

func TestInstance_Conflict(t *testing.T) {
	ctx := context.Background()
	inst := openMemory(t)
	_, v := createTimeSeries(t, inst, "climate")

	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10)))

	err := v.Write(ctx, []int64{5, 0}, []int64{10, 4}, rows(5, 10))
	require.ErrorIs(t, err, ErrConflict)
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))

	// The committed data is untouched.
	got, err := v.Read(ctx, []int64{0, 0}, []int64{10, 4})
	require.NoError(t, err)
	assert.Equal(t, rows(0, 10), got)
}

func TestInstance_IncompleteData(t *testing.T) {
	ctx := context.Background()
	inst := openMemory(t)
	_, v := createTimeSeries(t, inst, "climate")

	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10)))
	require.NoError(t, v.Write(ctx, []int64{20, 0}, []int64{10, 4}, rows(20, 10)))

	_, err := v.Read(ctx, []int64{0, 0}, []int64{30, 4})
	require.ErrorIs(t, err, ErrIncompleteData)
	var ie *IncompleteDataError
	require.True(t, errors.As(err, &ie))
	require.Len(t, ie.Missing, 1)
	assert.Equal(t, []int64{10, 0}, ie.Missing[0].Offset)
	assert.Equal(t, []int64{10, 4}, ie.Missing[0].Shape)
}

func TestInstance_FillValue(t *testing.T) {
	ctx := context.Background()
	inst := openMemory(t)
	_, v := createTimeSeries(t, inst, "climate", WithFillValue(model.Float(-1)))

	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10)))

	r, err := v.ReadRegion(ctx, []int64{8, 0}, []int64{4, 4})
	require.NoError(t, err)
	require.Len(t, r.Filled, 1)
	assert.Equal(t, []int64{10, 0}, r.Filled[0].Offset)

	got := testutil.BytesFloat32(r.Data)
	assert.Equal(t, []float32{800, 801, 802, 803, 900, 901, 902, 903}, got[:8])
	for _, f := range got[8:] {
		assert.Equal(t, float32(-1), f)
	}

	ds, err := inst.OpenDataset(ctx, "climate")
	require.NoError(t, err)
	_, err = ds.CreateVariable(ctx, "bad", model.Int8, []string{"x"}, WithFillValue(model.Float(math.Pi)))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInstance_Validation(t *testing.T) {
	ctx := context.Background()
	inst := openMemory(t)
	ds, v := createTimeSeries(t, inst, "climate")

	_, err := inst.CreateDataset(ctx, "climate")
	assert.ErrorIs(t, err, ErrExists)
	_, err = inst.OpenDataset(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = inst.CreateDataset(ctx, "http://x")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ds.Variable("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ds.Dimension("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ds.CreateVariable(ctx, "v", model.Float32, []string{"missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, v.Write(ctx, []int64{0}, []int64{1, 4}, rows(0, 1)), ErrInvalidArgument)
	assert.ErrorIs(t, v.Write(ctx, []int64{0, 0}, []int64{1, 4}, rows(0, 2)), ErrInvalidArgument)
	assert.ErrorIs(t, v.Write(ctx, []int64{0, 2}, []int64{1, 4}, rows(0, 1)), ErrOutOfBounds)
	_, err = v.Read(ctx, []int64{0, 0}, []int64{1, 5})
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestInstance_Attributes(t *testing.T) {
	ctx := context.Background()
	inst := openMemory(t)
	ds, err := inst.CreateDataset(ctx, "climate")
	require.NoError(t, err)
	_, err = ds.CreateDimension(ctx, "x", 4)
	require.NoError(t, err)
	v, err := ds.CreateVariable(ctx, "temp", model.Float64, []string{"x"},
		WithAttributes(model.Attributes{"units": model.String("K")}))
	require.NoError(t, err)

	require.NoError(t, ds.SetAttribute(ctx, "title", model.String("test run")))
	require.NoError(t, v.SetAttribute(ctx, "valid_range", model.Floats(180, 330)))

	title, err := ds.Attribute("title")
	require.NoError(t, err)
	assert.Equal(t, "test run", title.S)

	units, err := v.Attribute("units")
	require.NoError(t, err)
	assert.Equal(t, "K", units.S)
	vr, err := v.Attribute("valid_range")
	require.NoError(t, err)
	assert.Equal(t, []float64{180, 330}, vr.Floats)

	_, err = v.Attribute("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := ds.Variables()
	require.NoError(t, err)
	assert.Equal(t, []string{"temp"}, names)
}

func TestInstance_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Backends = []backend.Config{{Name: "disk", Kind: "posix", Endpoint: filepath.Join(dir, "data")}}
	cfg.Metadata = MetadataConfig{Kind: MetadataPosix, Endpoint: filepath.Join(dir, "meta")}

	inst, err := Open(ctx, cfg)
	require.NoError(t, err)
	ds, v := createTimeSeries(t, inst, "climate")
	require.NoError(t, ds.SetAttribute(ctx, "source", model.String("model-x")))
	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{20, 4}, rows(0, 20)))
	require.NoError(t, ds.Close(ctx))
	require.NoError(t, inst.Close())

	inst, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer inst.Close()

	assert.Equal(t, []string{"climate"}, inst.Datasets())
	ds, err = inst.OpenDataset(ctx, "esdm://climate")
	require.NoError(t, err)
	v, err = ds.Variable("temp")
	require.NoError(t, err)
	assert.Equal(t, model.Float32, v.DType())

	got, err := v.Read(ctx, []int64{0, 0}, []int64{20, 4})
	require.NoError(t, err)
	assert.Equal(t, rows(0, 20), got)

	src, err := ds.Attribute("source")
	require.NoError(t, err)
	assert.Equal(t, "model-x", src.S)

	// Appends continue past the recovered extent.
	require.NoError(t, v.Write(ctx, []int64{20, 0}, []int64{10, 4}, rows(20, 10)))
	shape, err := v.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 4}, shape)

	require.NoError(t, inst.Compact(ctx))
}

func TestInstance_MetadataStore(t *testing.T) {
	ctx := context.Background()
	meta := blobstore.NewMemoryStore()
	fd, _ := memDriver(t, "mem", backend.ThroughputStandard)

	inst, err := Open(ctx, testConfig(), WithDriver(fd), WithMetadataStore(meta))
	require.NoError(t, err)
	_, v := createTimeSeries(t, inst, "climate")
	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10)))
	lsn := inst.Stats(ctx).CatalogLSN
	require.NoError(t, inst.Close())

	// The driver was closed with the first instance; reopen the catalog
	// against a fresh backend and check the metadata survived.
	fd2, _ := memDriver(t, "mem", backend.ThroughputStandard)
	inst, err = Open(ctx, testConfig(), WithDriver(fd2), WithMetadataStore(meta))
	require.NoError(t, err)
	defer inst.Close()

	assert.Equal(t, lsn, inst.Stats(ctx).CatalogLSN)
	ds, err := inst.OpenDataset(ctx, "climate")
	require.NoError(t, err)
	v, err = ds.Variable("temp")
	require.NoError(t, err)
	info, err := v.Info()
	require.NoError(t, err)
	assert.Equal(t, 1, info.Chunks)
	assert.Equal(t, []int64{10, 4}, info.Shape)
}

func TestInstance_ReplicaFallback(t *testing.T) {
	ctx := context.Background()
	fast, _ := memDriver(t, "fast", backend.ThroughputFast)
	slow, _ := memDriver(t, "slow", backend.ThroughputCapacity)

	cfg := testConfig()
	cfg.ReplicationFactor = 2
	inst, err := Open(ctx, cfg, WithDriver(fast), WithDriver(slow))
	require.NoError(t, err)
	defer inst.Close()

	_, v := createTimeSeries(t, inst, "climate")
	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10)))
	assert.Equal(t, int64(1), fast.Puts())
	assert.Equal(t, int64(1), slow.Puts())

	fast.SetUnavailable(true)
	got, err := v.Read(ctx, []int64{0, 0}, []int64{10, 4})
	require.NoError(t, err)
	assert.Equal(t, rows(0, 10), got)
	assert.Equal(t, int64(1), slow.Gets())
}

func TestInstance_WriteFailsWhenBackendsDown(t *testing.T) {
	ctx := context.Background()
	fd, store := memDriver(t, "mem", backend.ThroughputStandard)
	inst, err := Open(ctx, testConfig(), WithDriver(fd))
	require.NoError(t, err)
	defer inst.Close()

	_, v := createTimeSeries(t, inst, "climate")
	fd.SetUnavailable(true)

	err = v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10))
	require.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, 0, countBlobs(t, store))

	info, err := v.Info()
	require.NoError(t, err)
	assert.Zero(t, info.Chunks)

	// Recovery of the backend makes the same write succeed.
	fd.SetUnavailable(false)
	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10)))
}

func TestInstance_DeleteDataset(t *testing.T) {
	ctx := context.Background()
	fd, store := memDriver(t, "mem", backend.ThroughputStandard)
	inst, err := Open(ctx, testConfig(), WithDriver(fd))
	require.NoError(t, err)
	defer inst.Close()

	_, v := createTimeSeries(t, inst, "a")
	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{20, 4}, rows(0, 20)))
	_, err = inst.CreateDataset(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, inst.Datasets())
	assert.Equal(t, 2, countBlobs(t, store))

	require.NoError(t, inst.DeleteDataset(ctx, "esdm://a"))
	assert.Equal(t, []string{"b"}, inst.Datasets())
	assert.Equal(t, 0, countBlobs(t, store))

	_, err = inst.OpenDataset(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, inst.DeleteDataset(ctx, "a"), ErrNotFound)
}

func TestInstance_Stats(t *testing.T) {
	ctx := context.Background()
	collector := &BasicMetricsCollector{}
	cfg := testConfig()
	cfg.Backends = []backend.Config{{Name: "mem", Kind: "memory"}}
	cfg.CacheBytes = 1 << 20
	inst, err := Open(ctx, cfg, WithMetricsCollector(collector))
	require.NoError(t, err)
	defer inst.Close()

	_, v := createTimeSeries(t, inst, "climate")
	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{20, 4}, rows(0, 20)))
	for range 2 {
		_, err = v.Read(ctx, []int64{0, 0}, []int64{20, 4})
		require.NoError(t, err)
	}

	st := inst.Stats(ctx)
	assert.Equal(t, int64(1), st.WriteCount)
	assert.Equal(t, int64(2), st.ReadCount)
	assert.Equal(t, int64(2), st.FragmentPuts)
	assert.Equal(t, int64(20*4*4), st.WriteBytes)
	assert.Equal(t, 1, st.Datasets)
	require.Len(t, st.Backends, 1)
	assert.Equal(t, "mem", st.Backends[0].Name)
	assert.Equal(t, int64(2), st.CacheHits)
	assert.Positive(t, st.CacheBytes)

	// The user collector sees the same events.
	assert.Equal(t, st.WriteCount, collector.GetStats().WriteCount)
}

func TestInstance_Close(t *testing.T) {
	ctx := context.Background()
	fd, _ := memDriver(t, "mem", backend.ThroughputStandard)
	inst, err := Open(ctx, testConfig(), WithDriver(fd))
	require.NoError(t, err)
	ds, v := createTimeSeries(t, inst, "climate")

	require.NoError(t, inst.Close())
	assert.ErrorIs(t, inst.Close(), ErrClosed)

	_, err = inst.CreateDataset(ctx, "other")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10)), ErrClosed)
	_, err = v.Read(ctx, []int64{0, 0}, []int64{10, 4})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ds.Close(ctx), ErrClosed)

	// The driver is owned by the instance.
	_, err = fd.Put(ctx, "k", []byte("x"))
	assert.Error(t, err)
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, testConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := testConfig()
	cfg.Backends = []backend.Config{{Name: "mem", Kind: "memory"}}
	cfg.ReplicationFactor = 0
	_, err = Open(ctx, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInstance_AppendAllocatesNewChunk(t *testing.T) {
	ctx := context.Background()
	inst := openMemory(t)
	_, v := createTimeSeries(t, inst, "climate")

	require.NoError(t, v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10)))
	require.NoError(t, v.Write(ctx, []int64{10, 0}, []int64{5, 4}, rows(10, 5)))

	info, err := v.Info()
	require.NoError(t, err)
	assert.Equal(t, 2, info.Chunks)
	assert.Equal(t, []int64{15, 4}, info.Shape)

	got, err := v.Read(ctx, []int64{5, 0}, []int64{8, 4})
	require.NoError(t, err)
	assert.Equal(t, rows(5, 8), got)
}

func TestInstance_NoCapacity(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Backends = []backend.Config{
		{Name: "a", Kind: "memory", CapacityBytes: 100},
		{Name: "b", Kind: "memory", CapacityBytes: 100},
	}
	inst, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer inst.Close()

	_, v := createTimeSeries(t, inst, "climate")
	err = v.Write(ctx, []int64{0, 0}, []int64{10, 4}, rows(0, 10))
	require.ErrorIs(t, err, ErrNoCapacity)

	for _, p := range inst.Stats(ctx).Backends {
		assert.Zero(t, p.UsedBytes, p.Name)
	}
}
