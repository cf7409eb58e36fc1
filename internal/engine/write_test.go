package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/blobstore"
	"github.com/hupe1980/esdm/internal/catalog"
	"github.com/hupe1980/esdm/internal/layout"
	"github.com/hupe1980/esdm/internal/scheduler"
	"github.com/hupe1980/esdm/model"
)

func TestWrite_SplitsAlongChunkGrid(t *testing.T) {
	en := newEnv(t, Config{}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)

	res := writeRows(t, en, 0, 25)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, res.Fragments)
	assert.Zero(t, res.Degraded)
	assert.NotEmpty(t, res.RequestID)

	info, err := en.cat.Variable("climate", "temp")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Chunks)
	assert.Equal(t, []int64{25, 4}, info.Shape)

	// Every fragment of the request carries its id and chunk number.
	resolved, err := en.cat.ResolveRegion("climate", "temp", info.Box())
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	for i, r := range resolved {
		require.Len(t, r.Fragments, 1)
		assert.Equal(t, fmt.Sprintf("climate/temp/%s-%d", res.RequestID, i), r.Fragments[0].Key)
		assert.Equal(t, r.Box.Volume()*4, r.Fragments[0].Size)
	}
}

func TestWrite_StateSequence(t *testing.T) {
	en := newEnv(t, Config{}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)

	writeRows(t, en, 0, 10)
	assert.Equal(t, []WriteState{
		StatePlanning,
		StateDispatching,
		StateAwaitingAck,
		StateCommitting,
		StateDone,
	}, en.observed())
}

func TestWrite_PlansChunkingOnFirstWrite(t *testing.T) {
	en := newEnv(t, Config{Planner: plannerBand(64, 256)}, fastAndSlow())
	ctx := context.Background()
	require.NoError(t, en.cat.RegisterDataset(ctx, "d"))
	require.NoError(t, en.cat.RegisterDimension(ctx, "d", "t", 0, true))
	require.NoError(t, en.cat.RegisterDimension(ctx, "d", "x", 8, false))
	require.NoError(t, en.cat.RegisterVariable(ctx, "d", catalog.VariableSpec{
		Name: "v", DType: model.Int32, Dims: []string{"t", "x"},
	}))

	info, err := en.cat.Variable("d", "v")
	require.NoError(t, err)
	require.Nil(t, info.ChunkShape)

	_, err = en.eng.Write(ctx, WriteRequest{
		Dataset: "d", Variable: "v",
		Box:  box([]int64{0, 0}, []int64{4, 8}),
		Data: make([]byte, 4*8*4),
	})
	require.NoError(t, err)

	info, err = en.cat.Variable("d", "v")
	require.NoError(t, err)
	require.NotNil(t, info.ChunkShape)
	// Append-mostly: whole rows, just enough of them to reach the minimum.
	assert.Equal(t, []int64{2, 8}, info.ChunkShape)
	assert.Equal(t, 2, info.Chunks)
}

func plannerBand(lo, hi int64) layout.Planner {
	return layout.Planner{MinChunkBytes: lo, MaxChunkBytes: hi}
}

func TestWrite_Validation(t *testing.T) {
	en := newEnv(t, Config{}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  WriteRequest
		want error
	}{
		{
			name: "unknown variable",
			req:  WriteRequest{Dataset: "climate", Variable: "nope", Box: box([]int64{0, 0}, []int64{1, 4}), Data: rows(0, 1)},
			want: catalog.ErrNotFound,
		},
		{
			name: "rank mismatch",
			req:  WriteRequest{Dataset: "climate", Variable: "temp", Box: box([]int64{0}, []int64{4}), Data: make([]byte, 16)},
			want: catalog.ErrInvalidArgument,
		},
		{
			name: "empty box",
			req:  WriteRequest{Dataset: "climate", Variable: "temp", Box: box([]int64{0, 0}, []int64{0, 4})},
			want: catalog.ErrInvalidArgument,
		},
		{
			name: "data length",
			req:  WriteRequest{Dataset: "climate", Variable: "temp", Box: box([]int64{0, 0}, []int64{2, 4}), Data: rows(0, 1)},
			want: catalog.ErrInvalidArgument,
		},
		{
			name: "fixed dimension exceeded",
			req:  WriteRequest{Dataset: "climate", Variable: "temp", Box: box([]int64{0, 2}, []int64{1, 4}), Data: rows(0, 1)},
			want: catalog.ErrOutOfBounds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := en.eng.Write(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, en.totalBlobs(t))
}

func TestWrite_OverlapFailsBeforeDispatch(t *testing.T) {
	en := newEnv(t, Config{}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)
	writeRows(t, en, 0, 10)
	puts := en.faulty["a"].Puts() + en.faulty["b"].Puts()

	_, err := en.eng.Write(context.Background(), WriteRequest{
		Dataset: "climate", Variable: "temp",
		Box:  box([]int64{5, 0}, []int64{10, 4}),
		Data: rows(5, 10),
	})
	var conflict *catalog.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, catalog.ErrConflict)
	assert.Equal(t, puts, en.faulty["a"].Puts()+en.faulty["b"].Puts())
	assert.Equal(t, 1, en.totalBlobs(t))
}

func TestWrite_Replication(t *testing.T) {
	en := newEnv(t, Config{ReplicationFactor: 2}, []driverSpec{
		{name: "a", throughput: backend.ThroughputFast},
		{name: "b"},
		{name: "c", throughput: backend.ThroughputCapacity},
	})
	newTimeSeries(t, en.cat, nil)

	res := writeRows(t, en, 0, 30)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 6, res.Fragments)

	resolved, err := en.cat.ResolveRegion("climate", "temp", box([]int64{0, 0}, []int64{30, 4}))
	require.NoError(t, err)
	for _, r := range resolved {
		require.Len(t, r.Fragments, 2)
		assert.NotEqual(t, r.Fragments[0].Backend, r.Fragments[1].Backend)
		assert.Equal(t, r.Fragments[0].Key, r.Fragments[1].Key)
	}
	assert.Equal(t, 3, en.blobs(t, "a"))
	assert.Equal(t, 3, en.blobs(t, "b"))
	assert.Equal(t, 0, en.blobs(t, "c"))
}

func TestWrite_RetriesOnNextBackend(t *testing.T) {
	en := newEnv(t, Config{MaxPutRetries: 3}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)
	en.faulty["a"].FailNextPuts(100)

	res := writeRows(t, en, 0, 10)
	assert.Equal(t, 1, res.Fragments)
	assert.Equal(t, 0, en.blobs(t, "a"))
	assert.Equal(t, 1, en.blobs(t, "b"))

	states := en.observed()
	assert.Contains(t, states, StatePartiallyFailed)
	assert.Contains(t, states, StateRetrying)
	assert.Equal(t, StateDone, states[len(states)-1])
}

func TestWrite_SkipsFullBackend(t *testing.T) {
	en := newEnv(t, Config{MaxPutRetries: 0}, []driverSpec{
		{name: "a", throughput: backend.ThroughputFast},
		{name: "b"},
	})
	newTimeSeries(t, en.cat, nil)
	// Full backends drop out of the candidate list before any put.
	en.faulty["a"].SetFull(true)

	writeRows(t, en, 0, 10)
	assert.Equal(t, int64(0), en.faulty["a"].Puts())
	assert.Equal(t, 1, en.blobs(t, "b"))
}

func TestWrite_DegradedReplication(t *testing.T) {
	en := newEnv(t, Config{ReplicationFactor: 2, MaxPutRetries: 1}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)
	en.faulty["b"].FailNextPuts(1000)

	res := writeRows(t, en, 0, 20)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, res.Fragments)
	assert.Equal(t, 2, res.Degraded)
	assert.Equal(t, 2, en.blobs(t, "a"))
	assert.Equal(t, 0, en.blobs(t, "b"))
}

func TestWrite_AllReplicasFail(t *testing.T) {
	en := newEnv(t, Config{MaxPutRetries: 2}, []driverSpec{{name: "a"}})
	newTimeSeries(t, en.cat, nil)
	en.faulty["a"].FailNextPuts(1000)

	_, err := en.eng.Write(context.Background(), WriteRequest{
		Dataset: "climate", Variable: "temp",
		Box:  box([]int64{0, 0}, []int64{10, 4}),
		Data: rows(0, 10),
	})
	var wf *WriteFailedError
	require.ErrorAs(t, err, &wf)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
	require.Len(t, wf.Chunks, 1)
	assert.True(t, wf.Chunks[0].Box.Equal(box([]int64{0, 0}, []int64{10, 4})))

	states := en.observed()
	assert.Equal(t, StateAborted, states[len(states)-1])

	info, err := en.cat.Variable("climate", "temp")
	require.NoError(t, err)
	assert.Zero(t, info.Chunks)
	assert.Equal(t, []int64{0, 4}, info.Shape)
}

func TestWrite_NoCapacityCleansUp(t *testing.T) {
	// Learn the stored size of one chunk.
	sizer, err := backend.NewBlobDriver(context.Background(), "sizer", blobstore.NewMemoryStore(), backend.BlobOptions{})
	require.NoError(t, err)
	_, err = sizer.Put(context.Background(), "k", rows(0, 10))
	require.NoError(t, err)
	p, err := sizer.Profile(context.Background())
	require.NoError(t, err)
	blobSize := p.UsedBytes

	en := newEnv(t, Config{MaxParallelIO: 1}, []driverSpec{{name: "a", capacity: 2*blobSize + blobSize/2}})
	newTimeSeries(t, en.cat, nil)

	_, err = en.eng.Write(context.Background(), WriteRequest{
		Dataset: "climate", Variable: "temp",
		Box:  box([]int64{0, 0}, []int64{30, 4}),
		Data: rows(0, 30),
	})
	require.ErrorIs(t, err, scheduler.ErrNoCapacity)

	assert.Equal(t, 0, en.blobs(t, "a"))
	prof, err := en.faulty["a"].Profile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, prof.UsedBytes)

	info, err := en.cat.Variable("climate", "temp")
	require.NoError(t, err)
	assert.Zero(t, info.Chunks)
}

func TestWrite_AllBackendsDown(t *testing.T) {
	en := newEnv(t, Config{}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)
	en.faulty["a"].SetUnavailable(true)
	en.faulty["b"].SetUnavailable(true)

	_, err := en.eng.Write(context.Background(), WriteRequest{
		Dataset: "climate", Variable: "temp",
		Box:  box([]int64{0, 0}, []int64{10, 4}),
		Data: rows(0, 10),
	})
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
}

func TestWrite_CancellationCleansUp(t *testing.T) {
	en := newEnv(t, Config{ReplicationFactor: 2}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)
	en.faulty["b"].SetPutDelay(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := en.eng.Write(ctx, WriteRequest{
		Dataset: "climate", Variable: "temp",
		Box:  box([]int64{0, 0}, []int64{20, 4}),
		Data: rows(0, 20),
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// Replicas that landed on "a" before the deadline are gone.
	assert.Equal(t, 0, en.totalBlobs(t))
	info, err := en.cat.Variable("climate", "temp")
	require.NoError(t, err)
	assert.Zero(t, info.Chunks)

	states := en.observed()
	assert.Equal(t, StateAborted, states[len(states)-1])
}

func TestWrite_ConcurrentDisjoint(t *testing.T) {
	en := newEnv(t, Config{}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from := int64(i * 10)
			_, errs[i] = en.eng.Write(context.Background(), WriteRequest{
				Dataset: "climate", Variable: "temp",
				Box:  box([]int64{from, 0}, []int64{10, 4}),
				Data: rows(from, 10),
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	res, err := en.eng.Read(context.Background(), ReadRequest{
		Dataset: "climate", Variable: "temp",
		Box: box([]int64{0, 0}, []int64{writers * 10, 4}),
	})
	require.NoError(t, err)
	assert.Equal(t, rows(0, writers*10), res.Data)
}

func TestWrite_ConcurrentOverlapping(t *testing.T) {
	en := newEnv(t, Config{}, fastAndSlow())
	newTimeSeries(t, en.cat, nil)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	start := make(chan struct{})
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = en.eng.Write(context.Background(), WriteRequest{
				Dataset: "climate", Variable: "temp",
				Box:  box([]int64{0, 0}, []int64{15, 4}),
				Data: rows(0, 15),
			})
		}()
	}
	close(start)
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.True(t, errors.Is(err, catalog.ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, won)

	// Losers removed whatever they stored.
	info, err := en.cat.Variable("climate", "temp")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Chunks)
	assert.Equal(t, 2, en.totalBlobs(t))
}

func TestWrite_Scalar(t *testing.T) {
	en := newEnv(t, Config{}, fastAndSlow())
	ctx := context.Background()
	require.NoError(t, en.cat.RegisterDataset(ctx, "consts"))
	require.NoError(t, en.cat.RegisterVariable(ctx, "consts", catalog.VariableSpec{Name: "pi", DType: model.Int32}))

	data := []byte{3, 0, 0, 0}
	res, err := en.eng.Write(ctx, WriteRequest{Dataset: "consts", Variable: "pi", Data: data})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)

	got, err := en.eng.Read(ctx, ReadRequest{Dataset: "consts", Variable: "pi"})
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)

	_, err = en.eng.Write(ctx, WriteRequest{Dataset: "consts", Variable: "pi", Data: data})
	assert.ErrorIs(t, err, catalog.ErrConflict)
}

func TestPickCandidate(t *testing.T) {
	cands := []string{"a", "b", "c"}
	next := 0
	skip := map[string]bool{"b": true}

	name, ok := pickCandidate(cands, &next, skip)
	require.True(t, ok)
	assert.Equal(t, "a", name)

	name, ok = pickCandidate(cands, &next, skip)
	require.True(t, ok)
	assert.Equal(t, "c", name)

	// Wraps around to candidates that failed transiently.
	name, ok = pickCandidate(cands, &next, skip)
	require.True(t, ok)
	assert.Equal(t, "a", name)

	skip["a"], skip["c"] = true, true
	_, ok = pickCandidate(cands, &next, skip)
	assert.False(t, ok)
	assert.True(t, allSkipped(cands, skip))
}
