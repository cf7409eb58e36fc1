package scheduler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/model"
)

func profile(name string, capacity, used int64, class backend.ThroughputClass) backend.Profile {
	free := backend.Unlimited
	if capacity > 0 {
		free = capacity - used
	}
	return backend.Profile{
		Name:          name,
		CapacityBytes: capacity,
		UsedBytes:     used,
		FreeBytes:     free,
		Throughput:    class,
		Available:     true,
	}
}

var chunkBox = model.Box{Offset: []int64{0, 0}, Shape: []int64{10, 10}}

func TestScore(t *testing.T) {
	s := New()

	assert.InDelta(t, 0.5*1+0.5*1, s.Score(profile("ram", 0, 0, backend.ThroughputMemory)), 1e-9)
	assert.InDelta(t, 0.5*0.25+0.5*0.6, s.Score(profile("disk", 100, 75, backend.ThroughputStandard)), 1e-9)
}

func TestAssign_PrefersHighestScore(t *testing.T) {
	s := New()
	profiles := []backend.Profile{
		profile("archive", 0, 0, backend.ThroughputArchive),
		profile("ssd", 1000, 900, backend.ThroughputFast),
		profile("nvme", 1000, 100, backend.ThroughputFast),
	}

	got, err := s.Assign(chunkBox, 50, profiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"nvme", "archive", "ssd"}, got)
}

func TestAssign_ExcludesFullAndUnavailable(t *testing.T) {
	s := New()
	down := profile("down", 0, 0, backend.ThroughputMemory)
	down.Available = false
	profiles := []backend.Profile{
		profile("small", 100, 60, backend.ThroughputFast),
		down,
		profile("big", 1000, 0, backend.ThroughputStandard),
	}

	got, err := s.Assign(chunkBox, 50, profiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, got)
}

func TestAssign_NoCapacity(t *testing.T) {
	s := New()
	profiles := []backend.Profile{
		profile("a", 100, 0, backend.ThroughputFast),
		profile("b", 40, 0, backend.ThroughputFast),
	}

	_, err := s.Assign(chunkBox, 101, profiles)
	assert.ErrorIs(t, err, ErrNoCapacity)

	_, err = s.Assign(chunkBox, 1, nil)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestAssign_AllUnavailable(t *testing.T) {
	p := profile("a", 0, 0, backend.ThroughputFast)
	p.Available = false

	_, err := New().Assign(chunkBox, 1, []backend.Profile{p})
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
}

func TestAssign_TieBreakByName(t *testing.T) {
	profiles := []backend.Profile{
		profile("b", 0, 0, backend.ThroughputFast),
		profile("a", 0, 0, backend.ThroughputFast),
	}
	got, err := New().Assign(chunkBox, 1, profiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestAssign_WeightedSpreadsDeterministically(t *testing.T) {
	s := New()
	s.Policy = PolicyWeighted
	profiles := []backend.Profile{
		profile("a", 0, 0, backend.ThroughputFast),
		profile("b", 0, 0, backend.ThroughputFast),
		profile("c", 0, 0, backend.ThroughputFast),
	}

	first := map[string]int{}
	for i := range 300 {
		b := model.Box{Offset: []int64{int64(i) * 10, 0}, Shape: []int64{10, 10}}
		got, err := s.Assign(b, 1, profiles)
		require.NoError(t, err)
		require.Len(t, got, 3)

		again, err := s.Assign(b, 1, profiles)
		require.NoError(t, err)
		assert.Equal(t, got, again)

		first[got[0]]++
	}

	for _, name := range []string{"a", "b", "c"} {
		assert.Greater(t, first[name], 50, fmt.Sprintf("backend %s rarely chosen: %v", name, first))
	}
}

func TestOrder(t *testing.T) {
	down := profile("down", 0, 0, backend.ThroughputMemory)
	down.Available = false
	profiles := []backend.Profile{
		profile("slow", 0, 0, backend.ThroughputArchive),
		profile("fast", 0, 0, backend.ThroughputFast),
		down,
	}

	got := New().Order([]string{"down", "slow", "gone", "fast"}, 1<<20, profiles)
	assert.Equal(t, []string{"fast", "slow", "down", "gone"}, got)
}

func modeledProfiles() []backend.Profile {
	ssd := profile("ssd", 0, 0, backend.ThroughputFast)
	ssd.Perf = backend.PerfModel{Latency: 100e-6, Throughput: 500}
	lustre := profile("lustre", 0, 0, backend.ThroughputStandard)
	lustre.Perf = backend.PerfModel{Latency: 20e-3, Throughput: 10000}
	return []backend.Profile{lustre, ssd}
}

func TestAssign_PerformanceModel(t *testing.T) {
	s := New()

	got, err := s.Assign(chunkBox, 4<<10, modeledProfiles())
	require.NoError(t, err)
	assert.Equal(t, []string{"ssd", "lustre"}, got, "small chunk")

	got, err = s.Assign(chunkBox, 1<<30, modeledProfiles())
	require.NoError(t, err)
	assert.Equal(t, []string{"lustre", "ssd"}, got, "large chunk")
}

func TestAssign_PerformanceModelMixedWithClasses(t *testing.T) {
	// Backends without a model are estimated from their class.
	profiles := append(modeledProfiles(), profile("tape", 0, 0, backend.ThroughputArchive))

	got, err := New().Assign(chunkBox, 4<<10, profiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"ssd", "lustre", "tape"}, got)
}

func TestOrder_PerformanceModel(t *testing.T) {
	s := New()
	names := []string{"lustre", "ssd"}
	assert.Equal(t, []string{"ssd", "lustre"}, s.Order(names, 4<<10, modeledProfiles()))
	assert.Equal(t, []string{"lustre", "ssd"}, s.Order(names, 1<<30, modeledProfiles()))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("weighted")
	require.NoError(t, err)
	assert.Equal(t, PolicyWeighted, p)
	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyScore, p)
	_, err = ParsePolicy("random")
	assert.Error(t, err)
}
