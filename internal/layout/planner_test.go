package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanner_Deterministic(t *testing.T) {
	p := DefaultPlanner()
	shape := []int64{0, 721, 1440}
	unlimited := []bool{true, false, false}

	first, err := p.Plan(shape, unlimited, 4, HintAuto)
	require.NoError(t, err)
	for range 10 {
		again, err := p.Plan(shape, unlimited, 4, HintAuto)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPlanner_Append(t *testing.T) {
	p := Planner{MinChunkBytes: 1 << 20, MaxChunkBytes: 64 << 20}

	// One row is 721*1440*4 bytes, about 4 MiB, so a single row satisfies
	// the minimum and the chunk is aligned to timesteps.
	chunk, err := p.Plan([]int64{0, 721, 1440}, []bool{true, false, false}, 4, HintAppend)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 721, 1440}, chunk)

	// Small rows are stacked up to the minimum.
	chunk, err = p.Plan([]int64{0, 16}, []bool{true, false}, 8, HintAppend)
	require.NoError(t, err)
	assert.Equal(t, []int64{(1 << 20) / 128, 16}, chunk)

	// A fixed leading dimension bounds the stack.
	chunk, err = p.Plan([]int64{100, 16}, []bool{false, false}, 8, HintAppend)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 16}, chunk)
}

func TestPlanner_AppendWideRows(t *testing.T) {
	p := Planner{MinChunkBytes: 1 << 10, MaxChunkBytes: 1 << 12}

	// A row of 64*64*4 = 16 KiB exceeds the maximum: one timestep per chunk
	// and the row itself is balanced.
	chunk, err := p.Plan([]int64{0, 64, 64}, []bool{true, false, false}, 4, HintAppend)
	require.NoError(t, err)
	assert.Equal(t, int64(1), chunk[0])
	assert.LessOrEqual(t, byteSize(chunk, 4), p.MaxChunkBytes)
	assert.Equal(t, []int64{1, 32, 32}, chunk)
}

func TestPlanner_Balanced(t *testing.T) {
	p := Planner{MinChunkBytes: 1 << 10, MaxChunkBytes: 1 << 12}

	chunk, err := p.Plan([]int64{100, 100}, []bool{false, false}, 8, HintBalanced)
	require.NoError(t, err)
	assert.LessOrEqual(t, byteSize(chunk, 8), p.MaxChunkBytes)
	assert.GreaterOrEqual(t, byteSize(chunk, 8), p.MinChunkBytes)
	assert.Equal(t, []int64{13, 25}, chunk)

	// Small variables become a single chunk.
	chunk, err = p.Plan([]int64{4, 4}, []bool{false, false}, 8, HintBalanced)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 4}, chunk)
}

func TestPlanner_Contiguous(t *testing.T) {
	p := Planner{MinChunkBytes: 1 << 10, MaxChunkBytes: 1 << 12}

	chunk, err := p.Plan([]int64{100, 100}, []bool{false, false}, 4, HintContiguous)
	require.NoError(t, err)
	// Whole rows of 400 bytes, ten per chunk.
	assert.Equal(t, []int64{10, 100}, chunk)

	chunk, err = p.Plan([]int64{10, 10, 2048}, []bool{false, false, false}, 4, HintContiguous)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 1024}, chunk)
}

func TestPlanner_WithinBand(t *testing.T) {
	p := DefaultPlanner()
	shapes := [][]int64{{1 << 20}, {512, 512, 512}, {3, 1 << 24}, {7, 11, 13, 17}}

	for _, shape := range shapes {
		for _, hint := range []Hint{HintBalanced, HintAppend, HintContiguous} {
			chunk, err := p.Plan(shape, make([]bool, len(shape)), 8, hint)
			require.NoError(t, err)
			size := byteSize(chunk, 8)
			assert.LessOrEqual(t, size, p.MaxChunkBytes, "shape %v hint %s", shape, hint)
			if byteSize(shape, 8) >= p.MinChunkBytes {
				assert.GreaterOrEqual(t, size, p.MinChunkBytes, "shape %v hint %s", shape, hint)
			}
		}
	}
}

func TestPlanner_Errors(t *testing.T) {
	p := DefaultPlanner()

	_, err := p.Plan([]int64{10, 10}, []bool{false}, 4, HintAuto)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = p.Plan([]int64{10}, []bool{false}, 0, HintAuto)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = p.Plan([]int64{0}, []bool{false}, 4, HintAuto)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = Planner{MinChunkBytes: 10, MaxChunkBytes: 5}.Plan([]int64{10}, []bool{false}, 4, HintAuto)
	assert.ErrorIs(t, err, ErrInvalidBand)

	assert.ErrorIs(t, ValidateChunkShape([]int64{10, 10}, []int64{5}), ErrInvalidShape)
	assert.ErrorIs(t, ValidateChunkShape([]int64{10}, []int64{0}), ErrInvalidShape)
	assert.NoError(t, ValidateChunkShape([]int64{10, 10}, []int64{10, 3}))
}

func TestPlanner_Scalar(t *testing.T) {
	chunk, err := DefaultPlanner().Plan(nil, nil, 8, HintAuto)
	require.NoError(t, err)
	assert.Empty(t, chunk)
}

func TestParseHint(t *testing.T) {
	for name, want := range map[string]Hint{
		"":           HintAuto,
		"balanced":   HintBalanced,
		"equalized":  HintBalanced,
		"append":     HintAppend,
		"contiguous": HintContiguous,
	} {
		h, err := ParseHint(name)
		require.NoError(t, err)
		assert.Equal(t, want, h)
	}
	_, err := ParseHint("zigzag")
	assert.Error(t, err)
}
