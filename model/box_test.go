package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(t *testing.T, offset, shape []int64) Box {
	t.Helper()
	b, err := NewBox(offset, shape)
	require.NoError(t, err)
	return b
}

func TestNewBox_Validation(t *testing.T) {
	_, err := NewBox([]int64{0}, []int64{1, 2})
	assert.ErrorIs(t, err, ErrInvalidBox)
	_, err = NewBox([]int64{-1}, []int64{2})
	assert.ErrorIs(t, err, ErrInvalidBox)
	_, err = NewBox([]int64{0}, []int64{0})
	assert.ErrorIs(t, err, ErrInvalidBox)

	scalar, err := NewBox(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), scalar.Volume())
}

func TestBox_Intersect(t *testing.T) {
	a := box(t, []int64{0, 0}, []int64{10, 10})
	b := box(t, []int64{5, 8}, []int64{10, 10})

	ov, ok := a.Intersect(b)
	require.True(t, ok)
	assert.Equal(t, []int64{5, 8}, ov.Offset)
	assert.Equal(t, []int64{5, 2}, ov.Shape)
	assert.True(t, a.Overlaps(b))

	c := box(t, []int64{10, 0}, []int64{1, 1})
	_, ok = a.Intersect(c)
	assert.False(t, ok)
	assert.False(t, a.Overlaps(c))
}

func TestBox_Contains(t *testing.T) {
	a := box(t, []int64{0, 0}, []int64{10, 10})
	assert.True(t, a.Contains(box(t, []int64{2, 3}, []int64{8, 7})))
	assert.False(t, a.Contains(box(t, []int64{2, 3}, []int64{9, 7})))
	assert.True(t, a.Equal(a.Clone()))
	assert.Equal(t, "[0:10, 0:10]", a.String())
}

func TestBox_Subtract(t *testing.T) {
	a := box(t, []int64{0, 0}, []int64{4, 4})
	hole := box(t, []int64{1, 1}, []int64{2, 2})

	parts := a.Subtract(hole)
	var vol int64
	for i, p := range parts {
		assert.True(t, a.Contains(p))
		assert.False(t, p.Overlaps(hole))
		for j := i + 1; j < len(parts); j++ {
			assert.False(t, p.Overlaps(parts[j]))
		}
		vol += p.Volume()
	}
	assert.Equal(t, a.Volume()-hole.Volume(), vol)
	assert.LessOrEqual(t, len(parts), 4)

	// Disjoint boxes leave b untouched; full cover leaves nothing.
	assert.Len(t, a.Subtract(box(t, []int64{9, 9}, []int64{1, 1})), 1)
	assert.Empty(t, a.Subtract(box(t, []int64{0, 0}, []int64{8, 8})))
}

func TestSubtractAll(t *testing.T) {
	req := box(t, []int64{0}, []int64{20})
	rest := SubtractAll(req, []Box{
		box(t, []int64{0}, []int64{10}),
		box(t, []int64{15}, []int64{5}),
	})
	require.Len(t, rest, 1)
	assert.Equal(t, []int64{10}, rest[0].Offset)
	assert.Equal(t, []int64{5}, rest[0].Shape)
}
