package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Accessors(t *testing.T) {
	i, ok := Int(3).AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(3), i)

	_, ok = Int(3).AsFloat()
	assert.False(t, ok)

	n, ok := Float(2.5).Number()
	assert.True(t, ok)
	assert.Equal(t, 2.5, n)

	s, ok := String("K").AsString()
	assert.True(t, ok)
	assert.Equal(t, "K", s)

	_, ok = String("K").Number()
	assert.False(t, ok)
	assert.False(t, Value{}.Valid())
}

func TestValue_ArraysAreCopied(t *testing.T) {
	src := []float64{1, 2, 3}
	v := Floats(src...)
	src[0] = 99

	got, ok := v.AsFloats()
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, got)

	c := v.Clone()
	c.Floats[1] = 42
	assert.Equal(t, 2.0, v.Floats[1])
}

func TestValue_JSONRoundTrip(t *testing.T) {
	attrs := Attributes{
		"units":      String("K"),
		"valid_min":  Float(-90),
		"version":    Int(2),
		"dims_hint":  Ints(1, 2, 3),
		"scale_pair": Floats(0.5, 1.5),
	}
	b, err := json.Marshal(attrs)
	require.NoError(t, err)

	var out Attributes
	require.NoError(t, json.Unmarshal(b, &out))
	require.Len(t, out, len(attrs))
	for k, v := range attrs {
		assert.True(t, v.Equal(out[k]), k)
	}
}
