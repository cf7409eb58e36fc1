package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat32s(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.Float32s(32)

	assert.Equal(t, 32, len(v))
	for _, x := range v {
		assert.GreaterOrEqual(t, x, float32(0))
		assert.Less(t, x, float32(1))
	}

	rng.Reset()
	assert.Equal(t, v, rng.Float32s(32))
}

func TestFloat32Bytes(t *testing.T) {
	vals := []float32{0, 1.5, -2, 3.25}
	b := Float32Bytes(vals)

	assert.Len(t, b, 16)
	assert.Equal(t, []byte{0, 0, 0xC0, 0x3F}, b[4:8])
	assert.Equal(t, vals, BytesFloat32(b))
}

func TestInt32Bytes(t *testing.T) {
	vals := []int32{-1, 0, 1 << 20}
	assert.Equal(t, vals, BytesInt32(Int32Bytes(vals)))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, Int32Bytes(vals)[:4])
}

func TestSequence(t *testing.T) {
	assert.Equal(t, []float32{0, 1, 2, 3}, Sequence(4))
}
