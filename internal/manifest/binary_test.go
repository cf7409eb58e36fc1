package manifest

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTrip(t *testing.T) {
	m := &Manifest{
		ID:        7,
		CreatedAt: time.Unix(0, 1_700_000_000_123),
		MaxLSN:    123,
		Codec:     "json",
		State:     []byte(`{"datasets":{}}`),
	}

	var buf bytes.Buffer
	require.NoError(t, m.WriteBinary(&buf))

	got, err := ReadBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, got.Version)
	assert.Equal(t, m.ID, got.ID)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, m.MaxLSN, got.MaxLSN)
	assert.Equal(t, m.Codec, got.Codec)
	assert.Equal(t, m.State, got.State)
}

func TestReadBinary_Corruption(t *testing.T) {
	m := &Manifest{ID: 1, Codec: "json", State: []byte("payload")}
	var buf bytes.Buffer
	require.NoError(t, m.WriteBinary(&buf))
	valid := buf.Bytes()

	t.Run("flipped payload", func(t *testing.T) {
		b := bytes.Clone(valid)
		b[len(b)-1] ^= 0xFF
		_, err := ReadBinary(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("bad magic", func(t *testing.T) {
		b := bytes.Clone(valid)
		b[0] = 'X'
		_, err := ReadBinary(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("future version", func(t *testing.T) {
		b := bytes.Clone(valid)
		b[4] = 99
		_, err := ReadBinary(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrIncompatibleVersion)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ReadBinary(bytes.NewReader(valid[:len(valid)-3]))
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}
