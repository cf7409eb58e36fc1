// Package compress frames fragment payloads with optional block compression.
//
// Every stored fragment starts with a 9 byte header:
//
//	[Type uint8][RawSize uint32][StoredSize uint32][payload...]
//
// StoredSize == 0 means the payload is stored raw, either because no codec
// was requested or because compression did not save at least 10%.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression algorithm.
type Type uint8

const (
	// None stores payloads raw.
	None Type = 0
	// LZ4 is fast block compression, suited to hot tiers.
	LZ4 Type = 1
	// Zstd trades CPU for ratio, suited to capacity and archive tiers.
	Zstd Type = 2
)

const headerSize = 9

var (
	// ErrCorruptFrame is returned when a frame header or payload is malformed.
	ErrCorruptFrame = errors.New("corrupt compression frame")
	// ErrUnknownType is returned for an unsupported compression name or id.
	ErrUnknownType = errors.New("unknown compression type")
)

// String returns the configuration name of the type.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("compress.Type(%d)", uint8(t))
	}
}

// ParseType maps a configuration name to a Type. The empty string is None.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Encode frames data, compressing it with t when that pays off.
func Encode(data []byte, t Type) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("fragment too large for frame: %d bytes", len(data))
	}

	var packed []byte
	switch t {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		packed = buf[:n] // n == 0 means incompressible
	case Zstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}

	if len(packed) == 0 || float64(len(packed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		out[0] = byte(t)
		binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(packed))
	out[0] = byte(t)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(packed)))
	copy(out[headerSize:], packed)
	return out, nil
}

// Decode returns the raw payload of a frame produced by Encode.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("%w: %d byte frame", ErrCorruptFrame, len(frame))
	}
	t := Type(frame[0])
	rawSize := binary.LittleEndian.Uint32(frame[1:])
	storedSize := binary.LittleEndian.Uint32(frame[5:])
	body := frame[headerSize:]

	if storedSize == 0 {
		if uint32(len(body)) != rawSize {
			return nil, fmt.Errorf("%w: raw payload is %d bytes, header says %d", ErrCorruptFrame, len(body), rawSize)
		}
		out := make([]byte, rawSize)
		copy(out, body)
		return out, nil
	}
	if uint32(len(body)) != storedSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorruptFrame, len(body), storedSize)
	}

	out := make([]byte, rawSize)
	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptFrame, err)
		}
		if uint32(n) != rawSize {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorruptFrame, n, rawSize)
		}
		return out, nil
	case Zstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(body, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptFrame, err)
		}
		if uint32(len(decoded)) != rawSize {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorruptFrame, len(decoded), rawSize)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
}
