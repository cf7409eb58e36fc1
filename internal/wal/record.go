package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/esdm/internal/hash"
)

// RecordType is an opaque tag chosen by the caller.
type RecordType uint8

// MaxPayloadSize bounds a single record payload.
const MaxPayloadSize = 64 << 20

// recordHeaderSize is CRC (4) + Type (1) + LSN (8) + Length (4).
const recordHeaderSize = 17

var (
	ErrInvalidCRC     = errors.New("invalid WAL record checksum")
	ErrRecordTooLarge = errors.New("WAL record too large")
)

// Record is one framed log entry.
//
// Frame layout, little endian:
//
//	[CRC32C: 4][Type: 1][LSN: 8][Length: 4][Payload: Length]
//
// The checksum covers everything after itself.
type Record struct {
	LSN     uint64
	Type    RecordType
	Payload []byte
}

// Size returns the framed size in bytes.
func (r *Record) Size() int {
	return recordHeaderSize + len(r.Payload)
}

// Encode writes the framed record to w.
func (r *Record) Encode(w io.Writer) error {
	if len(r.Payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(r.Payload))
	}
	var header [recordHeaderSize]byte
	header[4] = byte(r.Type)
	binary.LittleEndian.PutUint64(header[5:], r.LSN)
	binary.LittleEndian.PutUint32(header[13:], uint32(len(r.Payload)))

	crc := hash.UpdateCRC32C(0, header[4:])
	crc = hash.UpdateCRC32C(crc, r.Payload)
	binary.LittleEndian.PutUint32(header[0:], crc)

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(r.Payload)
	return err
}

// Decode reads one record from r and returns it with the number of bytes
// consumed. A clean end of log is io.EOF; a partial frame is
// io.ErrUnexpectedEOF.
func Decode(r io.Reader) (*Record, int64, error) {
	var header [recordHeaderSize]byte
	if n, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, 0, io.EOF
		}
		return nil, int64(n), io.ErrUnexpectedEOF
	}

	length := binary.LittleEndian.Uint32(header[13:])
	if length > MaxPayloadSize {
		return nil, recordHeaderSize, ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if n, err := io.ReadFull(r, payload); err != nil {
		return nil, recordHeaderSize + int64(n), io.ErrUnexpectedEOF
	}

	crc := hash.UpdateCRC32C(0, header[4:])
	crc = hash.UpdateCRC32C(crc, payload)
	if crc != binary.LittleEndian.Uint32(header[0:]) {
		return nil, recordHeaderSize + int64(length), ErrInvalidCRC
	}

	return &Record{
		Type:    RecordType(header[4]),
		LSN:     binary.LittleEndian.Uint64(header[5:]),
		Payload: payload,
	}, recordHeaderSize + int64(length), nil
}
