package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidDType is returned for unknown element type names or values that
// cannot be represented in an element type.
var ErrInvalidDType = errors.New("invalid data type")

// DType is the fixed-width element kind of a variable.
type DType uint8

const (
	Invalid DType = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	// Char is a single byte of text, as used by NetCDF NC_CHAR.
	Char
)

var dtypeNames = [...]string{
	Invalid: "invalid",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
	Char:    "char",
}

// Size returns the element size in bytes, or 0 for Invalid.
func (t DType) Size() int {
	switch t {
	case Int8, Uint8, Char:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether t is a known element type.
func (t DType) Valid() bool { return t > Invalid && t <= Char }

func (t DType) String() string {
	if int(t) < len(dtypeNames) {
		return dtypeNames[t]
	}
	return fmt.Sprintf("dtype(%d)", uint8(t))
}

// ParseDType maps a type name ("float32", "int16", ...) to a DType.
// The C style aliases "float", "double", "int", "short", "byte" are accepted.
func ParseDType(name string) (DType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "float":
		return Float32, nil
	case "double":
		return Float64, nil
	case "int":
		return Int32, nil
	case "short":
		return Int16, nil
	case "byte":
		return Int8, nil
	case "ubyte":
		return Uint8, nil
	}
	for i, s := range dtypeNames {
		if i != int(Invalid) && s == n {
			return DType(i), nil
		}
	}
	return Invalid, fmt.Errorf("%w: %q", ErrInvalidDType, name)
}

// MarshalText persists the type by name.
func (t DType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText parses a type name.
func (t *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Encode returns the little-endian element bytes of a numeric scalar value.
// Char accepts a one byte string or an integer.
func (t DType) Encode(v Value) ([]byte, error) {
	out := make([]byte, t.Size())
	switch t {
	case Float32, Float64:
		f, ok := v.Number()
		if !ok {
			return nil, fmt.Errorf("%w: %s value for %s", ErrInvalidDType, v.Kind, t)
		}
		if t == Float32 {
			binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
		} else {
			binary.LittleEndian.PutUint64(out, math.Float64bits(f))
		}
		return out, nil
	case Char:
		if s, ok := v.AsString(); ok {
			if len(s) != 1 {
				return nil, fmt.Errorf("%w: char fill must be one byte, got %q", ErrInvalidDType, s)
			}
			out[0] = s[0]
			return out, nil
		}
	case Invalid:
		return nil, fmt.Errorf("%w: %s", ErrInvalidDType, t)
	}

	i, ok := v.AsInt()
	if !ok {
		f, isFloat := v.AsFloat()
		if !isFloat || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s value for %s", ErrInvalidDType, v.Kind, t)
		}
		i = int64(f)
	}
	switch t.Size() {
	case 1:
		out[0] = byte(i)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(i))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(i))
	case 8:
		binary.LittleEndian.PutUint64(out, uint64(i))
	}
	return out, nil
}
