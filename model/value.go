package model

import (
	"fmt"
	"slices"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindString
	KindIntArray
	KindFloatArray
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindIntArray:
		return "int[]"
	case KindFloatArray:
		return "float[]"
	default:
		return "invalid"
	}
}

// Value is an attribute value: a numeric scalar, a numeric array or text.
//
// NOTE: Values are persisted in the catalog; keep the JSON field names stable.
type Value struct {
	Kind   Kind      `json:"k"`
	I64    int64     `json:"i,omitempty"`
	F64    float64   `json:"f,omitempty"`
	S      string    `json:"s,omitempty"`
	Ints   []int64   `json:"ia,omitempty"`
	Floats []float64 `json:"fa,omitempty"`
}

// Int returns an integer Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a floating point Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a text Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Ints returns an integer array Value. The slice is copied.
func Ints(v ...int64) Value { return Value{Kind: KindIntArray, Ints: slices.Clone(v)} }

// Floats returns a floating point array Value. The slice is copied.
func Floats(v ...float64) Value { return Value{Kind: KindFloatArray, Floats: slices.Clone(v)} }

// AsInt returns the integer if Kind is KindInt.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I64, true
}

// AsFloat returns the float if Kind is KindFloat.
func (v Value) AsFloat() (float64, bool) {
	if v.Kind != KindFloat {
		return 0, false
	}
	return v.F64, true
}

// AsString returns the text if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.S, true
}

// AsInts returns the integer array if Kind is KindIntArray.
func (v Value) AsInts() ([]int64, bool) {
	if v.Kind != KindIntArray {
		return nil, false
	}
	return v.Ints, true
}

// AsFloats returns the float array if Kind is KindFloatArray.
func (v Value) AsFloats() ([]float64, bool) {
	if v.Kind != KindFloatArray {
		return nil, false
	}
	return v.Floats, true
}

// Number returns any numeric scalar as float64.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I64), true
	case KindFloat:
		return v.F64, true
	default:
		return 0, false
	}
}

// Valid reports whether v holds one of the supported kinds.
func (v Value) Valid() bool { return v.Kind > KindInvalid && v.Kind <= KindFloatArray }

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.I64 == o.I64
	case KindFloat:
		return v.F64 == o.F64
	case KindString:
		return v.S == o.S
	case KindIntArray:
		return slices.Equal(v.Ints, o.Ints)
	case KindFloatArray:
		return slices.Equal(v.Floats, o.Floats)
	default:
		return true
	}
}

// Clone returns a copy that shares no memory with v.
func (v Value) Clone() Value {
	v.Ints = slices.Clone(v.Ints)
	v.Floats = slices.Clone(v.Floats)
	return v
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.I64)
	case KindFloat:
		return fmt.Sprintf("%g", v.F64)
	case KindString:
		return fmt.Sprintf("%q", v.S)
	case KindIntArray:
		return fmt.Sprint(v.Ints)
	case KindFloatArray:
		return fmt.Sprint(v.Floats)
	default:
		return "<invalid>"
	}
}

// Attributes is a key/value attribute set.
type Attributes map[string]Value

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v.Clone()
	}
	return out
}
