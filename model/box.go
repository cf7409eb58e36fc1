package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidBox is returned when offsets and shapes disagree in rank or hold
// negative or empty extents.
var ErrInvalidBox = errors.New("invalid box")

// Box is a hyper-rectangle in a variable's index space. A rank-0 Box
// addresses the single element of a scalar variable.
type Box struct {
	Offset []int64 `json:"offset"`
	Shape  []int64 `json:"shape"`
}

// NewBox validates and copies offset and shape.
func NewBox(offset, shape []int64) (Box, error) {
	if len(offset) != len(shape) {
		return Box{}, fmt.Errorf("%w: offset rank %d, shape rank %d", ErrInvalidBox, len(offset), len(shape))
	}
	for d := range shape {
		if offset[d] < 0 {
			return Box{}, fmt.Errorf("%w: negative offset %d in dim %d", ErrInvalidBox, offset[d], d)
		}
		if shape[d] <= 0 {
			return Box{}, fmt.Errorf("%w: non-positive extent %d in dim %d", ErrInvalidBox, shape[d], d)
		}
	}
	return Box{Offset: clone(offset), Shape: clone(shape)}, nil
}

// Rank returns the number of dimensions.
func (b Box) Rank() int { return len(b.Shape) }

// Volume returns the number of elements in the box.
func (b Box) Volume() int64 {
	v := int64(1)
	for _, s := range b.Shape {
		v *= s
	}
	return v
}

// End returns the exclusive upper bound along dimension d.
func (b Box) End(d int) int64 { return b.Offset[d] + b.Shape[d] }

// Intersect returns the overlap of b and o and whether it is non-empty.
func (b Box) Intersect(o Box) (Box, bool) {
	if b.Rank() != o.Rank() {
		return Box{}, false
	}
	out := Box{Offset: make([]int64, b.Rank()), Shape: make([]int64, b.Rank())}
	for d := range b.Shape {
		lo := max(b.Offset[d], o.Offset[d])
		hi := min(b.End(d), o.End(d))
		if hi <= lo {
			return Box{}, false
		}
		out.Offset[d] = lo
		out.Shape[d] = hi - lo
	}
	return out, true
}

// Overlaps reports whether b and o share at least one element.
func (b Box) Overlaps(o Box) bool {
	if b.Rank() != o.Rank() {
		return false
	}
	for d := range b.Shape {
		if max(b.Offset[d], o.Offset[d]) >= min(b.End(d), o.End(d)) {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely inside b.
func (b Box) Contains(o Box) bool {
	if b.Rank() != o.Rank() {
		return false
	}
	for d := range b.Shape {
		if o.Offset[d] < b.Offset[d] || o.End(d) > b.End(d) {
			return false
		}
	}
	return true
}

// Equal reports whether b and o describe the same region.
func (b Box) Equal(o Box) bool {
	if b.Rank() != o.Rank() {
		return false
	}
	for d := range b.Shape {
		if b.Offset[d] != o.Offset[d] || b.Shape[d] != o.Shape[d] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (b Box) Clone() Box {
	return Box{Offset: clone(b.Offset), Shape: clone(b.Shape)}
}

// Subtract returns disjoint boxes covering b minus o. At most 2*Rank boxes
// are produced; b itself is returned when the two do not overlap.
func (b Box) Subtract(o Box) []Box {
	ov, ok := b.Intersect(o)
	if !ok {
		return []Box{b.Clone()}
	}
	var out []Box
	cur := b.Clone()
	for d := range cur.Shape {
		if lo := ov.Offset[d]; lo > cur.Offset[d] {
			part := cur.Clone()
			part.Shape[d] = lo - cur.Offset[d]
			out = append(out, part)
		}
		if hi := ov.End(d); hi < cur.End(d) {
			part := cur.Clone()
			part.Offset[d] = hi
			part.Shape[d] = cur.End(d) - hi
			out = append(out, part)
		}
		cur.Offset[d] = ov.Offset[d]
		cur.Shape[d] = ov.Shape[d]
	}
	return out
}

// String renders the box as "[o0:e0, o1:e1]" with exclusive ends.
func (b Box) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for d := range b.Shape {
		if d > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatInt(b.Offset[d], 10))
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatInt(b.End(d), 10))
	}
	sb.WriteByte(']')
	return sb.String()
}

// SubtractAll returns disjoint boxes covering b minus every box in holes.
func SubtractAll(b Box, holes []Box) []Box {
	rest := []Box{b}
	for _, h := range holes {
		next := rest[:0:0]
		for _, r := range rest {
			next = append(next, r.Subtract(h)...)
		}
		rest = next
		if len(rest) == 0 {
			break
		}
	}
	return rest
}

func clone(s []int64) []int64 {
	out := make([]int64, len(s))
	copy(out, s)
	return out
}
