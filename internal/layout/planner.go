package layout

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultMinChunkBytes int64 = 1 << 20
	DefaultMaxChunkBytes int64 = 64 << 20
)

var (
	// ErrInvalidShape is returned for shapes or chunk shapes that cannot be planned.
	ErrInvalidShape = errors.New("invalid shape")
	// ErrInvalidBand is returned when the chunk byte band is malformed.
	ErrInvalidBand = errors.New("invalid chunk size band")
)

// Hint describes the expected access pattern of a variable.
type Hint int

const (
	// HintAuto picks HintAppend if dimension 0 is unlimited, else HintBalanced.
	HintAuto Hint = iota
	// HintBalanced halves the largest extent until the chunk fits the band.
	HintBalanced
	// HintAppend keeps whole rows and chooses the extent along dimension 0.
	HintAppend
	// HintContiguous splits the slowest dimensions first.
	HintContiguous
)

func (h Hint) String() string {
	switch h {
	case HintAuto:
		return "auto"
	case HintBalanced:
		return "balanced"
	case HintAppend:
		return "append"
	case HintContiguous:
		return "contiguous"
	default:
		return fmt.Sprintf("Hint(%d)", int(h))
	}
}

// ParseHint maps a name to a Hint. "equalized" is accepted for balanced.
func ParseHint(s string) (Hint, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return HintAuto, nil
	case "balanced", "equalized":
		return HintBalanced, nil
	case "append":
		return HintAppend, nil
	case "contiguous":
		return HintContiguous, nil
	}
	return HintAuto, fmt.Errorf("unknown chunk hint %q", s)
}

// MarshalText persists the hint by name.
func (h Hint) MarshalText() ([]byte, error) {
	if h < HintAuto || h > HintContiguous {
		return nil, fmt.Errorf("unknown chunk hint %d", int(h))
	}
	return []byte(h.String()), nil
}

func (h *Hint) UnmarshalText(b []byte) error {
	v, err := ParseHint(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// Planner chooses chunk shapes within a byte band.
type Planner struct {
	MinChunkBytes int64
	MaxChunkBytes int64
}

// DefaultPlanner returns a Planner with the 1 MiB to 64 MiB band.
func DefaultPlanner() Planner {
	return Planner{MinChunkBytes: DefaultMinChunkBytes, MaxChunkBytes: DefaultMaxChunkBytes}
}

// Validate checks the band.
func (p Planner) Validate() error {
	if p.MinChunkBytes <= 0 || p.MaxChunkBytes <= 0 {
		return fmt.Errorf("%w: bounds must be positive", ErrInvalidBand)
	}
	if p.MinChunkBytes > p.MaxChunkBytes {
		return fmt.Errorf("%w: min %d > max %d", ErrInvalidBand, p.MinChunkBytes, p.MaxChunkBytes)
	}
	return nil
}

// Plan returns the chunk shape for a variable.
//
// shape holds the declared length of fixed dimensions; entries for
// unlimited dimensions are ignored and planned as open-ended. A chunk never
// exceeds MaxChunkBytes. It reaches MinChunkBytes unless the whole variable
// is smaller, or halving cannot land inside a band narrower than 2x.
func (p Planner) Plan(shape []int64, unlimited []bool, elemSize int, hint Hint) ([]int64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(unlimited) != len(shape) {
		return nil, fmt.Errorf("%w: rank %d with %d unlimited flags", ErrInvalidShape, len(shape), len(unlimited))
	}
	if elemSize <= 0 || int64(elemSize) > p.MaxChunkBytes {
		return nil, fmt.Errorf("%w: element size %d", ErrInvalidShape, elemSize)
	}

	if len(shape) == 0 {
		return []int64{}, nil
	}

	maxElems := p.MaxChunkBytes / int64(elemSize)
	ext := make([]int64, len(shape))
	for d := range shape {
		switch {
		case unlimited[d]:
			ext[d] = maxElems
		case shape[d] <= 0:
			return nil, fmt.Errorf("%w: dimension %d has length %d", ErrInvalidShape, d, shape[d])
		default:
			ext[d] = shape[d]
		}
	}

	if hint == HintAuto {
		hint = HintBalanced
		if unlimited[0] {
			hint = HintAppend
		}
	}

	switch hint {
	case HintBalanced:
		return p.balanced(ext, 0, elemSize), nil
	case HintAppend:
		return p.appendMostly(ext, unlimited[0], elemSize), nil
	case HintContiguous:
		return p.contiguous(ext, elemSize), nil
	default:
		return nil, fmt.Errorf("%w: unknown hint %d", ErrInvalidShape, int(hint))
	}
}

// balanced halves the largest extent among dims [from:] until the chunk
// fits. Ties go to the lowest dimension.
func (p Planner) balanced(ext []int64, from int, elemSize int) []int64 {
	chunk := clone(ext)
	for byteSize(chunk, elemSize) > p.MaxChunkBytes {
		largest := -1
		for d := from; d < len(chunk); d++ {
			if chunk[d] > 1 && (largest < 0 || chunk[d] > chunk[largest]) {
				largest = d
			}
		}
		if largest < 0 {
			break
		}
		chunk[largest] = (chunk[largest] + 1) / 2
	}
	return chunk
}

func (p Planner) appendMostly(ext []int64, leadingUnlimited bool, elemSize int) []int64 {
	rowBytes := int64(elemSize)
	for _, e := range ext[1:] {
		rowBytes = satMul(rowBytes, e)
	}

	if rowBytes > p.MaxChunkBytes {
		chunk := clone(ext)
		chunk[0] = 1
		return p.balanced(chunk, 1, elemSize)
	}

	t := ceilDiv(p.MinChunkBytes, rowBytes)
	t = min(t, p.MaxChunkBytes/rowBytes)
	if !leadingUnlimited {
		t = min(t, ext[0])
	}
	t = max(t, 1)

	chunk := clone(ext)
	chunk[0] = t
	return chunk
}

func (p Planner) contiguous(ext []int64, elemSize int) []int64 {
	chunk := clone(ext)
	for d := range chunk {
		if byteSize(chunk, elemSize) <= p.MaxChunkBytes {
			break
		}
		chunk[d] = 1
		inner := byteSize(chunk, elemSize)
		if inner <= p.MaxChunkBytes {
			chunk[d] = min(ext[d], max(p.MaxChunkBytes/inner, 1))
			break
		}
	}
	return chunk
}

// ValidateChunkShape checks an explicit chunk shape against a variable.
func ValidateChunkShape(shape []int64, chunk []int64) error {
	if len(chunk) != len(shape) {
		return fmt.Errorf("%w: chunk rank %d, variable rank %d", ErrInvalidShape, len(chunk), len(shape))
	}
	for d, c := range chunk {
		if c <= 0 {
			return fmt.Errorf("%w: chunk extent %d in dimension %d", ErrInvalidShape, c, d)
		}
	}
	return nil
}

func byteSize(shape []int64, elemSize int) int64 {
	n := int64(elemSize)
	for _, s := range shape {
		n = satMul(n, s)
	}
	return n
}

// satMul multiplies non-negative values, saturating at MaxInt64.
func satMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	const maxInt64 = int64(^uint64(0) >> 1)
	if a > maxInt64/b {
		return maxInt64
	}
	return a * b
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

func clone(s []int64) []int64 {
	out := make([]int64, len(s))
	copy(out, s)
	return out
}
