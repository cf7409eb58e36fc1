package layout

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"

	"github.com/hupe1980/esdm/model"
)

// ErrCellRange is returned when a cell coordinate cannot be indexed.
var ErrCellRange = errors.New("cell outside indexable range")

// Grid tiles an index space with a fixed chunk shape anchored at the origin.
// A rank-0 grid has exactly one cell.
type Grid struct {
	chunk []int64
}

// NewGrid creates a grid for chunk.
func NewGrid(chunk []int64) (Grid, error) {
	for d, c := range chunk {
		if c <= 0 {
			return Grid{}, fmt.Errorf("%w: chunk extent %d in dimension %d", ErrInvalidShape, c, d)
		}
	}
	return Grid{chunk: clone(chunk)}, nil
}

// Rank returns the grid rank.
func (g Grid) Rank() int { return len(g.chunk) }

// ChunkShape returns a copy of the cell shape.
func (g Grid) ChunkShape() []int64 { return clone(g.chunk) }

// Cell returns the coordinates of the cell holding point.
func (g Grid) Cell(point []int64) []int64 {
	cell := make([]int64, len(point))
	for d, p := range point {
		cell[d] = p / g.chunk[d]
	}
	return cell
}

// CellBox returns the full box of a cell.
func (g Grid) CellBox(cell []int64) model.Box {
	off := make([]int64, len(cell))
	for d, c := range cell {
		off[d] = c * g.chunk[d]
	}
	return model.Box{Offset: off, Shape: clone(g.chunk)}
}

// CellOf returns the single cell containing box, or false if box spans
// several cells.
func (g Grid) CellOf(box model.Box) ([]int64, bool) {
	if box.Rank() != g.Rank() || box.Volume() == 0 {
		return nil, false
	}
	cell := g.Cell(box.Offset)
	for d := range cell {
		if (box.End(d)-1)/g.chunk[d] != cell[d] {
			return nil, false
		}
	}
	return cell, true
}

// ForEachCell calls fn for every cell intersecting box in row-major order.
// The slice passed to fn is reused; fn must copy it to retain it. Iteration
// stops when fn returns false.
func (g Grid) ForEachCell(box model.Box, fn func(cell []int64) bool) {
	if box.Rank() != g.Rank() || box.Volume() == 0 {
		return
	}
	lo := g.Cell(box.Offset)
	hi := make([]int64, len(lo))
	for d := range hi {
		hi[d] = (box.End(d) - 1) / g.chunk[d]
	}

	cur := clone(lo)
	for {
		if !fn(cur) {
			return
		}
		d := len(cur) - 1
		for d >= 0 {
			cur[d]++
			if cur[d] <= hi[d] {
				break
			}
			cur[d] = lo[d]
			d--
		}
		if d < 0 {
			return
		}
	}
}

// Decompose splits box into the intersections with every grid cell it
// touches, in row-major cell order.
func (g Grid) Decompose(box model.Box) []model.Box {
	var out []model.Box
	g.ForEachCell(box, func(cell []int64) bool {
		if part, ok := g.CellBox(cell).Intersect(box); ok {
			out = append(out, part)
		}
		return true
	})
	return out
}

// maxIndexedCells bounds the cell count of all dimensions but the open one
// so the open dimension keeps at least 256 distinct cell ids.
const maxIndexedCells = uint64(1) << 56

// CellIndex linearizes cell coordinates into uint64 ids. The open dimension,
// the first unlimited one or else dimension 0, is most significant and has
// no cell limit of its own. When further dimensions are unlimited, they and
// the open dimension split the id bits left over by the fixed dimensions
// evenly.
type CellIndex struct {
	// order lists dimensions from most to least significant.
	order   []int
	radix   []uint64
	openMax uint64
}

// NewCellIndex builds the index for a grid over a variable with the given
// declared shape and unlimited flags.
func NewCellIndex(g Grid, shape []int64, unlimited []bool) (CellIndex, error) {
	rank := g.Rank()
	if len(shape) != rank || len(unlimited) != rank {
		return CellIndex{}, fmt.Errorf("%w: rank mismatch", ErrInvalidShape)
	}
	if rank == 0 {
		return CellIndex{}, nil
	}

	open := 0
	if i := slices.Index(unlimited, true); i >= 0 {
		open = i
	}
	order := make([]int, 0, rank)
	order = append(order, open)
	for d := range rank {
		if d != open {
			order = append(order, d)
		}
	}

	radix := make([]uint64, rank)
	prod := uint64(1)
	var growing []int
	for _, d := range order[1:] {
		if unlimited[d] {
			growing = append(growing, d)
			continue
		}
		radix[d] = uint64(ceilDiv(max(shape[d], 1), g.chunk[d]))
		if prod > maxIndexedCells/radix[d] {
			return CellIndex{}, fmt.Errorf("%w: too many cells per slab of dimension %d", ErrInvalidShape, open)
		}
		prod *= radix[d]
	}
	if len(growing) > 0 {
		// The open dimension takes an equal share of the free id bits.
		free := 64 - bits.Len64(prod)
		share := free / (len(growing) + 1)
		if share == 0 {
			return CellIndex{}, fmt.Errorf("%w: no cell ids left for unlimited dimensions", ErrInvalidShape)
		}
		for _, d := range growing {
			radix[d] = uint64(1) << share
			prod *= radix[d]
		}
	}
	return CellIndex{order: order, radix: radix, openMax: math.MaxUint64 / prod}, nil
}

// ID returns the linear id of cell.
func (ix CellIndex) ID(cell []int64) (uint64, error) {
	if len(cell) != len(ix.radix) {
		return 0, fmt.Errorf("%w: rank %d", ErrCellRange, len(cell))
	}
	if len(cell) == 0 {
		return 0, nil
	}
	open := ix.order[0]
	if cell[open] < 0 || uint64(cell[open]) >= ix.openMax {
		return 0, fmt.Errorf("%w: %v", ErrCellRange, cell)
	}
	id := uint64(cell[open])
	for _, d := range ix.order[1:] {
		if cell[d] < 0 || uint64(cell[d]) >= ix.radix[d] {
			return 0, fmt.Errorf("%w: %v", ErrCellRange, cell)
		}
		id = id*ix.radix[d] + uint64(cell[d])
	}
	return id, nil
}
