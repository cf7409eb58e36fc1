package catalog

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/esdm/internal/layout"
	"github.com/hupe1980/esdm/model"
)

type chunk struct {
	cell uint64
	ChunkPlacement
}

type variable struct {
	ds   *dataset
	spec VariableSpec
	dims []*Dimension

	// Guards commits on this variable.
	mu sync.Mutex

	chunked  bool
	grid     layout.Grid
	index    layout.CellIndex
	occupied *roaring64.Bitmap
	cells    map[uint64][]*chunk
	chunks   []*chunk
	bytes    int64
	// hi is the max end per dimension over committed chunks.
	hi []int64
}

func newVariable(ds *dataset, spec VariableSpec, dims []*Dimension) (*variable, error) {
	v := &variable{
		ds:       ds,
		spec:     spec,
		dims:     dims,
		occupied: roaring64.New(),
		cells:    make(map[uint64][]*chunk),
	}
	if len(spec.ChunkShape) > 0 || len(dims) == 0 {
		if err := v.setChunking(spec.ChunkShape); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *variable) rank() int { return len(v.dims) }

func (v *variable) shape() []int64 {
	out := make([]int64, len(v.dims))
	for d, dim := range v.dims {
		out[d] = dim.Extent
	}
	return out
}

func (v *variable) unlimited() []bool {
	out := make([]bool, len(v.dims))
	for d, dim := range v.dims {
		out[d] = dim.Unlimited
	}
	return out
}

// gridFor validates chunk against the variable and builds its cell index.
func (v *variable) gridFor(chunk []int64) (layout.Grid, layout.CellIndex, error) {
	if chunk == nil {
		chunk = []int64{}
	}
	if err := layout.ValidateChunkShape(v.shape(), chunk); err != nil {
		return layout.Grid{}, layout.CellIndex{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	g, err := layout.NewGrid(chunk)
	if err != nil {
		return layout.Grid{}, layout.CellIndex{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	ix, err := layout.NewCellIndex(g, v.shape(), v.unlimited())
	if err != nil {
		return layout.Grid{}, layout.CellIndex{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return g, ix, nil
}

func (v *variable) setChunking(chunk []int64) error {
	g, ix, err := v.gridFor(chunk)
	if err != nil {
		return err
	}
	v.grid, v.index, v.chunked = g, ix, true
	v.spec.ChunkShape = g.ChunkShape()
	return nil
}

func (v *variable) conflict(box, existing model.Box) error {
	return &ConflictError{Dataset: v.ds.id, Variable: v.spec.Name, Box: box.Clone(), Existing: existing.Clone()}
}

// checkBox validates that box lies inside the declared bounds and one grid
// cell and returns the cell id.
func (v *variable) checkBox(box model.Box) (uint64, error) {
	if !v.chunked {
		return 0, fmt.Errorf("%w: chunk shape of %s not set", ErrInvalidArgument, v.spec.Name)
	}
	if _, err := model.NewBox(box.Offset, box.Shape); err != nil || box.Rank() != v.rank() {
		return 0, fmt.Errorf("%w: chunk box %v for rank %d", ErrInvalidArgument, box, v.rank())
	}
	for d, dim := range v.dims {
		if !dim.Unlimited && box.End(d) > dim.Extent {
			return 0, fmt.Errorf("%w: %s exceeds dimension %s of length %d", ErrOutOfBounds, box, dim.Name, dim.Extent)
		}
	}
	cell, ok := v.grid.CellOf(box)
	if !ok {
		return 0, fmt.Errorf("%w: %s spans several chunks of shape %v", ErrInvalidArgument, box, v.spec.ChunkShape)
	}
	id, err := v.index.ID(cell)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOutOfBounds, err)
	}
	return id, nil
}

// check validates a batch of boxes against the committed chunks and each
// other. It returns the cell id of every box.
func (v *variable) check(boxes []model.Box) ([]uint64, error) {
	ids := make([]uint64, len(boxes))
	for i, box := range boxes {
		id, err := v.checkBox(box)
		if err != nil {
			return nil, err
		}
		if v.occupied.Contains(id) {
			for _, c := range v.cells[id] {
				if c.Box.Overlaps(box) {
					return nil, v.conflict(box, c.Box)
				}
			}
		}
		for j := range i {
			if ids[j] == id && boxes[j].Overlaps(box) {
				return nil, v.conflict(box, boxes[j])
			}
		}
		ids[i] = id
	}
	return ids, nil
}

func checkFragments(p ChunkPlacement) error {
	if len(p.Fragments) == 0 {
		return fmt.Errorf("%w: chunk %s has no fragments", ErrInvalidArgument, p.Box)
	}
	for _, f := range p.Fragments {
		if f.Backend == "" || f.Key == "" {
			return fmt.Errorf("%w: chunk %s has an incomplete fragment", ErrInvalidArgument, p.Box)
		}
	}
	return nil
}

// insert adds validated placements and grows unlimited extents.
func (v *variable) insert(placements []ChunkPlacement) error {
	boxes := make([]model.Box, len(placements))
	for i, p := range placements {
		if err := checkFragments(p); err != nil {
			return err
		}
		boxes[i] = p.Box
	}
	ids, err := v.check(boxes)
	if err != nil {
		return err
	}

	if v.hi == nil {
		v.hi = make([]int64, v.rank())
	}
	for i, p := range placements {
		c := &chunk{cell: ids[i], ChunkPlacement: p}
		v.occupied.Add(c.cell)
		v.cells[c.cell] = append(v.cells[c.cell], c)
		v.chunks = append(v.chunks, c)
		if len(p.Fragments) > 0 {
			v.bytes += p.Fragments[0].Size
		}
		for d, dim := range v.dims {
			end := p.Box.End(d)
			v.hi[d] = max(v.hi[d], end)
			if dim.Unlimited && end > dim.Extent {
				dim.Extent = end
			}
		}
	}
	return nil
}

// resolve returns the committed chunks intersecting box in row-major cell
// order.
func (v *variable) resolve(box model.Box) []Resolved {
	if len(v.chunks) == 0 {
		return nil
	}
	written := model.Box{Offset: make([]int64, v.rank()), Shape: slices.Clone(v.hi)}
	q, ok := box.Intersect(written)
	if !ok {
		return nil
	}

	var out []Resolved
	visit := func(id uint64) {
		for _, c := range v.cells[id] {
			if ov, ok := c.Box.Intersect(q); ok {
				out = append(out, Resolved{Box: c.Box, Fragments: c.Fragments, Overlap: ov})
			}
		}
	}

	if cellCount(v.grid, q) <= v.occupied.GetCardinality() {
		v.grid.ForEachCell(q, func(cell []int64) bool {
			if id, err := v.index.ID(cell); err == nil && v.occupied.Contains(id) {
				visit(id)
			}
			return true
		})
		return out
	}

	it := v.occupied.Iterator()
	for it.HasNext() {
		visit(it.Next())
	}
	return out
}

// cellCount returns the number of grid cells box touches, saturating at
// MaxUint64.
func cellCount(g layout.Grid, box model.Box) uint64 {
	chunk := g.ChunkShape()
	n := uint64(1)
	for d := range chunk {
		k := uint64((box.End(d)-1)/chunk[d] - box.Offset[d]/chunk[d] + 1)
		if n > math.MaxUint64/k {
			return math.MaxUint64
		}
		n *= k
	}
	return n
}

func (v *variable) info() VariableInfo {
	return VariableInfo{
		Dataset:    v.ds.id,
		Name:       v.spec.Name,
		DType:      v.spec.DType,
		Dims:       slices.Clone(v.spec.Dims),
		Shape:      v.shape(),
		Unlimited:  v.unlimited(),
		ChunkShape: v.chunkShape(),
		Hint:       v.spec.Hint,
		Fill:       slices.Clone(v.spec.Fill),
		Attributes: v.spec.Attributes.Clone(),
		Chunks:     len(v.chunks),
		Bytes:      v.bytes,
	}
}

func (v *variable) chunkShape() []int64 {
	if !v.chunked {
		return nil
	}
	return v.grid.ChunkShape()
}

func (v *variable) state() VariableState {
	st := VariableState{VariableSpec: v.spec.clone()}
	st.ChunkShape = v.chunkShape()
	if len(v.chunks) > 0 {
		st.Chunks = make([]ChunkPlacement, len(v.chunks))
		for i, c := range v.chunks {
			// Committed boxes and fragment lists are never mutated.
			st.Chunks[i] = c.ChunkPlacement
		}
	}
	return st
}
