package catalog

import (
	"slices"

	"github.com/hupe1980/esdm/internal/layout"
	"github.com/hupe1980/esdm/model"
)

// Fragment locates one stored copy of a chunk.
type Fragment struct {
	Backend  string `json:"backend"`
	Key      string `json:"key"`
	Checksum uint32 `json:"crc"`
	// Size is the logical (uncompressed) size in bytes.
	Size int64 `json:"size"`
}

// ChunkPlacement is a chunk box with its fragments.
type ChunkPlacement struct {
	Box       model.Box  `json:"box"`
	Fragments []Fragment `json:"fragments"`
}

// Resolved pairs a committed chunk with its overlap with a requested box.
type Resolved struct {
	Box       model.Box
	Fragments []Fragment
	Overlap   model.Box
}

// Dimension describes a dataset dimension. For an unlimited dimension
// Length is the initial extent and Extent grows with committed chunks.
type Dimension struct {
	Name      string `json:"name"`
	Length    int64  `json:"length"`
	Unlimited bool   `json:"unlimited,omitempty"`
	Extent    int64  `json:"extent"`
}

// VariableSpec declares a variable.
type VariableSpec struct {
	Name       string           `json:"name"`
	DType      model.DType      `json:"dtype"`
	Dims       []string         `json:"dims"`
	Attributes model.Attributes `json:"attributes,omitempty"`
	Hint       layout.Hint      `json:"hint,omitempty"`
	// ChunkShape fixes the chunk shape at creation. Empty means the shape
	// is planned at first write.
	ChunkShape []int64 `json:"chunk_shape,omitempty"`
	// Fill is the encoded fill value; empty means none.
	Fill []byte `json:"fill,omitempty"`
}

func (s VariableSpec) clone() VariableSpec {
	s.Dims = slices.Clone(s.Dims)
	s.Attributes = s.Attributes.Clone()
	s.ChunkShape = slices.Clone(s.ChunkShape)
	s.Fill = slices.Clone(s.Fill)
	return s
}

// VariableState is the persisted form of a variable.
type VariableState struct {
	VariableSpec
	Chunks []ChunkPlacement `json:"chunks,omitempty"`
}

// DatasetState is the persisted form of a dataset.
type DatasetState struct {
	ID         string           `json:"id"`
	Dimensions []Dimension      `json:"dimensions,omitempty"`
	Variables  []VariableState  `json:"variables,omitempty"`
	Attributes model.Attributes `json:"attributes,omitempty"`
}

// State is a full catalog snapshot.
type State struct {
	// LSN is the sequence number of the last record folded into the state.
	LSN      uint64         `json:"lsn"`
	Datasets []DatasetState `json:"datasets"`
}

// DatasetInfo is a read-only view of a dataset.
type DatasetInfo struct {
	ID         string
	Dimensions []Dimension
	Variables  []string
	Attributes model.Attributes
}

// Dimension returns the named dimension.
func (d DatasetInfo) Dimension(name string) (Dimension, bool) {
	for _, dim := range d.Dimensions {
		if dim.Name == name {
			return dim, true
		}
	}
	return Dimension{}, false
}

// VariableInfo is a read-only view of a variable.
type VariableInfo struct {
	Dataset    string
	Name       string
	DType      model.DType
	Dims       []string
	Shape      []int64 // current extents
	Unlimited  []bool
	ChunkShape []int64 // nil until chunking is set
	Hint       layout.Hint
	Fill       []byte
	Attributes model.Attributes
	Chunks     int
	Bytes      int64
}

// Box returns the box covering the current extent.
func (v VariableInfo) Box() model.Box {
	return model.Box{Offset: make([]int64, len(v.Shape)), Shape: slices.Clone(v.Shape)}
}
