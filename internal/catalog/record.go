package catalog

import (
	"fmt"

	"github.com/hupe1980/esdm/codec"
	"github.com/hupe1980/esdm/internal/wal"
	"github.com/hupe1980/esdm/model"
)

// Record types. The values are persisted in the log; do not reorder.
const (
	RecordCreateDataset wal.RecordType = iota + 1
	RecordDeleteDataset
	RecordCreateDimension
	RecordCreateVariable
	RecordSetAttribute
	RecordSetChunking
	RecordAppendFragments
)

// Record is one catalog mutation. LSN is the commit sequence number
// assigned by the journal; replay applies records in increasing LSN order.
type Record struct {
	LSN  uint64         `json:"-"`
	Type wal.RecordType `json:"-"`

	Dataset    string           `json:"dataset"`
	Variable   string           `json:"variable,omitempty"`
	Dimension  *Dimension       `json:"dimension,omitempty"`
	Spec       *VariableSpec    `json:"spec,omitempty"`
	Key        string           `json:"key,omitempty"`
	Value      *model.Value     `json:"value,omitempty"`
	ChunkShape []int64          `json:"chunk_shape,omitempty"`
	Chunks     []ChunkPlacement `json:"chunks,omitempty"`
}

func recordTypeName(t wal.RecordType) string {
	switch t {
	case RecordCreateDataset:
		return "create-dataset"
	case RecordDeleteDataset:
		return "delete-dataset"
	case RecordCreateDimension:
		return "create-dimension"
	case RecordCreateVariable:
		return "create-variable"
	case RecordSetAttribute:
		return "set-attribute"
	case RecordSetChunking:
		return "set-chunking"
	case RecordAppendFragments:
		return "append-fragments"
	default:
		return fmt.Sprintf("record(%d)", t)
	}
}

func encodeRecord(c codec.Codec, rec *Record) (*wal.Record, error) {
	payload, err := c.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", recordTypeName(rec.Type), err)
	}
	return &wal.Record{Type: rec.Type, Payload: payload}, nil
}

func decodeRecord(c codec.Codec, wr *wal.Record) (*Record, error) {
	rec := &Record{}
	if err := c.Unmarshal(wr.Payload, rec); err != nil {
		return nil, fmt.Errorf("%w: decode record %d: %v", ErrCorrupt, wr.LSN, err)
	}
	rec.LSN = wr.LSN
	rec.Type = wr.Type
	return rec, nil
}
