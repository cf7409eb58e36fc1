package esdm

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/esdm/internal/catalog"
	"github.com/hupe1980/esdm/internal/engine"
	"github.com/hupe1980/esdm/model"
)

// VariableInfo is a read-only view of a variable.
type VariableInfo = catalog.VariableInfo

// Variable is a handle to an n-dimensional array in a dataset. Data is
// exchanged as raw little-endian elements in row-major order.
type Variable struct {
	ds     *Dataset
	name   string
	dtype  model.DType
	logger *Logger
}

// Region is the result of ReadRegion.
type Region struct {
	Data []byte
	// Filled lists the boxes that were never written and hold the fill value.
	Filled []model.Box
}

// Name returns the variable name.
func (v *Variable) Name() string { return v.name }

// DType returns the element type.
func (v *Variable) DType() model.DType { return v.dtype }

// Info returns the current catalog view of the variable.
func (v *Variable) Info() (VariableInfo, error) {
	info, err := v.ds.inst.catalog.Variable(v.ds.id, v.name)
	return info, translateError(err)
}

// Dims returns the dimension names, slowest varying first.
func (v *Variable) Dims() ([]string, error) {
	info, err := v.Info()
	if err != nil {
		return nil, err
	}
	return info.Dims, nil
}

// Shape returns the current extents. Unlimited dimensions report the
// extent covered by committed writes.
func (v *Variable) Shape() ([]int64, error) {
	info, err := v.Info()
	if err != nil {
		return nil, err
	}
	return info.Shape, nil
}

// ChunkShape returns the chunk shape, or nil before the first write when
// none was fixed at creation.
func (v *Variable) ChunkShape() ([]int64, error) {
	info, err := v.Info()
	if err != nil {
		return nil, err
	}
	return info.ChunkShape, nil
}

func (v *Variable) box(offset, shape []int64) (model.Box, error) {
	if len(offset) != len(shape) {
		return model.Box{}, fmt.Errorf("%w: offset rank %d, shape rank %d", ErrInvalidArgument, len(offset), len(shape))
	}
	return model.Box{Offset: slices.Clone(offset), Shape: slices.Clone(shape)}, nil
}

// Write stores buf as the region at offset with the given shape. buf must
// hold exactly the region's elements. Either every chunk of the region is
// committed or none is.
func (v *Variable) Write(ctx context.Context, offset, shape []int64, buf []byte) error {
	if err := v.ds.inst.checkOpen(); err != nil {
		return err
	}
	b, err := v.box(offset, shape)
	if err != nil {
		return err
	}
	res, err := v.ds.inst.engine.Write(ctx, engine.WriteRequest{
		Dataset:  v.ds.id,
		Variable: v.name,
		Box:      b,
		Data:     buf,
	})
	v.logger.LogWrite(ctx, b, len(buf), err)
	if err != nil {
		return translateError(err)
	}
	if res.Degraded > 0 {
		v.logger.WarnContext(ctx, "write under-replicated", "region", b.String(), "chunks", res.Degraded)
	}
	return nil
}

// Read returns the region at offset with the given shape.
func (v *Variable) Read(ctx context.Context, offset, shape []int64) ([]byte, error) {
	r, err := v.ReadRegion(ctx, offset, shape)
	if err != nil {
		return nil, err
	}
	return r.Data, nil
}

// ReadRegion is Read that also reports which parts were filled with the
// fill value. A gap in a variable without fill value fails with an
// *IncompleteDataError matching ErrIncompleteData.
func (v *Variable) ReadRegion(ctx context.Context, offset, shape []int64) (Region, error) {
	if err := v.ds.inst.checkOpen(); err != nil {
		return Region{}, err
	}
	b, err := v.box(offset, shape)
	if err != nil {
		return Region{}, err
	}
	res, err := v.ds.inst.engine.Read(ctx, engine.ReadRequest{
		Dataset:  v.ds.id,
		Variable: v.name,
		Box:      b,
	})
	v.logger.LogRead(ctx, b, len(res.Filled), err)
	if err != nil {
		return Region{}, translateError(err)
	}
	return Region{Data: res.Data, Filled: res.Filled}, nil
}

// SetAttribute sets a variable attribute.
func (v *Variable) SetAttribute(ctx context.Context, key string, val model.Value) error {
	if err := v.ds.inst.checkOpen(); err != nil {
		return err
	}
	return translateError(v.ds.inst.catalog.SetAttribute(ctx, v.ds.id, v.name, key, val))
}

// Attribute returns a variable attribute.
func (v *Variable) Attribute(key string) (model.Value, error) {
	info, err := v.Info()
	if err != nil {
		return model.Value{}, err
	}
	val, ok := info.Attributes[key]
	if !ok {
		return model.Value{}, fmt.Errorf("%w: attribute %q on %s/%s", ErrNotFound, key, v.ds.id, v.name)
	}
	return val, nil
}
