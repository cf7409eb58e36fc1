package esdm

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/esdm/internal/catalog"
	"github.com/hupe1980/esdm/internal/layout"
	"github.com/hupe1980/esdm/model"
)

// Unlimited declares an appendable dimension in CreateDimension.
const Unlimited int64 = -1

// Dimension describes a dataset dimension. Extent is the current length;
// for an unlimited dimension it grows as data is appended.
type Dimension = catalog.Dimension

// ChunkHint describes the expected access pattern of a variable.
type ChunkHint = layout.Hint

// Chunk hints.
const (
	HintAuto       = layout.HintAuto
	HintBalanced   = layout.HintBalanced
	HintAppend     = layout.HintAppend
	HintContiguous = layout.HintContiguous
)

// Dataset is a handle to a named collection of dimensions and variables.
// Handles are cheap; all state lives in the instance catalog.
type Dataset struct {
	inst   *Instance
	id     string
	logger *Logger
}

// ID returns the dataset identifier.
func (d *Dataset) ID() string { return d.id }

// URI returns the dataset as an esdm:// URI.
func (d *Dataset) URI() string { return URIScheme + d.id }

// CreateDimension declares a dimension. Pass Unlimited as length for an
// appendable dimension.
func (d *Dataset) CreateDimension(ctx context.Context, name string, length int64) (Dimension, error) {
	if err := d.inst.checkOpen(); err != nil {
		return Dimension{}, err
	}
	unlimited := length == Unlimited
	if unlimited {
		length = 0
	}
	if err := d.inst.catalog.RegisterDimension(ctx, d.id, name, length, unlimited); err != nil {
		return Dimension{}, translateError(err)
	}
	d.logger.DebugContext(ctx, "dimension created", "name", name, "length", length, "unlimited", unlimited)
	dim, _ := d.Dimension(name)
	return dim, nil
}

// Dimension returns the named dimension with its current extent.
func (d *Dataset) Dimension(name string) (Dimension, error) {
	info, err := d.inst.catalog.Dataset(d.id)
	if err != nil {
		return Dimension{}, translateError(err)
	}
	dim, ok := info.Dimension(name)
	if !ok {
		return Dimension{}, fmt.Errorf("%w: dimension %q in %s", ErrNotFound, name, d.id)
	}
	return dim, nil
}

// Dimensions returns all dimensions in declaration order.
func (d *Dataset) Dimensions() ([]Dimension, error) {
	info, err := d.inst.catalog.Dataset(d.id)
	if err != nil {
		return nil, translateError(err)
	}
	return info.Dimensions, nil
}

type variableOptions struct {
	hint       layout.Hint
	chunkShape []int64
	fill       *model.Value
	attrs      model.Attributes
}

// VariableOption configures CreateVariable.
type VariableOption func(*variableOptions)

// WithChunkHint sets the access pattern the planner optimizes for.
func WithChunkHint(h ChunkHint) VariableOption {
	return func(o *variableOptions) { o.hint = h }
}

// WithChunkShape fixes the chunk shape instead of planning it at first write.
func WithChunkShape(shape ...int64) VariableOption {
	return func(o *variableOptions) { o.chunkShape = slices.Clone(shape) }
}

// WithFillValue makes reads return v for elements no write has covered,
// instead of failing with ErrIncompleteData.
func WithFillValue(v model.Value) VariableOption {
	return func(o *variableOptions) { o.fill = &v }
}

// WithAttributes sets initial variable attributes.
func WithAttributes(attrs model.Attributes) VariableOption {
	return func(o *variableOptions) { o.attrs = attrs.Clone() }
}

// CreateVariable declares a variable over the named dimensions, slowest
// varying first. A variable without dimensions is a scalar.
func (d *Dataset) CreateVariable(ctx context.Context, name string, dtype model.DType, dims []string, opts ...VariableOption) (*Variable, error) {
	if err := d.inst.checkOpen(); err != nil {
		return nil, err
	}
	var o variableOptions
	for _, fn := range opts {
		fn(&o)
	}

	spec := catalog.VariableSpec{
		Name:       name,
		DType:      dtype,
		Dims:       slices.Clone(dims),
		Attributes: o.attrs,
		Hint:       o.hint,
		ChunkShape: o.chunkShape,
	}
	if o.fill != nil {
		b, err := dtype.Encode(*o.fill)
		if err != nil {
			return nil, fmt.Errorf("%w: fill value: %v", ErrInvalidArgument, err)
		}
		spec.Fill = b
	}

	if err := d.inst.catalog.RegisterVariable(ctx, d.id, spec); err != nil {
		return nil, translateError(err)
	}
	d.logger.DebugContext(ctx, "variable created", "name", name, "dtype", dtype.String(), "dims", dims)
	return d.variable(name, dtype), nil
}

// Variable returns a handle to an existing variable.
func (d *Dataset) Variable(name string) (*Variable, error) {
	info, err := d.inst.catalog.Variable(d.id, name)
	if err != nil {
		return nil, translateError(err)
	}
	return d.variable(name, info.DType), nil
}

func (d *Dataset) variable(name string, dtype model.DType) *Variable {
	return &Variable{ds: d, name: name, dtype: dtype, logger: d.logger.WithVariable(name)}
}

// Variables returns the variable names in declaration order.
func (d *Dataset) Variables() ([]string, error) {
	info, err := d.inst.catalog.Dataset(d.id)
	if err != nil {
		return nil, translateError(err)
	}
	return info.Variables, nil
}

// SetAttribute sets a dataset-level attribute.
func (d *Dataset) SetAttribute(ctx context.Context, key string, val model.Value) error {
	if err := d.inst.checkOpen(); err != nil {
		return err
	}
	return translateError(d.inst.catalog.SetAttribute(ctx, d.id, "", key, val))
}

// Attribute returns a dataset-level attribute.
func (d *Dataset) Attribute(key string) (model.Value, error) {
	attrs, err := d.Attributes()
	if err != nil {
		return model.Value{}, err
	}
	v, ok := attrs[key]
	if !ok {
		return model.Value{}, fmt.Errorf("%w: attribute %q on %s", ErrNotFound, key, d.id)
	}
	return v, nil
}

// Attributes returns a copy of the dataset-level attributes.
func (d *Dataset) Attributes() (model.Attributes, error) {
	info, err := d.inst.catalog.Dataset(d.id)
	if err != nil {
		return nil, translateError(err)
	}
	return info.Attributes, nil
}

// Close flushes the catalog so that everything committed through this
// dataset is on stable storage. The handle stays usable.
func (d *Dataset) Close(ctx context.Context) error {
	if err := d.inst.checkOpen(); err != nil {
		return err
	}
	err := d.inst.catalog.Commit(ctx)
	d.logger.LogCommit(ctx, "flush", d.inst.catalog.LSN(), err)
	return translateError(err)
}
