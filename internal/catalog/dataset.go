package catalog

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/esdm/model"
)

type dataset struct {
	id string

	// Schema changes hold gate exclusively; variable commits hold it shared.
	gate sync.RWMutex

	// Guarded by Catalog.mu.
	deleted  bool
	dims     map[string]*Dimension
	dimOrder []string
	vars     map[string]*variable
	varOrder []string
	attrs    model.Attributes
}

func newDataset(id string) *dataset {
	return &dataset{
		id:    id,
		dims:  make(map[string]*Dimension),
		vars:  make(map[string]*variable),
		attrs: make(model.Attributes),
	}
}

func validName(kind, name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %s name %q", ErrInvalidArgument, kind, name)
	}
	return nil
}

func validDatasetID(id string) error {
	if id == "" || strings.HasPrefix(id, "/") || strings.HasSuffix(id, "/") || strings.Contains(id, "\x00") {
		return fmt.Errorf("%w: dataset id %q", ErrInvalidArgument, id)
	}
	for _, part := range strings.Split(id, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: dataset id %q", ErrInvalidArgument, id)
		}
	}
	return nil
}

func (ds *dataset) checkDimension(dim Dimension) error {
	if err := validName("dimension", dim.Name); err != nil {
		return err
	}
	if _, ok := ds.dims[dim.Name]; ok {
		return fmt.Errorf("%w: dimension %s in %s", ErrExists, dim.Name, ds.id)
	}
	if dim.Length < 0 || (!dim.Unlimited && dim.Length == 0) {
		return fmt.Errorf("%w: dimension %s length %d", ErrInvalidArgument, dim.Name, dim.Length)
	}
	return nil
}

func (ds *dataset) addDimension(dim Dimension) error {
	if err := ds.checkDimension(dim); err != nil {
		return err
	}
	d := dim
	d.Extent = max(d.Extent, d.Length)
	ds.dims[d.Name] = &d
	ds.dimOrder = append(ds.dimOrder, d.Name)
	return nil
}

// buildVariable validates spec and returns the variable without adding it.
func (ds *dataset) buildVariable(spec VariableSpec) (*variable, error) {
	if err := validName("variable", spec.Name); err != nil {
		return nil, err
	}
	if _, ok := ds.vars[spec.Name]; ok {
		return nil, fmt.Errorf("%w: variable %s in %s", ErrExists, spec.Name, ds.id)
	}
	if !spec.DType.Valid() {
		return nil, fmt.Errorf("%w: variable %s has type %v", ErrInvalidArgument, spec.Name, spec.DType)
	}
	dims := make([]*Dimension, len(spec.Dims))
	for i, name := range spec.Dims {
		d, ok := ds.dims[name]
		if !ok {
			return nil, fmt.Errorf("%w: dimension %s in %s", ErrNotFound, name, ds.id)
		}
		dims[i] = d
	}
	for key, val := range spec.Attributes {
		if err := checkAttribute(key, val); err != nil {
			return nil, err
		}
	}
	if len(spec.Fill) > 0 && len(spec.Fill) != spec.DType.Size() {
		return nil, fmt.Errorf("%w: fill value of %d bytes for %s", ErrInvalidArgument, len(spec.Fill), spec.DType)
	}
	return newVariable(ds, spec, dims)
}

func (ds *dataset) addVariable(spec VariableSpec) error {
	v, err := ds.buildVariable(spec)
	if err != nil {
		return err
	}
	ds.vars[spec.Name] = v
	ds.varOrder = append(ds.varOrder, spec.Name)
	return nil
}

func checkAttribute(key string, val model.Value) error {
	if key == "" {
		return fmt.Errorf("%w: empty attribute key", ErrInvalidArgument)
	}
	if !val.Valid() {
		return fmt.Errorf("%w: attribute %s has no value", ErrInvalidArgument, key)
	}
	return nil
}

func (ds *dataset) variable(name string) (*variable, error) {
	v, ok := ds.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: variable %s in %s", ErrNotFound, name, ds.id)
	}
	return v, nil
}

func (ds *dataset) setAttribute(varName, key string, val model.Value) error {
	if err := checkAttribute(key, val); err != nil {
		return err
	}
	if varName == "" {
		ds.attrs[key] = val.Clone()
		return nil
	}
	v, err := ds.variable(varName)
	if err != nil {
		return err
	}
	if v.spec.Attributes == nil {
		v.spec.Attributes = make(model.Attributes)
	}
	v.spec.Attributes[key] = val.Clone()
	return nil
}

func (ds *dataset) fragments() []Fragment {
	var out []Fragment
	for _, name := range ds.varOrder {
		for _, c := range ds.vars[name].chunks {
			out = append(out, c.Fragments...)
		}
	}
	return out
}

func (ds *dataset) info() DatasetInfo {
	info := DatasetInfo{
		ID:         ds.id,
		Dimensions: make([]Dimension, len(ds.dimOrder)),
		Variables:  slices.Clone(ds.varOrder),
		Attributes: ds.attrs.Clone(),
	}
	for i, name := range ds.dimOrder {
		info.Dimensions[i] = *ds.dims[name]
	}
	return info
}

func (ds *dataset) state() DatasetState {
	st := DatasetState{
		ID:         ds.id,
		Dimensions: make([]Dimension, len(ds.dimOrder)),
		Variables:  make([]VariableState, len(ds.varOrder)),
		Attributes: ds.attrs.Clone(),
	}
	for i, name := range ds.dimOrder {
		st.Dimensions[i] = *ds.dims[name]
	}
	for i, name := range ds.varOrder {
		st.Variables[i] = ds.vars[name].state()
	}
	return st
}
