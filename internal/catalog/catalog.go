package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/esdm/model"
)

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger. nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// Catalog is the metadata catalog.
type Catalog struct {
	journal Journal
	logger  *slog.Logger

	// Serializes dataset creation and deletion.
	dsMu sync.Mutex

	mu       sync.RWMutex
	datasets map[string]*dataset
	lsn      uint64

	closed atomic.Bool
}

func newCatalog(j Journal) *Catalog {
	return &Catalog{
		journal:  j,
		logger:   slog.New(slog.DiscardHandler),
		datasets: make(map[string]*dataset),
	}
}

// Open loads the catalog from j: the persisted state plus every record
// committed after it.
func Open(ctx context.Context, j Journal, opts ...Option) (*Catalog, error) {
	c := newCatalog(j)
	for _, opt := range opts {
		opt(c)
	}

	st, recs, err := j.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if err := c.load(st); err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if err := c.apply(rec); err != nil {
			return nil, fmt.Errorf("%w: replay %s at lsn %d: %v", ErrCorrupt, recordTypeName(rec.Type), rec.LSN, err)
		}
	}

	c.logger.Info("catalog: loaded", "datasets", len(c.datasets), "replayed", len(recs), "lsn", c.lsn)
	return c, nil
}

func (c *Catalog) load(st *State) error {
	if st == nil {
		return nil
	}
	c.lsn = max(c.lsn, st.LSN)
	for _, dss := range st.Datasets {
		if _, ok := c.datasets[dss.ID]; ok {
			return fmt.Errorf("%w: duplicate dataset %s", ErrCorrupt, dss.ID)
		}
		ds := newDataset(dss.ID)
		for k, v := range dss.Attributes {
			ds.attrs[k] = v
		}
		for _, dim := range dss.Dimensions {
			if err := ds.addDimension(dim); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
		}
		for _, vs := range dss.Variables {
			if err := ds.addVariable(vs.VariableSpec); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if err := ds.vars[vs.Name].insert(vs.Chunks); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
		}
		c.datasets[ds.id] = ds
	}
	return nil
}

// apply mutates the in-memory state. The caller holds mu or has exclusive
// access.
func (c *Catalog) apply(rec *Record) error {
	if rec.Type == RecordCreateDataset {
		if _, ok := c.datasets[rec.Dataset]; ok {
			return fmt.Errorf("%w: dataset %s", ErrExists, rec.Dataset)
		}
		c.datasets[rec.Dataset] = newDataset(rec.Dataset)
		c.lsn = max(c.lsn, rec.LSN)
		return nil
	}

	ds, ok := c.datasets[rec.Dataset]
	if !ok {
		return fmt.Errorf("%w: dataset %s", ErrNotFound, rec.Dataset)
	}

	var err error
	switch rec.Type {
	case RecordDeleteDataset:
		ds.deleted = true
		delete(c.datasets, rec.Dataset)
	case RecordCreateDimension:
		if rec.Dimension == nil {
			return fmt.Errorf("%w: dimension record without dimension", ErrCorrupt)
		}
		err = ds.addDimension(*rec.Dimension)
	case RecordCreateVariable:
		if rec.Spec == nil {
			return fmt.Errorf("%w: variable record without spec", ErrCorrupt)
		}
		err = ds.addVariable(rec.Spec.clone())
	case RecordSetAttribute:
		if rec.Value == nil {
			return fmt.Errorf("%w: attribute record without value", ErrCorrupt)
		}
		err = ds.setAttribute(rec.Variable, rec.Key, *rec.Value)
	case RecordSetChunking:
		var v *variable
		if v, err = ds.variable(rec.Variable); err == nil {
			if v.chunked {
				err = fmt.Errorf("%w: chunk shape of %s already set", ErrExists, rec.Variable)
			} else {
				err = v.setChunking(rec.ChunkShape)
			}
		}
	case RecordAppendFragments:
		var v *variable
		if v, err = ds.variable(rec.Variable); err == nil {
			err = v.insert(rec.Chunks)
		}
	default:
		err = fmt.Errorf("%w: unknown record type %d", ErrCorrupt, rec.Type)
	}
	if err != nil {
		return err
	}
	c.lsn = max(c.lsn, rec.LSN)
	return nil
}

// applyCommitted applies a record the journal has made durable.
func (c *Catalog) applyCommitted(rec *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.apply(rec); err != nil {
		c.logger.Error("catalog: durable record does not apply",
			"type", recordTypeName(rec.Type), "lsn", rec.LSN, "error", err)
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// export returns a copy of the committed state, with pending applied when
// it is not nil.
func (c *Catalog) export(pending *Record) (*State, error) {
	c.mu.RLock()
	st := c.state()
	c.mu.RUnlock()

	if pending == nil {
		return st, nil
	}
	scratch := newCatalog(nil)
	if err := scratch.load(st); err != nil {
		return nil, err
	}
	if err := scratch.apply(pending); err != nil {
		return nil, err
	}
	return scratch.state(), nil
}

func (c *Catalog) state() *State {
	st := &State{LSN: c.lsn, Datasets: make([]DatasetState, 0, len(c.datasets))}
	for _, id := range c.datasetIDs() {
		st.Datasets = append(st.Datasets, c.datasets[id].state())
	}
	return st
}

func (c *Catalog) datasetIDs() []string {
	ids := make([]string, 0, len(c.datasets))
	for id := range c.datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Catalog) commit(ctx context.Context, rec *Record) error {
	if err := c.journal.Commit(ctx, rec, c); err != nil {
		return err
	}
	c.logger.Debug("catalog: committed", "type", recordTypeName(rec.Type),
		"dataset", rec.Dataset, "variable", rec.Variable, "lsn", rec.LSN)
	return nil
}

func (c *Catalog) checkOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *Catalog) lookup(id string) (*dataset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s", ErrNotFound, id)
	}
	return ds, nil
}

// lockDataset acquires the schema gate of a dataset.
func (c *Catalog) lockDataset(id string, exclusive bool) (*dataset, func(), error) {
	if err := c.checkOpen(); err != nil {
		return nil, nil, err
	}
	ds, err := c.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	unlock := ds.gate.RUnlock
	if exclusive {
		ds.gate.Lock()
		unlock = ds.gate.Unlock
	} else {
		ds.gate.RLock()
	}

	c.mu.RLock()
	deleted := ds.deleted
	c.mu.RUnlock()
	if deleted {
		unlock()
		return nil, nil, fmt.Errorf("%w: dataset %s", ErrNotFound, id)
	}
	return ds, unlock, nil
}

// lockVariable acquires the commit mutex of a variable.
func (c *Catalog) lockVariable(dsID, name string) (*variable, func(), error) {
	ds, unlockDS, err := c.lockDataset(dsID, false)
	if err != nil {
		return nil, nil, err
	}
	c.mu.RLock()
	v, err := ds.variable(name)
	c.mu.RUnlock()
	if err != nil {
		unlockDS()
		return nil, nil, err
	}
	v.mu.Lock()
	return v, func() {
		v.mu.Unlock()
		unlockDS()
	}, nil
}

// RegisterDataset creates an empty dataset.
func (c *Catalog) RegisterDataset(ctx context.Context, id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := validDatasetID(id); err != nil {
		return err
	}

	c.dsMu.Lock()
	defer c.dsMu.Unlock()

	if _, err := c.lookup(id); err == nil {
		return fmt.Errorf("%w: dataset %s", ErrExists, id)
	}
	return c.commit(ctx, &Record{Type: RecordCreateDataset, Dataset: id})
}

// DeleteDataset removes a dataset and returns the fragments it referenced.
// The caller owns deleting them from their backends.
func (c *Catalog) DeleteDataset(ctx context.Context, id string) ([]Fragment, error) {
	c.dsMu.Lock()
	defer c.dsMu.Unlock()

	ds, unlock, err := c.lockDataset(id, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c.mu.RLock()
	frags := ds.fragments()
	c.mu.RUnlock()

	if err := c.commit(ctx, &Record{Type: RecordDeleteDataset, Dataset: id}); err != nil {
		return nil, err
	}
	return frags, nil
}

// RegisterDimension adds a dimension to a dataset. For an unlimited
// dimension length is the initial extent and may be zero.
func (c *Catalog) RegisterDimension(ctx context.Context, dsID, name string, length int64, unlimited bool) error {
	ds, unlock, err := c.lockDataset(dsID, true)
	if err != nil {
		return err
	}
	defer unlock()

	dim := Dimension{Name: name, Length: length, Unlimited: unlimited, Extent: length}
	c.mu.RLock()
	err = ds.checkDimension(dim)
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return c.commit(ctx, &Record{Type: RecordCreateDimension, Dataset: dsID, Dimension: &dim})
}

// RegisterVariable adds a variable to a dataset.
func (c *Catalog) RegisterVariable(ctx context.Context, dsID string, spec VariableSpec) error {
	ds, unlock, err := c.lockDataset(dsID, true)
	if err != nil {
		return err
	}
	defer unlock()

	spec = spec.clone()
	c.mu.RLock()
	_, err = ds.buildVariable(spec)
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return c.commit(ctx, &Record{Type: RecordCreateVariable, Dataset: dsID, Variable: spec.Name, Spec: &spec})
}

// SetAttribute sets an attribute on a variable, or on the dataset when
// varName is empty.
func (c *Catalog) SetAttribute(ctx context.Context, dsID, varName, key string, val model.Value) error {
	if err := checkAttribute(key, val); err != nil {
		return err
	}

	var unlock func()
	var err error
	if varName == "" {
		_, unlock, err = c.lockDataset(dsID, true)
	} else {
		_, unlock, err = c.lockVariable(dsID, varName)
	}
	if err != nil {
		return err
	}
	defer unlock()

	val = val.Clone()
	return c.commit(ctx, &Record{Type: RecordSetAttribute, Dataset: dsID, Variable: varName, Key: key, Value: &val})
}

// SetChunking fixes the chunk shape of a variable. The first call wins;
// later calls return the persisted shape unchanged.
func (c *Catalog) SetChunking(ctx context.Context, dsID, varName string, chunk []int64) ([]int64, error) {
	v, unlock, err := c.lockVariable(dsID, varName)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c.mu.RLock()
	if v.chunked {
		shape := v.chunkShape()
		c.mu.RUnlock()
		return shape, nil
	}
	_, _, err = v.gridFor(chunk)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	chunk = slices.Clone(chunk)
	if err := c.commit(ctx, &Record{Type: RecordSetChunking, Dataset: dsID, Variable: varName, ChunkShape: chunk}); err != nil {
		return nil, err
	}
	return slices.Clone(chunk), nil
}

// AppendFragments commits chunk placements atomically: all of them become
// visible or none does. A box overlapping a committed chunk or another box
// of the batch fails with a *ConflictError.
func (c *Catalog) AppendFragments(ctx context.Context, dsID, varName string, chunks []ChunkPlacement) error {
	if len(chunks) == 0 {
		return nil
	}
	v, unlock, err := c.lockVariable(dsID, varName)
	if err != nil {
		return err
	}
	defer unlock()

	boxes := make([]model.Box, len(chunks))
	for i, p := range chunks {
		if err := checkFragments(p); err != nil {
			return err
		}
		boxes[i] = p.Box
	}
	c.mu.RLock()
	_, err = v.check(boxes)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	placements := make([]ChunkPlacement, len(chunks))
	for i, p := range chunks {
		placements[i] = ChunkPlacement{Box: p.Box.Clone(), Fragments: slices.Clone(p.Fragments)}
	}
	return c.commit(ctx, &Record{Type: RecordAppendFragments, Dataset: dsID, Variable: varName, Chunks: placements})
}

// CheckConflicts reports whether boxes could be committed to a variable
// right now. It is advisory; AppendFragments re-checks under the commit
// lock.
func (c *Catalog) CheckConflicts(dsID, varName string, boxes []model.Box) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, err := c.variable(dsID, varName)
	if err != nil {
		return err
	}
	_, err = v.check(boxes)
	return err
}

// ResolveRegion returns every committed chunk intersecting box together with
// the overlap.
func (c *Catalog) ResolveRegion(dsID, varName string, box model.Box) ([]Resolved, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, err := c.variable(dsID, varName)
	if err != nil {
		return nil, err
	}
	if box.Rank() != v.rank() {
		return nil, fmt.Errorf("%w: box rank %d for variable of rank %d", ErrInvalidArgument, box.Rank(), v.rank())
	}
	return v.resolve(box), nil
}

func (c *Catalog) variable(dsID, name string) (*variable, error) {
	ds, ok := c.datasets[dsID]
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s", ErrNotFound, dsID)
	}
	return ds.variable(name)
}

// Dataset returns a view of a dataset.
func (c *Catalog) Dataset(id string) (DatasetInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.datasets[id]
	if !ok {
		return DatasetInfo{}, fmt.Errorf("%w: dataset %s", ErrNotFound, id)
	}
	return ds.info(), nil
}

// Variable returns a view of a variable.
func (c *Catalog) Variable(dsID, name string) (VariableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, err := c.variable(dsID, name)
	if err != nil {
		return VariableInfo{}, err
	}
	return v.info(), nil
}

// Datasets returns the sorted ids of all datasets.
func (c *Catalog) Datasets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.datasetIDs()
}

// LSN returns the sequence number of the last applied record.
func (c *Catalog) LSN() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lsn
}

// Commit flushes the journal to stable storage.
func (c *Catalog) Commit(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.journal.Sync(ctx)
}

// Compact folds the journal into a snapshot.
func (c *Catalog) Compact(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.journal.Compact(ctx, c)
}

// Close syncs and closes the journal.
func (c *Catalog) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	syncErr := c.journal.Sync(context.Background())
	if err := c.journal.Close(); err != nil {
		return err
	}
	return syncErr
}
