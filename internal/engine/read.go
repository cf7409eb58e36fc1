package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/internal/cache"
	"github.com/hupe1980/esdm/internal/catalog"
	"github.com/hupe1980/esdm/internal/hash"
	"github.com/hupe1980/esdm/internal/layout"
	"github.com/hupe1980/esdm/model"
)

// ReadRequest reads Box of a variable.
type ReadRequest struct {
	Dataset  string
	Variable string
	Box      model.Box
}

// ReadResult holds the bytes of a read, row-major over the requested box.
type ReadResult struct {
	Data []byte
	// Filled lists the parts of the box that no chunk covers and that
	// were set to the variable's fill value.
	Filled []model.Box
	// Chunks is the number of committed chunks the read touched.
	Chunks int
}

// Read returns the bytes of a region. Parts of the region never written
// are set to the fill value, or fail the read with *IncompleteDataError
// when the variable has none.
func (e *Engine) Read(ctx context.Context, req ReadRequest) (ReadResult, error) {
	done, err := e.begin(ctx)
	if err != nil {
		return ReadResult{}, err
	}
	defer done()

	start := time.Now()
	res, err := e.read(ctx, req)
	e.metrics.RecordRead(int64(len(res.Data)), res.Chunks, time.Since(start), err)
	return res, err
}

func (e *Engine) read(ctx context.Context, req ReadRequest) (ReadResult, error) {
	info, err := e.catalog.Variable(req.Dataset, req.Variable)
	if err != nil {
		return ReadResult{}, err
	}
	box, err := model.NewBox(req.Box.Offset, req.Box.Shape)
	if err != nil {
		return ReadResult{}, fmt.Errorf("%w: %w", catalog.ErrInvalidArgument, err)
	}
	if box.Rank() != len(info.Shape) {
		return ReadResult{}, fmt.Errorf("%w: box rank %d for variable of rank %d", catalog.ErrInvalidArgument, box.Rank(), len(info.Shape))
	}
	for d := range box.Shape {
		if !info.Unlimited[d] && box.End(d) > info.Shape[d] {
			return ReadResult{}, fmt.Errorf("%w: %s exceeds dimension %s of length %d", catalog.ErrOutOfBounds, box, info.Dims[d], info.Shape[d])
		}
	}

	resolved, err := e.catalog.ResolveRegion(req.Dataset, req.Variable, box)
	if err != nil {
		return ReadResult{}, err
	}
	res := ReadResult{Chunks: len(resolved)}

	var covered int64
	overlaps := make([]model.Box, len(resolved))
	for i, r := range resolved {
		overlaps[i] = r.Overlap
		covered += r.Overlap.Volume()
	}

	elemSize := info.DType.Size()
	out := make([]byte, box.Volume()*int64(elemSize))
	if covered < box.Volume() {
		missing := model.SubtractAll(box, overlaps)
		if len(info.Fill) == 0 {
			return ReadResult{Chunks: len(resolved)}, &IncompleteDataError{Dataset: req.Dataset, Variable: req.Variable, Missing: missing}
		}
		for _, m := range missing {
			layout.Fill(out, box, m, info.Fill)
		}
		res.Filled = missing
	}
	if len(resolved) == 0 {
		res.Data = out
		return res, nil
	}

	profiles := e.Profiles(ctx)
	var (
		mu     sync.Mutex
		failed []model.Box
		causes []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallelIO)
	for _, r := range resolved {
		g.Go(func() error {
			data, err := e.fetch(gctx, r, elemSize, profiles)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				failed = append(failed, r.Overlap)
				causes = append(causes, ChunkError{Box: r.Box, Err: err})
				mu.Unlock()
				return nil
			}
			// Overlaps of distinct chunks are disjoint, so the copies never
			// touch the same bytes of out.
			layout.Copy(out, box, data, r.Box, r.Overlap, elemSize)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ReadResult{Chunks: len(resolved)}, fmt.Errorf("read %s/%s: %w", req.Dataset, req.Variable, err)
	}
	if len(failed) > 0 {
		return ReadResult{Chunks: len(resolved)}, &IncompleteDataError{
			Dataset:  req.Dataset,
			Variable: req.Variable,
			Missing:  failed,
			Cause:    errors.Join(causes...),
		}
	}
	res.Data = out
	return res, nil
}

// fetch returns the bytes of one chunk from the first replica that passes
// verification. Replicas are tried in scheduler order; the whole list is
// retried with backoff while failures look transient.
func (e *Engine) fetch(ctx context.Context, r catalog.Resolved, elemSize int, profiles []backend.Profile) ([]byte, error) {
	want := r.Box.Volume() * int64(elemSize)
	byBackend := make(map[string]catalog.Fragment, len(r.Fragments))
	names := make([]string, 0, len(r.Fragments))
	for _, f := range r.Fragments {
		byBackend[f.Backend] = f
		names = append(names, f.Backend)
	}
	order := e.cfg.Scheduler.Order(names, want, profiles)

	var errs []error
	for round := 0; round <= e.cfg.MaxGetRetries; round++ {
		if round > 0 {
			if err := sleep(ctx, e.backoff(round)); err != nil {
				return nil, err
			}
		}
		errs = errs[:0]
		retry := false
		for _, name := range order {
			f := byBackend[name]
			key := cache.CacheKey{Backend: name, Key: f.Key}
			if e.cache != nil {
				if b, ok := e.cache.Get(ctx, key); ok {
					return b, nil
				}
			}
			drv, ok := e.backends[name]
			if !ok {
				errs = append(errs, fmt.Errorf("backend %s: %w: not configured", name, backend.ErrBackendUnavailable))
				continue
			}

			start := time.Now()
			data, err := drv.Get(ctx, f.Key)
			if err == nil {
				err = verify(f, data, want)
			}
			e.metrics.RecordFragmentGet(name, int64(len(data)), time.Since(start), err)
			if err == nil {
				if e.cache != nil {
					e.cache.Set(ctx, key, data)
				}
				return data, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.logger.Warn("replica read failed", "backend", name, "key", f.Key, "round", round, "error", err)
			errs = append(errs, err)
			if backend.IsTransient(err) {
				retry = true
			}
		}
		if !retry {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func verify(f catalog.Fragment, data []byte, want int64) error {
	if int64(len(data)) != want || int64(len(data)) != f.Size {
		return fmt.Errorf("backend %s: %w: %s holds %d bytes, want %d", f.Backend, backend.ErrChecksumMismatch, f.Key, len(data), want)
	}
	if sum := hash.CRC32C(data); sum != f.Checksum {
		return fmt.Errorf("backend %s: %w: %s crc %08x, want %08x", f.Backend, backend.ErrChecksumMismatch, f.Key, sum, f.Checksum)
	}
	return nil
}
