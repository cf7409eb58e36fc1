package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/internal/catalog"
	"github.com/hupe1980/esdm/internal/hash"
	"github.com/hupe1980/esdm/internal/layout"
	"github.com/hupe1980/esdm/internal/scheduler"
	"github.com/hupe1980/esdm/model"
)

// WriteState is the state of a write request.
type WriteState uint8

const (
	StatePlanning WriteState = iota
	StateDispatching
	StateAwaitingAck
	StatePartiallyFailed
	StateRetrying
	StateCommitting
	StateDone
	StateAborted
)

var writeStateNames = [...]string{
	StatePlanning:        "planning",
	StateDispatching:     "dispatching",
	StateAwaitingAck:     "awaiting-ack",
	StatePartiallyFailed: "partially-failed",
	StateRetrying:        "retrying",
	StateCommitting:      "committing",
	StateDone:            "done",
	StateAborted:         "aborted",
}

func (s WriteState) String() string {
	if int(s) < len(writeStateNames) {
		return writeStateNames[s]
	}
	return fmt.Sprintf("WriteState(%d)", uint8(s))
}

// Terminal reports whether no further transition follows s.
func (s WriteState) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// WriteRequest writes Data, laid out row-major over Box, into a variable.
type WriteRequest struct {
	Dataset  string
	Variable string
	Box      model.Box
	Data     []byte
}

// WriteResult summarizes a committed write.
type WriteResult struct {
	RequestID string
	Chunks    int
	Fragments int
	// Degraded counts chunks stored with fewer replicas than requested.
	Degraded int
}

func newRequestID() string { return uuid.NewString() }

// fragmentKey names the fragment of chunk i of one write request. Every
// replica and every retry of the chunk reuses the key.
func fragmentKey(dataset, variable, requestID string, i int) string {
	return fmt.Sprintf("%s/%s/%s-%d", dataset, variable, requestID, i)
}

type pendingChunk struct {
	box  model.Box
	data []byte
	key  string
}

// writeOp tracks one write request through its states.
type writeOp struct {
	e   *Engine
	id  string
	req WriteRequest

	mu     sync.Mutex
	state  WriteState
	stored []catalog.Fragment
}

func (op *writeOp) transition(s WriteState, attrs ...any) {
	op.mu.Lock()
	prev := op.state
	op.state = s
	op.mu.Unlock()

	if op.e.onState != nil {
		op.e.onState(op.id, s)
	}
	args := append([]any{"request", op.id, "from", prev.String(), "to", s.String()}, attrs...)
	op.e.logger.Debug("write state", args...)
}

// remember records a fragment that may exist on a backend.
func (op *writeOp) remember(f catalog.Fragment) {
	op.mu.Lock()
	op.stored = append(op.stored, f)
	op.mu.Unlock()
}

func (op *writeOp) fragments() []catalog.Fragment {
	op.mu.Lock()
	defer op.mu.Unlock()
	return append([]catalog.Fragment(nil), op.stored...)
}

// Write stores a region of a variable. On success every chunk of the region
// is committed with at least one replica. When the catalog rejects the
// commit or any step before it fails, every fragment stored by this request
// is deleted. When the commit fails with catalog.ErrCommitFailed the record
// may still be durable, so the fragments are kept.
func (e *Engine) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	done, err := e.begin(ctx)
	if err != nil {
		return WriteResult{}, err
	}
	defer done()

	start := time.Now()
	res, err := e.write(ctx, req)
	e.metrics.RecordWrite(int64(len(req.Data)), res.Chunks, time.Since(start), err)
	return res, err
}

func (e *Engine) write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	op := &writeOp{e: e, id: e.newID(), req: req}
	res := WriteResult{RequestID: op.id}

	op.transition(StatePlanning)
	chunks, err := e.plan(ctx, op)
	if err != nil {
		op.transition(StateAborted, "error", err)
		return res, err
	}
	res.Chunks = len(chunks)

	op.transition(StateDispatching, "chunks", len(chunks))
	placements, degraded, err := e.dispatch(ctx, op, chunks)
	if err != nil {
		e.abort(ctx, op, err)
		return res, err
	}

	op.transition(StateCommitting)
	start := time.Now()
	err = e.catalog.AppendFragments(ctx, req.Dataset, req.Variable, placements)
	e.metrics.RecordCommit(time.Since(start), err)
	if err != nil {
		if errors.Is(err, catalog.ErrCommitFailed) {
			e.keep(op, err)
		} else {
			e.abort(ctx, op, err)
		}
		return res, err
	}

	for _, p := range placements {
		res.Fragments += len(p.Fragments)
	}
	res.Degraded = degraded
	op.transition(StateDone, "fragments", res.Fragments)
	return res, nil
}

// abort deletes every fragment the request stored. It runs even if ctx is
// cancelled.
func (e *Engine) abort(ctx context.Context, op *writeOp, cause error) {
	frags := op.fragments()
	if err := e.deleteFragments(context.WithoutCancel(ctx), frags); err != nil {
		e.logger.Warn("write cleanup incomplete", "request", op.id, "error", err)
	}
	op.transition(StateAborted, "error", cause, "cleaned", len(frags))
}

// keep ends a write whose commit outcome is unknown. The journal may hold
// the record durably even though the commit reported failure, so the
// fragments stay on their backends. If the record was lost they are
// unreferenced garbage.
func (e *Engine) keep(op *writeOp, cause error) {
	frags := op.fragments()
	keys := make([]string, len(frags))
	for i, f := range frags {
		keys[i] = f.Backend + ":" + f.Key
	}
	e.logger.Warn("commit outcome unknown, fragments kept", "request", op.id, "fragments", keys, "error", cause)
	op.transition(StateAborted, "error", cause, "kept", len(frags))
}

// plan validates the request, fixes the chunk shape on the first write and
// splits the box along the chunk grid.
func (e *Engine) plan(ctx context.Context, op *writeOp) ([]pendingChunk, error) {
	req := op.req
	info, err := e.catalog.Variable(req.Dataset, req.Variable)
	if err != nil {
		return nil, err
	}
	box, err := model.NewBox(req.Box.Offset, req.Box.Shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", catalog.ErrInvalidArgument, err)
	}
	if box.Rank() != len(info.Shape) {
		return nil, fmt.Errorf("%w: box rank %d for variable of rank %d", catalog.ErrInvalidArgument, box.Rank(), len(info.Shape))
	}
	for d := range box.Shape {
		if !info.Unlimited[d] && box.End(d) > info.Shape[d] {
			return nil, fmt.Errorf("%w: %s exceeds dimension %s of length %d", catalog.ErrOutOfBounds, box, info.Dims[d], info.Shape[d])
		}
	}
	elemSize := info.DType.Size()
	if want := box.Volume() * int64(elemSize); int64(len(req.Data)) != want {
		return nil, fmt.Errorf("%w: %d bytes for %s of %s, want %d", catalog.ErrInvalidArgument, len(req.Data), box, info.DType, want)
	}

	chunk := info.ChunkShape
	if chunk == nil {
		planned, err := e.cfg.Planner.Plan(info.Shape, info.Unlimited, elemSize, info.Hint)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", catalog.ErrInvalidArgument, err)
		}
		if chunk, err = e.catalog.SetChunking(ctx, req.Dataset, req.Variable, planned); err != nil {
			return nil, err
		}
		e.logger.Debug("chunking fixed", "dataset", req.Dataset, "variable", req.Variable, "chunk", chunk)
	}
	grid, err := layout.NewGrid(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", catalog.ErrCorrupt, err)
	}

	parts := grid.Decompose(box)
	// Fail fast on overlaps; the commit checks again under the variable lock.
	if err := e.catalog.CheckConflicts(req.Dataset, req.Variable, parts); err != nil {
		return nil, err
	}

	chunks := make([]pendingChunk, len(parts))
	for i, p := range parts {
		data := req.Data
		if !p.Equal(box) {
			data = layout.Extract(req.Data, box, p, elemSize)
		}
		chunks[i] = pendingChunk{box: p, data: data, key: fragmentKey(req.Dataset, req.Variable, op.id, i)}
	}
	return chunks, nil
}

// dispatch stores every chunk and waits for all in-flight puts. It returns
// the placements to commit and the number of under-replicated chunks.
func (e *Engine) dispatch(ctx context.Context, op *writeOp, chunks []pendingChunk) ([]catalog.ChunkPlacement, int, error) {
	profiles := e.Profiles(ctx)

	var (
		placements = make([]catalog.ChunkPlacement, len(chunks))
		failures   = make([]error, len(chunks))
		degraded   int
		mu         sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallelIO)
	for i, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frags, err := e.putChunk(gctx, op, c, profiles)
			if err != nil {
				failures[i] = err
				return err
			}
			placements[i] = catalog.ChunkPlacement{Box: c.box, Fragments: frags}
			if len(frags) < e.cfg.ReplicationFactor {
				mu.Lock()
				degraded++
				mu.Unlock()
			}
			return nil
		})
	}
	op.transition(StateAwaitingAck)
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("write %s/%s: %w", op.req.Dataset, op.req.Variable, err)
	}

	var chunkErrs []ChunkError
	noCapacity := true
	for i, err := range failures {
		// Chunks stopped because a sibling failed are not failures of their own.
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		chunkErrs = append(chunkErrs, ChunkError{Box: chunks[i].box, Err: err})
		if !errors.Is(err, scheduler.ErrNoCapacity) {
			noCapacity = false
		}
	}
	if len(chunkErrs) == 0 {
		return placements, degraded, nil
	}
	if noCapacity {
		return nil, 0, fmt.Errorf("write %s/%s: %w", op.req.Dataset, op.req.Variable, chunkErrs[0].Err)
	}
	return nil, 0, &WriteFailedError{Dataset: op.req.Dataset, Variable: op.req.Variable, Chunks: chunkErrs}
}

// putChunk stores up to ReplicationFactor replicas of one chunk. Each
// attempt goes to the next candidate that neither holds a replica nor
// reported itself full.
func (e *Engine) putChunk(ctx context.Context, op *writeOp, c pendingChunk, profiles []backend.Profile) ([]catalog.Fragment, error) {
	size := int64(len(c.data))
	cands, err := e.cfg.Scheduler.Assign(c.box, size, profiles)
	if err != nil {
		return nil, err
	}
	want := min(e.cfg.ReplicationFactor, len(cands))
	checksum := hash.CRC32C(c.data)

	var (
		frags   []catalog.Fragment
		skip    = make(map[string]bool, len(cands))
		next    int
		lastErr error
	)
	for slot := 0; slot < want; slot++ {
		placed := false
		for attempt := 0; attempt <= e.cfg.MaxPutRetries; attempt++ {
			name, ok := pickCandidate(cands, &next, skip)
			if !ok {
				break
			}
			if attempt > 0 {
				op.transition(StateRetrying, "chunk", c.box.String(), "backend", name, "attempt", attempt)
				if backend.IsTransient(lastErr) {
					if err := sleep(ctx, e.backoff(attempt)); err != nil {
						return nil, err
					}
				}
			}

			frag := catalog.Fragment{Backend: name, Key: c.key, Checksum: checksum, Size: size}
			start := time.Now()
			got, err := e.backends[name].Put(ctx, c.key, c.data)
			if err == nil && got != checksum {
				err = fmt.Errorf("backend %s: %w: stored %08x, sent %08x", name, backend.ErrChecksumMismatch, got, checksum)
			}
			e.metrics.RecordFragmentPut(name, size, time.Since(start), err)

			if err == nil {
				op.remember(frag)
				frags = append(frags, frag)
				skip[name] = true
				placed = true
				if attempt > 0 {
					op.transition(StateAwaitingAck, "chunk", c.box.String(), "backend", name)
				}
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				// The put may have landed before it noticed the cancellation.
				op.remember(frag)
				return nil, ctxErr
			}
			if errors.Is(err, backend.ErrChecksumMismatch) {
				if derr := e.backends[name].Delete(context.WithoutCancel(ctx), c.key); derr != nil {
					e.logger.Warn("mismatched fragment left behind", "backend", name, "key", c.key, "error", derr)
				}
			}

			lastErr = err
			if errors.Is(err, backend.ErrBackendFull) {
				skip[name] = true
			}
			op.transition(StatePartiallyFailed, "chunk", c.box.String(), "backend", name, "error", err)
		}

		if placed {
			continue
		}
		if slot == 0 {
			if lastErr == nil || (errors.Is(lastErr, backend.ErrBackendFull) && allSkipped(cands, skip)) {
				return nil, fmt.Errorf("%w: %d bytes for chunk %s", scheduler.ErrNoCapacity, size, c.box)
			}
			return nil, fmt.Errorf("no replica stored: %w", lastErr)
		}
		e.logger.Warn("chunk under-replicated", "request", op.id, "chunk", c.box.String(),
			"replicas", len(frags), "want", want, "error", lastErr)
		break
	}
	return frags, nil
}

// pickCandidate returns the next candidate after *next that is not in skip,
// wrapping around the list.
func pickCandidate(cands []string, next *int, skip map[string]bool) (string, bool) {
	for i := range cands {
		j := (*next + i) % len(cands)
		if skip[cands[j]] {
			continue
		}
		*next = j + 1
		return cands[j], true
	}
	return "", false
}

func allSkipped(cands []string, skip map[string]bool) bool {
	for _, c := range cands {
		if !skip[c] {
			return false
		}
	}
	return true
}
