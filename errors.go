package esdm

import (
	"errors"
	"fmt"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/internal/catalog"
	"github.com/hupe1980/esdm/internal/engine"
	"github.com/hupe1980/esdm/internal/layout"
	"github.com/hupe1980/esdm/internal/scheduler"
	"github.com/hupe1980/esdm/model"
)

var (
	// ErrNotFound is returned for unknown datasets, dimensions and variables.
	ErrNotFound = catalog.ErrNotFound
	// ErrExists is returned when creating something that already exists.
	ErrExists = catalog.ErrExists
	// ErrInvalidArgument is returned for malformed names, boxes and buffers.
	ErrInvalidArgument = catalog.ErrInvalidArgument
	// ErrOutOfBounds is returned when a region exceeds a fixed dimension.
	ErrOutOfBounds = catalog.ErrOutOfBounds
	// ErrConflict is returned when a write overlaps committed data.
	ErrConflict = catalog.ErrConflict
	// ErrCommitFailed is returned when the catalog could not persist a change.
	ErrCommitFailed = catalog.ErrCommitFailed
	// ErrCorrupt is returned when persisted metadata cannot be decoded.
	ErrCorrupt = catalog.ErrCorrupt

	ErrBackendUnavailable = backend.ErrBackendUnavailable
	ErrBackendFull        = backend.ErrBackendFull
	ErrChecksumMismatch   = backend.ErrChecksumMismatch

	// ErrNoCapacity is returned when no backend can hold a chunk.
	ErrNoCapacity = scheduler.ErrNoCapacity
	// ErrWriteFailed matches *WriteFailedError.
	ErrWriteFailed = engine.ErrWriteFailed
	// ErrIncompleteData matches *IncompleteDataError.
	ErrIncompleteData = engine.ErrIncompleteData

	// ErrClosed is returned by operations on a closed Instance.
	ErrClosed = errors.New("esdm: instance closed")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConflictError reports the committed box a write overlapped.
type ConflictError = catalog.ConflictError

// WriteFailedError lists the chunks of a write that had no durable replica.
type WriteFailedError = engine.WriteFailedError

// ChunkError is the failure of a single chunk.
type ChunkError = engine.ChunkError

// IncompleteDataError lists the parts of a read region that could not be
// served.
type IncompleteDataError = engine.IncompleteDataError

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrClosed) {
		return err
	}
	if errors.Is(err, catalog.ErrClosed) || errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	if errors.Is(err, ErrInvalidArgument) {
		return err
	}
	if errors.Is(err, model.ErrInvalidBox) ||
		errors.Is(err, model.ErrInvalidDType) ||
		errors.Is(err, layout.ErrInvalidShape) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return err
}
