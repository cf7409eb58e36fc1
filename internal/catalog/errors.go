package catalog

import (
	"errors"
	"fmt"

	"github.com/hupe1980/esdm/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrExists          = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOutOfBounds     = errors.New("out of bounds")
	ErrClosed          = errors.New("catalog closed")
	ErrCorrupt         = errors.New("catalog corrupt")

	// ErrConflict is returned when a chunk box overlaps a committed chunk
	// or another chunk of the same batch.
	ErrConflict = errors.New("chunk conflict")

	// ErrCommitFailed is returned when the journal could not confirm that a
	// record is durable. The in-memory state is unchanged, but the record may
	// still be replayed on the next open.
	ErrCommitFailed = errors.New("catalog commit failed")
)

// ConflictError reports a chunk box that overlaps an existing one.
type ConflictError struct {
	Dataset  string
	Variable string
	Box      model.Box
	Existing model.Box
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("chunk conflict in %s/%s: %s overlaps %s", e.Dataset, e.Variable, e.Box, e.Existing)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
