package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/esdm/model"
)

var (
	// ErrWriteFailed is returned when at least one chunk of a write could
	// not be stored on any backend. Nothing was committed.
	ErrWriteFailed = errors.New("write failed")

	// ErrIncompleteData is returned when a read region is not fully covered
	// by committed chunks and the variable has no fill value, or when every
	// replica of a chunk failed.
	ErrIncompleteData = errors.New("incomplete data")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")
)

// ChunkError describes why one chunk of a write could not be stored.
type ChunkError struct {
	Box model.Box
	Err error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %s: %v", e.Box, e.Err)
}

func (e ChunkError) Unwrap() error { return e.Err }

// WriteFailedError lists the chunks that had no durable replica.
type WriteFailedError struct {
	Dataset  string
	Variable string
	Chunks   []ChunkError
}

func (e *WriteFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "write %s/%s failed: %d chunk(s)", e.Dataset, e.Variable, len(e.Chunks))
	for i, c := range e.Chunks {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Chunks)-i)
			break
		}
		b.WriteString("; ")
		b.WriteString(c.Error())
	}
	return b.String()
}

func (e *WriteFailedError) Is(target error) bool {
	return target == ErrWriteFailed
}

func (e *WriteFailedError) Unwrap() []error {
	errs := make([]error, len(e.Chunks))
	for i, c := range e.Chunks {
		errs[i] = c
	}
	return errs
}

// IncompleteDataError lists the parts of a read region that could not be
// served.
type IncompleteDataError struct {
	Dataset  string
	Variable string
	Missing  []model.Box
	// Cause is set when committed chunks could not be fetched.
	Cause error
}

func (e *IncompleteDataError) Error() string {
	msg := fmt.Sprintf("incomplete data in %s/%s: %d region(s) missing", e.Dataset, e.Variable, len(e.Missing))
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf(", first %s", e.Missing[0])
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *IncompleteDataError) Is(target error) bool {
	return target == ErrIncompleteData
}

func (e *IncompleteDataError) Unwrap() error { return e.Cause }
