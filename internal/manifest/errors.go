package manifest

import "errors"

var (
	// ErrIncompatibleVersion is returned when the snapshot version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrNotFound is returned when no snapshot has been committed yet.
	ErrNotFound = errors.New("manifest not found")

	// ErrCorrupt is returned when a snapshot fails validation.
	ErrCorrupt = errors.New("corrupt manifest")
)
