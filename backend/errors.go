package backend

import "errors"

var (
	// ErrBackendUnavailable is a transient failure; callers retry elsewhere.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendFull is returned when a put would exceed the backend capacity.
	ErrBackendFull = errors.New("backend full")
	// ErrNotFound is returned by Get for unknown keys.
	ErrNotFound = errors.New("fragment not found")
	// ErrChecksumMismatch is returned when fragment bytes fail verification.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrClosed is returned by operations on a closed driver.
	ErrClosed = errors.New("backend closed")
	// ErrInvalidConfig is returned for malformed backend configuration.
	ErrInvalidConfig = errors.New("invalid backend config")
)

// IsTransient reports whether err is worth retrying on another attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrChecksumMismatch)
}
