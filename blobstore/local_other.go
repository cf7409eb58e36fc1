//go:build !unix

package blobstore

import "errors"

// DiskUsage is not supported on this platform.
func (s *LocalStore) DiskUsage() (total, free uint64, err error) {
	return 0, 0, errors.ErrUnsupported
}
