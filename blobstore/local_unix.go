//go:build unix

package blobstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// DiskUsage reports the total and available bytes of the file system
// holding the store. The root is created if it does not exist yet.
func (s *LocalStore) DiskUsage() (total, free uint64, err error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return 0, 0, err
	}
	var st unix.Statfs_t
	if err := unix.Statfs(s.root, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return uint64(st.Blocks) * bsize, uint64(st.Bavail) * bsize, nil
}
