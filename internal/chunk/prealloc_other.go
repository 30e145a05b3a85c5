//go:build !linux

package chunk

import "os"

// preallocate sizes fd to size via truncate (fallocate is Linux-only).
func preallocate(fd *os.File, size int64) error {
	return fd.Truncate(size)
}
