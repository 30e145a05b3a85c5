//go:build linux

package chunk

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// preallocate sizes fd to size. fallocate reserves real blocks where
// supported, so ENOSPC surfaces here instead of mid-copy; filesystems
// without fallocate fall back to a plain truncate.
func preallocate(fd *os.File, size int64) error {
	err := unix.Fallocate(int(fd.Fd()), 0, 0, size)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ENOSPC) {
		return err
	}
	return fd.Truncate(size)
}
