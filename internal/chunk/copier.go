package chunk

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

const bufferSize = 1 << 20 // 1 MiB

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// DefaultWorkers is the per-file worker count used when none is configured.
const DefaultWorkers = 4

// CopyError reports a failed range copy. The destination file is left in
// place and must be treated as untrustworthy by the caller.
type CopyError struct {
	Path  string
	Range Range
	Err   error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("chunk copy %s [%d,%d): %v", e.Path, e.Range.Offset, e.Range.End(), e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// CapacityError reports a failure to pre-allocate the destination to the
// full source size.
type CapacityError struct {
	Path string
	Size int64
	Err  error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("preallocate %s to %d bytes: %v", e.Path, e.Size, e.Err)
}

func (e *CapacityError) Unwrap() error { return e.Err }

// Copier copies one file as concurrent range copies. Workers is the
// configured worker count; the tasks actually spawned are derived from it
// per call and never stored back.
type Copier struct {
	Workers int
	BWLimit *rate.Limiter // optional aggregate cap, shared across copies
}

// Copy copies src to dst, fully overwriting any existing destination.
// The destination is sized to the source before any worker writes; each
// worker then fills its own range through its own pair of descriptors.
// Copy returns the bytes written and the first range failure, if any.
func (c *Copier) Copy(ctx context.Context, src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", src, err)
	}
	size := info.Size()

	dstFd, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}

	if size == 0 {
		return 0, dstFd.Close()
	}

	if err := c.reserve(dstFd, dst, size); err != nil {
		dstFd.Close()
		return 0, err
	}
	if err := dstFd.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", dst, err)
	}

	ranges := Plan(size, c.Workers)

	g, ctx := errgroup.WithContext(ctx)
	written := make([]int64, len(ranges))
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			n, err := c.copyRange(ctx, src, dst, r)
			written[i] = n
			if err != nil {
				return &CopyError{Path: src, Range: r, Err: err}
			}
			return nil
		})
	}
	err = g.Wait()

	var total int64
	for _, n := range written {
		total += n
	}
	return total, err
}

// reserve grows the destination to the full source size before any worker
// writes, so concurrent pwrite calls never extend the file.
func (c *Copier) reserve(fd *os.File, path string, size int64) error {
	if err := preallocate(fd, size); err != nil {
		return &CapacityError{Path: path, Size: size, Err: err}
	}
	return nil
}

// copyRange copies one byte range through its own descriptor pair using
// positional reads and writes.
func (c *Copier) copyRange(ctx context.Context, src, dst string, r Range) (int64, error) {
	srcFd, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer srcFd.Close()

	dstFd, err := os.OpenFile(dst, os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}
	defer dstFd.Close()

	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp

	srcRawFd := int(srcFd.Fd())
	dstRawFd := int(dstFd.Fd())

	offset := r.Offset
	remaining := r.Length
	var totalWritten int64

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return totalWritten, ctx.Err()
		default:
		}

		toRead := int(remaining)
		if toRead > bufferSize {
			toRead = bufferSize
		}

		n, err := unix.Pread(srcRawFd, buf[:toRead], offset)
		if err != nil {
			return totalWritten, err
		}
		if n == 0 {
			return totalWritten, fmt.Errorf("unexpected EOF at offset %d", offset)
		}

		if c.BWLimit != nil {
			if err := c.BWLimit.WaitN(ctx, n); err != nil {
				return totalWritten, err
			}
		}

		writtenN := 0
		for writtenN < n {
			w, err := unix.Pwrite(dstRawFd, buf[writtenN:n], offset+int64(writtenN))
			if err != nil {
				return totalWritten + int64(writtenN), err
			}
			writtenN += w
		}

		offset += int64(n)
		remaining -= int64(n)
		totalWritten += int64(n)
	}

	return totalWritten, nil
}
