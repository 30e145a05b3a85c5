// Package archive packs many small files into one sequential batch
// archive and unpacks it at the destination. The whole archive is written
// and synced before extraction reads it back as a second pass.
//
// Record format, big-endian, streamable front to back:
//
//	[4-byte path length][path bytes][8-byte payload length]
//	[8-byte xxhash64 of payload][payload bytes]
//
// preceded by a fixed header: magic "LCAR", version byte, flags byte.
// When the zstd flag is set, everything after the header is one zstd
// stream containing the records.
package archive

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	magic   = "LCAR"
	version = 1

	flagZstd = 1 << 0

	// MaxPathLen bounds the path-length field so a corrupt header cannot
	// drive a huge allocation.
	MaxPathLen = 64 * 1024

	// MaxPayloadLen rejects payload lengths with flipped high bits before
	// allocation. Far above any file the batch lane carries.
	MaxPayloadLen = 1 << 40
)

// CorruptError reports inconsistent framing or an unsafe path found while
// reading an archive. Unpack stops immediately on the first one.
type CorruptError struct {
	Offset int64 // record ordinal, not byte offset
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt archive at record %d: %s", e.Offset, e.Reason)
}

// Options controls packing behavior.
type Options struct {
	Compress bool // zstd-compress the record stream
}

// Pack reads each of paths (relative to root) and writes them as ordered
// records to archivePath. Files that vanish between enumeration and read
// are skipped with a warning. It returns the number of files packed and
// the number skipped. The archive is synced to disk before Pack returns.
func Pack(ctx context.Context, root string, paths []string, archivePath string, opts Options) (packed, skipped int, err error) {
	f, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, 0, fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)

	var flags byte
	if opts.Compress {
		flags |= flagZstd
	}
	header := append([]byte(magic), version, flags)
	if _, err := bw.Write(header); err != nil {
		return 0, 0, fmt.Errorf("write header: %w", err)
	}

	var w io.Writer = bw
	var enc *zstd.Encoder
	if opts.Compress {
		enc, err = zstd.NewWriter(bw,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return 0, 0, fmt.Errorf("zstd encoder: %w", err)
		}
		w = enc
	}

	for _, rel := range paths {
		select {
		case <-ctx.Done():
			return packed, skipped, ctx.Err()
		default:
		}

		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Warn("file vanished before packing", "path", rel)
				skipped++
				continue
			}
			return packed, skipped, fmt.Errorf("read %s: %w", rel, err)
		}

		if err := writeRecord(w, filepath.ToSlash(rel), data); err != nil {
			return packed, skipped, fmt.Errorf("write record %s: %w", rel, err)
		}
		packed++
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return packed, skipped, fmt.Errorf("close zstd stream: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return packed, skipped, fmt.Errorf("flush archive: %w", err)
	}

	// The unpack phase reads this file back; make sure it is durable first.
	if err := f.Sync(); err != nil {
		return packed, skipped, fmt.Errorf("sync archive: %w", err)
	}

	return packed, skipped, nil
}

// writeRecord frames one (path, payload) pair. Header and payload go
// through a single buffered writer, so no short-write handling is needed.
func writeRecord(w io.Writer, rel string, data []byte) error {
	var hdr [4 + 8 + 8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(rel)))
	binary.BigEndian.PutUint64(hdr[4:12], uint64(len(data)))
	binary.BigEndian.PutUint64(hdr[12:20], xxhash.Sum64(data))

	if _, err := w.Write(hdr[0:4]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, rel); err != nil {
		return err
	}
	if _, err := w.Write(hdr[4:20]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// Unpack reads archivePath sequentially and recreates each file under
// destRoot, creating intermediate directories as needed. It returns the
// number of files written. Any framing inconsistency, checksum mismatch,
// or path escaping destRoot aborts with a *CorruptError.
func Unpack(ctx context.Context, archivePath, destRoot string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)

	var header [6]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return 0, &CorruptError{Reason: "short header"}
	}
	if string(header[:4]) != magic {
		return 0, &CorruptError{Reason: "bad magic"}
	}
	if header[4] != version {
		return 0, &CorruptError{Reason: fmt.Sprintf("unsupported version %d", header[4])}
	}

	var r io.Reader = br
	if header[5]&flagZstd != 0 {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return 0, fmt.Errorf("zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		rel, data, err := readRecord(r, int64(count))
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		target, err := secureJoin(destRoot, rel)
		if err != nil {
			return count, &CorruptError{Offset: int64(count), Reason: err.Error()}
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return count, fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return count, fmt.Errorf("write %s: %w", rel, err)
		}
		count++
	}
}

// readRecord reads one framed record. A clean EOF at a record boundary is
// returned as io.EOF; anything truncated mid-record is corruption.
func readRecord(r io.Reader, ordinal int64) (string, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return "", nil, io.EOF
		}
		return "", nil, &CorruptError{Offset: ordinal, Reason: "truncated path length"}
	}

	pathLen := binary.BigEndian.Uint32(lenBuf[:])
	if pathLen == 0 || pathLen > MaxPathLen {
		return "", nil, &CorruptError{Offset: ordinal, Reason: fmt.Sprintf("path length %d out of range", pathLen)}
	}

	pathBuf := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBuf); err != nil {
		return "", nil, &CorruptError{Offset: ordinal, Reason: "truncated path"}
	}

	var payloadHdr [16]byte
	if _, err := io.ReadFull(r, payloadHdr[:]); err != nil {
		return "", nil, &CorruptError{Offset: ordinal, Reason: "truncated payload header"}
	}
	payloadLen := binary.BigEndian.Uint64(payloadHdr[0:8])
	wantSum := binary.BigEndian.Uint64(payloadHdr[8:16])
	if payloadLen > MaxPayloadLen {
		return "", nil, &CorruptError{Offset: ordinal, Reason: fmt.Sprintf("payload length %d out of range", payloadLen)}
	}

	data := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", nil, &CorruptError{Offset: ordinal, Reason: "declared length exceeds available bytes"}
	}

	if xxhash.Sum64(data) != wantSum {
		return "", nil, &CorruptError{Offset: ordinal, Reason: "payload checksum mismatch"}
	}

	return string(pathBuf), data, nil
}

// secureJoin joins rel onto root, rejecting absolute paths and any
// traversal segment that would escape root.
func secureJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", errors.New("empty path")
	}
	rel = filepath.FromSlash(rel)
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %q", rel)
	}

	cleaned := filepath.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes destination root", rel)
	}

	return filepath.Join(root, cleaned), nil
}
