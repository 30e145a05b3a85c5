package archive

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for rel, data := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
}

func relPaths(files map[string][]byte) []string {
	paths := make([]string, 0, len(files))
	for rel := range files {
		paths = append(paths, rel)
	}
	return paths
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "raw"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			src := t.TempDir()
			dst := t.TempDir()

			files := map[string][]byte{
				"a.txt":              []byte("alpha"),
				"sub/b.txt":          []byte("beta content"),
				"sub/deep/empty.bin": {},
				"c.dat":              make([]byte, 70*1024),
			}
			writeTree(t, src, files)

			arc := filepath.Join(t.TempDir(), "batch")
			packed, skipped, err := Pack(context.Background(), src, relPaths(files), arc, Options{Compress: compress})
			require.NoError(t, err)
			assert.Equal(t, len(files), packed)
			assert.Zero(t, skipped)

			count, err := Unpack(context.Background(), arc, dst)
			require.NoError(t, err)
			assert.Equal(t, len(files), count)

			for rel, want := range files {
				got, err := os.ReadFile(filepath.Join(dst, rel))
				require.NoError(t, err)
				assert.Equal(t, want, got, rel)
			}
		})
	}
}

func TestPackSkipsVanished(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"here.txt": []byte("x")})

	arc := filepath.Join(t.TempDir(), "batch")
	packed, skipped, err := Pack(context.Background(), src, []string{"here.txt", "gone.txt"}, arc, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, packed)
	assert.Equal(t, 1, skipped)

	dst := t.TempDir()
	count, err := Unpack(context.Background(), arc, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPackOverwritesLeftover(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"f.txt": []byte("fresh")})

	arc := filepath.Join(t.TempDir(), "batch")
	require.NoError(t, os.WriteFile(arc, []byte("garbage from an aborted run"), 0o644))

	_, _, err := Pack(context.Background(), src, []string{"f.txt"}, arc, Options{})
	require.NoError(t, err)

	dst := t.TempDir()
	count, err := Unpack(context.Background(), arc, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnpackRejectsTraversal(t *testing.T) {
	arc := filepath.Join(t.TempDir(), "batch")
	writeRawArchive(t, arc, []rawRecord{{path: "../escape.txt", data: []byte("evil")}})

	dst := t.TempDir()
	_, err := Unpack(context.Background(), arc, dst)
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "escapes destination root")

	// Nothing may exist outside dst.
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dst), "escape.txt"))
}

func TestUnpackRejectsAbsolutePath(t *testing.T) {
	arc := filepath.Join(t.TempDir(), "batch")
	writeRawArchive(t, arc, []rawRecord{{path: "/etc/owned", data: []byte("evil")}})

	_, err := Unpack(context.Background(), arc, t.TempDir())
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
}

func TestUnpackRejectsNestedTraversal(t *testing.T) {
	arc := filepath.Join(t.TempDir(), "batch")
	writeRawArchive(t, arc, []rawRecord{{path: "sub/../../escape.txt", data: []byte("evil")}})

	_, err := Unpack(context.Background(), arc, t.TempDir())
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
}

func TestUnpackTruncatedPayload(t *testing.T) {
	arc := filepath.Join(t.TempDir(), "batch")
	writeRawArchive(t, arc, []rawRecord{{path: "a.txt", data: []byte("hello"), lieLength: 1 << 20}})

	_, err := Unpack(context.Background(), arc, t.TempDir())
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "declared length exceeds available bytes")
}

func TestUnpackChecksumMismatch(t *testing.T) {
	arc := filepath.Join(t.TempDir(), "batch")
	writeRawArchive(t, arc, []rawRecord{{path: "a.txt", data: []byte("hello"), corruptSum: true}})

	_, err := Unpack(context.Background(), arc, t.TempDir())
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "checksum mismatch")
}

func TestUnpackBadMagic(t *testing.T) {
	arc := filepath.Join(t.TempDir(), "batch")
	require.NoError(t, os.WriteFile(arc, []byte("NOPE\x01\x00"), 0o644))

	_, err := Unpack(context.Background(), arc, t.TempDir())
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "bad magic")
}

func TestUnpackStopsAtFirstCorruptRecord(t *testing.T) {
	arc := filepath.Join(t.TempDir(), "batch")
	writeRawArchive(t, arc, []rawRecord{
		{path: "ok.txt", data: []byte("fine")},
		{path: "../bad.txt", data: []byte("evil")},
		{path: "never.txt", data: []byte("unreached")},
	})

	dst := t.TempDir()
	count, err := Unpack(context.Background(), arc, dst)
	require.Error(t, err)
	assert.Equal(t, 1, count)
	assert.FileExists(t, filepath.Join(dst, "ok.txt"))
	assert.NoFileExists(t, filepath.Join(dst, "never.txt"))
}

func TestTempPathUnique(t *testing.T) {
	root := t.TempDir()
	a := TempPath(root)
	b := TempPath(root)
	assert.NotEqual(t, a, b)
	assert.Equal(t, root, filepath.Dir(a))
}

func TestRemoveStale(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, ".lanecopy-deadbeef.batch")
	keep := filepath.Join(root, "normal.txt")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(keep, []byte("y"), 0o644))

	RemoveStale(root)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, keep)
}

// rawRecord lets tests hand-build archives, including corrupt ones.
type rawRecord struct {
	path       string
	data       []byte
	lieLength  uint64 // if nonzero, written instead of the real length
	corruptSum bool
}

func writeRawArchive(t *testing.T, path string, records []rawRecord) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte{'L', 'C', 'A', 'R', version, 0})
	require.NoError(t, err)

	for _, rec := range records {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(rec.path)))
		_, err = f.Write(hdr[:])
		require.NoError(t, err)
		_, err = f.WriteString(rec.path)
		require.NoError(t, err)

		payloadLen := uint64(len(rec.data))
		if rec.lieLength != 0 {
			payloadLen = rec.lieLength
		}
		sum := xxhash.Sum64(rec.data)
		if rec.corruptSum {
			sum ^= 0xdead
		}

		var payloadHdr [16]byte
		binary.BigEndian.PutUint64(payloadHdr[0:8], payloadLen)
		binary.BigEndian.PutUint64(payloadHdr[8:16], sum)
		_, err = f.Write(payloadHdr[:])
		require.NoError(t, err)
		_, err = f.Write(rec.data)
		require.NoError(t, err)
	}
}
