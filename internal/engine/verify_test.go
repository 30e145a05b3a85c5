package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDigest(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("same content"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same content"), 0o644))

	da, err := fileDigest(a)
	require.NoError(t, err)
	db, err := fileDigest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)

	require.NoError(t, os.WriteFile(b, []byte("different content"), 0o644))
	db, err = fileDigest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestFileDigestMissing(t *testing.T) {
	_, err := fileDigest(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
