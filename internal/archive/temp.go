package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const tempPattern = ".lanecopy-*.batch"

// TempPath returns a fresh transient archive path under destRoot.
func TempPath(destRoot string) string {
	return filepath.Join(destRoot, fmt.Sprintf(".lanecopy-%s.batch", uuid.New().String()[:8]))
}

// RemoveStale deletes leftover archives from aborted runs under destRoot.
// A fresh run owns the destination's batch artifacts, so anything matching
// the transient pattern is safe to discard.
func RemoveStale(destRoot string) {
	matches, err := filepath.Glob(filepath.Join(destRoot, tempPattern))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			slog.Warn("could not remove stale archive", "path", m, "error", err)
		}
	}
}
