package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/lanecopy/lanecopy/internal/event"
)

// verifyPhase compares BLAKE3 checksums of every file synchronized this
// run against its source, fanning out to Workers goroutines. Mismatches
// are recorded as failures.
func (r *run) verifyPhase(ctx context.Context, synced []classified) {
	if len(synced) == 0 {
		return
	}
	event.Emit(r.cfg.Events, event.Event{Type: event.VerifyStarted})

	taskCh := make(chan classified, r.cfg.Workers*2)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range taskCh {
				select {
				case <-ctx.Done():
					return
				default:
				}
				r.verifyFile(f)
			}
		}()
	}

	for _, f := range synced {
		select {
		case <-ctx.Done():
		case taskCh <- f:
		}
	}
	close(taskCh)
	wg.Wait()
}

func (r *run) verifyFile(f classified) {
	srcSum, err := fileDigest(filepath.Join(r.cfg.Src, f.rel))
	if err != nil {
		r.recordVerifyFailure(f.rel, err)
		return
	}

	dstSum, err := fileDigest(filepath.Join(r.cfg.Dst, f.rel))
	if err != nil {
		r.recordVerifyFailure(f.rel, err)
		return
	}

	if srcSum != dstSum {
		r.recordVerifyFailure(f.rel, fmt.Errorf("checksum mismatch: src %x dst %x", srcSum[:6], dstSum[:6]))
		return
	}

	r.cfg.Stats.AddFilesVerified(1)
	event.Emit(r.cfg.Events, event.Event{Type: event.VerifyOK, Path: f.rel})
}

// fileDigest re-reads one file and returns its BLAKE3 sum. The read
// buffer matches the copy lanes' 1 MiB stride, so verify touches the
// file in the same granularity the sync wrote it.
func fileDigest(path string) ([32]byte, error) {
	var sum [32]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return sum, fmt.Errorf("hash %s: %w", path, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

func (r *run) recordVerifyFailure(rel string, err error) {
	r.mu.Lock()
	r.failures = append(r.failures, Failure{Path: rel, Err: err})
	r.mu.Unlock()
	// The destination content is not trusted; drop the entry written on
	// copy success so the next run resynchronizes the file.
	r.unmarkSynced(rel)
	r.cfg.Stats.AddVerifyFailed(1)
	event.Emit(r.cfg.Events, event.Event{Type: event.VerifyFailed, Path: rel, Error: err})
}
