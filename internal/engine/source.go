package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// ChangeSource yields candidate file paths under the source root. The
// default implementation walks the whole tree; a change-journal-backed
// source can be substituted without touching the orchestrator.
type ChangeSource interface {
	// Paths returns a channel of source-root-relative file paths and a
	// channel of per-path errors. Both close when enumeration finishes.
	Paths(ctx context.Context) (<-chan string, <-chan error)
}

// TreeSource enumerates every regular file under Root using a pool of
// directory-scan workers fed by a shared work queue.
type TreeSource struct {
	Root    string
	Workers int
}

// Paths starts the walk and returns its output channels. The caller must
// drain both until they close.
func (s *TreeSource) Paths(ctx context.Context) (<-chan string, <-chan error) {
	workers := s.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), 8)
	}

	paths := make(chan string, workers*4)
	errs := make(chan error, workers*4)

	go func() {
		defer close(paths)
		defer close(errs)
		s.scanTree(ctx, workers, paths, errs)
	}()

	return paths, errs
}

// scanTree runs the workers and a feeder loop. Workers never enqueue
// directly: discovered subdirectories go back to the feeder, which holds
// them in an unbounded pending list. A level with more subdirectories
// than queue capacity therefore cannot strand every worker on a full
// queue.
func (s *TreeSource) scanTree(ctx context.Context, workers int, paths chan<- string, errs chan<- error) {
	workQueue := make(chan string, workers)
	discovered := make(chan string, workers)
	done := make(chan struct{}, workers)

	var workerWg sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for dirPath := range workQueue {
				s.scanDir(ctx, dirPath, discovered, paths, errs)
				done <- struct{}{}
			}
		}()
	}

	// outstanding counts directories handed to a worker or still pending;
	// the walk is complete when it reaches zero.
	pending := []string{s.Root}
	outstanding := 1
	ctxDone := ctx.Done()

	for outstanding > 0 {
		var dispatch chan<- string
		var next string
		if len(pending) > 0 {
			dispatch = workQueue
			next = pending[0]
		}

		select {
		case dispatch <- next:
			pending = pending[1:]

		case dir := <-discovered:
			if ctxDone != nil {
				pending = append(pending, dir)
				outstanding++
			}

		case <-done:
			outstanding--

		case <-ctxDone:
			// Stop dispatching; directories already with a worker still
			// report done, so the loop drains rather than leaks.
			outstanding -= len(pending)
			pending = nil
			ctxDone = nil
		}
	}

	close(workQueue)
	workerWg.Wait()
}

func (s *TreeSource) scanDir(ctx context.Context, dirPath string, discovered chan<- string, paths chan<- string, errs chan<- error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		sendErr(errs, fmt.Errorf("readdir %s: %w", dirPath, err))
		return
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entryPath := filepath.Join(dirPath, entry.Name())

		switch {
		case entry.IsDir():
			select {
			case discovered <- entryPath:
			case <-ctx.Done():
				return
			}

		case entry.Type().IsRegular():
			rel, err := filepath.Rel(s.Root, entryPath)
			if err != nil {
				sendErr(errs, fmt.Errorf("rel path for %s: %w", entryPath, err))
				continue
			}
			select {
			case paths <- rel:
			case <-ctx.Done():
				return
			}

		default:
			// Symlinks and special files are not synchronized.
		}
	}
}

func sendErr(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}
