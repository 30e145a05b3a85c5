// Package engine orchestrates a sync run: index candidate paths, route
// changed files into the small-file batch lane or the large-file chunk
// lane by size, then unpack the batch at the destination.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lanecopy/lanecopy/internal/archive"
	"github.com/lanecopy/lanecopy/internal/chunk"
	"github.com/lanecopy/lanecopy/internal/event"
	"github.com/lanecopy/lanecopy/internal/index"
	"github.com/lanecopy/lanecopy/internal/stats"
)

// DefaultThreshold is the size boundary between the batch lane and the
// chunk lane.
const DefaultThreshold = 100 * 1024 * 1024 // 100 MiB

// Config describes a sync run.
type Config struct {
	Src         string
	Dst         string
	IndexPath   string // default: index.DefaultPath(Src, Dst)
	Threshold   int64  // default: DefaultThreshold
	Workers     int    // chunk workers per large file, default chunk.DefaultWorkers
	Concurrency int    // large files copied at once, default 2
	BWLimit     int64  // aggregate bytes/sec, 0 = unlimited
	Compress    bool   // zstd-compress the batch archive
	Verify      bool   // post-run checksum comparison
	DryRun      bool
	Source      ChangeSource // default: TreeSource walking Src
	Events      chan<- event.Event
	Stats       *stats.Collector
}

// Failure records one path that did not synchronize.
type Failure struct {
	Path string
	Err  error
}

// Result is the outcome of a sync run.
type Result struct {
	Stats    stats.Snapshot
	Failures []Failure
	Partial  bool  // some paths failed but the run completed
	Err      error // fatal error, run aborted
}

// Run executes a sync run, blocking until complete.
func Run(ctx context.Context, cfg Config) Result {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = chunk.DefaultWorkers
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = index.DefaultPath(cfg.Src, cfg.Dst)
	}

	srcInfo, err := os.Stat(cfg.Src)
	if err != nil {
		return Result{Err: fmt.Errorf("source: %w", err)}
	}
	if !srcInfo.IsDir() {
		return Result{Err: fmt.Errorf("source %s is not a directory", cfg.Src)}
	}
	if err := os.MkdirAll(cfg.Dst, 0o755); err != nil {
		return Result{Err: fmt.Errorf("create destination: %w", err)}
	}

	ix, err := index.Open(cfg.IndexPath, cfg.Src, cfg.Dst)
	if err != nil {
		return Result{Err: fmt.Errorf("open change index: %w", err)}
	}
	defer ix.Close()

	r := &run{cfg: cfg, ix: ix}
	return r.execute(ctx)
}

// ScanFailure is the Path reported for failures with no single file
// attached, such as directory enumeration errors.
const ScanFailure = "<scan>"

type run struct {
	cfg Config
	ix  *index.Index

	mu       sync.Mutex
	failures []Failure
	synced   map[string]bool
}

func (r *run) fail(path string, err error) {
	r.mu.Lock()
	r.failures = append(r.failures, Failure{Path: path, Err: err})
	r.mu.Unlock()
	r.cfg.Stats.AddFilesFailed(1)
	event.Emit(r.cfg.Events, event.Event{Type: event.FileFailed, Path: path, Error: err})
}

func (r *run) markSynced(rel string) {
	r.mu.Lock()
	r.synced[rel] = true
	r.mu.Unlock()
}

func (r *run) unmarkSynced(rel string) {
	r.mu.Lock()
	delete(r.synced, rel)
	r.mu.Unlock()
}

func (r *run) execute(ctx context.Context) Result {
	r.synced = make(map[string]bool)

	changed, small, large, err := r.indexPhase(ctx)

	// Indexing recorded every changed file before its sync was attempted.
	// Whatever path this run takes from here, an entry may only survive
	// for files whose new content actually reached the destination, or
	// the next run would skip them against stale destination state.
	if !r.cfg.DryRun {
		defer r.reconcileIndex(changed)
	}

	if err != nil {
		return r.result(err)
	}

	if r.cfg.DryRun {
		r.cfg.Stats.AddFilesArchived(int64(len(small)))
		r.cfg.Stats.AddFilesCopied(int64(len(large)))
		for _, f := range small {
			slog.Info("would archive", "path", f.rel, "size", f.size)
		}
		for _, f := range large {
			slog.Info("would copy", "path", f.rel, "size", f.size)
		}
		return r.result(nil)
	}

	// The batch lane and the chunk lane touch disjoint destination paths,
	// so packing proceeds concurrently with large-file copies. Unpacking
	// waits for the pack to fully complete.
	var (
		archivePath string
		packed      []classified
		packErr     error
		packWg      sync.WaitGroup
	)
	if len(small) > 0 {
		archive.RemoveStale(r.cfg.Dst)
		archivePath = archive.TempPath(r.cfg.Dst)
		packWg.Add(1)
		go func() {
			defer packWg.Done()
			packed, packErr = r.packPhase(ctx, small, archivePath)
		}()
	}

	copied := r.copyPhase(ctx, large)

	packWg.Wait()
	if packErr != nil {
		// The whole small set failed; large-file work already done stands.
		for _, f := range small {
			r.fail(f.rel, packErr)
		}
	}

	var unpacked []classified
	if packErr == nil && len(packed) > 0 {
		n, err := r.unpackPhase(ctx, archivePath)
		if err != nil {
			return r.result(fmt.Errorf("unpack archive: %w", err))
		}
		unpacked = packed
		for _, f := range unpacked {
			r.markSynced(f.rel)
		}
		slog.Debug("archive extracted", "files", n)
	}

	if r.cfg.Verify {
		r.verifyPhase(ctx, append(copied, unpacked...))
	}

	if err := ctx.Err(); err != nil {
		return r.result(err)
	}

	// Every routed file failing fails the run.
	if total := len(small) + len(large); total > 0 && len(copied)+len(unpacked) == 0 && len(r.failures) > 0 {
		return r.result(errors.New("all files failed to synchronize"))
	}

	return r.result(nil)
}

// classified is one changed file routed to a lane.
type classified struct {
	rel       string
	size      int64
	mtimeNano int64
}

// indexPhase enumerates candidates, refreshes the change index, and
// returns the changed set partitioned into small and large worklists.
// The changed map is returned even on error so the caller can reconcile
// entries already written.
func (r *run) indexPhase(ctx context.Context) (changed map[string]classified, small, large []classified, err error) {
	event.Emit(r.cfg.Events, event.Event{Type: event.IndexStarted})

	source := r.cfg.Source
	if source == nil {
		source = &TreeSource{Root: r.cfg.Src}
	}

	paths, srcErrs := source.Paths(ctx)

	// Drain enumeration errors alongside path consumption.
	var drainWg sync.WaitGroup
	drainWg.Add(1)
	go func() {
		defer drainWg.Done()
		for err := range srcErrs {
			slog.Warn("enumeration error", "error", err)
			r.fail(ScanFailure, err)
		}
	}()

	changed = make(map[string]classified)
	var changedBytes int64

	for rel := range paths {
		info, err := os.Stat(filepath.Join(r.cfg.Src, rel))
		if err != nil {
			slog.Warn("stat failed, skipping", "path", rel, "error", err)
			r.fail(rel, err)
			continue
		}

		size := info.Size()
		mtime := info.ModTime().UnixNano()
		r.cfg.Stats.AddFilesIndexed(1)

		isChanged, err := r.ix.Changed(rel, size, mtime)
		if err != nil {
			slog.Warn("index lookup failed", "path", rel, "error", err)
			r.fail(rel, err)
			continue
		}
		// A vanished destination copy forces a recopy even when the
		// source is unchanged.
		if !isChanged {
			if _, err := os.Lstat(filepath.Join(r.cfg.Dst, rel)); err != nil {
				isChanged = true
			}
		}

		// A dry run must leave the index untouched.
		if !r.cfg.DryRun {
			if err := r.ix.Upsert(rel, size, mtime); err != nil {
				slog.Warn("index update failed", "path", rel, "error", err)
				r.fail(rel, err)
				continue
			}
		}

		if !isChanged {
			r.cfg.Stats.AddFilesSkipped(1)
			event.Emit(r.cfg.Events, event.Event{Type: event.FileSkipped, Path: rel, Size: size})
			continue
		}

		changed[rel] = classified{rel: rel, size: size, mtimeNano: mtime}
		changedBytes += size
	}
	drainWg.Wait()

	if err := ctx.Err(); err != nil {
		return changed, nil, nil, err
	}

	if err := r.ix.Flush(); err != nil {
		// Recoverable: the entries land on the next flush or not at all;
		// the run is partial either way.
		slog.Warn("index flush failed", "error", err)
		r.fail(ScanFailure, err)
	}

	// A dry run left the index untouched, so partition by observed size.
	if r.cfg.DryRun {
		for _, c := range changed {
			if c.size >= r.cfg.Threshold {
				large = append(large, c)
			} else {
				small = append(small, c)
			}
		}
		r.cfg.Stats.SetTotals(int64(len(changed)), changedBytes)
		return changed, small, large, nil
	}

	// Retrieve the large worklist from the index, then everything changed
	// that is not large goes to the batch lane.
	q, err := r.ix.LargerThan(r.cfg.Threshold)
	if err != nil {
		return changed, nil, nil, fmt.Errorf("query large files: %w", err)
	}
	defer q.Close()

	largeSet := make(map[string]bool)
	for q.Next() {
		if c, ok := changed[q.Path()]; ok {
			large = append(large, c)
			largeSet[q.Path()] = true
		}
	}
	if err := q.Err(); err != nil {
		return changed, nil, nil, fmt.Errorf("query large files: %w", err)
	}

	for rel, c := range changed {
		if !largeSet[rel] {
			small = append(small, c)
		}
	}

	r.cfg.Stats.SetTotals(int64(len(changed)), changedBytes)
	event.Emit(r.cfg.Events, event.Event{
		Type:      event.IndexComplete,
		Total:     int64(len(changed)),
		TotalSize: changedBytes,
	})
	slog.Debug("indexing complete",
		"changed", len(changed), "small", len(small), "large", len(large))

	return changed, small, large, nil
}

// packPhase writes the small set into the batch archive. It returns the
// subset that actually made it into the archive.
func (r *run) packPhase(ctx context.Context, small []classified, archivePath string) ([]classified, error) {
	rels := make([]string, len(small))
	for i, f := range small {
		rels[i] = f.rel
	}

	packed, skipped, err := archive.Pack(ctx, r.cfg.Src, rels, archivePath, archive.Options{
		Compress: r.cfg.Compress,
	})
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		// Vanished files are not failures; drop them from the packed set.
		kept := small[:0:0]
		for _, f := range small {
			if _, statErr := os.Stat(filepath.Join(r.cfg.Src, f.rel)); statErr == nil {
				kept = append(kept, f)
			}
		}
		small = kept
	}

	for _, f := range small {
		r.cfg.Stats.AddFilesArchived(1)
		r.cfg.Stats.AddBytesCopied(f.size)
		event.Emit(r.cfg.Events, event.Event{Type: event.FileArchived, Path: f.rel, Size: f.size})
	}
	event.Emit(r.cfg.Events, event.Event{Type: event.ArchivePacked, Total: int64(packed)})
	slog.Debug("archive packed", "files", packed, "skipped", skipped, "path", archivePath)

	return small, nil
}

// copyPhase copies the large set, Concurrency files at a time, each file
// split across Workers range copies. Returns the files copied successfully.
func (r *run) copyPhase(ctx context.Context, large []classified) []classified {
	if len(large) == 0 {
		return nil
	}

	var limiter *rate.Limiter
	if r.cfg.BWLimit > 0 {
		limiter = NewBWLimiter(r.cfg.BWLimit)
	}
	copier := &chunk.Copier{Workers: r.cfg.Workers, BWLimit: limiter}

	var mu sync.Mutex
	var copied []classified

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	for _, f := range large {
		f := f
		g.Go(func() error {
			// One file failing must not cancel its siblings; errors are
			// collected per file instead of returned.
			if err := ctx.Err(); err != nil {
				return nil
			}

			src := filepath.Join(r.cfg.Src, f.rel)
			dst := filepath.Join(r.cfg.Dst, f.rel)

			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				r.fail(f.rel, fmt.Errorf("create parent dir: %w", err))
				return nil
			}

			n, err := copier.Copy(ctx, src, dst)
			if err != nil {
				r.fail(f.rel, err)
				return nil
			}

			r.cfg.Stats.AddFilesCopied(1)
			r.cfg.Stats.AddBytesCopied(n)
			r.markSynced(f.rel)
			event.Emit(r.cfg.Events, event.Event{Type: event.FileCopied, Path: f.rel, Size: n})

			mu.Lock()
			copied = append(copied, f)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return copied
}

// unpackPhase extracts the batch archive into the destination root and
// removes the artifact. Failure here is fatal to the run.
func (r *run) unpackPhase(ctx context.Context, archivePath string) (int, error) {
	n, err := archive.Unpack(ctx, archivePath, r.cfg.Dst)
	if err != nil {
		return n, err
	}
	if err := os.Remove(archivePath); err != nil {
		slog.Warn("could not remove archive", "path", archivePath, "error", err)
	}
	event.Emit(r.cfg.Events, event.Event{Type: event.ArchiveUnpacked, Total: int64(n)})
	return n, nil
}

// reconcileIndex forgets every changed path whose new content did not
// reach the destination this run, whether it failed, was cancelled before
// its turn, or mismatched during verify. The next run reclassifies those
// paths as changed instead of skipping them against stale destination
// state.
func (r *run) reconcileIndex(changed map[string]classified) {
	r.mu.Lock()
	unsynced := make([]string, 0, len(changed))
	for rel := range changed {
		if !r.synced[rel] {
			unsynced = append(unsynced, rel)
		}
	}
	r.mu.Unlock()

	for _, rel := range unsynced {
		if err := r.ix.Forget(rel); err != nil {
			slog.Warn("could not reset index entry", "path", rel, "error", err)
		}
	}

	if err := r.ix.Flush(); err != nil {
		slog.Warn("index flush failed", "error", err)
	}
}

func (r *run) result(err error) Result {
	r.mu.Lock()
	failures := r.failures
	r.mu.Unlock()

	return Result{
		Stats:    r.cfg.Stats.Snapshot(),
		Failures: failures,
		Partial:  err == nil && len(failures) > 0,
		Err:      err,
	}
}
