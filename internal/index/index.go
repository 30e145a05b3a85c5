// Package index implements the persistent change index: a SQLite-backed
// store of last-observed (size, mtime) per source path. It is the one
// shared resource mutated by concurrent scan workers; all writes funnel
// through an internal batch buffer guarded by a mutex.
package index

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// Entry is the stored metadata for one source path.
type Entry struct {
	Path      string
	Size      int64
	MtimeNano int64
}

// Index is a persistent path -> (size, mtime) store.
type Index struct {
	db   *sql.DB
	path string

	// Batch buffer for Upsert calls.
	mu      sync.Mutex
	batch   []Entry
	done    chan struct{}
	stopped bool
}

// Open opens (or creates) the index database at dbPath and binds it to the
// given source/destination pair. Reusing an index file against a different
// pair is an error.
func Open(dbPath, src, dst string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	ix := &Index{
		db:   db,
		path: dbPath,
		done: make(chan struct{}),
	}

	if err := ix.init(src, dst); err != nil {
		db.Close()
		return nil, err
	}

	// Start background batch flusher.
	go ix.flushLoop()

	return ix, nil
}

func (ix *Index) init(src, dst string) error {
	_, err := ix.db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			path  TEXT PRIMARY KEY,
			size  INTEGER NOT NULL,
			mtime INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS files_size ON files (size);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	// Validate or store src/dst roots. Both keys are written together, so
	// finding only one means the meta table is damaged; refuse to guess.
	var storedSrc, storedDst string
	errSrc := ix.db.QueryRow("SELECT value FROM meta WHERE key = 'src_root'").Scan(&storedSrc)
	errDst := ix.db.QueryRow("SELECT value FROM meta WHERE key = 'dst_root'").Scan(&storedDst)

	switch {
	case errSrc == nil && errDst == nil:
		if storedSrc != src || storedDst != dst {
			return fmt.Errorf("index roots mismatch: stored %s->%s, got %s->%s",
				storedSrc, storedDst, src, dst)
		}
	case errors.Is(errSrc, sql.ErrNoRows) && errors.Is(errDst, sql.ErrNoRows):
		_, err = ix.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('src_root', ?), ('dst_root', ?)", src, dst)
		if err != nil {
			return fmt.Errorf("store meta: %w", err)
		}
	default:
		return fmt.Errorf("index meta corrupt (src_root: %v, dst_root: %v)", errSrc, errDst)
	}

	return nil
}

// Lookup returns the stored entry for path, if present. Entries buffered by
// Upsert but not yet flushed are not visible; call Flush first when a
// read-your-writes view is needed.
func (ix *Index) Lookup(path string) (Entry, bool, error) {
	e := Entry{Path: path}
	err := ix.db.QueryRow(
		"SELECT size, mtime FROM files WHERE path = ?", path,
	).Scan(&e.Size, &e.MtimeNano)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup %s: %w", path, err)
	}
	return e, true, nil
}

// Changed reports whether path is new or differs from its stored entry.
func (ix *Index) Changed(path string, size, mtimeNano int64) (bool, error) {
	e, ok, err := ix.Lookup(path)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return e.Size != size || e.MtimeNano != mtimeNano, nil
}

// Upsert records (size, mtime) for path, replacing any existing entry.
// Writes are batched and flushed periodically; safe for concurrent use.
func (ix *Index) Upsert(path string, size, mtimeNano int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.batch = append(ix.batch, Entry{Path: path, Size: size, MtimeNano: mtimeNano})

	if len(ix.batch) >= 100 {
		return ix.flushLocked()
	}
	return nil
}

// Flush writes any pending batch entries to the database.
func (ix *Index) Flush() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.flushLocked()
}

func (ix *Index) flushLocked() error {
	if len(ix.batch) == 0 {
		return nil
	}

	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO files (path, size, mtime) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range ix.batch {
		if _, err := stmt.Exec(e.Path, e.Size, e.MtimeNano); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	ix.batch = ix.batch[:0]
	return nil
}

func (ix *Index) flushLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ix.done:
			return
		case <-ticker.C:
			ix.mu.Lock()
			_ = ix.flushLocked()
			ix.mu.Unlock()
		}
	}
}

// SizeQuery is a lazy, single-use cursor over paths matched by LargerThan.
type SizeQuery struct {
	rows *sql.Rows
	path string
	err  error
}

// LargerThan returns a cursor over all indexed paths whose stored size is
// at least min. Flush before calling to include entries from the current run.
func (ix *Index) LargerThan(min int64) (*SizeQuery, error) {
	rows, err := ix.db.Query("SELECT path FROM files WHERE size >= ?", min)
	if err != nil {
		return nil, fmt.Errorf("size query: %w", err)
	}
	return &SizeQuery{rows: rows}, nil
}

// Next advances the cursor. It returns false when the sequence is
// exhausted or a storage error occurred; check Err after the loop.
func (q *SizeQuery) Next() bool {
	if !q.rows.Next() {
		q.err = q.rows.Err()
		return false
	}
	if err := q.rows.Scan(&q.path); err != nil {
		q.err = err
		return false
	}
	return true
}

// Path returns the path at the current cursor position.
func (q *SizeQuery) Path() string { return q.path }

// Err returns the first error encountered during iteration.
func (q *SizeQuery) Err() error { return q.err }

// Close releases the cursor.
func (q *SizeQuery) Close() error { return q.rows.Close() }

// Forget removes the entry for path, forcing it to classify as changed on
// the next run. Pending upserts for the path are flushed first so the
// delete cannot be overwritten by a later flush.
func (ix *Index) Forget(path string) error {
	if err := ix.Flush(); err != nil {
		return err
	}
	if _, err := ix.db.Exec("DELETE FROM files WHERE path = ?", path); err != nil {
		return fmt.Errorf("forget %s: %w", path, err)
	}
	return nil
}

// Prune deletes entries whose path no longer satisfies exists. It returns
// the number of entries removed. Pending upserts are flushed first.
func (ix *Index) Prune(exists func(path string) bool) (int, error) {
	if err := ix.Flush(); err != nil {
		return 0, err
	}

	rows, err := ix.db.Query("SELECT path FROM files")
	if err != nil {
		return 0, fmt.Errorf("list paths: %w", err)
	}

	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		if !exists(p) {
			stale = append(stale, p)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, p := range stale {
		if _, err := ix.db.Exec("DELETE FROM files WHERE path = ?", p); err != nil {
			return 0, fmt.Errorf("delete %s: %w", p, err)
		}
	}

	return len(stale), nil
}

// Close flushes any pending writes and closes the database.
func (ix *Index) Close() error {
	ix.mu.Lock()
	if !ix.stopped {
		ix.stopped = true
		close(ix.done)
	}
	_ = ix.flushLocked()
	ix.mu.Unlock()
	return ix.db.Close()
}

// Path returns the path to the index database file.
func (ix *Index) Path() string { return ix.path }

// DefaultPath returns the default index location for a source/destination
// pair: $XDG_STATE_HOME/lanecopy/<job-id>.db, falling back to the user
// cache dir, then the system temp dir.
func DefaultPath(src, dst string) string {
	jobID := jobID(src, dst)
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "lanecopy", jobID+".db")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "lanecopy", jobID+".db")
	}
	return filepath.Join(os.TempDir(), "lanecopy-"+jobID+".db")
}

// jobID computes a deterministic ID from source and destination paths.
func jobID(src, dst string) string {
	h := blake3.New()
	h.Write([]byte(src))
	h.Write([]byte{0})
	h.Write([]byte(dst))
	digest := h.Sum(nil)
	return hex.EncodeToString(digest[:8])
}
