package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks sync run statistics using lock-free atomic counters.
type Collector struct {
	filesIndexed  atomic.Int64
	filesSkipped  atomic.Int64
	filesArchived atomic.Int64
	filesCopied   atomic.Int64
	filesFailed   atomic.Int64
	bytesCopied   atomic.Int64
	bytesTotal    atomic.Int64
	filesTotal    atomic.Int64
	filesVerified atomic.Int64
	verifyFailed  atomic.Int64
	startTime     time.Time

	// Ring buffer — written only by the presenter's Tick(), not workers.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per second
	ringIdx    int
	ringCount  int // samples written so far (capped at ringSize)
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records indexing totals (called once when indexing completes).
func (c *Collector) SetTotals(files, bytes int64) {
	c.filesTotal.Store(files)
	c.bytesTotal.Store(bytes)
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesIndexed  int64
	FilesSkipped  int64
	FilesArchived int64
	FilesCopied   int64
	FilesFailed   int64
	BytesCopied   int64
	BytesTotal    int64
	FilesTotal    int64
	FilesVerified int64
	VerifyFailed  int64
	Elapsed       time.Duration
}

func (c *Collector) AddFilesIndexed(n int64)  { c.filesIndexed.Add(n) }
func (c *Collector) AddFilesSkipped(n int64)  { c.filesSkipped.Add(n) }
func (c *Collector) AddFilesArchived(n int64) { c.filesArchived.Add(n) }
func (c *Collector) AddFilesCopied(n int64)   { c.filesCopied.Add(n) }
func (c *Collector) AddFilesFailed(n int64)   { c.filesFailed.Add(n) }
func (c *Collector) AddBytesCopied(n int64)   { c.bytesCopied.Add(n) }
func (c *Collector) AddFilesVerified(n int64) { c.filesVerified.Add(n) }
func (c *Collector) AddVerifyFailed(n int64)  { c.verifyFailed.Add(n) }

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesIndexed:  c.filesIndexed.Load(),
		FilesSkipped:  c.filesSkipped.Load(),
		FilesArchived: c.filesArchived.Load(),
		FilesCopied:   c.filesCopied.Load(),
		FilesFailed:   c.filesFailed.Load(),
		BytesCopied:   c.bytesCopied.Load(),
		BytesTotal:    c.bytesTotal.Load(),
		FilesTotal:    c.filesTotal.Load(),
		FilesVerified: c.filesVerified.Load(),
		VerifyFailed:  c.verifyFailed.Load(),
		Elapsed:       c.Elapsed(),
	}
}

// Tick snapshots the byte delta into the ring buffer. Called 1/sec by the presenter.
func (c *Collector) Tick() {
	currentBytes := c.bytesCopied.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	delta := currentBytes - c.lastBytes
	c.lastBytes = currentBytes

	c.throughput[c.ringIdx] = delta
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := seconds
	if count > c.ringCount {
		count = c.ringCount
	}
	if count == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < count; i++ {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// ETA estimates remaining time based on rolling speed and remaining bytes.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesCopied.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"indexed=%d skipped=%d archived=%d copied=%d failed=%d bytes=%d",
		s.FilesIndexed, s.FilesSkipped, s.FilesArchived, s.FilesCopied,
		s.FilesFailed, s.BytesCopied,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
