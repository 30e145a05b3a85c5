package ui

import (
	"io"

	"github.com/lanecopy/lanecopy/internal/event"
	"github.com/lanecopy/lanecopy/internal/stats"
)

// Event is re-exported for presenter consumers.
type Event = event.Event

// Re-export event types for convenience.
const (
	IndexStarted    = event.IndexStarted
	IndexComplete   = event.IndexComplete
	FileSkipped     = event.FileSkipped
	FileArchived    = event.FileArchived
	FileCopied      = event.FileCopied
	FileFailed      = event.FileFailed
	ArchivePacked   = event.ArchivePacked
	ArchiveUnpacked = event.ArchiveUnpacked
	VerifyStarted   = event.VerifyStarted
	VerifyOK        = event.VerifyOK
	VerifyFailed    = event.VerifyFailed
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Stats     *stats.Collector
	IsTTY     bool
	Quiet     bool
	Verbose   bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{}
	}
	return &plainPresenter{
		w:       cfg.Writer,
		errW:    cfg.ErrWriter,
		stats:   cfg.Stats,
		isTTY:   cfg.IsTTY,
		verbose: cfg.Verbose,
	}
}
