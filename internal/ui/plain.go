package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/lanecopy/lanecopy/internal/stats"
)

// plainPresenter outputs one line per synchronized file to stdout,
// and periodic progress to stderr.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	isTTY   bool
	verbose bool
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			ticks++
			// Periodic progress only on a terminal; piped output stays
			// one line per file.
			if p.isTTY && ticks%5 == 0 {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case FileArchived:
		fmt.Fprintf(p.w, "%s  %s  batched\n", ev.Path, FormatBytes(ev.Size))
	case FileCopied:
		speed := p.stats.RollingSpeed(5)
		fmt.Fprintf(p.w, "%s  %s  %s\n", ev.Path, FormatBytes(ev.Size), FormatRate(speed))
	case FileFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "%s  %s\n", ev.Path, errMsg)
	case FileSkipped:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  unchanged\n", ev.Path)
		}
	case ArchivePacked:
		fmt.Fprintf(p.errW, "archive packed: %s files\n", FormatCount(ev.Total))
	case ArchiveUnpacked:
		fmt.Fprintf(p.errW, "archive extracted: %s files\n", FormatCount(ev.Total))
	case VerifyStarted:
		fmt.Fprintln(p.errW, "verifying...")
	case VerifyFailed:
		fmt.Fprintf(p.w, "MISMATCH: %s\n", ev.Path)
	case VerifyOK:
		// silent in plain mode
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesCopied) / float64(snap.BytesTotal) * 100
		speed := p.stats.RollingSpeed(10)
		eta := p.stats.ETA()
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s %s/%s files %s eta %s\n",
			pct,
			FormatBytes(snap.BytesCopied), FormatBytes(snap.BytesTotal),
			FormatCount(snap.FilesArchived+snap.FilesCopied), FormatCount(snap.FilesTotal),
			FormatRate(speed),
			FormatETA(eta),
		)
	} else {
		fmt.Fprintf(p.errW, "progress: %s copied %s files\n",
			FormatBytes(snap.BytesCopied),
			FormatCount(snap.FilesArchived+snap.FilesCopied),
		)
	}
}

func (p *plainPresenter) Summary() string {
	return completionSummary(p.stats.Snapshot())
}
