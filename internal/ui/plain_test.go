package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lanecopy/lanecopy/internal/event"
	"github.com/lanecopy/lanecopy/internal/stats"
)

func runPlain(t *testing.T, verbose bool, evs ...Event) (string, string) {
	t.Helper()

	var out, errOut bytes.Buffer
	p := &plainPresenter{w: &out, errW: &errOut, stats: stats.NewCollector(), verbose: verbose}

	events := make(chan Event, len(evs))
	for _, ev := range evs {
		events <- ev
	}
	close(events)

	assert.NoError(t, p.Run(events))
	return out.String(), errOut.String()
}

func TestPlainPresenterFileCopied(t *testing.T) {
	out, _ := runPlain(t, false,
		Event{Type: event.FileCopied, Path: "dir/big.bin", Size: 1024 * 1024 * 100},
		Event{Type: event.FileArchived, Path: "dir/file.txt", Size: 1024},
	)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "dir/big.bin")
	assert.Contains(t, lines[1], "dir/file.txt")
	assert.Contains(t, lines[1], "batched")
}

func TestPlainPresenterFileFailed(t *testing.T) {
	out, _ := runPlain(t, false,
		Event{Type: event.FileFailed, Path: "fail.txt", Size: 512, Error: assert.AnError},
	)
	assert.Contains(t, out, "fail.txt")
	assert.Contains(t, out, assert.AnError.Error())
}

func TestPlainPresenterSkippedOnlyWhenVerbose(t *testing.T) {
	out, _ := runPlain(t, false, Event{Type: event.FileSkipped, Path: "skip.txt"})
	assert.Empty(t, out)

	out, _ = runPlain(t, true, Event{Type: event.FileSkipped, Path: "skip.txt"})
	assert.Contains(t, out, "skip.txt")
	assert.Contains(t, out, "unchanged")
}

func TestPlainPresenterArchiveEvents(t *testing.T) {
	_, errOut := runPlain(t, false,
		Event{Type: event.ArchivePacked, Total: 1200},
		Event{Type: event.ArchiveUnpacked, Total: 1200},
	)
	assert.Contains(t, errOut, "archive packed: 1,200 files")
	assert.Contains(t, errOut, "archive extracted: 1,200 files")
}

func TestPlainPresenterVerify(t *testing.T) {
	out, errOut := runPlain(t, false,
		Event{Type: event.VerifyStarted},
		Event{Type: event.VerifyFailed, Path: "bad/file.txt"},
	)
	assert.Contains(t, errOut, "verifying...")
	assert.Contains(t, out, "MISMATCH: bad/file.txt")
}

func TestPlainPresenterSummary(t *testing.T) {
	collector := stats.NewCollector()
	collector.AddFilesArchived(100)
	collector.AddFilesCopied(3)
	collector.AddBytesCopied(1024 * 1024)

	p := &plainPresenter{stats: collector}
	s := p.Summary()
	assert.Contains(t, s, "batched 100")
	assert.Contains(t, s, "copied 3")
	assert.Contains(t, s, "errors 0")
}

func TestQuietPresenterSilent(t *testing.T) {
	p := NewPresenter(Config{Quiet: true})

	events := make(chan Event, 1)
	events <- Event{Type: event.FileCopied, Path: "a"}
	close(events)

	assert.NoError(t, p.Run(events))
	assert.Empty(t, p.Summary())
}
