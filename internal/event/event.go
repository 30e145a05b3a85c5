package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	IndexStarted Type = iota + 1
	IndexComplete
	FileSkipped
	FileArchived
	FileCopied
	FileFailed
	ArchivePacked
	ArchiveUnpacked
	VerifyStarted
	VerifyOK
	VerifyFailed
)

var typeNames = [...]string{
	IndexStarted:    "IndexStarted",
	IndexComplete:   "IndexComplete",
	FileSkipped:     "FileSkipped",
	FileArchived:    "FileArchived",
	FileCopied:      "FileCopied",
	FileFailed:      "FileFailed",
	ArchivePacked:   "ArchivePacked",
	ArchiveUnpacked: "ArchiveUnpacked",
	VerifyStarted:   "VerifyStarted",
	VerifyOK:        "VerifyOK",
	VerifyFailed:    "VerifyFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // relative path
	Size      int64  // file size or bytes-so-far
	Total     int64  // total files (IndexComplete, ArchivePacked)
	TotalSize int64  // total bytes (IndexComplete)
	Error     error
}

// Emit sends ev on ch without blocking. Events are best-effort progress
// reporting; a slow consumer must not stall the engine.
func Emit(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case ch <- ev:
	default:
	}
}
