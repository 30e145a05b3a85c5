package ui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lanecopy/lanecopy/internal/stats"
)

// FormatRate renders bytes per second for the progress line, reusing the
// collector's byte formatting so sizes and rates read consistently.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return stats.FormatBytes(int64(bytesPerSec)) + "/s"
}

// FormatETA renders the remaining-time estimate, or "--" while the
// collector has no usable speed sample yet.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return hms(d)
}

// FormatDuration renders elapsed wall time for the completion summary.
func FormatDuration(d time.Duration) string {
	return hms(d)
}

func hms(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatCount renders a file count with thousands separators; batch-lane
// totals routinely reach six digits and are unreadable without them.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	digits := strconv.FormatInt(n, 10)

	// Insert a comma before every group of three, walking from the right.
	out := make([]byte, 0, len(digits)+len(digits)/3)
	for i, c := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}

// FormatBytes re-exports the collector's byte formatting for presenters.
func FormatBytes(b int64) string {
	return stats.FormatBytes(b)
}
