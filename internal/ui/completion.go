package ui

import (
	"fmt"

	"github.com/lanecopy/lanecopy/internal/stats"
)

// completionSummary builds a final summary line from a snapshot.
// Format: done ✓  batched 48,917  copied 3  size 2.1 GiB  time 3m 17s  errors 0
func completionSummary(snap stats.Snapshot) string {
	icon := "✓"
	if snap.FilesFailed > 0 || snap.VerifyFailed > 0 {
		icon = "✗"
	}

	base := fmt.Sprintf("done %s  batched %s  copied %s  skipped %s  size %s  time %s",
		icon,
		FormatCount(snap.FilesArchived),
		FormatCount(snap.FilesCopied),
		FormatCount(snap.FilesSkipped),
		FormatBytes(snap.BytesCopied),
		FormatDuration(snap.Elapsed),
	)

	if snap.FilesVerified > 0 || snap.VerifyFailed > 0 {
		base += fmt.Sprintf("  verified %s", FormatCount(snap.FilesVerified))
	}

	base += fmt.Sprintf("  errors %d", snap.FilesFailed+snap.VerifyFailed)

	return base
}
