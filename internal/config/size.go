package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Suffixes accepted by the byte-valued options (threshold, bwlimit) in
// flags and the config file. Powers of 1024; a bare number is bytes.
var sizeSuffixes = map[string]int64{
	"":   1,
	"B":  1,
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
	"T":  1 << 40,
	"TB": 1 << 40,
}

// ParseSize converts a size string like "512", "64K" or "1.5GB" into a
// byte count. Threshold values route files between the batch and chunk
// lanes; bwlimit values cap throughput in bytes per second.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)

	// Split the numeric prefix from the unit suffix.
	cut := len(s)
	for cut > 0 {
		c := s[cut-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		cut--
	}
	numStr, suffix := s[:cut], strings.ToUpper(s[cut:])

	mult, ok := sizeSuffixes[suffix]
	if !ok || numStr == "" {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	if n, err := strconv.ParseInt(numStr, 10, 64); err == nil {
		return n * mult, nil
	}

	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	return int64(f * float64(mult)), nil
}
