package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    float64
		expected string
	}{
		{0, "0 B/s"},
		{-1, "0 B/s"},
		{5, "5 B/s"},
		{500, "500 B/s"},
		{2048, "2.0 KiB/s"},
		{5 * 1024 * 1024, "5.0 MiB/s"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB/s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatRate(tt.input))
	}
}

func TestFormatETA(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "--", FormatETA(0))
	assert.Equal(t, "--", FormatETA(-5*time.Second))
	assert.Equal(t, "30s", FormatETA(30*time.Second))
	assert.Equal(t, "1m 30s", FormatETA(90*time.Second))
	assert.Equal(t, "2h 05m 00s", FormatETA(2*time.Hour+5*time.Minute))
}

func TestFormatCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0", FormatCount(0))
	assert.Equal(t, "999", FormatCount(999))
	assert.Equal(t, "1,000", FormatCount(1000))
	assert.Equal(t, "48,917", FormatCount(48917))
	assert.Equal(t, "1,234,567", FormatCount(1234567))
	assert.Equal(t, "-1,000", FormatCount(-1000))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "5s", FormatDuration(5*time.Second))
	assert.Equal(t, "3m 17s", FormatDuration(3*time.Minute+17*time.Second))
	assert.Equal(t, "1h 00m 05s", FormatDuration(time.Hour+5*time.Second))
}
