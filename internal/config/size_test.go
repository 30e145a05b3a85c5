package config_test

import (
	"testing"

	"github.com/lanecopy/lanecopy/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected int64
	}{
		{"0", 0},
		{"1024", 1024},
		{"512B", 512},
		{"1K", 1024},
		{"4k", 4096},
		{"100M", 100 * 1024 * 1024},
		{"100MB", 100 * 1024 * 1024},
		{"1G", 1024 * 1024 * 1024},
		{"2T", 2 * 1024 * 1024 * 1024 * 1024},
		{"1.5K", 1536},
		{"1.5GB", 1536 * 1024 * 1024},
		{" 64M ", 64 * 1024 * 1024},
	}
	for _, tt := range tests {
		n, err := config.ParseSize(tt.input)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.expected, n, "input %q", tt.input)
	}
}

func TestParseSize_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "M", "abc", "12Q3", "10X", "5KiB"} {
		_, err := config.ParseSize(input)
		assert.Error(t, err, "input %q", input)
	}
}
