package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanPartitions(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		workers int
	}{
		{"even split", 4096, 4},
		{"remainder", 10, 4},
		{"one worker", 1 << 20, 1},
		{"single byte", 1, 4},
		{"more workers than bytes", 3, 8},
		{"large uneven", 300*1024*1024 + 7, 4},
		{"negative workers clamped", 100, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranges := Plan(tt.size, tt.workers)
			require.NotEmpty(t, ranges)

			// Ranges tile [0, size) exactly: no overlap, no gap.
			var next int64
			for _, r := range ranges {
				assert.Equal(t, next, r.Offset)
				assert.Positive(t, r.Length)
				next = r.End()
			}
			assert.Equal(t, tt.size, next)

			if tt.workers >= 1 {
				assert.LessOrEqual(t, len(ranges), max(tt.workers, 1))
			}
		})
	}
}

func TestPlanZeroSize(t *testing.T) {
	assert.Empty(t, Plan(0, 4))
	assert.Empty(t, Plan(-1, 4))
}

func TestPlanRemainderGoesLast(t *testing.T) {
	ranges := Plan(10, 4)
	require.Len(t, ranges, 4)

	var lengths []int64
	for _, r := range ranges {
		lengths = append(lengths, r.Length)
	}
	assert.Equal(t, []int64{2, 2, 2, 4}, lengths)
}

func TestPlanClampsToSize(t *testing.T) {
	ranges := Plan(3, 100)
	require.Len(t, ranges, 3)
	for _, r := range ranges {
		assert.Equal(t, int64(1), r.Length)
	}
}
