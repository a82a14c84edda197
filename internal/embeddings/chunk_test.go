package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanWindows(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		chunkSize int
		want      []window
	}{
		{"even split", 4, 2, []window{{0, 2}, {2, 4}}},
		{"short tail", 5, 2, []window{{0, 2}, {2, 4}, {4, 5}}},
		{"chunk larger than input is clamped", 3, 64, []window{{0, 3}}},
		{"chunk of one", 3, 1, []window{{0, 1}, {1, 2}, {2, 3}}},
		{"exact fit", 64, 64, []window{{0, 64}}},
		{"empty input", 0, 8, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := planWindows(tt.n, tt.chunkSize)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanWindows_CoversInputInOrder(t *testing.T) {
	for n := 1; n <= 40; n++ {
		for chunk := 1; chunk <= 12; chunk++ {
			windows, err := planWindows(n, chunk)
			require.NoError(t, err)

			next := 0
			for _, w := range windows {
				assert.Equal(t, next, w.start)
				assert.LessOrEqual(t, w.size(), chunk)
				assert.Positive(t, w.size())
				next = w.end
			}
			assert.Equal(t, n, next)
			assert.Len(t, windows, (n+chunk-1)/chunk)
		}
	}
}

func TestPlanWindows_InvalidChunkSize(t *testing.T) {
	for _, size := range []int{0, -1, -64} {
		_, err := planWindows(5, size)
		assert.ErrorIs(t, err, ErrInvalidChunkSize)
	}

	// Rejected even when there is nothing to chunk.
	_, err := planWindows(0, 0)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}
