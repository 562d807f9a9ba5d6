package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		size, parallelism, want int
	}{
		{0, 4, 1},
		{1, 4, 1},
		{3, 4, 3},
		{100, 4, 6},
		{100, 0, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WorkerCount(tt.size, tt.parallelism), "size=%d parallelism=%d", tt.size, tt.parallelism)
	}
}

func TestSplit_Example(t *testing.T) {
	got := Split(10, 3)
	assert.Equal(t, []Chunk{
		{Index: 0, Start: 0, End: 4},
		{Index: 1, Start: 4, End: 8},
		{Index: 2, Start: 8, End: 10},
	}, got)
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split(0, 3))
	assert.Equal(t, 0, ChunkSize(0, 3))
}

func TestSplit_DropsEmptyChunks(t *testing.T) {
	// ceil(4/3) = 2, so only two chunks carry work.
	got := Split(4, 3)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, got[1].Len())
}

func TestSplit_Exhaustive(t *testing.T) {
	for size := 1; size <= 200; size++ {
		for workers := 1; workers <= 16; workers++ {
			chunks := Split(size, workers)
			assert.LessOrEqual(t, len(chunks), workers)

			next := 0
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, next, c.Start, "gap or overlap at size=%d workers=%d", size, workers)
				assert.Positive(t, c.Len())
				next = c.End
			}
			assert.Equal(t, size, next, "size=%d workers=%d", size, workers)
		}
	}
}
