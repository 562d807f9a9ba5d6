// Package partition splits a working set into contiguous worker chunks.
package partition

// Chunk is the half-open index range [Start, End) owned by one worker.
type Chunk struct {
	Index int
	Start int
	End   int
}

// Len returns the number of indexes in the chunk.
func (c Chunk) Len() int { return c.End - c.Start }

// WorkerCount returns min(size, parallelism+2), at least 1.
func WorkerCount(size, parallelism int) int {
	return max(1, min(size, parallelism+2))
}

// ChunkSize returns ceil(size/workers).
func ChunkSize(size, workers int) int {
	if size <= 0 {
		return 0
	}
	workers = max(1, workers)
	return (size + workers - 1) / workers
}

// Split divides [0, size) into at most workers chunks of ChunkSize
// indexes each; the last chunk may be shorter. Empty chunks are dropped,
// so the result is disjoint, ordered, and covers every index exactly once.
func Split(size, workers int) []Chunk {
	cs := ChunkSize(size, workers)
	if cs == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, (size+cs-1)/cs)
	for start := 0; start < size; start += cs {
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   min(start+cs, size),
		})
	}
	return chunks
}
