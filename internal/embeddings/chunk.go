package embeddings

import "fmt"

// window is a half-open [start, end) range over a text batch.
type window struct {
	start, end int
}

func (w window) size() int { return w.end - w.start }

// planWindows partitions n items into contiguous windows of at most chunkSize,
// in order, the last possibly shorter. A chunkSize larger than n is clamped
// to n. n == 0 yields no windows.
func planWindows(n, chunkSize int) ([]window, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}
	if n == 0 {
		return nil, nil
	}
	if chunkSize > n {
		chunkSize = n
	}

	windows := make([]window, 0, (n+chunkSize-1)/chunkSize)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		windows = append(windows, window{start: start, end: end})
	}
	return windows, nil
}
