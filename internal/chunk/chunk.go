// Package chunk splits strings into numbered pieces and puts them back
// together regardless of arrival order.
package chunk

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCount    = errors.New("chunk count must be positive")
	ErrInvalidSize     = errors.New("chunk size must be positive")
	ErrInvalidTotal    = errors.New("chunk total must be positive")
	ErrIndexOutOfRange = errors.New("chunk index out of range")
	ErrMissingChunk    = errors.New("missing chunk")
)

// Chunk is one numbered fragment of a larger payload.
type Chunk struct {
	Index   int
	Total   int
	Payload string
}

// SplitCount splits s into exactly n contiguous chunks whose lengths differ
// by at most one rune. When s has fewer runes than n the trailing chunks are
// empty.
func SplitCount(s string, n int) ([]Chunk, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, n)
	}
	runes := []rune(s)
	base, extra := len(runes)/n, len(runes)%n

	out := make([]Chunk, n)
	start := 0
	for i := range n {
		size := base
		if i < extra {
			size++
		}
		out[i] = Chunk{Index: i, Total: n, Payload: string(runes[start : start+size])}
		start += size
	}
	return out, nil
}

// SplitSize splits s into chunks of at most size runes. An empty string
// yields a single empty chunk so the receiver still sees a transfer.
func SplitSize(s string, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	runes := []rune(s)
	n := max(1, (len(runes)+size-1)/size)

	out := make([]Chunk, n)
	for i := range n {
		lo := i * size
		hi := min(lo+size, len(runes))
		out[i] = Chunk{Index: i, Total: n, Payload: string(runes[lo:hi])}
	}
	return out, nil
}

// Join concatenates chunks in index order. It expects a complete set.
func Join(chunks []Chunk) (string, error) {
	if len(chunks) == 0 {
		return "", nil
	}
	r := NewReassembler(nil)
	for _, c := range chunks {
		s, done, err := r.Add("join", c.Index, c.Payload, c.Total)
		if err != nil {
			return "", err
		}
		if done {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: have %d of %d", ErrMissingChunk, len(chunks), chunks[0].Total)
}
