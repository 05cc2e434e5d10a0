package chunk

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Reassembler collects chunks for any number of named transfers. Each name
// has its own buffer, so concurrent transfers never mix. It is safe for
// concurrent use.
type Reassembler struct {
	log *slog.Logger

	mu        sync.Mutex
	transfers map[string]map[int]string
}

// NewReassembler returns an empty Reassembler. A nil logger discards output.
func NewReassembler(logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reassembler{
		log:       logger,
		transfers: make(map[string]map[int]string),
	}
}

// Add records one chunk of the named transfer. Duplicates overwrite. Once the
// number of distinct indices reaches total, Add returns the payloads joined
// in index order with done set, and clears the transfer.
//
// If the count is reached but an index in [0,total) is absent, the buffer is
// dropped and ErrMissingChunk returned; the sender may resend from scratch.
func (r *Reassembler) Add(name string, index int, payload string, total int) (string, bool, error) {
	if total <= 0 {
		return "", false, fmt.Errorf("%w: %d", ErrInvalidTotal, total)
	}
	if index < 0 || index >= total {
		return "", false, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, total)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.transfers[name]
	if !ok {
		buf = make(map[int]string, total)
		r.transfers[name] = buf
	}
	buf[index] = payload
	if len(buf) < total {
		return "", false, nil
	}

	delete(r.transfers, name)
	var sb strings.Builder
	for i := range total {
		p, ok := buf[i]
		if !ok {
			r.log.Error("transfer incomplete", "transfer", name, "missing", i, "total", total)
			return "", false, fmt.Errorf("%w: %s index %d", ErrMissingChunk, name, i)
		}
		sb.WriteString(p)
	}
	return sb.String(), true, nil
}

// Progress returns the fraction of total received so far for name.
func (r *Reassembler) Progress(name string, total int) float64 {
	if total <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min(1, float64(len(r.transfers[name]))/float64(total))
}

// Received returns how many distinct chunks of name are buffered.
func (r *Reassembler) Received(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers[name])
}

// Reset discards any buffered chunks of name.
func (r *Reassembler) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transfers, name)
}
