package signal

import (
	"fmt"
	"log/slog"

	"github.com/conorfennell/flashsync/internal/chunk"
)

const transferName = "signal"

// Collector reassembles a payload from scanned frames. The frame count is
// supplied by the operator before scanning starts.
type Collector struct {
	total int
	r     *chunk.Reassembler
	log   *slog.Logger
}

func NewCollector(total int, logger *slog.Logger) (*Collector, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: %d", chunk.ErrInvalidCount, total)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{total: total, r: chunk.NewReassembler(logger), log: logger}, nil
}

// Add feeds one scanned frame. It returns the payload once every frame has
// been seen. Unreadable frames return ErrMalformedFrame and change nothing.
func (c *Collector) Add(frame string) (string, bool, error) {
	index, payload, err := DecodeFrame(frame)
	if err != nil {
		c.log.Debug("dropping unreadable frame", "err", err)
		return "", false, err
	}
	return c.r.Add(transferName, index, payload, c.total)
}

// Progress is the fraction of frames seen so far.
func (c *Collector) Progress() float64 {
	return c.r.Progress(transferName, c.total)
}

func (c *Collector) Total() int { return c.total }
