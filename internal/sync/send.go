package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/chunk"
	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/peer"
)

const (
	DefaultChunkSize    = 16000
	DefaultMaxBuffered  = 64 * 1024
	DefaultPollInterval = 5 * time.Millisecond
)

// Options tune chunking and backpressure.
type Options struct {
	// ChunkSize is the number of characters per chunk.
	ChunkSize int
	// MaxBuffered is the outstanding byte count above which sending pauses.
	MaxBuffered int
	// PollInterval is how often a paused sender rechecks the buffer.
	PollInterval time.Duration
	Logger       *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:    DefaultChunkSize,
		MaxBuffered:  DefaultMaxBuffered,
		PollInterval: DefaultPollInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxBuffered == 0 {
		o.MaxBuffered = DefaultMaxBuffered
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// SendChunks sends payload as chunk messages of type t. Before each chunk it
// waits, polling every PollInterval, until conn has no more than MaxBuffered
// bytes outstanding.
func SendChunks(ctx context.Context, conn peer.Conn, t MessageType, payload string, opts Options) error {
	opts = opts.withDefaults()
	chunks, err := chunk.SplitSize(payload, opts.ChunkSize)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := waitForBuffer(ctx, conn, opts); err != nil {
			return err
		}
		msg, err := EncodeChunk(t, c)
		if err != nil {
			return err
		}
		if err := conn.Send(msg); err != nil {
			return fmt.Errorf("sending %s %d/%d: %w", t, c.Index+1, c.Total, err)
		}
	}
	return nil
}

func waitForBuffer(ctx context.Context, conn peer.Conn, opts Options) error {
	if conn.BufferedAmount() <= opts.MaxBuffered {
		return ctx.Err()
	}
	gone := doneOf(conn)
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gone:
			return peer.ErrClosed
		case <-ticker.C:
			if conn.BufferedAmount() <= opts.MaxBuffered {
				return nil
			}
		}
	}
}

// doneOf returns the channel closed when conn shuts down, or nil for
// connections that cannot report it.
func doneOf(conn peer.Conn) <-chan struct{} {
	if d, ok := conn.(interface{ Done() <-chan struct{} }); ok {
		return d.Done()
	}
	return nil
}

// Source supplies the documents pushed to a peer.
type Source interface {
	ReadStore(ctx context.Context) (*domain.Store, error)
	ReadWordFreq(ctx context.Context) (domain.WordFreq, error)
}

// Push waits for conn to open, then sends the card store followed by the
// word-frequency table.
func Push(ctx context.Context, conn peer.Conn, src Source, opts Options) error {
	opts = opts.withDefaults()
	if err := WaitOpen(ctx, conn); err != nil {
		return err
	}

	s, err := src.ReadStore(ctx)
	if err != nil {
		return fmt.Errorf("reading store: %w", err)
	}
	store, err := cardstore.Encode(s)
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	wf, err := src.ReadWordFreq(ctx)
	if err != nil {
		return fmt.Errorf("reading word frequencies: %w", err)
	}
	if wf == nil {
		wf = domain.WordFreq{}
	}
	freq, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encoding word frequencies: %w", err)
	}

	opts.Logger.Info("pushing store", "cards", len(s.Flashcards), "size", humanize.Bytes(uint64(len(store))))
	if err := SendChunks(ctx, conn, TypeSyncChunk, string(store), opts); err != nil {
		return err
	}
	opts.Logger.Info("pushing word frequencies", "words", len(wf), "size", humanize.Bytes(uint64(len(freq))))
	return SendChunks(ctx, conn, TypeWordFreqChunk, string(freq), opts)
}

// WaitOpen blocks until conn reports open.
func WaitOpen(ctx context.Context, conn peer.Conn) error {
	opened := make(chan struct{})
	conn.OnOpen(func() { close(opened) })
	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
