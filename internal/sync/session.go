package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/chunk"
	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/peer"
)

// Sink receives completed documents. Each write replaces what was there.
type Sink interface {
	WriteStore(ctx context.Context, s *domain.Store) error
	WriteWordFreq(ctx context.Context, wf domain.WordFreq) error
}

// Result describes one completed transfer.
type Result struct {
	Transfer string
	Bytes    int
	Cards    int
	Err      error
}

// Session is the receiving side of a sync. Messages that arrive before the
// connection opens are held and handled in arrival order once it does.
type Session struct {
	conn       peer.Conn
	sink       Sink
	log        *slog.Logger
	reassembly *chunk.Reassembler

	// Now stamps normalized stores. Defaults to time.Now.
	Now func() time.Time
	// OnComplete, if set, is called after each transfer is written.
	OnComplete func(Result)
}

func NewSession(conn peer.Conn, sink Sink, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:       conn,
		sink:       sink,
		log:        logger,
		reassembly: chunk.NewReassembler(logger),
		Now:        time.Now,
	}
}

// Serve handles incoming messages until ctx is done or the connection goes
// away. Only connections that expose Done can report going away.
func (s *Session) Serve(ctx context.Context) error {
	msgs := make(chan string)
	quit := make(chan struct{})
	defer close(quit)

	s.conn.OnMessage(func(m string) {
		select {
		case msgs <- m:
		case <-quit:
		}
	})
	opened := make(chan struct{})
	s.conn.OnOpen(func() { close(opened) })

	gone := doneOf(s.conn)

	var pending []string
	isOpen := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gone:
			return peer.ErrClosed
		case <-opened:
			opened, isOpen = nil, true
			if len(pending) > 0 {
				s.log.Debug("replaying early messages", "count", len(pending))
			}
			for _, m := range pending {
				s.handle(ctx, m)
			}
			pending = nil
		case m := <-msgs:
			if !isOpen {
				pending = append(pending, m)
				continue
			}
			s.handle(ctx, m)
		}
	}
}

func (s *Session) handle(ctx context.Context, raw string) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		s.log.Debug("dropping message", "err", err)
		return
	}
	if msg.Type == TypePing {
		return
	}

	name := msg.Transfer()
	payload, done, err := s.reassembly.Add(name, msg.Chunk.Index, msg.Chunk.Payload, msg.Chunk.Total)
	if err != nil {
		if !errors.Is(err, chunk.ErrMissingChunk) {
			s.log.Debug("dropping chunk", "transfer", name, "err", err)
		}
		return
	}
	if !done {
		return
	}

	res := s.complete(ctx, name, payload)
	if res.Err != nil {
		s.log.Error("sync transfer failed", "transfer", name, "err", res.Err)
	} else {
		s.log.Info("sync transfer complete", "transfer", name, "size", humanize.Bytes(uint64(res.Bytes)))
	}
	if s.OnComplete != nil {
		s.OnComplete(res)
	}
}

func (s *Session) complete(ctx context.Context, name, payload string) Result {
	res := Result{Transfer: name, Bytes: len(payload)}
	switch name {
	case TransferSync:
		store, err := cardstore.Normalize([]byte(payload), s.Now())
		if err != nil {
			res.Err = fmt.Errorf("decoding store: %w", err)
			return res
		}
		res.Cards = len(store.Flashcards)
		if err := s.sink.WriteStore(ctx, store); err != nil {
			res.Err = fmt.Errorf("writing store: %w", err)
		}
	case TransferWordFreq:
		var wf domain.WordFreq
		if err := json.Unmarshal([]byte(payload), &wf); err != nil {
			res.Err = fmt.Errorf("decoding word frequencies: %w", err)
			return res
		}
		if wf == nil {
			wf = domain.WordFreq{}
		}
		if err := s.sink.WriteWordFreq(ctx, wf); err != nil {
			res.Err = fmt.Errorf("writing word frequencies: %w", err)
		}
	}
	return res
}
