package signal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/flashsync/internal/peer"
)

var ErrPairingClosed = errors.New("pairing closed")

// Options control how payloads are shown as QR frames.
type Options struct {
	Chunks   int
	Interval time.Duration
	Logger   *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Responder shows its offer, then scans the initiator's answer.
type Responder struct {
	neg  peer.Responder
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	offer     *Broadcaster
	collector *Collector
	conn      peer.Conn
	closed    bool
}

// StartResponder creates an offer and starts broadcasting it.
func StartResponder(ctx context.Context, neg peer.Responder, opts Options) (*Responder, error) {
	offer, err := neg.Offer(ctx)
	if err != nil {
		return nil, err
	}
	b, err := NewBroadcaster(offer, opts.Chunks, opts.Interval, nil)
	if err != nil {
		return nil, err
	}
	b.Start()
	opts.logger().Info("pairing offer ready", "frames", b.Total())
	return &Responder{neg: neg, opts: opts, log: opts.logger(), offer: b}, nil
}

// Offer returns the broadcaster cycling the offer frames.
func (r *Responder) Offer() *Broadcaster { return r.offer }

// Scan feeds one frame of the answer. total is the answer's frame count as
// entered by the operator. When the answer is complete and the connection is
// up the offer stops cycling and the connection is returned. If connecting
// fails the offer keeps cycling and the answer can be scanned again. Once
// connected, further frames return the same connection.
func (r *Responder) Scan(ctx context.Context, total int, frame string) (peer.Conn, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrPairingClosed
	}
	if r.conn != nil {
		conn := r.conn
		r.mu.Unlock()
		return conn, nil
	}
	if r.collector == nil || r.collector.Total() != total {
		c, err := NewCollector(total, r.log)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.collector = c
	}
	collector := r.collector
	r.mu.Unlock()

	answer, done, err := collector.Add(frame)
	if err != nil || !done {
		return nil, err
	}

	conn, err := r.neg.Complete(ctx, answer)
	if err != nil {
		r.mu.Lock()
		if r.collector == collector {
			r.collector = nil
		}
		r.mu.Unlock()
		r.log.Warn("pairing answer not applied, keep scanning", "err", err)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		peer.Destroy(conn)
		return nil, ErrPairingClosed
	}
	r.conn = conn
	r.offer.Stop()
	return conn, nil
}

// Progress is the fraction of answer frames scanned.
func (r *Responder) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.collector == nil {
		return 0
	}
	return r.collector.Progress()
}

// Close stops broadcasting and tears down any connection.
func (r *Responder) Close() error {
	r.mu.Lock()
	r.closed = true
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	r.offer.Stop()
	return peer.Destroy(conn)
}

// Initiator scans the responder's offer, connects, and shows its answer.
type Initiator struct {
	dial      peer.Initiator
	opts      Options
	collector *Collector

	mu     sync.Mutex
	answer *Broadcaster
	conn   peer.Conn
}

// NewInitiator prepares to scan an offer of total frames.
func NewInitiator(dial peer.Initiator, total int, opts Options) (*Initiator, error) {
	c, err := NewCollector(total, opts.logger())
	if err != nil {
		return nil, err
	}
	return &Initiator{dial: dial, opts: opts, collector: c}, nil
}

// Scan feeds one frame of the offer. Once the offer is complete it connects
// and starts broadcasting the answer; the returned connection is then
// non-nil, and frames scanned after that return it again without redialing.
func (i *Initiator) Scan(ctx context.Context, frame string) (peer.Conn, error) {
	i.mu.Lock()
	conn := i.conn
	i.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	offer, done, err := i.collector.Add(frame)
	if err != nil || !done {
		return nil, err
	}

	conn, answer, err := i.dial.Answer(ctx, offer)
	if err != nil {
		return nil, err
	}
	b, err := NewBroadcaster(answer, i.opts.Chunks, i.opts.Interval, nil)
	if err != nil {
		peer.Destroy(conn)
		return nil, err
	}
	b.Start()

	i.mu.Lock()
	i.conn, i.answer = conn, b
	i.mu.Unlock()
	return conn, nil
}

// Progress is the fraction of offer frames scanned.
func (i *Initiator) Progress() float64 { return i.collector.Progress() }

// Answer returns the broadcaster cycling the answer, or nil before the offer
// has been scanned.
func (i *Initiator) Answer() *Broadcaster {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.answer
}

// Close stops broadcasting and tears down any connection.
func (i *Initiator) Close() error {
	i.mu.Lock()
	conn, b := i.conn, i.answer
	i.conn = nil
	i.mu.Unlock()

	if b != nil {
		b.Stop()
	}
	return peer.Destroy(conn)
}
