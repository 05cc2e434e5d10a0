// Package peer provides the connection the sync session runs over. A Conn
// carries text messages in order and reports how many outgoing bytes are
// still waiting to be written.
package peer

import (
	"errors"
	"sync"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrUnknownOffer = errors.New("unknown or expired offer")
	ErrBadSignal    = errors.New("malformed signaling payload")
)

// Conn is a message-oriented, reliable, ordered connection to one peer.
type Conn interface {
	// Send queues msg for delivery.
	Send(msg string) error
	// OnMessage registers the handler for incoming messages. Messages that
	// arrived before a handler was registered are delivered to it in order.
	OnMessage(fn func(msg string))
	// OnOpen registers fn to run once the connection is established. If it
	// already is, fn runs immediately.
	OnOpen(fn func())
	// BufferedAmount is the number of bytes queued by Send and not yet
	// handed to the network.
	BufferedAmount() int
	// Close tears the connection down. It is safe to call more than once.
	Close() error
}

// Destroy closes conn if there is one. It exists so teardown paths don't need
// to check for a missing connection.
func Destroy(conn Conn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// inbox delivers messages to a handler on its own goroutine, holding them
// until a handler is registered.
type inbox struct {
	mu      sync.Mutex
	handler func(string)
	queue   []string
	bytes   int

	wake chan struct{}
	done chan struct{}
}

func newInbox() *inbox {
	in := &inbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go in.run()
	return in
}

func (in *inbox) push(msg string) {
	in.mu.Lock()
	in.queue = append(in.queue, msg)
	in.bytes += len(msg)
	in.mu.Unlock()
	in.poke()
}

func (in *inbox) setHandler(fn func(string)) {
	in.mu.Lock()
	in.handler = fn
	in.mu.Unlock()
	in.poke()
}

func (in *inbox) pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.bytes
}

func (in *inbox) poke() {
	select {
	case in.wake <- struct{}{}:
	default:
	}
}

func (in *inbox) stop() {
	close(in.done)
}

func (in *inbox) run() {
	for {
		select {
		case <-in.done:
			return
		case <-in.wake:
		}
		for {
			in.mu.Lock()
			if in.handler == nil || len(in.queue) == 0 {
				in.mu.Unlock()
				break
			}
			msg, fn := in.queue[0], in.handler
			in.queue = in.queue[1:]
			in.bytes -= len(msg)
			in.mu.Unlock()

			select {
			case <-in.done:
				return
			default:
			}
			fn(msg)
		}
	}
}

// opener runs registered callbacks once, when the connection opens.
type opener struct {
	mu    sync.Mutex
	open  bool
	funcs []func()
}

func (o *opener) register(fn func()) {
	o.mu.Lock()
	if o.open {
		o.mu.Unlock()
		fn()
		return
	}
	o.funcs = append(o.funcs, fn)
	o.mu.Unlock()
}

func (o *opener) fire() {
	o.mu.Lock()
	if o.open {
		o.mu.Unlock()
		return
	}
	o.open = true
	funcs := o.funcs
	o.funcs = nil
	o.mu.Unlock()
	for _, fn := range funcs {
		fn()
	}
}

func (o *opener) isOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open
}
