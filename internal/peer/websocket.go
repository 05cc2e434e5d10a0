package peer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

// WSConn is a Conn over a WebSocket. Outgoing messages are written by a
// dedicated goroutine; until then they count towards BufferedAmount.
type WSConn struct {
	ws     *websocket.Conn
	in     *inbox
	opened opener
	log    *slog.Logger

	mu       sync.Mutex
	out      []string
	buffered int
	closed   bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, logger *slog.Logger) *WSConn {
	c := &WSConn{
		ws:   ws,
		in:   newInbox(),
		log:  logger,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *WSConn) Send(msg string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.out = append(c.out, msg)
	c.buffered += len(msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *WSConn) OnMessage(fn func(string)) { c.in.setHandler(fn) }

func (c *WSConn) OnOpen(fn func()) { c.opened.register(fn) }

func (c *WSConn) BufferedAmount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// Done is closed once the connection has shut down.
func (c *WSConn) Done() <-chan struct{} { return c.done }

func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.out, c.buffered = nil, 0
		c.mu.Unlock()
		close(c.done)
		c.in.stop()

		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

func (c *WSConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					c.log.Debug("peer read failed", "err", err)
				}
			}
			c.Close()
			return
		}
		c.in.push(string(data))
	}
}

func (c *WSConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if len(c.out) == 0 {
				c.mu.Unlock()
				break
			}
			msg := c.out[0]
			c.mu.Unlock()

			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				c.log.Debug("peer write failed", "err", err)
				c.Close()
				return
			}

			c.mu.Lock()
			c.out = c.out[1:]
			c.buffered -= len(msg)
			c.mu.Unlock()
		}
	}
}
