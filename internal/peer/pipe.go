package peer

import "sync"

// PipeConn is one end of an in-memory connection.
type PipeConn struct {
	in     *inbox
	remote *PipeConn
	opened opener

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Pipe returns two connected, open ends of an in-memory connection.
func Pipe() (*PipeConn, *PipeConn) {
	a, b := PendingPipe()
	a.Open()
	b.Open()
	return a, b
}

// PendingPipe is like Pipe but neither end reports open until Open is called.
// Messages can flow before that.
func PendingPipe() (*PipeConn, *PipeConn) {
	a := &PipeConn{in: newInbox()}
	b := &PipeConn{in: newInbox()}
	a.remote, b.remote = b, a
	return a, b
}

// Open marks this end established and runs its open callbacks.
func (p *PipeConn) Open() {
	p.opened.fire()
}

func (p *PipeConn) Send(msg string) error {
	if p.isClosed() || p.remote.isClosed() {
		return ErrClosed
	}
	p.remote.in.push(msg)
	return nil
}

func (p *PipeConn) OnMessage(fn func(string)) { p.in.setHandler(fn) }

func (p *PipeConn) OnOpen(fn func()) { p.opened.register(fn) }

// BufferedAmount reports the bytes sent from this end that the other end has
// not consumed yet.
func (p *PipeConn) BufferedAmount() int {
	return p.remote.in.pending()
}

// Close shuts down both ends.
func (p *PipeConn) Close() error {
	p.shutdown()
	p.remote.shutdown()
	return nil
}

func (p *PipeConn) shutdown() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.in.stop()
	})
}

func (p *PipeConn) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
