package signal

import (
	"sync"
	"time"
)

// Broadcaster cycles through a fixed set of frames on a timer, forever, until
// stopped. There is no acknowledgement: the scanner samples whatever frame
// is showing.
type Broadcaster struct {
	frames   []string
	interval time.Duration
	onFrame  func(index int, frame string)

	mu      sync.Mutex
	current int
	stop    chan struct{}
	done    chan struct{}
}

// NewBroadcaster splits payload into n frames shown interval apart. onFrame,
// if set, is called for every frame shown.
func NewBroadcaster(payload string, n int, interval time.Duration, onFrame func(int, string)) (*Broadcaster, error) {
	frames, err := Frames(payload, n)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{frames: frames, interval: interval, onFrame: onFrame}, nil
}

// Start begins cycling. Starting a running broadcaster does nothing.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		return
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.run(b.stop, b.done)
}

// Stop halts cycling and waits for the loop to exit. It is safe to call at
// any time, including more than once.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	stop, done := b.stop, b.done
	b.stop, b.done = nil, nil
	b.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the broadcaster is cycling.
func (b *Broadcaster) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stop != nil
}

// Current returns the frame on display and its index.
func (b *Broadcaster) Current() (int, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.frames[b.current]
}

// Frames returns every frame in index order.
func (b *Broadcaster) Frames() []string {
	return append([]string(nil), b.frames...)
}

// Total is the number of frames in the cycle.
func (b *Broadcaster) Total() int { return len(b.frames) }

func (b *Broadcaster) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	b.show()

	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			b.mu.Lock()
			b.current = (b.current + 1) % len(b.frames)
			b.mu.Unlock()
			b.show()
		}
	}
}

func (b *Broadcaster) show() {
	if b.onFrame == nil {
		return
	}
	i, f := b.Current()
	b.onFrame(i, f)
}
