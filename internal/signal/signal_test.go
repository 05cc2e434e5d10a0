package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/flashsync/internal/chunk"
	"github.com/conorfennell/flashsync/internal/peer"
)

func TestFrameRoundTrip(t *testing.T) {
	f, err := EncodeFrame(chunk.Chunk{Index: 2, Total: 3, Payload: `{"sdp":"ü"}`})
	require.NoError(t, err)
	assert.Equal(t, `[2,"{\"sdp\":\"ü\"}"]`, f)

	i, p, err := DecodeFrame(f)
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	assert.Equal(t, `{"sdp":"ü"}`, p)
}

func TestDecodeFrameMalformed(t *testing.T) {
	for _, s := range []string{"", "hello", "[1]", `[1,"a","b"]`, `["1","a"]`, `[1,2]`, `{"0":"a"}`} {
		t.Run(s, func(t *testing.T) {
			_, _, err := DecodeFrame(s)
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestFrames(t *testing.T) {
	frames, err := Frames("ABCDEFG", 3)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	c, err := NewCollector(3, nil)
	require.NoError(t, err)
	var out string
	for i := len(frames) - 1; i >= 0; i-- {
		got, done, err := c.Add(frames[i])
		require.NoError(t, err)
		if done {
			out = got
		}
	}
	assert.Equal(t, "ABCDEFG", out)

	_, err = Frames("x", 0)
	assert.ErrorIs(t, err, chunk.ErrInvalidCount)
}

func TestEncodePNG(t *testing.T) {
	frames, err := Frames(strings.Repeat("offer", 40), 2)
	require.NoError(t, err)
	img, err := EncodePNG(frames[0], 256)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), img[:4])
}

func TestCollector(t *testing.T) {
	c, err := NewCollector(2, nil)
	require.NoError(t, err)

	_, done, err := c.Add("garbage")
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.False(t, done)
	assert.Zero(t, c.Progress())

	_, done, err = c.Add(`[1,"lo"]`)
	require.NoError(t, err)
	assert.False(t, done)
	assert.InDelta(t, 0.5, c.Progress(), 1e-9)

	_, _, err = c.Add(`[7,"x"]`)
	assert.ErrorIs(t, err, chunk.ErrIndexOutOfRange)

	got, done, err := c.Add(`[0,"hel"]`)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "hello", got)

	_, err = NewCollector(0, nil)
	assert.ErrorIs(t, err, chunk.ErrInvalidCount)
}

type frameLog struct {
	mu     sync.Mutex
	frames []int
}

func (l *frameLog) add(i int, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, i)
}

func (l *frameLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func TestBroadcasterCycles(t *testing.T) {
	var seen frameLog
	b, err := NewBroadcaster("abcdef", 3, time.Millisecond, seen.add)
	require.NoError(t, err)

	b.Start()
	b.Start()
	assert.True(t, b.Running())
	assert.Eventually(t, func() bool { return seen.len() >= 7 }, time.Second, time.Millisecond)
	b.Stop()
	b.Stop()
	assert.False(t, b.Running())

	n := seen.len()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, n, seen.len(), "no frames after stop")

	seen.mu.Lock()
	defer seen.mu.Unlock()
	for i, f := range seen.frames {
		assert.Equal(t, i%3, f)
	}
}

func TestBroadcasterStopBeforeStart(t *testing.T) {
	b, err := NewBroadcaster("x", 1, time.Millisecond, nil)
	require.NoError(t, err)
	b.Stop()
	i, f := b.Current()
	assert.Zero(t, i)
	assert.Equal(t, `[0,"x"]`, f)
	assert.Equal(t, 1, b.Total())
}

// pipeNegotiator pairs two in-memory pipe ends using fixed offer and answer
// strings.
type pipeNegotiator struct {
	offer, answer string
	local, remote *peer.PipeConn
	completed     int
}

func newPipeNegotiator() *pipeNegotiator {
	a, b := peer.PendingPipe()
	return &pipeNegotiator{
		offer:  strings.Repeat("offer-", 50),
		answer: strings.Repeat("answer-", 30),
		local:  a,
		remote: b,
	}
}

func (n *pipeNegotiator) Offer(context.Context) (string, error) { return n.offer, nil }

func (n *pipeNegotiator) Complete(_ context.Context, answer string) (peer.Conn, error) {
	if answer != n.answer {
		return nil, peer.ErrBadSignal
	}
	n.completed++
	n.local.Open()
	return n.local, nil
}

func (n *pipeNegotiator) Answer(_ context.Context, offer string) (peer.Conn, string, error) {
	if offer != n.offer {
		return nil, "", peer.ErrBadSignal
	}
	n.remote.Open()
	return n.remote, n.answer, nil
}

func TestPairing(t *testing.T) {
	ctx := context.Background()
	neg := newPipeNegotiator()
	opts := Options{Chunks: 4, Interval: time.Hour}

	resp, err := StartResponder(ctx, neg, opts)
	require.NoError(t, err)
	defer resp.Close()
	assert.True(t, resp.Offer().Running())

	ini, err := NewInitiator(neg, resp.Offer().Total(), opts)
	require.NoError(t, err)
	defer ini.Close()
	assert.Nil(t, ini.Answer())

	var initConn peer.Conn
	for _, f := range resp.Offer().Frames() {
		initConn, err = ini.Scan(ctx, f)
		require.NoError(t, err)
	}
	require.NotNil(t, initConn)
	require.NotNil(t, ini.Answer())
	assert.InDelta(t, 0, ini.Progress(), 1e-9, "collector clears once complete")

	var respConn peer.Conn
	frames := ini.Answer().Frames()
	for i, f := range frames {
		respConn, err = resp.Scan(ctx, len(frames), f)
		require.NoError(t, err)
		if i < len(frames)-1 {
			assert.Nil(t, respConn)
			assert.Greater(t, resp.Progress(), 0.0)
		}
	}
	require.NotNil(t, respConn)
	assert.False(t, resp.Offer().Running(), "offer stops once the answer is in")
	assert.Equal(t, 1, neg.completed)

	got := make(chan string, 1)
	respConn.OnMessage(func(m string) { got <- m })
	require.NoError(t, initConn.Send("ping"))
	select {
	case m := <-got:
		assert.Equal(t, "ping", m)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestResponderScanAfterClose(t *testing.T) {
	resp, err := StartResponder(context.Background(), newPipeNegotiator(), Options{Chunks: 1, Interval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, resp.Close())
	require.NoError(t, resp.Close())

	_, err = resp.Scan(context.Background(), 1, `[0,"x"]`)
	assert.ErrorIs(t, err, ErrPairingClosed)
}

func TestResponderBadAnswer(t *testing.T) {
	resp, err := StartResponder(context.Background(), newPipeNegotiator(), Options{Chunks: 1, Interval: time.Hour})
	require.NoError(t, err)
	defer resp.Close()

	_, err = resp.Scan(context.Background(), 1, `[0,"not the answer"]`)
	assert.ErrorIs(t, err, peer.ErrBadSignal)
}

// failingNegotiator rejects completions while fails is positive, then
// defers to the pipe negotiator.
type failingNegotiator struct {
	*pipeNegotiator
	fails int
}

func (n *failingNegotiator) Complete(ctx context.Context, answer string) (peer.Conn, error) {
	if n.fails > 0 {
		n.fails--
		return nil, peer.ErrUnknownOffer
	}
	return n.pipeNegotiator.Complete(ctx, answer)
}

func TestResponderRecoversFromFailedComplete(t *testing.T) {
	ctx := context.Background()
	neg := &failingNegotiator{pipeNegotiator: newPipeNegotiator(), fails: 1}
	opts := Options{Chunks: 3, Interval: time.Hour}

	resp, err := StartResponder(ctx, neg, opts)
	require.NoError(t, err)
	defer resp.Close()

	answer, err := Frames(neg.answer, 2)
	require.NoError(t, err)

	_, err = resp.Scan(ctx, 2, answer[0])
	require.NoError(t, err)
	_, err = resp.Scan(ctx, 2, answer[1])
	assert.ErrorIs(t, err, peer.ErrUnknownOffer)
	assert.True(t, resp.Offer().Running(), "offer keeps cycling after a failed connect")
	assert.Zero(t, resp.Progress())

	var conn peer.Conn
	for _, f := range answer {
		conn, err = resp.Scan(ctx, 2, f)
		require.NoError(t, err)
	}
	require.NotNil(t, conn)
	assert.False(t, resp.Offer().Running())
	assert.Equal(t, 1, neg.completed)

	again, err := resp.Scan(ctx, 2, answer[0])
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, 1, neg.completed)
}

// countingDialer counts how often the offer is dialed.
type countingDialer struct {
	*pipeNegotiator
	dials int
}

func (d *countingDialer) Answer(ctx context.Context, offer string) (peer.Conn, string, error) {
	d.dials++
	return d.pipeNegotiator.Answer(ctx, offer)
}

func TestInitiatorIgnoresFramesOnceConnected(t *testing.T) {
	ctx := context.Background()
	neg := newPipeNegotiator()
	opts := Options{Chunks: 2, Interval: time.Hour}

	offer, err := Frames(neg.offer, 2)
	require.NoError(t, err)
	dialer := &countingDialer{pipeNegotiator: neg}
	ini, err := NewInitiator(dialer, 2, opts)
	require.NoError(t, err)
	defer ini.Close()

	var conn peer.Conn
	for _, f := range offer {
		conn, err = ini.Scan(ctx, f)
		require.NoError(t, err)
	}
	require.NotNil(t, conn)

	for _, f := range offer {
		again, err := ini.Scan(ctx, f)
		require.NoError(t, err)
		assert.Same(t, conn, again)
	}
	assert.Equal(t, 1, dialer.dials)
}

func TestPairingOverHub(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	hub := newTestHub(t)
	opts := Options{Chunks: 3, Interval: time.Hour}

	resp, err := StartResponder(ctx, hub, opts)
	require.NoError(t, err)
	defer resp.Close()

	ini, err := NewInitiator(peer.NewDialer(nil), 3, opts)
	require.NoError(t, err)
	defer ini.Close()

	var initConn peer.Conn
	for _, f := range resp.Offer().Frames() {
		initConn, err = ini.Scan(ctx, f)
		require.NoError(t, err)
	}
	require.NotNil(t, initConn)

	var respConn peer.Conn
	for _, f := range ini.Answer().Frames() {
		respConn, err = resp.Scan(ctx, 3, f)
		require.NoError(t, err)
	}
	require.NotNil(t, respConn)

	got := make(chan string, 1)
	initConn.OnMessage(func(m string) { got <- m })
	require.NoError(t, respConn.Send("hello"))
	select {
	case m := <-got:
		assert.Equal(t, "hello", m)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func newTestHub(t *testing.T) *peer.Hub {
	t.Helper()
	var hub *peer.Hub
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	hub = peer.NewHub(srv.URL, nil)
	t.Cleanup(hub.Cancel)
	return hub
}
