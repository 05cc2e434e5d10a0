package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/flashsync/internal/chunk"
	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/peer"
	"github.com/conorfennell/flashsync/internal/srs"
)

const waitFor = 2 * time.Second

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory Source and Sink.
type memStore struct {
	mu    stdsync.Mutex
	store *domain.Store
	freq  domain.WordFreq
	// writes counts WriteStore and WriteWordFreq calls.
	writes int
}

func (m *memStore) ReadStore(context.Context) (*domain.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Clone(), nil
}

func (m *memStore) ReadWordFreq(context.Context) (domain.WordFreq, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freq, nil
}

func (m *memStore) WriteStore(_ context.Context, s *domain.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = s
	m.writes++
	return nil
}

func (m *memStore) WriteWordFreq(_ context.Context, wf domain.WordFreq) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freq = wf
	m.writes++
	return nil
}

func (m *memStore) snapshot() (*domain.Store, domain.WordFreq, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store, m.freq, m.writes
}

func bigStore(n int) *domain.Store {
	s := domain.NewStore(srs.DefaultMeta(testNow))
	for i := range n {
		id := fmt.Sprintf("card-%03d", i)
		content := domain.Content{Type: "word", Front: "word " + id, Back: strings.Repeat("meaning ", 20)}
		c := domain.NewCard(id, content, testNow.UnixMilli())
		s.Flashcards[c.ID] = c
	}
	return s
}

// fakeConn records sends and reports a buffered amount the test controls.
type fakeConn struct {
	mu       stdsync.Mutex
	sent     []string
	buffered int
	polls    int
}

func (f *fakeConn) Send(msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) OnMessage(func(string)) {}
func (f *fakeConn) OnOpen(fn func()) { fn() }
func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) BufferedAmount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.buffered
}

func (f *fakeConn) setBuffered(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffered = n
}

func (f *fakeConn) counts() (sent, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), f.polls
}

func TestMessageRoundTrip(t *testing.T) {
	raw, err := EncodeChunk(TypeSyncChunk, chunk.Chunk{Index: 1, Total: 3, Payload: `{"a":"ü"}`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sync-chunk","data":[1,"{\"a\":\"ü\"}",3]}`, raw)

	msg, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeSyncChunk, msg.Type)
	assert.Equal(t, TransferSync, msg.Transfer())
	assert.Equal(t, chunk.Chunk{Index: 1, Total: 3, Payload: `{"a":"ü"}`}, msg.Chunk)

	msg, err = DecodeMessage(EncodePing())
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Type)
	assert.Empty(t, msg.Transfer())
}

func TestDecodeMessageRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"type":`},
		{"not an object", `[1,2,3]`},
		{"unknown type", `{"type":"hello"}`},
		{"missing data", `{"type":"sync-chunk"}`},
		{"short data", `{"type":"sync-chunk","data":[0,"a"]}`},
		{"long data", `{"type":"sync-chunk","data":[0,"a",1,2]}`},
		{"string index", `{"type":"wordFreq-chunk","data":["0","a",1]}`},
		{"negative index", `{"type":"wordFreq-chunk","data":[-1,"a",1]}`},
		{"zero total", `{"type":"wordFreq-chunk","data":[0,"a",0]}`},
		{"numeric payload", `{"type":"wordFreq-chunk","data":[0,5,1]}`},
		{"fractional total", `{"type":"sync-chunk","data":[0,"a",1.5]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestSendChunksSplitsBySize(t *testing.T) {
	conn := &fakeConn{}
	payload := strings.Repeat("abcdefghij", 25)

	require.NoError(t, SendChunks(context.Background(), conn, TypeWordFreqChunk, payload, Options{ChunkSize: 100}))

	require.Len(t, conn.sent, 3)
	var parts []chunk.Chunk
	for _, raw := range conn.sent {
		msg, err := DecodeMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, TypeWordFreqChunk, msg.Type)
		assert.Equal(t, 3, msg.Chunk.Total)
		parts = append(parts, msg.Chunk)
	}
	got, err := chunk.Join(parts)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSendChunksInvalidSize(t *testing.T) {
	err := SendChunks(context.Background(), &fakeConn{}, TypeSyncChunk, "x", Options{ChunkSize: -1})
	assert.ErrorIs(t, err, chunk.ErrInvalidSize)
}

func TestSendChunksBackpressure(t *testing.T) {
	conn := &fakeConn{buffered: DefaultMaxBuffered + 1}
	opts := Options{ChunkSize: 10, PollInterval: time.Millisecond}

	errc := make(chan error, 1)
	go func() {
		errc <- SendChunks(context.Background(), conn, TypeSyncChunk, strings.Repeat("z", 30), opts)
	}()

	// While the buffer stays above the threshold the sender keeps polling
	// and sends nothing.
	require.Eventually(t, func() bool {
		_, polls := conn.counts()
		return polls >= 5
	}, waitFor, time.Millisecond)
	sent, _ := conn.counts()
	assert.Zero(t, sent)

	conn.setBuffered(DefaultMaxBuffered)
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("sender did not resume")
	}
	sent, _ = conn.counts()
	assert.Equal(t, 3, sent)
}

func TestSendChunksHonoursContext(t *testing.T) {
	conn := &fakeConn{buffered: DefaultMaxBuffered * 2}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := SendChunks(ctx, conn, TypeSyncChunk, "abc", Options{PollInterval: time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	sent, _ := conn.counts()
	assert.Zero(t, sent)
}

// closingConn is a fakeConn that can report shutting down.
type closingConn struct {
	fakeConn
	done chan struct{}
}

func (c *closingConn) Done() <-chan struct{} { return c.done }

func TestSendChunksStopsWhenConnCloses(t *testing.T) {
	conn := &closingConn{fakeConn: fakeConn{buffered: DefaultMaxBuffered + 1}, done: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- SendChunks(ctx, conn, TypeSyncChunk, strings.Repeat("z", 30), Options{ChunkSize: 10, PollInterval: time.Millisecond})
	}()

	require.Eventually(t, func() bool {
		_, polls := conn.counts()
		return polls >= 2
	}, waitFor, time.Millisecond)
	close(conn.done)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, peer.ErrClosed)
	case <-time.After(waitFor):
		t.Fatal("sender kept waiting on a closed connection")
	}
	sent, _ := conn.counts()
	assert.Zero(t, sent)
}

func serve(t *testing.T, conn peer.Conn, sink Sink) (*Session, <-chan Result) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan Result, 8)
	s := NewSession(conn, sink, nil)
	s.Now = func() time.Time { return testNow }
	s.OnComplete = func(r Result) { results <- r }

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, results
}

func awaitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(waitFor):
		t.Fatal("transfer did not complete")
	}
	return Result{}
}

func TestPushAndReceive(t *testing.T) {
	local, remote := peer.Pipe()
	defer local.Close()

	src := &memStore{
		store: bigStore(60),
		freq:  domain.WordFreq{"hola": json.RawMessage(`12`), "adiós": json.RawMessage(`{"rank":3}`)},
	}
	dst := &memStore{}
	_, results := serve(t, remote, dst)

	opts := Options{ChunkSize: 1000}
	require.NoError(t, Push(context.Background(), local, src, opts))

	first := awaitResult(t, results)
	require.NoError(t, first.Err)
	assert.Equal(t, TransferSync, first.Transfer)
	assert.Equal(t, 60, first.Cards)

	second := awaitResult(t, results)
	require.NoError(t, second.Err)
	assert.Equal(t, TransferWordFreq, second.Transfer)

	store, freq, writes := dst.snapshot()
	assert.Equal(t, 2, writes)
	assert.Len(t, store.Flashcards, 60)
	for id, c := range src.store.Flashcards {
		assert.Equal(t, c.Content, store.Flashcards[id].Content)
	}
	assert.JSONEq(t, `12`, string(freq["hola"]))
	assert.JSONEq(t, `{"rank":3}`, string(freq["adiós"]))
}

func TestSessionQueuesUntilOpen(t *testing.T) {
	local, remote := peer.PendingPipe()
	defer local.Close()
	local.Open()

	dst := &memStore{}
	_, results := serve(t, remote, dst)

	require.NoError(t, SendChunks(context.Background(), local, TypeWordFreqChunk, `{"a":1,"b":2}`, Options{ChunkSize: 4}))

	select {
	case r := <-results:
		t.Fatalf("transfer completed before open: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
	_, _, writes := dst.snapshot()
	assert.Zero(t, writes)

	remote.Open()
	r := awaitResult(t, results)
	require.NoError(t, r.Err)
	_, freq, _ := dst.snapshot()
	assert.Len(t, freq, 2)
}

func TestSessionDropsMalformedAndInterleaves(t *testing.T) {
	local, remote := peer.Pipe()
	defer local.Close()

	dst := &memStore{}
	_, results := serve(t, remote, dst)

	sync0, err := EncodeChunk(TypeSyncChunk, chunk.Chunk{Index: 0, Total: 2, Payload: `{"flashcards":{},`})
	require.NoError(t, err)
	sync1, err := EncodeChunk(TypeSyncChunk, chunk.Chunk{Index: 1, Total: 2, Payload: `"version":3}`})
	require.NoError(t, err)
	freq0, err := EncodeChunk(TypeWordFreqChunk, chunk.Chunk{Index: 0, Total: 1, Payload: `{"w":1}`})
	require.NoError(t, err)

	for _, m := range []string{sync1, "garbage", EncodePing(), `{"type":"sync-chunk","data":[5,"x",2]}`, freq0, sync0} {
		require.NoError(t, local.Send(m))
	}

	first := awaitResult(t, results)
	assert.Equal(t, TransferWordFreq, first.Transfer)
	second := awaitResult(t, results)
	assert.Equal(t, TransferSync, second.Transfer)
	require.NoError(t, second.Err)

	store, freq, _ := dst.snapshot()
	assert.Empty(t, store.Flashcards)
	assert.Equal(t, domain.CurrentStoreVersion, store.Version)
	assert.Len(t, freq, 1)
}

func TestSessionReportsUndecodableStore(t *testing.T) {
	local, remote := peer.Pipe()
	defer local.Close()

	dst := &memStore{}
	_, results := serve(t, remote, dst)

	require.NoError(t, SendChunks(context.Background(), local, TypeSyncChunk, `{"version":99}`, Options{}))
	r := awaitResult(t, results)
	assert.Error(t, r.Err)
	_, _, writes := dst.snapshot()
	assert.Zero(t, writes)
}

func TestServeStopsOnContext(t *testing.T) {
	_, remote := peer.Pipe()
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- NewSession(remote, &memStore{}, nil).Serve(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("serve did not return")
	}
}
