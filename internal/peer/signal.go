package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Responder is the side that shows its offer first and waits for an answer.
type Responder interface {
	Offer(ctx context.Context) (string, error)
	Complete(ctx context.Context, answer string) (Conn, error)
}

// Initiator is the side that reads an offer, connects, and produces the
// answer for the responder.
type Initiator interface {
	Answer(ctx context.Context, offer string) (Conn, string, error)
}

type offerPayload struct {
	URL   string `json:"url"`
	Nonce string `json:"nonce"`
}

type answerPayload struct {
	Nonce string `json:"nonce"`
	Peer  string `json:"peer"`
}

type pendingOffer struct {
	arrived chan struct{}
	conn    *WSConn
	peer    string
}

// Hub is the responder side over WebSockets. Offers name the URL to dial
// and a single-use nonce. The accepted connection only reports open once the
// matching answer has been applied with Complete.
type Hub struct {
	url      string
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	offers map[string]*pendingOffer
}

// NewHub returns a hub whose offers point peers at baseURL + "/peer".
// baseURL may use http(s) or ws(s).
func NewHub(baseURL string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		url: wsURL(baseURL) + "/peer",
		log: logger,
		upgrader: websocket.Upgrader{
			// Pairing is trusted by scanning the code; any origin may dial.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		offers: make(map[string]*pendingOffer),
	}
}

func (h *Hub) Offer(ctx context.Context) (string, error) {
	nonce := uuid.NewString()
	h.mu.Lock()
	h.offers[nonce] = &pendingOffer{arrived: make(chan struct{})}
	h.mu.Unlock()

	b, err := json.Marshal(offerPayload{URL: h.url, Nonce: nonce})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ServeHTTP accepts the initiator's WebSocket for a pending offer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nonce := r.URL.Query().Get("nonce")
	peer := r.URL.Query().Get("peer")

	h.mu.Lock()
	p, ok := h.offers[nonce]
	taken := ok && p.conn != nil
	h.mu.Unlock()
	if !ok || taken || peer == "" {
		http.Error(w, ErrUnknownOffer.Error(), http.StatusNotFound)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("peer upgrade failed", "err", err)
		return
	}
	c := newWSConn(ws, h.log)

	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.offers[nonce]; !ok || cur != p || p.conn != nil {
		c.Close()
		return
	}
	p.conn, p.peer = c, peer
	close(p.arrived)
	h.log.Info("peer connected", "peer", peer, "remote", r.RemoteAddr)
}

// Complete applies the initiator's answer and returns the now-open connection.
// It waits for the initiator's WebSocket if it has not arrived yet.
func (h *Hub) Complete(ctx context.Context, answer string) (Conn, error) {
	var a answerPayload
	if err := json.Unmarshal([]byte(answer), &a); err != nil || a.Nonce == "" {
		return nil, fmt.Errorf("%w: answer", ErrBadSignal)
	}

	h.mu.Lock()
	p, ok := h.offers[a.Nonce]
	h.mu.Unlock()
	if !ok {
		return nil, ErrUnknownOffer
	}

	select {
	case <-p.arrived:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	delete(h.offers, a.Nonce)
	h.mu.Unlock()

	if p.peer != a.Peer {
		p.conn.Close()
		return nil, fmt.Errorf("%w: answer from a different peer", ErrBadSignal)
	}
	p.conn.opened.fire()
	return p.conn, nil
}

// Cancel drops every pending offer and closes connections that were never
// completed.
func (h *Hub) Cancel() {
	h.mu.Lock()
	offers := h.offers
	h.offers = make(map[string]*pendingOffer)
	h.mu.Unlock()

	for _, p := range offers {
		if p.conn != nil {
			p.conn.Close()
		}
	}
}

// Dialer is the initiator side over WebSockets.
type Dialer struct {
	dialer *websocket.Dialer
	log    *slog.Logger
}

func NewDialer(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{dialer: websocket.DefaultDialer, log: logger}
}

// Answer dials the offer's URL. The returned connection is open at once; the
// answer must reach the responder before it will read what was sent.
func (d *Dialer) Answer(ctx context.Context, offer string) (Conn, string, error) {
	var o offerPayload
	if err := json.Unmarshal([]byte(offer), &o); err != nil || o.URL == "" || o.Nonce == "" {
		return nil, "", fmt.Errorf("%w: offer", ErrBadSignal)
	}
	u, err := url.Parse(o.URL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: offer url: %v", ErrBadSignal, err)
	}

	peer := uuid.NewString()
	q := u.Query()
	q.Set("nonce", o.Nonce)
	q.Set("peer", peer)
	u.RawQuery = q.Encode()

	ws, resp, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, "", ErrUnknownOffer
		}
		return nil, "", fmt.Errorf("dialing peer: %w", err)
	}
	c := newWSConn(ws, d.log)
	c.opened.fire()

	b, err := json.Marshal(answerPayload{Nonce: o.Nonce, Peer: peer})
	if err != nil {
		c.Close()
		return nil, "", err
	}
	return c, string(b), nil
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
