package web

import (
	"context"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/conorfennell/flashsync/internal/peer"
	"github.com/conorfennell/flashsync/internal/signal"
	"github.com/conorfennell/flashsync/internal/sync"
)

// pairing is one responder pairing and, once connected, the sync session
// receiving from the peer.
type pairing struct {
	resp    *signal.Responder
	started time.Time

	mu     stdsync.Mutex
	conn   peer.Conn
	cancel context.CancelFunc
}

func (p *pairing) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *pairing) close() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.resp.Close()
}

type pairingResponse struct {
	Total     int           `json:"total"`
	Progress  float64       `json:"progress"`
	Connected bool          `json:"connected"`
	Synced    []syncSummary `json:"synced,omitempty"`
}

type syncSummary struct {
	Transfer string `json:"transfer"`
	Bytes    int    `json:"bytes"`
	Cards    int    `json:"cards,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleStartPairing replaces any pairing in progress with a new offer.
func (s *Server) handleStartPairing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := signal.StartResponder(r.Context(), s.hub, s.deps.Signal)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		p := &pairing{resp: resp, started: time.Now()}

		s.mu.Lock()
		old := s.pairing
		s.pairing = p
		s.results = nil
		s.mu.Unlock()
		if old != nil {
			old.close()
		}

		s.log.Info("pairing started", "frames", resp.Offer().Total())
		s.respondJSON(w, http.StatusCreated, pairingResponse{Total: resp.Offer().Total()})
	}
}

func (s *Server) current() (*pairing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairing == nil {
		return nil, errNoPairing
	}
	return s.pairing, nil
}

func (s *Server) handleGetPairing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.current()
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, s.status(p))
	}
}

func (s *Server) status(p *pairing) pairingResponse {
	s.mu.Lock()
	results := append([]sync.Result(nil), s.results...)
	s.mu.Unlock()

	out := pairingResponse{
		Total:     p.resp.Offer().Total(),
		Progress:  p.resp.Progress(),
		Connected: p.connected(),
	}
	for _, res := range results {
		sum := syncSummary{Transfer: res.Transfer, Bytes: res.Bytes, Cards: res.Cards}
		if res.Err != nil {
			sum.Error = res.Err.Error()
		}
		out.Synced = append(out.Synced, sum)
	}
	return out
}

type frameResponse struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Frame string `json:"frame"`
}

// handleGetFrame returns the offer frame currently on display.
func (s *Server) handleGetFrame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.current()
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		i, f := p.resp.Offer().Current()
		s.respondJSON(w, http.StatusOK, frameResponse{Index: i, Total: p.resp.Offer().Total(), Frame: f})
	}
}

// handleGetFramePNG renders the current offer frame as a QR code.
func (s *Server) handleGetFramePNG() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.current()
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		_, f := p.resp.Offer().Current()
		img, err := signal.EncodePNG(f, s.deps.QRSize)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(img)
	}
}

type scanRequest struct {
	Total int    `json:"total"`
	Frame string `json:"frame"`
}

// handlePostScan feeds one scanned answer frame. When the answer is complete
// the connection opens and a sync session starts receiving.
func (s *Server) handlePostScan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.current()
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		var req scanRequest
		if err := decode(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		conn, err := p.resp.Scan(ctx, req.Total, req.Frame)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if conn != nil {
			s.receive(p, conn)
		}
		s.respondJSON(w, http.StatusOK, s.status(p))
	}
}

// receive runs a sync session on conn until the pairing is torn down. A
// pairing gets one session; later calls are no-ops.
func (s *Server) receive(p *pairing, conn peer.Conn) {
	p.mu.Lock()
	if p.conn != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	p.conn, p.cancel = conn, cancel
	p.mu.Unlock()

	session := sync.NewSession(conn, s.deps.Sink, s.log)
	session.Now = s.deps.Handle.Now
	session.OnComplete = func(res sync.Result) {
		s.mu.Lock()
		s.results = append(s.results, res)
		s.mu.Unlock()
	}
	s.log.Info("peer connected, receiving", "after", time.Since(p.started).Round(time.Millisecond))
	go func() {
		if err := session.Serve(ctx); err != nil && ctx.Err() == nil {
			s.log.Info("sync session ended", "err", err)
		}
	}()
}

// handleDeletePairing abandons the pairing and closes any connection.
func (s *Server) handleDeletePairing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		p := s.pairing
		s.pairing = nil
		s.mu.Unlock()
		if p != nil {
			p.close()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
