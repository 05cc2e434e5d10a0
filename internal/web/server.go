// Package web serves the desktop companion: a JSON API over the study
// session and card store, plus the pairing endpoints a phone uses to connect
// and push its store.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	stdsync "sync"

	"github.com/rs/cors"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/chunk"
	"github.com/conorfennell/flashsync/internal/importer"
	"github.com/conorfennell/flashsync/internal/peer"
	"github.com/conorfennell/flashsync/internal/signal"
	"github.com/conorfennell/flashsync/internal/srs"
	"github.com/conorfennell/flashsync/internal/study"
	"github.com/conorfennell/flashsync/internal/sync"
)

// Deps are the collaborators the server needs. Importer and Registry are
// optional; without them the source routes report 501.
type Deps struct {
	Handle   *cardstore.Handle
	Study    *study.Session
	Sink     sync.Sink
	Importer *importer.Importer
	Registry importer.Registry

	BaseURL        string
	Signal         signal.Options
	QRSize         int
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	deps    Deps
	log     *slog.Logger
	router  *http.ServeMux
	handler http.Handler
	hub     *peer.Hub

	ctx    context.Context
	cancel context.CancelFunc

	mu      stdsync.Mutex
	pairing *pairing
	results []sync.Result
}

// NewServer creates and configures a new server.
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.QRSize == 0 {
		d.QRSize = 650
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:   d,
		log:    d.Logger,
		router: http.NewServeMux(),
		hub:    peer.NewHub(d.BaseURL, d.Logger),
		ctx:    ctx,
		cancel: cancel,
	}
	s.routes()
	s.handler = cors.New(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close tears down any pairing and stops sync sessions.
func (s *Server) Close() {
	s.mu.Lock()
	p := s.pairing
	s.pairing = nil
	s.mu.Unlock()
	if p != nil {
		p.close()
	}
	s.hub.Cancel()
	s.cancel()
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /api/deck", s.handleGetDeck())
	s.router.HandleFunc("GET /api/review/next", s.handleGetNextReview())
	s.router.HandleFunc("POST /api/review/{id}", s.handlePostReview())
	s.router.HandleFunc("POST /api/undo", s.handlePostUndo())

	s.router.HandleFunc("POST /api/cards", s.handlePostCard())
	s.router.HandleFunc("PUT /api/cards/{id}", s.handlePutCard())
	s.router.HandleFunc("DELETE /api/cards/{id}", s.handleDeleteCard())
	s.router.HandleFunc("POST /api/cards/{id}/bury", s.handleBuryCard())
	s.router.HandleFunc("POST /api/cards/{id}/suspend", s.handleSuspendCard(true))
	s.router.HandleFunc("POST /api/cards/{id}/unsuspend", s.handleSuspendCard(false))

	s.router.HandleFunc("GET /api/sources", s.handleGetSources())
	s.router.HandleFunc("POST /api/sources", s.handlePostSource())
	s.router.HandleFunc("POST /api/import", s.handlePostImport())

	s.router.HandleFunc("POST /api/pair", s.handleStartPairing())
	s.router.HandleFunc("GET /api/pair", s.handleGetPairing())
	s.router.HandleFunc("GET /api/pair/frame", s.handleGetFrame())
	s.router.HandleFunc("GET /api/pair/frame.png", s.handleGetFramePNG())
	s.router.HandleFunc("POST /api/pair/scan", s.handlePostScan())
	s.router.HandleFunc("DELETE /api/pair", s.handleDeletePairing())
	s.router.Handle("GET /peer", s.hub)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("failed to write response", "err", err)
	}
}

// respondError maps err to a status code and writes it as JSON.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	s.respondJSON(w, code, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cardstore.ErrCardNotFound), errors.Is(err, errNoPairing):
		return http.StatusNotFound
	case errors.Is(err, srs.ErrUnknownRating),
		errors.Is(err, errBadRequest),
		errors.Is(err, signal.ErrMalformedFrame),
		errors.Is(err, chunk.ErrIndexOutOfRange),
		errors.Is(err, chunk.ErrInvalidCount),
		errors.Is(err, chunk.ErrInvalidTotal),
		errors.Is(err, chunk.ErrMissingChunk),
		errors.Is(err, peer.ErrBadSignal):
		return http.StatusBadRequest
	case errors.Is(err, study.ErrNothingToUndo), errors.Is(err, cardstore.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, peer.ErrUnknownOffer), errors.Is(err, signal.ErrPairingClosed):
		return http.StatusGone
	case errors.Is(err, errNotConfigured):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

var (
	errBadRequest    = errors.New("bad request")
	errNotConfigured = errors.New("not configured")
	errNoPairing     = errors.New("no pairing in progress")
)

// decode reads a JSON body of at most 1 MiB into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
