package web

import (
	"net/http"
	"strconv"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/srs"
	"github.com/conorfennell/flashsync/internal/study"
)

type deckResponse struct {
	Counts    srs.Counts `json:"counts"`
	Cards     int        `json:"cards"`
	UndoDepth int        `json:"undoDepth"`
}

// handleGetDeck reports how much is left to study.
func (s *Server) handleGetDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := s.deps.Study.Counts(r.Context())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		st, err := s.deps.Handle.Load(r.Context())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, deckResponse{
			Counts:    counts,
			Cards:     len(st.Flashcards),
			UndoDepth: s.deps.Study.UndoDepth(),
		})
	}
}

type nextResponse struct {
	Done bool `json:"done"`
	*study.Item
	Intervals map[srs.Rating]string `json:"intervals,omitempty"`
}

// handleGetNextReview returns the next card with the due date each rating
// would give it.
func (s *Server) handleGetNextReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, ok, err := s.deps.Study.Next(r.Context())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if !ok {
			s.respondJSON(w, http.StatusOK, nextResponse{Done: true, Item: &item})
			return
		}
		now := s.deps.Handle.Now()
		intervals := make(map[srs.Rating]string, len(srs.Ratings))
		for _, rt := range srs.Ratings {
			intervals[rt] = srs.DueString(item.Preview.For(rt), now)
		}
		s.respondJSON(w, http.StatusOK, nextResponse{Item: &item, Intervals: intervals})
	}
}

type reviewRequest struct {
	Rating string `json:"rating"`
}

// handlePostReview rates a card.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if err := decode(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
		rating, err := srs.ParseRating(req.Rating)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		card, err := s.deps.Study.Answer(r.Context(), r.PathValue("id"), rating)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, card)
	}
}

func (s *Server) handlePostUndo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Study.Undo(r.Context()); err != nil {
			s.respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostCard creates a card from the posted content.
func (s *Server) handlePostCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var content domain.Content
		if err := decode(w, r, &content); err != nil {
			s.respondError(w, r, err)
			return
		}
		if content.Front == "" {
			s.respondError(w, r, errBadRequest)
			return
		}
		var added domain.Card
		_, err := s.deps.Handle.Update(r.Context(), func(cur *domain.Store) (*domain.Store, error) {
			next, c := cardstore.AddCard(cur, content, s.deps.Handle.Now())
			added = c
			return next, nil
		})
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, added)
	}
}

// handlePutCard replaces a card's content.
func (s *Server) handlePutCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var content domain.Content
		if err := decode(w, r, &content); err != nil {
			s.respondError(w, r, err)
			return
		}
		id := r.PathValue("id")
		st, err := s.deps.Handle.Update(r.Context(), func(cur *domain.Store) (*domain.Store, error) {
			return cardstore.EditCard(cur, id, content, s.deps.Handle.Now())
		})
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, st.Flashcards[id])
	}
}

// handleDeleteCard removes a card. ?neverShowAgain=true also marks its word
// known.
func (s *Server) handleDeleteCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		never, _ := strconv.ParseBool(r.URL.Query().Get("neverShowAgain"))
		if err := s.deps.Study.Remove(r.Context(), r.PathValue("id"), never); err != nil {
			s.respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleBuryCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Study.Bury(r.Context(), r.PathValue("id")); err != nil {
			s.respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSuspendCard(suspend bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		change := s.deps.Study.Unsuspend
		if suspend {
			change = s.deps.Study.Suspend
		}
		if err := change(r.Context(), r.PathValue("id")); err != nil {
			s.respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
