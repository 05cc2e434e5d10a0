// Package study runs a review session over the persisted store: it picks the
// next card, applies answers and keeps an undo history.
package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/srs"
)

// MaxUndo is how many prior stores the session remembers.
const MaxUndo = 50

var ErrNothingToUndo = errors.New("nothing to undo")

// Item is what to show next.
type Item struct {
	Card    domain.Card `json:"card"`
	Preview srs.Preview `json:"preview"`
	Counts  srs.Counts  `json:"counts"`
}

// Session is safe for concurrent use. Mutations are serialized so the undo
// history matches the order they were applied in. The history only applies
// to the store revision the session last wrote or read; a write from
// elsewhere, such as a sync, discards it.
type Session struct {
	handle *cardstore.Handle
	log    *slog.Logger

	// Rand picks between new and review cards. Nil uses the default source.
	Rand srs.Rand

	mu    sync.Mutex
	undo  []*domain.Store
	rev   int64
	known bool
}

func NewSession(h *cardstore.Handle, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{handle: h, log: logger}
}

// Next returns the card to study, or false when nothing is due. A new study
// day is started first if the stored one is stale.
func (s *Session) Next(ctx context.Context) (Item, bool, error) {
	st, err := s.current(ctx)
	if err != nil {
		return Item{}, false, err
	}
	now := s.handle.Now()
	q := srs.BuildQueue(st.Flashcards, st.Meta, now)
	counts := srs.CountQueue(q, st.Flashcards, now)

	card, ok := srs.NextCard(q, st.Flashcards, now, s.Rand)
	if !ok {
		return Item{Counts: counts}, false, nil
	}
	preview, err := srs.PreviewAnswers(card, st.Meta, now)
	if err != nil {
		return Item{}, false, err
	}
	return Item{Card: card, Preview: preview, Counts: counts}, true, nil
}

// Counts summarises what is left to study today.
func (s *Session) Counts(ctx context.Context) (srs.Counts, error) {
	st, err := s.current(ctx)
	if err != nil {
		return srs.Counts{}, err
	}
	now := s.handle.Now()
	return srs.CountQueue(srs.BuildQueue(st.Flashcards, st.Meta, now), st.Flashcards, now), nil
}

// Answer rates the card and returns it as rescheduled.
func (s *Session) Answer(ctx context.Context, id string, rating srs.Rating) (domain.Card, error) {
	var answered domain.Card
	err := s.mutate(ctx, func(cur *domain.Store) (*domain.Store, error) {
		next, c, err := cardstore.AnswerCard(cur, id, rating, s.handle.Now())
		answered = c
		return next, err
	})
	if err != nil {
		return domain.Card{}, err
	}
	s.log.Debug("card answered", "id", id, "rating", rating, "state", answered.State,
		"due", srs.DueString(answered.DueDate, s.handle.Now()))
	return answered, nil
}

func (s *Session) Bury(ctx context.Context, id string) error {
	return s.mutate(ctx, func(cur *domain.Store) (*domain.Store, error) {
		return cardstore.BuryCard(cur, id, s.handle.Now())
	})
}

func (s *Session) Suspend(ctx context.Context, id string) error {
	return s.mutate(ctx, func(cur *domain.Store) (*domain.Store, error) {
		return cardstore.SuspendCard(cur, id, s.handle.Now())
	})
}

func (s *Session) Unsuspend(ctx context.Context, id string) error {
	return s.mutate(ctx, func(cur *domain.Store) (*domain.Store, error) {
		return cardstore.UnsuspendCard(cur, id, s.handle.Now())
	})
}

// Remove deletes the card; with neverShowAgain its word is marked known.
func (s *Session) Remove(ctx context.Context, id string, neverShowAgain bool) error {
	return s.mutate(ctx, func(cur *domain.Store) (*domain.Store, error) {
		return cardstore.RemoveCard(cur, id, neverShowAgain)
	})
}

// Undo restores the store as it was before the most recent mutation. If the
// store was replaced elsewhere since then, the history is dropped and
// ErrNothingToUndo is returned.
func (s *Session) Undo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undo) == 0 || !s.known {
		return ErrNothingToUndo
	}
	prev := s.undo[len(s.undo)-1]
	rev, err := s.handle.ReplaceAt(ctx, prev, s.rev)
	if errors.Is(err, cardstore.ErrConflict) {
		s.dropHistory()
		return fmt.Errorf("%w: store changed elsewhere", ErrNothingToUndo)
	}
	if err != nil {
		return err
	}
	s.undo = s.undo[:len(s.undo)-1]
	s.rev = rev
	return nil
}

// UndoDepth is the number of mutations that can be undone.
func (s *Session) UndoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo)
}

func (s *Session) current(ctx context.Context) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, rev, err := s.handle.UpdateRevision(ctx, func(cur *domain.Store) (*domain.Store, error) {
		next, changed := cardstore.RolloverDay(cur, s.handle.Now())
		if !changed {
			return nil, nil
		}
		s.log.Info("new study day", "date", next.Meta.NewCardsDate)
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	s.observe(rev)
	return st, nil
}

func (s *Session) mutate(ctx context.Context, fn func(*domain.Store) (*domain.Store, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *domain.Store
	_, rev, err := s.handle.UpdateRevision(ctx, func(cur *domain.Store) (*domain.Store, error) {
		prev = cur
		return fn(cur)
	})
	if err != nil {
		return err
	}
	s.observe(rev)
	s.undo = append(s.undo, prev)
	if len(s.undo) > MaxUndo {
		s.undo = s.undo[len(s.undo)-MaxUndo:]
	}
	return nil
}

// observe records rev as the session's view of the store. If rev was built
// on a revision the session did not write or see, the history no longer
// matches the store and is dropped. Must be called with mu held.
func (s *Session) observe(rev cardstore.Revision) {
	if s.known && rev.Base != s.rev {
		s.dropHistory()
	}
	s.rev, s.known = rev.Saved, true
}

func (s *Session) dropHistory() {
	if len(s.undo) > 0 {
		s.log.Info("store changed elsewhere, undo history dropped", "steps", len(s.undo))
	}
	s.undo = nil
}
