package cardstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/knol"
	"github.com/conorfennell/flashsync/internal/srs"
)

var ErrCardNotFound = errors.New("card not found")

// The operations below never modify their input store. Each returns a new
// store with the change applied and the derived word statistics refreshed.

// AnswerCard rates a card and records the answer in the daily counters.
func AnswerCard(s *domain.Store, id string, rating srs.Rating, now time.Time) (*domain.Store, domain.Card, error) {
	card, ok := s.Flashcards[id]
	if !ok {
		return nil, domain.Card{}, fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	out := s.Clone()
	resetCounters(out, now)

	updated, err := srs.Answer(card, rating, out.Meta, now)
	if err != nil {
		return nil, domain.Card{}, err
	}
	out.Flashcards[id] = updated

	was := card.State
	switch was {
	case domain.StateNew:
		out.Meta.NewCardsToday++
	case domain.StateReview, domain.StateRelearning:
		out.Meta.ReviewsToday++
	}

	today := srs.TodayString(now, out.Meta.NewDayHour)
	ds, ok := out.DailyStats[today]
	if !ok {
		ds = domain.DailyStats{Date: today}
	}
	switch was {
	case domain.StateNew:
		ds.NewCardsStudied++
	case domain.StateReview:
		ds.ReviewCardsStudied++
		if rating == srs.Again {
			ds.Lapses++
		}
	}
	if updated.State == domain.StateReview && (was == domain.StateNew || was == domain.StateLearning) {
		ds.Graduated++
	}
	out.DailyStats[today] = ds

	refreshCard(out, id)
	return out, updated, nil
}

// BuryCard hides a card until the next day rollover.
func BuryCard(s *domain.Store, id string, now time.Time) (*domain.Store, error) {
	return withCard(s, id, func(c domain.Card) domain.Card {
		return srs.Bury(c, now)
	})
}

// SuspendCard hides a card until it is unsuspended.
func SuspendCard(s *domain.Store, id string, now time.Time) (*domain.Store, error) {
	return withCard(s, id, func(c domain.Card) domain.Card {
		c.Suspended = true
		c.LastUpdated = now.UnixMilli()
		return c
	})
}

func UnsuspendCard(s *domain.Store, id string, now time.Time) (*domain.Store, error) {
	return withCard(s, id, func(c domain.Card) domain.Card {
		c.Suspended = false
		c.LastUpdated = now.UnixMilli()
		return c
	})
}

// EditCard replaces a card's content, re-indexing it if the front changed.
func EditCard(s *domain.Store, id string, content domain.Content, now time.Time) (*domain.Store, error) {
	if _, ok := s.Flashcards[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	out := s.Clone()
	c := out.Flashcards[id]
	c.Content = content.Clone()
	c.LastUpdated = now.UnixMilli()
	out.Flashcards[id] = c

	for _, h := range removeFromIndex(out, id) {
		refreshWordStats(out, h)
	}
	addToIndex(out, c)
	refreshCard(out, id)
	return out, nil
}

// AddCard creates a new card for content.
func AddCard(s *domain.Store, content domain.Content, now time.Time) (*domain.Store, domain.Card) {
	out := s.Clone()
	c := domain.NewCard(knol.NewID(), content.Clone(), now.UnixMilli())
	if c.Content.Type == "" {
		c.Content.Type = "word"
	}
	out.Flashcards[c.ID] = c
	addToIndex(out, c)
	refreshCard(out, c.ID)
	return out, c
}

// RemoveCard deletes a card. With neverShowAgain the card's word is recorded
// as known so it is not offered again.
func RemoveCard(s *domain.Store, id string, neverShowAgain bool) (*domain.Store, error) {
	card, ok := s.Flashcards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	out := s.Clone()
	delete(out.Flashcards, id)
	for _, h := range removeFromIndex(out, id) {
		refreshWordStats(out, h)
	}
	if h := WordHash(card); neverShowAgain && h != "" {
		out.KnownUntracked[h] = true
	}
	return out, nil
}

// IsKnown reports whether front is already tracked by a card or marked known.
func IsKnown(s *domain.Store, front string) bool {
	h := knol.HashWord(front)
	return len(s.WordToCardMap[h]) > 0 || s.KnownUntracked[h]
}

// RolloverDay starts a new study day when the stored date is stale: the
// daily counters reset and every buried card returns. It reports whether
// anything changed.
func RolloverDay(s *domain.Store, now time.Time) (*domain.Store, bool) {
	if s.Meta.NewCardsDate == srs.TodayString(now, s.Meta.NewDayHour) {
		return s, false
	}
	out := s.Clone()
	resetCounters(out, now)
	out.Flashcards, _ = srs.UnburyAll(out.Flashcards, now)
	return out, true
}

func resetCounters(s *domain.Store, now time.Time) {
	today := srs.TodayString(now, s.Meta.NewDayHour)
	if s.Meta.NewCardsDate == today {
		return
	}
	s.Meta.NewCardsDate = today
	s.Meta.NewCardsToday = 0
	s.Meta.ReviewsToday = 0
}

func withCard(s *domain.Store, id string, fn func(domain.Card) domain.Card) (*domain.Store, error) {
	c, ok := s.Flashcards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	out := s.Clone()
	out.Flashcards[id] = fn(c.Clone())
	refreshCard(out, id)
	return out, nil
}

func refreshCard(s *domain.Store, id string) {
	for _, h := range hashesOf(s, id) {
		refreshWordStats(s, h)
	}
}
