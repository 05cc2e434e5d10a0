package cardstore

import (
	"slices"

	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/knol"
)

// WordHash returns the index key of a card: the hash of its front text, or
// "" when the card has none.
func WordHash(c domain.Card) string {
	if c.Content.Front == "" {
		return ""
	}
	return knol.HashWord(c.Content.Front)
}

// RebuildWordIndex recomputes the word index from the cards alone.
func RebuildWordIndex(s *domain.Store) {
	s.WordToCardMap = map[string][]string{}
	indexUnindexed(s)
}

// RebuildWordStats recomputes every word's statistics from the index.
func RebuildWordStats(s *domain.Store) {
	s.WordStatsMap = map[string]domain.WordStats{}
	for h := range s.WordToCardMap {
		refreshWordStats(s, h)
	}
}

// CalculateWordStats summarises cards that share a word.
func CalculateWordStats(cards []domain.Card) domain.WordStats {
	if len(cards) == 0 {
		return domain.WordStats{BestEase: domain.InitialEase, BestState: domain.StateNew}
	}
	st := domain.WordStats{CardCount: len(cards), BestState: domain.StateNew}
	for _, c := range cards {
		st.BestEase = max(st.BestEase, c.Ease)
		st.TotalReviews += c.Reviews
		st.TotalLapses += c.Lapses
		st.LastReviewed = max(st.LastReviewed, c.LastReviewed)
		st.BestInterval = max(st.BestInterval, c.Interval)
		if c.State.Rank() > st.BestState.Rank() {
			st.BestState = c.State
		}
	}
	return st
}

// indexUnindexed adds every card missing from the index under its word hash,
// in id order.
func indexUnindexed(s *domain.Store) {
	indexed := map[string]bool{}
	for _, ids := range s.WordToCardMap {
		for _, id := range ids {
			indexed[id] = true
		}
	}
	ids := make([]string, 0, len(s.Flashcards))
	for id := range s.Flashcards {
		if !indexed[id] {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		addToIndex(s, s.Flashcards[id])
	}
}

func addToIndex(s *domain.Store, c domain.Card) {
	h := WordHash(c)
	if h == "" || slices.Contains(s.WordToCardMap[h], c.ID) {
		return
	}
	s.WordToCardMap[h] = append(s.WordToCardMap[h], c.ID)
}

func removeFromIndex(s *domain.Store, id string) []string {
	var touched []string
	for h, ids := range s.WordToCardMap {
		if !slices.Contains(ids, id) {
			continue
		}
		ids = slices.DeleteFunc(slices.Clone(ids), func(x string) bool { return x == id })
		if len(ids) == 0 {
			delete(s.WordToCardMap, h)
		} else {
			s.WordToCardMap[h] = ids
		}
		touched = append(touched, h)
	}
	return touched
}

// refreshWordStats recomputes one word's statistics, dropping the entry when
// no live card remains.
func refreshWordStats(s *domain.Store, h string) {
	var cards []domain.Card
	for _, id := range s.WordToCardMap[h] {
		if c, ok := s.Flashcards[id]; ok {
			cards = append(cards, c)
		}
	}
	if len(cards) == 0 {
		delete(s.WordStatsMap, h)
		return
	}
	s.WordStatsMap[h] = CalculateWordStats(cards)
}

// hashesOf returns the index keys that list id.
func hashesOf(s *domain.Store, id string) []string {
	var out []string
	for h, ids := range s.WordToCardMap {
		if slices.Contains(ids, id) {
			out = append(out, h)
		}
	}
	return out
}
