package srs

import (
	"time"

	"github.com/conorfennell/flashsync/internal/domain"
)

// Bury hides card from every queue until the next UnburyAll.
func Bury(card domain.Card, now time.Time) domain.Card {
	c := card.Clone()
	c.Buried = true
	c.LastUpdated = now.UnixMilli()
	return c
}

// UnburyAll returns a copy of cards with every buried flag cleared and the
// number of cards that changed.
func UnburyAll(cards map[string]domain.Card, now time.Time) (map[string]domain.Card, int) {
	out := make(map[string]domain.Card, len(cards))
	n := 0
	for id, c := range cards {
		if c.Buried {
			c = c.Clone()
			c.Buried = false
			c.LastUpdated = now.UnixMilli()
			n++
		}
		out[id] = c
	}
	return out, n
}
