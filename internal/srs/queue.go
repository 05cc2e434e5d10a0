package srs

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/conorfennell/flashsync/internal/domain"
)

// NewCardChance is the probability of showing a new card ahead of pending
// reviews.
const NewCardChance = 0.1

// Rand is the random source consulted when interleaving new cards.
type Rand interface {
	Float64() float64
}

type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// Queue is a point-in-time snapshot of what is left to study. It is never
// persisted; callers rebuild it whenever the store changes.
type Queue struct {
	RelearnQueue  []string `json:"relearnQueue"`
	LearningQueue []string `json:"learningQueue"`
	ReviewQueue   []string `json:"reviewQueue"`
	NewQueue      []string `json:"newQueue"`
}

// Len returns the number of ids across all four lists.
func (q Queue) Len() int {
	return len(q.RelearnQueue) + len(q.LearningQueue) + len(q.ReviewQueue) + len(q.NewQueue)
}

// BuildQueue selects the cards to study from cards as of now.
func BuildQueue(cards map[string]domain.Card, meta domain.Meta, now time.Time) Queue {
	nowMs := now.UnixMilli()
	dayEnd := EndOfDay(now, meta.NewDayHour)

	var fresh, learning, relearning, review []domain.Card
	for _, c := range cards {
		if c.Excluded() {
			continue
		}
		switch c.State {
		case domain.StateNew:
			fresh = append(fresh, c)
		case domain.StateLearning:
			if c.DueDate <= nowMs {
				learning = append(learning, c)
			}
		case domain.StateRelearning:
			if c.DueDate <= nowMs {
				relearning = append(relearning, c)
			}
		case domain.StateReview:
			if c.DueDate <= dayEnd {
				review = append(review, c)
			}
		}
	}

	slices.SortFunc(fresh, func(a, b domain.Card) int {
		return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	for _, list := range [][]domain.Card{learning, relearning, review} {
		slices.SortFunc(list, byDue)
	}

	fresh = truncate(fresh, max(0, meta.MaxNewCardsPerDay-meta.NewCardsToday))
	if meta.MaxNewCardsPerDayLearning >= 0 {
		fresh = truncate(fresh, max(0, meta.MaxNewCardsPerDayLearning-meta.NewCardsToday))
	}
	if meta.MaxReviewsPerDay >= 0 {
		review = truncate(review, max(0, meta.MaxReviewsPerDay-meta.ReviewsToday))
	}

	return Queue{
		RelearnQueue:  ids(relearning),
		LearningQueue: ids(learning),
		ReviewQueue:   ids(review),
		NewQueue:      ids(fresh),
	}
}

// NextCard picks the card to show next, or false when nothing is left.
// The queue may be stale, so every candidate is re-checked against cards.
// A nil rnd uses the package random source.
func NextCard(q Queue, cards map[string]domain.Card, now time.Time, rnd Rand) (domain.Card, bool) {
	if rnd == nil {
		rnd = defaultRand{}
	}
	nowMs := now.UnixMilli()
	dueNow := func(c domain.Card) bool { return c.DueDate <= nowMs }

	if c, ok := first(q.RelearnQueue, cards, dueNow); ok {
		return c, true
	}
	if c, ok := first(q.LearningQueue, cards, dueNow); ok {
		return c, true
	}

	newCard, hasNew := first(q.NewQueue, cards, nil)
	reviewCard, hasReview := first(q.ReviewQueue, cards, nil)

	if hasNew && (!hasReview || rnd.Float64() < NewCardChance) {
		return newCard, true
	}
	if hasReview {
		return reviewCard, true
	}
	if hasNew {
		return newCard, true
	}
	return domain.Card{}, false
}

// Counts summarises a queue for display. Learning counts both learning and
// relearning cards that are due now.
type Counts struct {
	New      int `json:"new"`
	Learning int `json:"learning"`
	Review   int `json:"review"`
	Total    int `json:"total"`
}

// CountQueue counts the live, studyable cards left in q.
func CountQueue(q Queue, cards map[string]domain.Card, now time.Time) Counts {
	nowMs := now.UnixMilli()
	live := func(list []string, due bool) int {
		n := 0
		for _, id := range list {
			c, ok := cards[id]
			if !ok || c.Excluded() {
				continue
			}
			if due && c.DueDate > nowMs {
				continue
			}
			n++
		}
		return n
	}
	out := Counts{
		New:      live(q.NewQueue, false),
		Learning: live(q.LearningQueue, true) + live(q.RelearnQueue, true),
		Review:   live(q.ReviewQueue, false),
	}
	out.Total = out.New + out.Learning + out.Review
	return out
}

// RemoveFromQueue returns q without id in any list.
func RemoveFromQueue(q Queue, id string) Queue {
	drop := func(list []string) []string {
		return slices.DeleteFunc(slices.Clone(list), func(s string) bool { return s == id })
	}
	return Queue{
		RelearnQueue:  drop(q.RelearnQueue),
		LearningQueue: drop(q.LearningQueue),
		ReviewQueue:   drop(q.ReviewQueue),
		NewQueue:      drop(q.NewQueue),
	}
}

// AddToQueue places card into the list matching its state. New cards go to
// the end; the other lists stay ordered by due date. Any previous position of
// the card is removed, and excluded cards are not re-added.
func AddToQueue(q Queue, card domain.Card, cards map[string]domain.Card) Queue {
	out := RemoveFromQueue(q, card.ID)
	if card.Excluded() {
		return out
	}
	var list *[]string
	switch card.State {
	case domain.StateNew:
		out.NewQueue = append(out.NewQueue, card.ID)
		return out
	case domain.StateLearning:
		list = &out.LearningQueue
	case domain.StateRelearning:
		list = &out.RelearnQueue
	case domain.StateReview:
		list = &out.ReviewQueue
	default:
		return out
	}
	i := slices.IndexFunc(*list, func(id string) bool {
		other, ok := cards[id]
		return ok && other.DueDate > card.DueDate
	})
	if i < 0 {
		i = len(*list)
	}
	*list = slices.Insert(*list, i, card.ID)
	return out
}

func first(list []string, cards map[string]domain.Card, keep func(domain.Card) bool) (domain.Card, bool) {
	for _, id := range list {
		c, ok := cards[id]
		if !ok || c.Excluded() {
			continue
		}
		if keep != nil && !keep(c) {
			continue
		}
		return c, true
	}
	return domain.Card{}, false
}

func byDue(a, b domain.Card) int {
	return cmp.Or(cmp.Compare(a.DueDate, b.DueDate), cmp.Compare(a.ID, b.ID))
}

func truncate(cards []domain.Card, n int) []domain.Card {
	if len(cards) > n {
		return cards[:n]
	}
	return cards
}

func ids(cards []domain.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ID
	}
	return out
}
