package domain

import (
	"encoding/json"
	"maps"
	"slices"
)

// CurrentStoreVersion is the persisted format this build writes.
const CurrentStoreVersion = 3

// Meta is the per-store scheduler configuration plus the rolling daily
// counters. Steps are in minutes, intervals in days, modifiers in percent.
type Meta struct {
	NewCardsToday             int       `json:"newCardsToday"`
	ReviewsToday              int       `json:"reviewsToday"`
	NewCardsDate              string    `json:"newCardsDate"`
	MaxNewCardsPerDay         int       `json:"maxNewCardsPerDay"`
	MaxNewCardsPerDayLearning int       `json:"maxNewCardsPerDayLearning"`
	MaxReviewsPerDay          int       `json:"maxReviewsPerDay"`
	LearningSteps             []float64 `json:"learningSteps"`
	RelearnSteps              []float64 `json:"relearnSteps"`
	GraduatingInterval        float64   `json:"graduatingInterval"`
	EasyInterval              float64   `json:"easyInterval"`
	NewIntervalModifier       float64   `json:"newIntervalModifier"`
	ReviewIntervalModifier    float64   `json:"reviewIntervalModifier"`
	MaxInterval               float64   `json:"maxInterval"`
	NewDayHour                int       `json:"newDayHour"`
}

// Clone returns a copy of m with its own step slices.
func (m Meta) Clone() Meta {
	out := m
	out.LearningSteps = slices.Clone(m.LearningSteps)
	out.RelearnSteps = slices.Clone(m.RelearnSteps)
	return out
}

// WordStats is a derived summary of all cards sharing a word hash.
type WordStats struct {
	CardCount    int     `json:"cardCount"`
	BestEase     float64 `json:"bestEase"`
	TotalReviews int     `json:"totalReviews"`
	TotalLapses  int     `json:"totalLapses"`
	LastReviewed int64   `json:"lastReviewed"`
	BestInterval float64 `json:"bestInterval"`
	BestState    State   `json:"bestState"`
}

// DailyStats records what was studied on one study day.
type DailyStats struct {
	Date               string `json:"date"`
	NewCardsStudied    int    `json:"newCardsStudied"`
	ReviewCardsStudied int    `json:"reviewCardsStudied"`
	Lapses             int    `json:"lapses"`
	TimeSpent          int64  `json:"timeSpent"`
	Graduated          int    `json:"graduated"`
}

// Store is the aggregate persisted and transmitted as a whole.
// WordToCardMap and WordStatsMap are derived from Flashcards and may be
// rebuilt at any time.
type Store struct {
	Flashcards     map[string]Card            `json:"flashcards"`
	WordCandidates map[string]json.RawMessage `json:"wordCandidates"`
	WordToCardMap  map[string][]string        `json:"wordToCardMap"`
	WordStatsMap   map[string]WordStats       `json:"wordStatsMap"`
	KnownUntracked map[string]bool            `json:"knownUntracked"`
	Meta           Meta                       `json:"meta"`
	DailyStats     map[string]DailyStats      `json:"dailyStats"`
	Version        int                        `json:"version"`
}

// NewStore returns an empty store using meta as its configuration.
func NewStore(meta Meta) *Store {
	return &Store{
		Flashcards:     map[string]Card{},
		WordCandidates: map[string]json.RawMessage{},
		WordToCardMap:  map[string][]string{},
		WordStatsMap:   map[string]WordStats{},
		KnownUntracked: map[string]bool{},
		Meta:           meta,
		DailyStats:     map[string]DailyStats{},
		Version:        CurrentStoreVersion,
	}
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	out := &Store{
		Flashcards:     make(map[string]Card, len(s.Flashcards)),
		WordCandidates: maps.Clone(s.WordCandidates),
		WordToCardMap:  make(map[string][]string, len(s.WordToCardMap)),
		WordStatsMap:   maps.Clone(s.WordStatsMap),
		KnownUntracked: maps.Clone(s.KnownUntracked),
		Meta:           s.Meta.Clone(),
		DailyStats:     maps.Clone(s.DailyStats),
		Version:        s.Version,
	}
	for id, c := range s.Flashcards {
		out.Flashcards[id] = c.Clone()
	}
	for h, ids := range s.WordToCardMap {
		out.WordToCardMap[h] = slices.Clone(ids)
	}
	if out.WordCandidates == nil {
		out.WordCandidates = map[string]json.RawMessage{}
	}
	if out.WordStatsMap == nil {
		out.WordStatsMap = map[string]WordStats{}
	}
	if out.KnownUntracked == nil {
		out.KnownUntracked = map[string]bool{}
	}
	if out.DailyStats == nil {
		out.DailyStats = map[string]DailyStats{}
	}
	return out
}

// WordFreq is the opaque word-frequency table synced alongside the store.
type WordFreq map[string]json.RawMessage
