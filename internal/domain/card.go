package domain

import "maps"

// State is the scheduling state of a card.
type State string

const (
	StateNew        State = "new"
	StateLearning   State = "learning"
	StateReview     State = "review"
	StateRelearning State = "relearning"
)

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	switch s {
	case StateNew, StateLearning, StateReview, StateRelearning:
		return true
	}
	return false
}

// Rank orders states from least to most advanced:
// new < learning < relearning < review.
func (s State) Rank() int {
	switch s {
	case StateLearning:
		return 1
	case StateRelearning:
		return 2
	case StateReview:
		return 3
	}
	return 0
}

// Content is the learnable payload of a card. The scheduler never reads it.
type Content struct {
	Type           string         `json:"type"`
	Front          string         `json:"front"`
	Back           string         `json:"back"`
	Reading        string         `json:"reading,omitempty"`
	PitchAccent    *int           `json:"pitchAccent,omitempty"`
	POS            string         `json:"pos,omitempty"`
	Level          *int           `json:"level,omitempty"`
	Example        string         `json:"example,omitempty"`
	ExampleMeaning string         `json:"exampleMeaning,omitempty"`
	Definition     string         `json:"definition,omitempty"`
	ImageURL       string         `json:"imageUrl,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Clone returns a copy of c that shares no mutable state with it.
func (c Content) Clone() Content {
	out := c
	if c.PitchAccent != nil {
		v := *c.PitchAccent
		out.PitchAccent = &v
	}
	if c.Level != nil {
		v := *c.Level
		out.Level = &v
	}
	if c.Extra != nil {
		out.Extra = maps.Clone(c.Extra)
	}
	return out
}

// Card is one learnable fact together with its scheduling state.
// Timestamps are Unix milliseconds; Interval is a duration in milliseconds.
type Card struct {
	ID           string  `json:"id"`
	Content      Content `json:"content"`
	State        State   `json:"state"`
	Ease         float64 `json:"ease"`
	Interval     float64 `json:"interval"`
	DueDate      int64   `json:"dueDate"`
	Reviews      int     `json:"reviews"`
	Lapses       int     `json:"lapses"`
	LearningStep int     `json:"learningStep"`
	Suspended    bool    `json:"suspended,omitempty"`
	Buried       bool    `json:"buried,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
	LastReviewed int64   `json:"lastReviewed"`
	LastUpdated  int64   `json:"lastUpdated"`
}

// Excluded reports whether the card is kept out of every queue.
func (c Card) Excluded() bool {
	return c.Suspended || c.Buried
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	out.Content = c.Content.Clone()
	return out
}

// InitialEase is the ease assigned to freshly created cards.
const InitialEase = 2.5

// NewCard returns a card in the new state, due immediately.
func NewCard(id string, content Content, nowMs int64) Card {
	return Card{
		ID:          id,
		Content:     content,
		State:       StateNew,
		Ease:        InitialEase,
		DueDate:     nowMs,
		CreatedAt:   nowMs,
		LastUpdated: nowMs,
	}
}
