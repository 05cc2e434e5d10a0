package srs

import (
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/flashsync/internal/domain"
)

const (
	// MinEase is the floor applied on every downward ease adjustment.
	MinEase = 1.3
	// EaseBonus multiplies the interval of a review card answered easy.
	EaseBonus = 1.3

	easeStep         = 0.15
	lapseEasePenalty = 0.2
	hardDelayFactor  = 1.5
	hardReviewFactor = 1.2
	lapseFactor      = 0.5
	relearnEasyBonus = 1.5

	defaultLearningDelay = 1
	defaultRelearnDelay  = 10
)

// Preview holds the due date, in Unix milliseconds, each rating would produce.
type Preview struct {
	Again int64 `json:"again"`
	Hard  int64 `json:"hard"`
	Good  int64 `json:"good"`
	Easy  int64 `json:"easy"`
}

// For returns the previewed due date for r.
func (p Preview) For(r Rating) int64 {
	switch r {
	case Again:
		return p.Again
	case Hard:
		return p.Hard
	case Good:
		return p.Good
	case Easy:
		return p.Easy
	}
	return 0
}

// Answer applies rating to card and returns the updated card. It does not
// modify its input and consults no clock other than now.
func Answer(card domain.Card, rating Rating, meta domain.Meta, now time.Time) (domain.Card, error) {
	switch rating {
	case Again, Hard, Good, Easy:
	default:
		return card, fmt.Errorf("%w: %q", ErrUnknownRating, rating)
	}

	nowMs := now.UnixMilli()
	c := card.Clone()
	c.LastReviewed = nowMs
	c.LastUpdated = nowMs

	a := answerer{card: c, meta: meta, now: nowMs}
	switch card.State {
	case domain.StateNew:
		return a.fromNew(rating), nil
	case domain.StateLearning:
		return a.fromLearning(rating), nil
	case domain.StateReview:
		return a.fromReview(rating), nil
	case domain.StateRelearning:
		return a.fromRelearning(rating), nil
	}
	return card, fmt.Errorf("%w: %q", ErrUnknownState, card.State)
}

// PreviewAnswers computes the due date for each rating without changing card.
func PreviewAnswers(card domain.Card, meta domain.Meta, now time.Time) (Preview, error) {
	var p Preview
	for _, r := range Ratings {
		next, err := Answer(card, r, meta, now)
		if err != nil {
			return Preview{}, err
		}
		switch r {
		case Again:
			p.Again = next.DueDate
		case Hard:
			p.Hard = next.DueDate
		case Good:
			p.Good = next.DueDate
		case Easy:
			p.Easy = next.DueDate
		}
	}
	return p, nil
}

type answerer struct {
	card domain.Card
	meta domain.Meta
	now  int64
}

func (a answerer) dueIn(ms float64) int64 {
	return a.now + int64(math.Round(ms))
}

func (a answerer) capInterval(ms float64) float64 {
	return math.Min(ms, a.meta.MaxInterval*Day)
}

// graduate moves the card into review with the given interval in days.
func (a answerer) graduate(days float64) domain.Card {
	c := a.card
	c.State = domain.StateReview
	c.LearningStep = 0
	c.Interval = days * Day
	c.DueDate = a.dueIn(c.Interval)
	return c
}

func (a answerer) fromNew(r Rating) domain.Card {
	c := a.card
	steps := a.meta.LearningSteps
	first := stepDelay(steps, 0, defaultLearningDelay)

	switch r {
	case Again:
		c.State = domain.StateLearning
		c.LearningStep = 0
		c.DueDate = a.dueIn(first * Minute)
	case Hard:
		c.State = domain.StateLearning
		c.LearningStep = 0
		c.DueDate = a.dueIn(first * Minute * hardDelayFactor)
	case Good:
		if len(steps) <= 1 {
			c = a.graduate(a.meta.GraduatingInterval)
			c.Reviews = 1
			return c
		}
		c.State = domain.StateLearning
		c.LearningStep = 1
		c.DueDate = a.dueIn(steps[1] * Minute)
	case Easy:
		c = a.graduate(a.meta.EasyInterval)
		c.Ease += easeStep
		c.Reviews = 1
	}
	return c
}

func (a answerer) fromLearning(r Rating) domain.Card {
	c := a.card
	steps := a.meta.LearningSteps
	step := clampStep(c.LearningStep, steps)

	switch r {
	case Again:
		c.LearningStep = 0
		c.DueDate = a.dueIn(stepDelay(steps, 0, defaultLearningDelay) * Minute)
	case Hard:
		c.DueDate = a.dueIn(stepDelay(steps, step, defaultLearningDelay) * Minute * hardDelayFactor)
	case Good:
		next := step + 1
		if next >= len(steps) {
			c = a.graduate(a.meta.GraduatingInterval)
			c.Reviews++
			return c
		}
		c.LearningStep = next
		c.DueDate = a.dueIn(steps[next] * Minute)
	case Easy:
		c = a.graduate(a.meta.EasyInterval)
		c.Ease += easeStep
		c.Reviews++
	}
	return c
}

func (a answerer) fromReview(r Rating) domain.Card {
	c := a.card
	modifier := a.meta.ReviewIntervalModifier / 100

	switch r {
	case Again:
		c.State = domain.StateRelearning
		c.LearningStep = 0
		c.Lapses++
		c.Ease = math.Max(MinEase, c.Ease-lapseEasePenalty)
		c.Interval = math.Max(Day, c.Interval*lapseFactor)
		c.DueDate = a.dueIn(stepDelay(a.meta.RelearnSteps, 0, defaultRelearnDelay) * Minute)
	case Hard:
		c.Ease = math.Max(MinEase, c.Ease-easeStep)
		c.Interval = a.capInterval(c.Interval * hardReviewFactor)
		c.DueDate = a.dueIn(c.Interval)
		c.Reviews++
	case Good:
		c.Interval = a.capInterval(c.Interval * c.Ease * modifier)
		c.DueDate = a.dueIn(c.Interval)
		c.Reviews++
	case Easy:
		// The interval grows by the ease in effect before this answer.
		c.Interval = a.capInterval(c.Interval * c.Ease * EaseBonus * modifier)
		c.Ease += easeStep
		c.DueDate = a.dueIn(c.Interval)
		c.Reviews++
	}
	return c
}

func (a answerer) fromRelearning(r Rating) domain.Card {
	c := a.card
	steps := a.meta.RelearnSteps
	step := clampStep(c.LearningStep, steps)

	switch r {
	case Again:
		c.LearningStep = 0
		c.DueDate = a.dueIn(stepDelay(steps, 0, defaultRelearnDelay) * Minute)
	case Hard:
		c.DueDate = a.dueIn(stepDelay(steps, step, defaultRelearnDelay) * Minute * hardDelayFactor)
	case Good:
		next := step + 1
		if next >= len(steps) {
			// Back to review on the interval recorded at the lapse.
			c.State = domain.StateReview
			c.LearningStep = 0
			c.DueDate = a.dueIn(c.Interval)
			return c
		}
		c.LearningStep = next
		c.DueDate = a.dueIn(steps[next] * Minute)
	case Easy:
		c.State = domain.StateReview
		c.LearningStep = 0
		c.Interval = a.capInterval(c.Interval * relearnEasyBonus)
		c.DueDate = a.dueIn(c.Interval)
	}
	return c
}

func clampStep(step int, steps []float64) int {
	return max(0, min(step, len(steps)-1))
}

func stepDelay(steps []float64, i int, fallback float64) float64 {
	if len(steps) == 0 {
		return fallback
	}
	return steps[i]
}
