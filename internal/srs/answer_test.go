package srs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/flashsync/internal/domain"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newCard(id string) domain.Card {
	return domain.NewCard(id, domain.Content{Front: id}, testNow.Add(-time.Hour).UnixMilli())
}

func reviewCard(id string, intervalDays, ease float64) domain.Card {
	c := newCard(id)
	c.State = domain.StateReview
	c.Interval = intervalDays * Day
	c.Ease = ease
	c.Reviews = 3
	c.DueDate = testNow.UnixMilli()
	return c
}

func mustAnswer(t *testing.T, c domain.Card, r Rating, meta domain.Meta, now time.Time) domain.Card {
	t.Helper()
	out, err := Answer(c, r, meta, now)
	require.NoError(t, err)
	return out
}

func TestAnswerFromNew(t *testing.T) {
	meta := DefaultMeta(testNow)
	nowMs := testNow.UnixMilli()

	tests := []struct {
		name    string
		rating  Rating
		state   domain.State
		step    int
		due     int64
		reviews int
		ease    float64
	}{
		{"again", Again, domain.StateLearning, 0, nowMs + int64(Minute), 0, 2.5},
		{"hard", Hard, domain.StateLearning, 0, nowMs + int64(1.5*Minute), 0, 2.5},
		{"good", Good, domain.StateLearning, 1, nowMs + int64(10*Minute), 0, 2.5},
		{"easy", Easy, domain.StateReview, 0, nowMs + int64(4*Day), 1, 2.65},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustAnswer(t, newCard("a"), tt.rating, meta, testNow)
			assert.Equal(t, tt.state, got.State)
			assert.Equal(t, tt.step, got.LearningStep)
			assert.Equal(t, tt.due, got.DueDate)
			assert.Equal(t, tt.reviews, got.Reviews)
			assert.InDelta(t, tt.ease, got.Ease, 1e-9)
			assert.Equal(t, nowMs, got.LastReviewed)
			assert.Equal(t, nowMs, got.LastUpdated)
		})
	}
}

func TestAnswerGoodWithSingleStepGraduates(t *testing.T) {
	meta := DefaultMeta(testNow)
	meta.LearningSteps = []float64{1}

	got := mustAnswer(t, newCard("a"), Good, meta, testNow)

	assert.Equal(t, domain.StateReview, got.State)
	assert.Equal(t, 1, got.Reviews)
	assert.Equal(t, meta.GraduatingInterval*Day, got.Interval)
}

func TestAnswerLearningLadder(t *testing.T) {
	meta := DefaultMeta(testNow)
	c := newCard("a")
	now := testNow

	c = mustAnswer(t, c, Good, meta, now)
	require.Equal(t, domain.StateLearning, c.State)
	require.Equal(t, 1, c.LearningStep)

	now = now.Add(10 * time.Minute)
	c = mustAnswer(t, c, Good, meta, now)

	assert.Equal(t, domain.StateReview, c.State)
	assert.Equal(t, Day, c.Interval)
	assert.Equal(t, 1, c.Reviews)
	assert.Equal(t, 0, c.LearningStep)
	assert.Equal(t, now.UnixMilli()+int64(Day), c.DueDate)
}

func TestAnswerLearningAgainAndHard(t *testing.T) {
	meta := DefaultMeta(testNow)
	c := newCard("a")
	c.State = domain.StateLearning
	c.LearningStep = 1

	again := mustAnswer(t, c, Again, meta, testNow)
	assert.Equal(t, 0, again.LearningStep)
	assert.Equal(t, testNow.UnixMilli()+int64(Minute), again.DueDate)

	hard := mustAnswer(t, c, Hard, meta, testNow)
	assert.Equal(t, 1, hard.LearningStep)
	assert.Equal(t, testNow.UnixMilli()+int64(15*Minute), hard.DueDate)

	easy := mustAnswer(t, c, Easy, meta, testNow)
	assert.Equal(t, domain.StateReview, easy.State)
	assert.Equal(t, 4*Day, easy.Interval)
	assert.InDelta(t, 2.65, easy.Ease, 1e-9)
}

func TestAnswerFromReview(t *testing.T) {
	meta := DefaultMeta(testNow)

	t.Run("again lapses", func(t *testing.T) {
		for _, ease := range []float64{1.3, 1.4, 1.5, 2.5, 3.1} {
			c := reviewCard("a", 10, ease)
			got := mustAnswer(t, c, Again, meta, testNow)
			assert.Equal(t, domain.StateRelearning, got.State)
			assert.Equal(t, c.Lapses+1, got.Lapses)
			assert.InDelta(t, max(MinEase, ease-0.2), got.Ease, 1e-9)
			assert.Equal(t, 5*Day, got.Interval)
			assert.Equal(t, testNow.UnixMilli()+int64(10*Minute), got.DueDate)
		}
	})

	t.Run("again keeps at least one day", func(t *testing.T) {
		got := mustAnswer(t, reviewCard("a", 1, 2.5), Again, meta, testNow)
		assert.Equal(t, Day, got.Interval)
	})

	t.Run("hard", func(t *testing.T) {
		c := reviewCard("a", 6, 2.5)
		got := mustAnswer(t, c, Hard, meta, testNow)
		assert.Equal(t, domain.StateReview, got.State)
		assert.InDelta(t, 7.2*Day, got.Interval, 1)
		assert.InDelta(t, 2.35, got.Ease, 1e-9)
		assert.Equal(t, c.Reviews+1, got.Reviews)
	})

	t.Run("good", func(t *testing.T) {
		got := mustAnswer(t, reviewCard("a", 6, 2.5), Good, meta, testNow)
		assert.InDelta(t, 15*Day, got.Interval, 1)
		assert.InDelta(t, 2.5, got.Ease, 1e-9)
	})

	t.Run("easy uses prior ease", func(t *testing.T) {
		got := mustAnswer(t, reviewCard("a", 6, 2.5), Easy, meta, testNow)
		assert.InDelta(t, 6*2.5*1.3*Day, got.Interval, 1)
		assert.InDelta(t, 2.65, got.Ease, 1e-9)
	})

	t.Run("interval capped", func(t *testing.T) {
		m := meta.Clone()
		m.MaxInterval = 10
		got := mustAnswer(t, reviewCard("a", 6, 2.5), Good, m, testNow)
		assert.Equal(t, 10*Day, got.Interval)
	})
}

func TestAnswerFromRelearning(t *testing.T) {
	meta := DefaultMeta(testNow)
	lapsed := mustAnswer(t, reviewCard("a", 10, 2.5), Again, meta, testNow)

	later := testNow.Add(10 * time.Minute)
	good := mustAnswer(t, lapsed, Good, meta, later)
	assert.Equal(t, domain.StateReview, good.State)
	assert.Equal(t, lapsed.Interval, good.Interval)
	assert.Equal(t, later.UnixMilli()+int64(5*Day), good.DueDate)
	assert.Equal(t, lapsed.Reviews, good.Reviews)

	easy := mustAnswer(t, lapsed, Easy, meta, later)
	assert.Equal(t, domain.StateReview, easy.State)
	assert.InDelta(t, 7.5*Day, easy.Interval, 1)

	again := mustAnswer(t, lapsed, Again, meta, later)
	assert.Equal(t, domain.StateRelearning, again.State)
	assert.Equal(t, later.UnixMilli()+int64(10*Minute), again.DueDate)
}

func TestAnswerEmptyStepsFallBack(t *testing.T) {
	meta := DefaultMeta(testNow)
	meta.LearningSteps = nil
	meta.RelearnSteps = nil

	got := mustAnswer(t, newCard("a"), Again, meta, testNow)
	assert.Equal(t, testNow.UnixMilli()+int64(Minute), got.DueDate)

	got = mustAnswer(t, reviewCard("b", 4, 2.5), Again, meta, testNow)
	assert.Equal(t, testNow.UnixMilli()+int64(10*Minute), got.DueDate)

	got = mustAnswer(t, got, Good, meta, testNow)
	assert.Equal(t, domain.StateReview, got.State)
}

func TestEaseNeverBelowFloor(t *testing.T) {
	meta := DefaultMeta(testNow)
	c := reviewCard("a", 3, 1.35)
	now := testNow
	for i := 0; i < 40; i++ {
		r := Ratings[i%2]
		if c.State == domain.StateRelearning {
			r = Good
		}
		c = mustAnswer(t, c, r, meta, now)
		require.GreaterOrEqual(t, c.Ease, MinEase)
		now = now.Add(time.Hour)
	}
}

func TestAnswerDoesNotMutateInput(t *testing.T) {
	level := 3
	c := newCard("a")
	c.Content.Level = &level
	before := c.Clone()

	_, err := Answer(c, Easy, DefaultMeta(testNow), testNow)
	require.NoError(t, err)
	assert.Equal(t, before, c)
}

func TestAnswerRejectsUnknown(t *testing.T) {
	_, err := Answer(newCard("a"), Rating("meh"), DefaultMeta(testNow), testNow)
	assert.ErrorIs(t, err, ErrUnknownRating)

	c := newCard("a")
	c.State = "graduated"
	_, err = Answer(c, Good, DefaultMeta(testNow), testNow)
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestPreviewAnswers(t *testing.T) {
	meta := DefaultMeta(testNow)
	c := reviewCard("a", 6, 2.5)

	p, err := PreviewAnswers(c, meta, testNow)
	require.NoError(t, err)

	for _, r := range Ratings {
		want := mustAnswer(t, c, r, meta, testNow)
		assert.Equal(t, want.DueDate, p.For(r), string(r))
	}
	assert.Less(t, p.Again, p.Hard)
	assert.Less(t, p.Hard, p.Good)
	assert.Less(t, p.Good, p.Easy)
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		in   string
		want Rating
	}{
		{"again", Again}, {"1", Again}, {"Hard", Hard}, {"medium", Good}, {"3", Good}, {" easy ", Easy},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRating(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := ParseRating("5")
	assert.ErrorIs(t, err, ErrUnknownRating)
}
