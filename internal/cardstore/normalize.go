// Package cardstore owns the persisted card store: loading it from whatever
// shape it was saved in, keeping its derived indexes honest, and applying
// study operations as whole-store transformations.
package cardstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/knol"
	"github.com/conorfennell/flashsync/internal/srs"
)

var (
	ErrMalformed          = errors.New("store is not valid JSON")
	ErrUnsupportedVersion = errors.New("store version is newer than supported")
)

// Normalize parses raw into a fully populated store. Missing or wrong-typed
// fields fall back to defaults, unknown fields are dropped, and the legacy
// array format is migrated. Empty input yields an empty store.
func Normalize(raw []byte, now time.Time) (*domain.Store, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return domain.NewStore(srs.DefaultMeta(now)), nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return domain.NewStore(srs.DefaultMeta(now)), nil
	}
	if v := root.Get("version"); v.Type == gjson.Number && v.Int() > domain.CurrentStoreVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v.Int())
	}
	if IsLegacy(raw) {
		return migrate(root, now), nil
	}

	s := domain.NewStore(normalizeMeta(root.Get("meta"), now))
	root.Get("flashcards").ForEach(func(key, value gjson.Result) bool {
		if c, ok := normalizeCard(key.String(), value, now); ok {
			s.Flashcards[c.ID] = c
		}
		return true
	})
	root.Get("wordCandidates").ForEach(func(key, value gjson.Result) bool {
		s.WordCandidates[key.String()] = compact(value)
		return true
	})
	mergeKnown(s, root)
	root.Get("dailyStats").ForEach(func(key, value gjson.Result) bool {
		if value.IsObject() {
			s.DailyStats[key.String()] = normalizeDailyStats(key.String(), value)
		}
		return true
	})

	root.Get("wordToCardMap").ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			return true
		}
		for _, id := range value.Array() {
			if _, ok := s.Flashcards[id.String()]; ok && id.Type == gjson.String {
				s.WordToCardMap[key.String()] = append(s.WordToCardMap[key.String()], id.Str)
			}
		}
		return true
	})
	indexUnindexed(s)
	RebuildWordStats(s)
	return s, nil
}

// IsLegacy reports whether raw holds the old format, where flashcards was
// an array of id-less cards.
func IsLegacy(raw []byte) bool {
	return gjson.GetBytes(raw, "flashcards").IsArray()
}

// Encode serializes the store in its current format.
func Encode(s *domain.Store) ([]byte, error) {
	return json.Marshal(s)
}

// migrate converts the legacy array format. Reviewed cards are treated as
// review cards and their interval is recovered from the gap between the last
// review and the due date.
func migrate(root gjson.Result, now time.Time) *domain.Store {
	nowMs := now.UnixMilli()
	s := domain.NewStore(srs.DefaultMeta(now))

	for _, old := range root.Get("flashcards").Array() {
		if !old.IsObject() {
			continue
		}
		reviews := int(number(old.Get("reviews"), 0))
		ease := number(old.Get("ease"), domain.InitialEase)
		if ease <= 0 {
			ease = domain.InitialEase
		}
		due := int64(number(old.Get("dueDate"), float64(nowMs)))
		lastReviewed := int64(number(old.Get("lastReviewed"), 0))

		var interval float64
		if lastReviewed > 0 {
			interval = math.Max(0, float64(due-lastReviewed))
		}
		state := domain.StateNew
		if reviews > 0 {
			state = domain.StateReview
		}
		created := lastReviewed
		if created == 0 {
			created = nowMs
		}
		updated := int64(number(old.Get("lastUpdated"), 0))
		if updated == 0 {
			updated = nowMs
		}

		c := domain.Card{
			ID:           knol.NewID(),
			Content:      normalizeContent(old.Get("content")),
			State:        state,
			Ease:         math.Max(srs.MinEase, ease),
			Interval:     interval,
			DueDate:      due,
			Reviews:      reviews,
			CreatedAt:    created,
			LastReviewed: lastReviewed,
			LastUpdated:  updated,
		}
		s.Flashcards[c.ID] = c
		if c.Content.Front != "" {
			h := knol.HashWord(c.Content.Front)
			s.WordToCardMap[h] = append(s.WordToCardMap[h], c.ID)
		}
	}

	mergeKnown(s, root)
	root.Get("wordCandidates").ForEach(func(key, value gjson.Result) bool {
		s.WordCandidates[key.String()] = compact(value)
		return true
	})
	RebuildWordStats(s)
	return s
}

func mergeKnown(s *domain.Store, root gjson.Result) {
	for _, field := range []string{"knownUnTracked", "knownUntracked"} {
		root.Get(field).ForEach(func(key, value gjson.Result) bool {
			if value.Bool() {
				s.KnownUntracked[key.String()] = true
			}
			return true
		})
	}
}

func normalizeCard(key string, v gjson.Result, now time.Time) (domain.Card, bool) {
	if !v.IsObject() {
		return domain.Card{}, false
	}
	nowMs := now.UnixMilli()
	id := key
	if id == "" {
		id = str(v.Get("id"))
	}
	if id == "" {
		return domain.Card{}, false
	}

	reviews := max(0, int(number(v.Get("reviews"), 0)))
	state := domain.State(str(v.Get("state")))
	if !state.Valid() {
		state = domain.StateNew
		if reviews > 0 {
			state = domain.StateReview
		}
	}
	ease := number(v.Get("ease"), domain.InitialEase)
	if ease <= 0 {
		ease = domain.InitialEase
	}
	created := int64(number(v.Get("createdAt"), float64(nowMs)))

	return domain.Card{
		ID:           id,
		Content:      normalizeContent(v.Get("content")),
		State:        state,
		Ease:         math.Max(srs.MinEase, ease),
		Interval:     math.Max(0, number(v.Get("interval"), 0)),
		DueDate:      int64(number(v.Get("dueDate"), float64(nowMs))),
		Reviews:      reviews,
		Lapses:       max(0, int(number(v.Get("lapses"), 0))),
		LearningStep: max(0, int(number(v.Get("learningStep"), 0))),
		Suspended:    v.Get("suspended").Type == gjson.True,
		Buried:       v.Get("buried").Type == gjson.True,
		CreatedAt:    created,
		LastReviewed: int64(number(v.Get("lastReviewed"), 0)),
		LastUpdated:  int64(number(v.Get("lastUpdated"), float64(created))),
	}, true
}

// normalizeContent resolves the legacy field aliases (word, translation,
// pronunciation, screenshotUrl) into the current content fields.
func normalizeContent(v gjson.Result) domain.Content {
	c := domain.Content{
		Type:           first(v, "type"),
		Front:          first(v, "front", "word"),
		Back:           first(v, "back", "translation"),
		Reading:        first(v, "reading", "pronunciation"),
		POS:            first(v, "pos"),
		Example:        first(v, "example"),
		ExampleMeaning: first(v, "exampleMeaning"),
		Definition:     first(v, "definition"),
		ImageURL:       first(v, "imageUrl", "screenshotUrl"),
		PitchAccent:    intPtr(v.Get("pitchAccent")),
		Level:          intPtr(v.Get("level")),
	}
	if c.Type == "" {
		c.Type = "word"
	}
	if extra := v.Get("extra"); extra.IsObject() {
		if m, ok := extra.Value().(map[string]any); ok && len(m) > 0 {
			c.Extra = m
		}
	}
	return c
}

func normalizeMeta(v gjson.Result, now time.Time) domain.Meta {
	m := srs.DefaultMeta(now)
	setInt := func(field string, dst *int) {
		if r := v.Get(field); r.Type == gjson.Number {
			*dst = int(r.Int())
		}
	}
	setFloat := func(field string, dst *float64) {
		if r := v.Get(field); r.Type == gjson.Number {
			*dst = r.Float()
		}
	}
	setSteps := func(field string, dst *[]float64) {
		r := v.Get(field)
		if !r.IsArray() {
			return
		}
		steps := []float64{}
		for _, s := range r.Array() {
			if s.Type == gjson.Number && s.Float() > 0 {
				steps = append(steps, s.Float())
			}
		}
		*dst = steps
	}

	setInt("newCardsToday", &m.NewCardsToday)
	setInt("reviewsToday", &m.ReviewsToday)
	if r := v.Get("newCardsDate"); r.Type == gjson.String {
		m.NewCardsDate = r.Str
	}
	setInt("maxNewCardsPerDay", &m.MaxNewCardsPerDay)
	setInt("maxNewCardsPerDayLearning", &m.MaxNewCardsPerDayLearning)
	setInt("maxReviewsPerDay", &m.MaxReviewsPerDay)
	setSteps("learningSteps", &m.LearningSteps)
	setSteps("relearnSteps", &m.RelearnSteps)
	setFloat("graduatingInterval", &m.GraduatingInterval)
	setFloat("easyInterval", &m.EasyInterval)
	setFloat("newIntervalModifier", &m.NewIntervalModifier)
	setFloat("reviewIntervalModifier", &m.ReviewIntervalModifier)
	setFloat("maxInterval", &m.MaxInterval)
	setInt("newDayHour", &m.NewDayHour)

	if m.NewDayHour < 0 || m.NewDayHour > 23 {
		m.NewDayHour = srs.DefaultNewDayHour
	}
	m.NewCardsToday = max(0, m.NewCardsToday)
	m.ReviewsToday = max(0, m.ReviewsToday)
	return m
}

func normalizeDailyStats(date string, v gjson.Result) domain.DailyStats {
	return domain.DailyStats{
		Date:               date,
		NewCardsStudied:    int(number(v.Get("newCardsStudied"), 0)),
		ReviewCardsStudied: int(number(v.Get("reviewCardsStudied"), 0)),
		Lapses:             int(number(v.Get("lapses"), 0)),
		TimeSpent:          int64(number(v.Get("timeSpent"), 0)),
		Graduated:          int(number(v.Get("graduated"), 0)),
	}
}

func number(r gjson.Result, def float64) float64 {
	if r.Type != gjson.Number || math.IsNaN(r.Num) || math.IsInf(r.Num, 0) {
		return def
	}
	return r.Num
}

func str(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

// first returns the first non-empty text among fields. A string array is
// joined with commas.
func first(v gjson.Result, fields ...string) string {
	for _, f := range fields {
		r := v.Get(f)
		switch {
		case r.Type == gjson.String && r.Str != "":
			return r.Str
		case r.IsArray():
			var parts []string
			for _, p := range r.Array() {
				if p.Type == gjson.String {
					parts = append(parts, p.Str)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	return ""
}

func intPtr(r gjson.Result) *int {
	if r.Type != gjson.Number {
		return nil
	}
	n := int(r.Int())
	return &n
}

// compact returns the raw JSON of r without insignificant whitespace.
func compact(r gjson.Result) json.RawMessage {
	return json.RawMessage(pretty.Ugly([]byte(r.Raw)))
}
