package srs

import (
	"time"

	"github.com/conorfennell/flashsync/internal/domain"
)

// DefaultMeta returns the default scheduler configuration with the daily
// counters anchored to the study day of now.
func DefaultMeta(now time.Time) domain.Meta {
	return domain.Meta{
		NewCardsDate:              TodayString(now, DefaultNewDayHour),
		MaxNewCardsPerDay:         20,
		MaxNewCardsPerDayLearning: 20,
		MaxReviewsPerDay:          -1,
		LearningSteps:             []float64{1, 10},
		RelearnSteps:              []float64{10},
		GraduatingInterval:        1,
		EasyInterval:              4,
		NewIntervalModifier:       100,
		ReviewIntervalModifier:    100,
		MaxInterval:               36500,
		NewDayHour:                DefaultNewDayHour,
	}
}
