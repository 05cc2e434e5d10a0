package srs

import (
	"errors"
	"fmt"
	"strings"
)

// Rating is the user's response to a card review.
type Rating string

const (
	Again Rating = "again"
	Hard  Rating = "hard"
	Good  Rating = "good"
	Easy  Rating = "easy"
)

// Ratings lists every rating in button order.
var Ratings = []Rating{Again, Hard, Good, Easy}

var (
	ErrUnknownRating = errors.New("unknown rating")
	ErrUnknownState  = errors.New("unknown card state")
)

// ParseRating accepts a rating name or its 1-4 button number.
func ParseRating(s string) (Rating, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "again", "1":
		return Again, nil
	case "hard", "2":
		return Hard, nil
	case "good", "medium", "3":
		return Good, nil
	case "easy", "4":
		return Easy, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRating, s)
}
