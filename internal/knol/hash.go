package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/google/uuid"
)

// Normalize concatenates the card's content after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them.
func Normalize(content domain.Content) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	f := normalizePart(content.Front)
	b := normalizePart(content.Back)
	e := normalizePart(content.Example)

	// Joined with newlines so "front" and "back" can't run together.
	return strings.Join([]string{f, b, e}, "\n")
}

// Hash normalizes the content and returns its SHA-256 hash as a hex string.
func Hash(content domain.Content) string {
	return HashWord(Normalize(content))
}

// HashWord returns the lowercase hex SHA-256 of word exactly as given.
// This is the key of the store's word index and known-untracked set, so it
// must not normalize: peers compute the same digest over the raw front text.
func HashWord(word string) string {
	sum := sha256.Sum256([]byte(word))
	return fmt.Sprintf("%x", sum)
}

// NewID returns a fresh random card identifier.
func NewID() string {
	return uuid.NewString()
}
