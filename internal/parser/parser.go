// Package parser extracts flashcards from markdown notes. A card starts at a
// "Q:" line; "A:", "R:" and "C:" lines fill in the answer, reading and
// context. Lines without a prefix continue the current field, and "---"
// ends the card.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/flashsync/internal/domain"
)

type field int

const (
	none field = iota
	question
	answer
	reading
	context
)

var prefixes = []struct {
	prefix string
	field  field
}{
	{"Q:", question},
	{"A:", answer},
	{"R:", reading},
	{"C:", context},
}

// ParseFile reads the file at path and extracts its cards.
func ParseFile(path string) ([]domain.Content, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse extracts every card in r. Cards without a question are dropped.
func Parse(r io.Reader) ([]domain.Content, error) {
	p := &cardParser{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	p.finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p.cards, nil
}

type cardParser struct {
	cards   []domain.Content
	current domain.Content
	field   field
	block   []string
}

func (p *cardParser) line(line string) {
	if line == "---" {
		p.finish()
		return
	}
	for _, pf := range prefixes {
		rest, ok := strings.CutPrefix(line, pf.prefix)
		if !ok {
			continue
		}
		p.flush()
		// A new question always starts a new card.
		if pf.field == question && p.field != none {
			p.finish()
		}
		p.field = pf.field
		p.block = append(p.block, strings.TrimPrefix(rest, " "))
		return
	}
	if p.field != none {
		p.block = append(p.block, line)
	}
}

// flush stores the pending lines in the field being read.
func (p *cardParser) flush() {
	if len(p.block) == 0 {
		return
	}
	text := strings.TrimRight(strings.Join(p.block, "\n"), "\n")
	switch p.field {
	case question:
		p.current.Front = text
	case answer:
		p.current.Back = text
	case reading:
		p.current.Reading = text
	case context:
		p.current.Example = text
	}
	p.block = nil
}

func (p *cardParser) finish() {
	p.flush()
	if p.current.Front != "" {
		p.current.Type = "note"
		p.cards = append(p.cards, p.current)
	}
	p.current = domain.Content{}
	p.field = none
}
