// Package transcript stitches transcriptions of a growing recording into
// one running text.
//
// Every transcription covers the first chunk of the recording plus the most
// recent one, so it always starts with roughly the same words. The first
// result becomes the anchor; later results contribute only what follows
// the anchor.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type Outcome int

const (
	// Anchored means the result became the anchor.
	Anchored Outcome = iota
	// Appended means a new suffix was added to the text.
	Appended
	// Unchanged means the result was consumed but added nothing.
	Unchanged
	// Skipped means the result was shorter than the anchor and ignored.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Anchored:
		return "anchored"
	case Appended:
		return "appended"
	case Unchanged:
		return "unchanged"
	default:
		return "skipped"
	}
}

// Changed reports whether the merge modified the text.
func (o Outcome) Changed() bool {
	return o == Anchored || o == Appended
}

// State is not safe for concurrent use.
type State struct {
	anchor    string
	text      string
	iteration int
}

func (s *State) Anchor() string { return s.anchor }
func (s *State) Text() string   { return s.text }
func (s *State) Iteration() int { return s.iteration }

// Merge folds one transcription result into the state and returns the
// added text, if any. Leading whitespace is dropped from every result so the
// anchor length lines up with the start of later results.
func (s *State) Merge(result string) (Outcome, string) {
	result = strings.TrimLeftFunc(result, unicode.IsSpace)
	if s.iteration == 0 {
		s.anchor = strings.TrimSpace(result)
		s.text = s.anchor
		s.iteration++
		return Anchored, s.anchor
	}

	if len(result) < len(s.anchor) {
		return Skipped, ""
	}
	suffix := strings.TrimSpace(tail(result, len(s.anchor)))
	s.iteration++
	if suffix == "" {
		return Unchanged, ""
	}
	if s.text == "" {
		s.text = suffix
	} else {
		s.text += " " + suffix
	}
	return Appended, suffix
}

// tail returns s from byte offset n, moved forward to the next rune
// boundary if n splits a multi-byte character.
func tail(s string, n int) string {
	for n < len(s) && !utf8.RuneStart(s[n]) {
		n++
	}
	return s[n:]
}
