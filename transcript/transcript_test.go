package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstMergeSetsAnchor(t *testing.T) {
	var s State
	out, added := s.Merge("  Hello  ")
	assert.Equal(t, Anchored, out)
	assert.Equal(t, "Hello", added)
	assert.Equal(t, "Hello", s.Anchor())
	assert.Equal(t, "Hello", s.Text())
	assert.Equal(t, 1, s.Iteration())
}

func TestMergeAppendsSuffix(t *testing.T) {
	var s State
	s.Merge("Hello")
	out, added := s.Merge("Hello world")
	assert.Equal(t, Appended, out)
	assert.Equal(t, "world", added)
	assert.Equal(t, "Hello world", s.Text())
	assert.Equal(t, 2, s.Iteration())
}

func TestMergeGrowsMonotonically(t *testing.T) {
	var s State
	results := []string{
		"Good morning",
		"Good morning everyone",
		"Good morning and welcome",
		"Good morning to the call",
	}
	prev := ""
	for _, r := range results {
		s.Merge(r)
		assert.True(t, strings.HasPrefix(s.Text(), prev), "text %q does not extend %q", s.Text(), prev)
		assert.True(t, strings.HasPrefix(s.Text(), s.Anchor()))
		prev = s.Text()
	}
	assert.Equal(t, "Good morning everyone and welcome to the call", s.Text())
	assert.Equal(t, 4, s.Iteration())
}

func TestMergeEmptySuffix(t *testing.T) {
	var s State
	s.Merge("Hello")
	out, _ := s.Merge("Hello   ")
	assert.Equal(t, Unchanged, out)
	assert.False(t, out.Changed())
	assert.Equal(t, "Hello", s.Text())
	assert.Equal(t, 2, s.Iteration())
}

func TestMergeSkipsShortResult(t *testing.T) {
	var s State
	s.Merge("Hello there")
	out, _ := s.Merge("Hi")
	assert.Equal(t, Skipped, out)
	assert.Equal(t, "Hello there", s.Text())
	assert.Equal(t, 1, s.Iteration())
}

func TestMergeRuneBoundary(t *testing.T) {
	var s State
	s.Merge("abc")
	// anchor is 3 bytes; "ééé" splits the second é at byte 3.
	_, added := s.Merge("ééé")
	assert.Equal(t, "é", added)
	assert.Equal(t, "abc é", s.Text())
}

func TestMergeEmptyAnchor(t *testing.T) {
	var s State
	s.Merge("   ")
	assert.Equal(t, "", s.Text())
	assert.Equal(t, 1, s.Iteration())

	out, _ := s.Merge("Hello")
	assert.Equal(t, Appended, out)
	assert.Equal(t, "Hello", s.Text())
}

func TestMergeLeadingWhitespace(t *testing.T) {
	var s State
	s.Merge(" Hello")
	out, added := s.Merge(" Hello world")
	assert.Equal(t, Appended, out)
	assert.Equal(t, "world", added)
	assert.Equal(t, "Hello world", s.Text())

	out, added = s.Merge("\tHello world again")
	assert.Equal(t, Appended, out)
	assert.Equal(t, "world again", added)
	assert.Equal(t, "Hello world world again", s.Text())
}
