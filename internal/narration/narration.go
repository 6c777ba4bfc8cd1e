package narration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// ErrInvalidTimestamps is returned when word timings break ordering rules.
var ErrInvalidTimestamps = errors.New("invalid word timestamps")

// WordTimestamp is one spoken word and its time span within a segment.
type WordTimestamp struct {
	Word  string
	Start time.Duration
	End   time.Duration
}

// AudioSegment is the narration of one segment: its true duration and
// the ordered word timings covering it.
type AudioSegment struct {
	ID       string
	Duration time.Duration
	Words    []WordTimestamp
}

// Validate checks the segment duration and word ordering.
func (a AudioSegment) Validate() error {
	if a.Duration <= 0 {
		return fmt.Errorf("%w: segment %q has non-positive duration %s", ErrInvalidTimestamps, a.ID, a.Duration)
	}
	return validateWords(a.Words)
}

func validateWords(words []WordTimestamp) error {
	var prev time.Duration
	for i, w := range words {
		if w.Start < 0 {
			return fmt.Errorf("%w: word %d (%q) starts before zero", ErrInvalidTimestamps, i, w.Word)
		}
		if w.End <= w.Start {
			return fmt.Errorf("%w: word %d (%q) ends at %s, not after start %s", ErrInvalidTimestamps, i, w.Word, w.End, w.Start)
		}
		if i > 0 && w.Start < prev {
			return fmt.Errorf("%w: word %d (%q) starts before word %d", ErrInvalidTimestamps, i, w.Word, i-1)
		}
		prev = w.Start
	}
	return nil
}

// Index wraps a segment's word timings for lookup. Words are compared in
// normalized form: lower case with surrounding punctuation removed.
type Index struct {
	words []WordTimestamp
	norm  []string
}

// NewIndex validates words and builds an index over them.
func NewIndex(words []WordTimestamp) (*Index, error) {
	if err := validateWords(words); err != nil {
		return nil, err
	}

	idx := &Index{
		words: make([]WordTimestamp, len(words)),
		norm:  make([]string, len(words)),
	}
	copy(idx.words, words)
	for i, w := range words {
		idx.norm[i] = Normalize(w.Word)
	}
	return idx, nil
}

// Len returns the number of indexed words.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.words)
}

// At returns the i-th word.
func (x *Index) At(i int) WordTimestamp {
	return x.words[i]
}

// MatchesAt reports whether the phrase tokens equal the words starting at i.
func (x *Index) MatchesAt(i int, phrase []string) bool {
	if len(phrase) == 0 || i < 0 || i+len(phrase) > len(x.norm) {
		return false
	}
	for j, tok := range phrase {
		if x.norm[i+j] != tok {
			return false
		}
	}
	return true
}

// WordAt returns the index of the word being spoken at t. Between words the
// most recently started word is returned.
func (x *Index) WordAt(t time.Duration) (int, bool) {
	if x.Len() == 0 || t < x.words[0].Start {
		return -1, false
	}
	i := sort.Search(len(x.words), func(i int) bool {
		return x.words[i].Start > t
	})
	return i - 1, true
}

// Normalize lower-cases a word and strips surrounding punctuation.
func Normalize(word string) string {
	trimmed := strings.TrimFunc(word, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
	return strings.ToLower(trimmed)
}

// Tokens splits a trigger phrase into normalized words.
func Tokens(phrase string) []string {
	fields := strings.Fields(phrase)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := Normalize(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}
