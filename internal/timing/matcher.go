package timing

import (
	"time"

	"github.com/keagan/avsync/internal/narration"
)

// Match is the result of looking up a visual's trigger words. Found is false
// when no word matched; that is a normal outcome and callers fall back to
// sequential placement.
type Match struct {
	Found     bool
	WordIndex int
	Word      string
	Start     time.Duration
}

// NotFound is the empty match.
var NotFound = Match{WordIndex: -1}

// Matcher resolves trigger words against one segment's narration.
type Matcher struct {
	index *narration.Index
}

// NewMatcher creates a matcher over idx. A nil index never matches.
func NewMatcher(idx *narration.Index) *Matcher {
	return &Matcher{index: idx}
}

// Match returns the earliest word, in narration order, that matches any of
// the triggers. Triggers compare case-insensitively and may be multi-word
// phrases, which must match consecutive words. Word positions in claimed are
// skipped so two visuals never resolve to the same spoken word.
func (m *Matcher) Match(triggers []string, claimed map[int]bool) Match {
	if m == nil || m.index.Len() == 0 || len(triggers) == 0 {
		return NotFound
	}

	phrases := make([][]string, 0, len(triggers))
	for _, t := range triggers {
		if toks := narration.Tokens(t); len(toks) > 0 {
			phrases = append(phrases, toks)
		}
	}
	if len(phrases) == 0 {
		return NotFound
	}

	for i := 0; i < m.index.Len(); i++ {
		if claimed[i] {
			continue
		}
		for _, phrase := range phrases {
			if m.index.MatchesAt(i, phrase) {
				w := m.index.At(i)
				return Match{Found: true, WordIndex: i, Word: w.Word, Start: w.Start}
			}
		}
	}
	return NotFound
}

// Candidate is the appearance time for a matched word: lead before it,
// clamped at zero.
func Candidate(m Match, lead time.Duration) (time.Duration, bool) {
	if !m.Found {
		return 0, false
	}
	c := m.Start - lead
	if c < 0 {
		c = 0
	}
	return c, true
}
