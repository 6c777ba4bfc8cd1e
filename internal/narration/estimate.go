package narration

import (
	"fmt"
	"regexp"
	"time"

	"github.com/keagan/avsync/pkg/util"
)

// Speaking rates in words per minute.
const (
	SlowRate   = 120
	NormalRate = 150
	FastRate   = 180
)

// DefaultPauses is the silence reserved after each punctuation mark.
var DefaultPauses = map[string]time.Duration{
	".": 500 * time.Millisecond,
	",": 300 * time.Millisecond,
	"?": 600 * time.Millisecond,
	"!": 600 * time.Millisecond,
	";": 400 * time.Millisecond,
	":": 300 * time.Millisecond,
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_']+|[.,!?;:]`)

// Tokenize splits text into words and pause-bearing punctuation marks.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

// EstimateTimestamps spreads words evenly over duration after reserving
// pause time for punctuation. When the pauses would consume the whole
// duration they are scaled down to half of it.
func EstimateTimestamps(text string, duration time.Duration, pauses map[string]time.Duration) ([]WordTimestamp, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidTimestamps, duration)
	}
	if pauses == nil {
		pauses = DefaultPauses
	}

	tokens := Tokenize(text)

	var pauseTotal time.Duration
	words := 0
	for _, tok := range tokens {
		if p, ok := pauses[tok]; ok {
			pauseTotal += p
		} else {
			words++
		}
	}
	if words == 0 {
		return nil, nil
	}

	scale := 1.0
	if pauseTotal >= duration {
		scale = float64(duration) / 2 / float64(pauseTotal)
		pauseTotal = time.Duration(float64(pauseTotal) * scale)
	}

	perWord := (duration - pauseTotal) / time.Duration(words)
	if perWord <= 0 {
		return nil, fmt.Errorf("%w: %d words do not fit in %s", ErrInvalidTimestamps, words, duration)
	}

	out := make([]WordTimestamp, 0, words)
	var cursor time.Duration
	for _, tok := range tokens {
		if p, ok := pauses[tok]; ok {
			cursor += time.Duration(float64(p) * scale)
			continue
		}
		out = append(out, WordTimestamp{Word: tok, Start: cursor, End: cursor + perWord})
		cursor += perWord
	}
	return out, nil
}

// EstimateDuration predicts how long text takes to speak at rate words per
// minute, including punctuation pauses.
func EstimateDuration(text string, rate float64, pauses map[string]time.Duration) time.Duration {
	if rate <= 0 {
		rate = NormalRate
	}
	if pauses == nil {
		pauses = DefaultPauses
	}

	var total time.Duration
	words := 0
	for _, tok := range Tokenize(text) {
		if p, ok := pauses[tok]; ok {
			total += p
		} else {
			words++
		}
	}
	total += util.FromSeconds(float64(words) / (rate / 60))
	return total
}

// ScaleToDuration stretches or compresses timestamps so the last word ends
// at target. Used when narration is sped up or slowed after timing.
func ScaleToDuration(words []WordTimestamp, target time.Duration) []WordTimestamp {
	if len(words) == 0 {
		return nil
	}
	current := words[len(words)-1].End
	if current <= 0 {
		return append([]WordTimestamp(nil), words...)
	}

	scale := float64(target) / float64(current)
	out := make([]WordTimestamp, len(words))
	for i, w := range words {
		out[i] = WordTimestamp{
			Word:  w.Word,
			Start: time.Duration(float64(w.Start) * scale),
			End:   time.Duration(float64(w.End) * scale),
		}
	}
	return out
}
