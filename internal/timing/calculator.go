package timing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/keagan/avsync/internal/narration"
	"github.com/keagan/avsync/internal/visual"
	"github.com/rs/zerolog"
)

// ErrInvalidInput is returned when a segment cannot be planned at all.
var ErrInvalidInput = errors.New("invalid timing input")

// Source records how a sync point's start was decided.
type Source string

const (
	SourceTrigger    Source = "trigger"
	SourceSequential Source = "sequential"
	// SourceImplicit marks the single span emitted for a segment without visuals.
	SourceImplicit Source = "implicit"
)

// SyncPoint is the computed appearance window of one visual, relative to
// the start of its segment.
type SyncPoint struct {
	VisualIndex int
	Start       time.Duration
	Duration    time.Duration
	Source      Source
	// TriggerWord and TriggerTime are set when a trigger word matched,
	// even if the match was not used for placement.
	TriggerWord string
	TriggerTime time.Duration
	// SpokenWord is the narration word being spoken when the visual appears.
	SpokenWord string
}

// End returns the time the visual leaves the screen.
func (p SyncPoint) End() time.Duration {
	return p.Start + p.Duration
}

// Plan is the ordered set of sync points for one segment.
type Plan struct {
	SegmentID     string
	AudioDuration time.Duration
	Points        []SyncPoint
	// OverAllocated is set when explicit durations had to be scaled down.
	OverAllocated bool
}

// Total returns the summed duration of all points.
func (p *Plan) Total() time.Duration {
	var total time.Duration
	for _, pt := range p.Points {
		total += pt.Duration
	}
	return total
}

// Options tunes the calculator.
type Options struct {
	DefaultLeadTime time.Duration
	MinDuration     time.Duration
}

// DefaultOptions returns the stock lead time and minimum visual duration.
func DefaultOptions() Options {
	return Options{
		DefaultLeadTime: 500 * time.Millisecond,
		MinDuration:     100 * time.Millisecond,
	}
}

// Calculator allocates start times and durations to a segment's visuals so
// they cover the segment's audio exactly, with no gaps or overlaps.
// It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	logger zerolog.Logger
	opts   Options
}

// NewCalculator creates a calculator.
func NewCalculator(logger zerolog.Logger, opts Options) *Calculator {
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultOptions().MinDuration
	}
	if opts.DefaultLeadTime < 0 {
		opts.DefaultLeadTime = 0
	}
	return &Calculator{
		logger: logger.With().Str("component", "timing").Logger(),
		opts:   opts,
	}
}

// Plan computes sync points for visuals against audio. Visuals are ordered
// by Position, ties keeping input order. The same inputs always produce the
// same plan.
func (c *Calculator) Plan(audio narration.AudioSegment, visuals []visual.Descriptor) (*Plan, error) {
	if err := audio.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for i, v := range visuals {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w: segment %q visual %d: %v", ErrInvalidInput, audio.ID, i, err)
		}
	}

	idx, err := narration.NewIndex(audio.Words)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	log := c.logger.With().Str("segment", audio.ID).Logger()
	total := audio.Duration
	plan := &Plan{SegmentID: audio.ID, AudioDuration: total}

	switch len(visuals) {
	case 0:
		plan.Points = []SyncPoint{{VisualIndex: -1, Duration: total, Source: SourceImplicit}}
		return plan, nil
	case 1:
		plan.Points = []SyncPoint{{VisualIndex: 0, Duration: total, Source: SourceSequential}}
		annotate(plan.Points, idx)
		return plan, nil
	}

	order := make([]int, len(visuals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return visuals[order[a]].Position < visuals[order[b]].Position
	})
	ordered := make([]visual.Descriptor, len(visuals))
	for i, idx := range order {
		ordered[i] = visuals[idx]
	}

	n := len(ordered)
	minDur := c.opts.MinDuration
	if per := total / time.Duration(n); per < minDur {
		minDur = per
	}

	base, over := baseDurations(ordered, total, minDur)
	plan.OverAllocated = over
	if over {
		log.Info().
			Dur("audio", total).
			Int("visuals", n).
			Msg("explicit durations exceed audio, scaling")
	}

	matcher := NewMatcher(idx)
	claimed := make(map[int]bool)

	durs := append([]time.Duration(nil), base...)
	points := make([]SyncPoint, n)

	for i, v := range ordered {
		pt := SyncPoint{VisualIndex: order[i], Source: SourceSequential}

		m := matcher.Match(v.TriggerWords, claimed)
		if m.Found {
			claimed[m.WordIndex] = true
			pt.TriggerWord = m.Word
			pt.TriggerTime = m.Start
		} else if len(v.TriggerWords) > 0 {
			log.Debug().
				Int("visual", order[i]).
				Strs("triggers", v.TriggerWords).
				Msg("no trigger word found, placing sequentially")
		}

		if i == 0 {
			points[i] = pt
			continue
		}

		prev := points[i-1]
		seqStart := prev.Start + durs[i-1]
		pt.Start = seqStart

		if cand, ok := Candidate(m, v.Lead(c.opts.DefaultLeadTime)); ok {
			remaining := time.Duration(n - i)
			if limit := total - remaining*minDur; cand > limit {
				cand = limit
			}
			if cand >= seqStart {
				pt.Start = cand
				pt.Source = SourceTrigger
				durs[i-1] = cand - prev.Start
				compress(durs[i:], base[i:], total-cand, minDur)
			} else {
				log.Debug().
					Int("visual", order[i]).
					Dur("candidate", cand).
					Dur("previous_end", seqStart).
					Msg("trigger precedes previous visual end, placing sequentially")
			}
		}

		points[i] = pt
	}

	for i := range points {
		if i == n-1 {
			points[i].Duration = total - points[i].Start
		} else {
			points[i].Duration = points[i+1].Start - points[i].Start
		}
	}

	annotate(points, idx)
	plan.Points = points
	return plan, nil
}

// annotate records the word being spoken at each visual's start.
func annotate(points []SyncPoint, idx *narration.Index) {
	for i := range points {
		if w, ok := idx.WordAt(points[i].Start); ok {
			points[i].SpokenWord = idx.At(w).Word
		}
	}
}

// baseDurations assigns every visual a duration before trigger placement.
// The result sums to total. The bool reports whether explicit durations were
// scaled down to fit.
func baseDurations(visuals []visual.Descriptor, total, minDur time.Duration) ([]time.Duration, bool) {
	n := len(visuals)
	out := make([]time.Duration, n)

	var explicit time.Duration
	implicit := 0
	for i, v := range visuals {
		if v.HasDuration() {
			out[i] = v.Duration
			explicit += v.Duration
		} else {
			implicit++
		}
	}

	if implicit == 0 {
		if explicit != total {
			scaleInto(out, total)
		}
		return out, explicit > total
	}

	remaining := total - explicit
	var per time.Duration
	var over bool
	if reserve := time.Duration(implicit) * minDur; remaining < reserve {
		// not enough room: implicit visuals get the minimum and explicit
		// ones share what is left in proportion
		per = minDur
		over = explicit > 0
		explicitShare := total - reserve
		var exp []int
		for i, v := range visuals {
			if v.HasDuration() {
				exp = append(exp, i)
			}
		}
		if len(exp) > 0 {
			sub := make([]time.Duration, len(exp))
			for j, i := range exp {
				sub[j] = out[i]
			}
			scaleInto(sub, explicitShare)
			for j, i := range exp {
				out[i] = sub[j]
			}
		}
	} else {
		per = remaining / time.Duration(implicit)
	}

	for i, v := range visuals {
		if !v.HasDuration() {
			out[i] = per
		}
	}
	return out, over
}

// scaleInto rescales durs in place so they keep their ratios and sum to
// exactly total.
func scaleInto(durs []time.Duration, total time.Duration) {
	var sum time.Duration
	for _, d := range durs {
		sum += d
	}
	if sum <= 0 || len(durs) == 0 {
		return
	}
	f := float64(total) / float64(sum)
	var acc time.Duration
	for i := range durs {
		if i == len(durs)-1 {
			durs[i] = total - acc
			break
		}
		durs[i] = time.Duration(math.Round(float64(durs[i]) * f))
		acc += durs[i]
	}
}

// compress fits the visuals after a trigger boundary into span, giving each
// at least minDur and sharing the rest by base weight.
func compress(durs, base []time.Duration, span, minDur time.Duration) {
	k := time.Duration(len(durs))
	extra := span - k*minDur
	if extra < 0 {
		extra = 0
	}

	weights := append([]time.Duration(nil), base...)
	scaleInto(weights, extra)
	for i := range durs {
		durs[i] = minDur + weights[i]
	}
}
