package timeline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/keagan/avsync/internal/reconcile"
	"github.com/keagan/avsync/internal/timing"
	"github.com/rs/zerolog"
)

// ErrInvariantViolation marks a timeline whose offsets leave a gap or an
// overlap. It indicates a bug upstream and is never corrected silently.
var ErrInvariantViolation = errors.New("timeline invariant violation")

// InvariantError identifies the entry at which the timeline broke.
type InvariantError struct {
	Index     int
	SegmentID string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("timeline invariant violation at entry %d (segment %q): %s", e.Index, e.SegmentID, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// Part is one reconciled segment waiting to be placed. Position is its
// place in script order; Points are its sync points, if known.
type Part struct {
	Position int
	Segment  reconcile.Segment
	Points   []timing.SyncPoint
}

// Entry is a segment placed on the timeline.
type Entry struct {
	Position int
	Offset   time.Duration
	Segment  reconcile.Segment
	Points   []timing.SyncPoint
}

// End returns the entry's end offset.
func (e Entry) End() time.Duration {
	return e.Offset + e.Segment.Duration
}

// Timeline is the ordered, gapless sequence of segments of one run.
type Timeline struct {
	Entries []Entry
	Total   time.Duration
}

// VisualStart is the absolute time a visual is meant to appear.
type VisualStart struct {
	SegmentID   string
	VisualIndex int
	Intended    time.Duration
}

// Assembler turns reconciled segments into a timeline.
type Assembler struct {
	logger    zerolog.Logger
	tolerance time.Duration
}

// NewAssembler creates an assembler that accepts offset drift up to tolerance.
func NewAssembler(logger zerolog.Logger, tolerance time.Duration) *Assembler {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Assembler{
		logger:    logger.With().Str("component", "timeline").Logger(),
		tolerance: tolerance,
	}
}

// Assemble orders parts by Position, regardless of the order they arrive
// in, and assigns each an offset equal to the sum of all earlier durations.
// Positions must be exactly 0..n-1.
func (a *Assembler) Assemble(parts []Part) (*Timeline, error) {
	sorted := append([]Part(nil), parts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	tl := &Timeline{Entries: make([]Entry, 0, len(sorted))}
	var offset time.Duration
	for i, p := range sorted {
		if p.Position != i {
			detail := fmt.Sprintf("expected position %d, got %d", i, p.Position)
			if i > 0 && sorted[i-1].Position == p.Position {
				detail = fmt.Sprintf("duplicate position %d", p.Position)
			}
			return nil, &InvariantError{Index: i, SegmentID: p.Segment.SegmentID, Detail: detail}
		}
		tl.Entries = append(tl.Entries, Entry{
			Position: p.Position,
			Offset:   offset,
			Segment:  p.Segment,
			Points:   p.Points,
		})
		offset += p.Segment.Duration
	}
	tl.Total = offset

	if err := tl.Validate(a.tolerance); err != nil {
		return nil, err
	}

	a.logger.Info().
		Int("segments", len(tl.Entries)).
		Dur("total", tl.Total).
		Msg("timeline assembled")

	return tl, nil
}

// Validate checks that entries start at zero, have positive durations and
// follow each other without gap or overlap beyond tolerance, and that Total
// matches the last entry's end.
func (t *Timeline) Validate(tolerance time.Duration) error {
	var expected time.Duration
	for i, e := range t.Entries {
		if e.Segment.Duration <= 0 {
			return &InvariantError{Index: i, SegmentID: e.Segment.SegmentID, Detail: fmt.Sprintf("non-positive duration %s", e.Segment.Duration)}
		}
		if drift := absDuration(e.Offset - expected); drift > tolerance {
			kind := "gap"
			if e.Offset < expected {
				kind = "overlap"
			}
			return &InvariantError{
				Index:     i,
				SegmentID: e.Segment.SegmentID,
				Detail:    fmt.Sprintf("%s of %s: offset %s, previous end %s", kind, drift, e.Offset, expected),
			}
		}
		expected = e.End()
	}
	if drift := absDuration(t.Total - expected); drift > tolerance {
		return &InvariantError{
			Index:  len(t.Entries),
			Detail: fmt.Sprintf("total %s does not match end %s", t.Total, expected),
		}
	}
	return nil
}

// IntendedStarts returns each visual's sync point shifted by its segment's
// offset. Implicit spans of visual-less segments are skipped.
func (t *Timeline) IntendedStarts() []VisualStart {
	var out []VisualStart
	for _, e := range t.Entries {
		for _, p := range e.Points {
			if p.VisualIndex < 0 {
				continue
			}
			out = append(out, VisualStart{
				SegmentID:   e.Segment.SegmentID,
				VisualIndex: p.VisualIndex,
				Intended:    e.Offset + p.Start,
			})
		}
	}
	return out
}

// Placeholders returns the ids of substituted segments.
func (t *Timeline) Placeholders() []string {
	var ids []string
	for _, e := range t.Entries {
		if e.Segment.Placeholder {
			ids = append(ids, e.Segment.SegmentID)
		}
	}
	return ids
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
