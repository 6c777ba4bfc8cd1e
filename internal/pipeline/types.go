package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keagan/avsync/internal/narration"
	"github.com/keagan/avsync/internal/reconcile"
	"github.com/keagan/avsync/internal/timeline"
	"github.com/keagan/avsync/internal/timing"
	"github.com/keagan/avsync/internal/visual"
)

var (
	// ErrSegmentFailed matches every SegmentError.
	ErrSegmentFailed = errors.New("segment failed")
	// ErrRenderTimeout is wrapped when a render exceeds its timeout.
	ErrRenderTimeout = errors.New("render timed out")
)

// SegmentError reports a failure confined to one segment.
type SegmentError struct {
	Position  int
	SegmentID string
	Err       error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %q (position %d): %v", e.SegmentID, e.Position, e.Err)
}

func (e *SegmentError) Unwrap() []error {
	return []error{ErrSegmentFailed, e.Err}
}

// Segment is one narrated unit of work.
type Segment struct {
	Position  int
	ID        string
	Audio     narration.AudioSegment
	AudioPath string
	Visuals   []visual.Descriptor

	// ClipPath and ClipDuration describe an already rendered clip, when
	// the renderer reads them instead of producing its own.
	ClipPath     string
	ClipDuration time.Duration
}

// RenderRequest asks a renderer to produce the clip for one segment.
type RenderRequest struct {
	Segment Segment
	Plan    *timing.Plan
}

// RenderResult describes a rendered clip.
type RenderResult struct {
	ClipPath     string
	ClipDuration time.Duration
}

// Renderer produces visual clips from sync points. Implementations must
// honor ctx cancellation.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, req RenderRequest) (RenderResult, error)

func (f RendererFunc) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	return f(ctx, req)
}

// Outcome is everything known about one segment after a run.
type Outcome struct {
	Segment    Segment
	Plan       *timing.Plan
	Render     RenderResult
	Reconciled reconcile.Segment
	// Err is set when the segment was replaced by a placeholder.
	Err error
}

// Result is the product of one pipeline run.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
	Timeline   *timeline.Timeline
}

// Placeholders returns the number of substituted segments.
func (r *Result) Placeholders() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Reconciled.Placeholder {
			n++
		}
	}
	return n
}
