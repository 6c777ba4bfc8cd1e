package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keagan/avsync/internal/config"
	"github.com/keagan/avsync/internal/narration"
	"github.com/keagan/avsync/internal/reconcile"
	"github.com/keagan/avsync/internal/timeline"
	"github.com/keagan/avsync/internal/timing"
	"github.com/keagan/avsync/internal/visual"
	"github.com/keagan/avsync/pkg/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func secs(s float64) time.Duration { return util.FromSeconds(s) }

func testOptions() Options {
	return Options{
		Concurrency:       4,
		RenderTimeout:     time.Second,
		FailurePolicy:     config.PolicyAbort,
		Timing:            timing.DefaultOptions(),
		TrimTolerance:     reconcile.DefaultTolerance,
		TimelineTolerance: time.Millisecond,
	}
}

func segments(durations ...float64) []Segment {
	out := make([]Segment, len(durations))
	for i, d := range durations {
		id := fmt.Sprintf("seg-%d", i)
		out[i] = Segment{
			Position:     i,
			ID:           id,
			Audio:        narration.AudioSegment{ID: id, Duration: secs(d)},
			Visuals:      []visual.Descriptor{{Kind: visual.KindText, Position: 0}, {Kind: visual.KindEquation, Position: 1}},
			ClipDuration: secs(d),
		}
	}
	return out
}

// echoRenderer returns each segment's clip duration after an optional delay.
func offsets(tl *timeline.Timeline) []time.Duration {
	out := make([]time.Duration, len(tl.Entries))
	for i, e := range tl.Entries {
		out[i] = e.Offset
	}
	return out
}

func echoRenderer(delay func(Segment) time.Duration) Renderer {
	return RendererFunc(func(ctx context.Context, req RenderRequest) (RenderResult, error) {
		if delay != nil {
			select {
			case <-time.After(delay(req.Segment)):
			case <-ctx.Done():
				return RenderResult{}, ctx.Err()
			}
		}
		return RenderResult{ClipDuration: req.Segment.ClipDuration}, nil
	})
}

func TestRunOrdersByPositionNotCompletion(t *testing.T) {
	segs := segments(5.0, 3.2, 4.8)
	// first segment finishes last
	slow := func(s Segment) time.Duration {
		return time.Duration(len(segs)-s.Position) * 20 * time.Millisecond
	}

	p := New(zerolog.Nop(), echoRenderer(slow), testOptions())
	res, err := p.Run(context.Background(), segs)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []time.Duration{0, secs(5.0), secs(8.2)}, offsets(res.Timeline))
	assert.Equal(t, secs(13), res.Timeline.Total)
	for i, e := range res.Timeline.Entries {
		assert.Equal(t, segs[i].ID, e.Segment.SegmentID)
		assert.Len(t, e.Points, 2)
	}
}

func TestRunReconcilesClips(t *testing.T) {
	segs := segments(8.0, 5.0)
	segs[0].ClipDuration = secs(7.3)
	segs[1].ClipDuration = secs(5.2)

	res, err := New(zerolog.Nop(), echoRenderer(nil), testOptions()).Run(context.Background(), segs)
	require.NoError(t, err)

	first := res.Outcomes[0].Reconciled
	assert.Equal(t, reconcile.ActionPad, first.Action)
	assert.Equal(t, secs(0.7), first.Padding)
	assert.True(t, res.Outcomes[1].Reconciled.Trimmed)
	assert.Equal(t, secs(13), res.Timeline.Total)
}

func failingRenderer(failID string) Renderer {
	return RendererFunc(func(ctx context.Context, req RenderRequest) (RenderResult, error) {
		if req.Segment.ID == failID {
			return RenderResult{}, errors.New("renderer crashed")
		}
		return RenderResult{ClipDuration: req.Segment.ClipDuration}, nil
	})
}

func TestRunAbortPolicy(t *testing.T) {
	p := New(zerolog.Nop(), failingRenderer("seg-1"), testOptions())

	_, err := p.Run(context.Background(), segments(2, 3, 4))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSegmentFailed)

	var serr *SegmentError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "seg-1", serr.SegmentID)
	assert.Equal(t, 1, serr.Position)
	assert.Contains(t, err.Error(), "renderer crashed")
}

func TestRunPlaceholderPolicy(t *testing.T) {
	opts := testOptions()
	opts.FailurePolicy = config.PolicyPlaceholder

	res, err := New(zerolog.Nop(), failingRenderer("seg-1"), opts).Run(context.Background(), segments(2, 3, 4))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Placeholders())
	assert.Equal(t, []string{"seg-1"}, res.Timeline.Placeholders())
	assert.Equal(t, secs(9), res.Timeline.Total)
	assert.Equal(t, secs(5), res.Timeline.Entries[2].Offset)

	failed := res.Outcomes[1]
	assert.ErrorIs(t, failed.Err, ErrSegmentFailed)
	assert.Contains(t, failed.Reconciled.FailureReason, "renderer crashed")
	require.NotNil(t, failed.Plan)
}

func TestRunRenderTimeout(t *testing.T) {
	stuck := RendererFunc(func(ctx context.Context, req RenderRequest) (RenderResult, error) {
		if req.Segment.ID == "seg-0" {
			// ignores cancellation
			time.Sleep(300 * time.Millisecond)
		}
		return RenderResult{ClipDuration: req.Segment.ClipDuration}, nil
	})

	opts := testOptions()
	opts.RenderTimeout = 20 * time.Millisecond

	_, err := New(zerolog.Nop(), stuck, opts).Run(context.Background(), segments(1, 1))
	assert.ErrorIs(t, err, ErrRenderTimeout)
	assert.ErrorIs(t, err, ErrSegmentFailed)

	opts.FailurePolicy = config.PolicyPlaceholder
	res, err := New(zerolog.Nop(), stuck, opts).Run(context.Background(), segments(1, 1))
	require.NoError(t, err)
	assert.True(t, res.Outcomes[0].Reconciled.Placeholder)
	assert.ErrorIs(t, res.Outcomes[0].Err, ErrRenderTimeout)
}

func TestRunInvalidSegmentAlwaysAborts(t *testing.T) {
	opts := testOptions()
	opts.FailurePolicy = config.PolicyPlaceholder

	segs := segments(2, 3)
	segs[1].Audio.Duration = 0

	_, err := New(zerolog.Nop(), echoRenderer(nil), opts).Run(context.Background(), segs)
	assert.ErrorIs(t, err, timing.ErrInvalidInput)
}

func TestRunRespectsConcurrency(t *testing.T) {
	var active, peak int32
	r := RendererFunc(func(ctx context.Context, req RenderRequest) (RenderResult, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return RenderResult{ClipDuration: req.Segment.ClipDuration}, nil
	})

	opts := testOptions()
	opts.Concurrency = 2

	_, err := New(zerolog.Nop(), r, opts).Run(context.Background(), segments(1, 1, 1, 1, 1, 1))
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := func(Segment) time.Duration { return time.Second }
	_, err := New(zerolog.Nop(), echoRenderer(slow), testOptions()).Run(ctx, segments(1, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlan(t *testing.T) {
	segs := segments(6, 4)
	segs[0].Visuals[0].Duration = secs(2)

	plans, err := New(zerolog.Nop(), nil, testOptions()).Plan(context.Background(), segs)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	assert.Equal(t, "seg-0", plans[0].SegmentID)
	assert.Equal(t, secs(2), plans[0].Points[0].Duration)
	assert.Equal(t, secs(4), plans[0].Points[1].Duration)
	assert.Equal(t, secs(2), plans[1].Points[1].Start)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Render.FailurePolicy = config.PolicyPlaceholder

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, cfg.Concurrency, opts.Concurrency)
	assert.Equal(t, config.PolicyPlaceholder, opts.FailurePolicy)
	assert.Equal(t, cfg.Timing.DefaultLeadTime, opts.Timing.DefaultLeadTime)
	assert.Equal(t, cfg.Reconcile.TrimTolerance, opts.TrimTolerance)
}

type fakeProber map[string]time.Duration

func (f fakeProber) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	d, ok := f[path]
	if !ok {
		return 0, errors.New("no such file")
	}
	return d, nil
}

func TestClipRenderer(t *testing.T) {
	r := NewClipRenderer(zerolog.Nop(), fakeProber{"a.mp4": secs(4.2)})
	ctx := context.Background()

	res, err := r.Render(ctx, RenderRequest{Segment: Segment{ClipDuration: secs(3)}})
	require.NoError(t, err)
	assert.Equal(t, secs(3), res.ClipDuration)

	res, err = r.Render(ctx, RenderRequest{Segment: Segment{ClipPath: "a.mp4"}})
	require.NoError(t, err)
	assert.Equal(t, secs(4.2), res.ClipDuration)
	assert.Equal(t, "a.mp4", res.ClipPath)

	_, err = r.Render(ctx, RenderRequest{Segment: Segment{ClipPath: "missing.mp4"}})
	assert.Error(t, err)

	_, err = r.Render(ctx, RenderRequest{Segment: Segment{}})
	assert.ErrorIs(t, err, ErrNoClip)

	_, err = NewClipRenderer(zerolog.Nop(), nil).Render(ctx, RenderRequest{Segment: Segment{ClipPath: "a.mp4"}})
	assert.ErrorIs(t, err, ErrNoClip)
}
