package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/avsync/internal/config"
	"github.com/keagan/avsync/internal/logging"
	"github.com/keagan/avsync/internal/reconcile"
	"github.com/keagan/avsync/internal/timeline"
	"github.com/keagan/avsync/internal/timing"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options controls a pipeline run.
type Options struct {
	Concurrency       int
	RenderTimeout     time.Duration
	FailurePolicy     string
	Timing            timing.Options
	TrimTolerance     time.Duration
	TimelineTolerance time.Duration
}

// OptionsFromConfig maps application config onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:   cfg.Concurrency,
		RenderTimeout: cfg.Render.Timeout,
		FailurePolicy: cfg.Render.FailurePolicy,
		Timing: timing.Options{
			DefaultLeadTime: cfg.Timing.DefaultLeadTime,
			MinDuration:     cfg.Timing.MinVisualDuration,
		},
		TrimTolerance:     cfg.Reconcile.TrimTolerance,
		TimelineTolerance: cfg.Timeline.Tolerance,
	}
}

// Pipeline plans, renders and reconciles segments in parallel, then joins
// them into one timeline.
type Pipeline struct {
	logger     zerolog.Logger
	opts       Options
	renderer   Renderer
	calculator *timing.Calculator
	reconciler *reconcile.Reconciler
	assembler  *timeline.Assembler
}

// New creates a pipeline instance
func New(logger zerolog.Logger, renderer Renderer, opts Options) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = config.PolicyAbort
	}

	return &Pipeline{
		logger:     logger.With().Str("component", "pipeline").Logger(),
		opts:       opts,
		renderer:   renderer,
		calculator: timing.NewCalculator(logger, opts.Timing),
		reconciler: reconcile.New(logger, opts.TrimTolerance),
		assembler:  timeline.NewAssembler(logger, opts.TimelineTolerance),
	}
}

// Plan computes sync points for every segment without rendering. Plans are
// returned in input order.
func (p *Pipeline) Plan(ctx context.Context, segments []Segment) ([]*timing.Plan, error) {
	plans := make([]*timing.Plan, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			plan, err := p.calculator.Plan(seg.Audio, seg.Visuals)
			if err != nil {
				return &SegmentError{Position: seg.Position, SegmentID: seg.ID, Err: err}
			}
			plans[i] = plan
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return plans, nil
}

// Run executes the full workflow. Segments are processed concurrently and
// complete in any order; the timeline follows their Position. A segment
// failure either aborts the run or, under the placeholder policy, is
// replaced by a marked placeholder of the segment's audio duration.
func (p *Pipeline) Run(ctx context.Context, segments []Segment) (*Result, error) {
	runID := uuid.NewString()
	log := logging.WithRun(p.logger, runID)
	result := &Result{
		RunID:     runID,
		StartedAt: time.Now(),
		Outcomes:  make([]Outcome, len(segments)),
	}

	log.Info().
		Int("segments", len(segments)).
		Int("concurrency", p.opts.Concurrency).
		Str("policy", p.opts.FailurePolicy).
		Dur("trim_tolerance", p.reconciler.Tolerance()).
		Msg("starting pipeline")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			out, err := p.processSegment(gctx, seg)
			if err == nil {
				result.Outcomes[i] = out
				return nil
			}

			serr := &SegmentError{Position: seg.Position, SegmentID: seg.ID, Err: err}
			if !p.canSubstitute(gctx, seg) {
				log.Error().Err(err).Str("segment", seg.ID).Int("position", seg.Position).Msg("segment failed")
				return serr
			}

			log.Warn().Err(err).Str("segment", seg.ID).Msg("segment failed, substituting placeholder")
			out.Segment = seg
			out.Reconciled = reconcile.Placeholder(seg.ID, seg.Audio.Duration, err)
			out.Render = RenderResult{}
			out.Err = serr
			result.Outcomes[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	parts := make([]timeline.Part, len(result.Outcomes))
	for i, o := range result.Outcomes {
		parts[i] = timeline.Part{Position: o.Segment.Position, Segment: o.Reconciled}
		if o.Plan != nil {
			parts[i].Points = o.Plan.Points
		}
	}

	tl, err := p.assembler.Assemble(parts)
	if err != nil {
		return nil, fmt.Errorf("assemble timeline: %w", err)
	}
	result.Timeline = tl
	result.FinishedAt = time.Now()

	log.Info().
		Dur("total", tl.Total).
		Int("placeholders", result.Placeholders()).
		Dur("elapsed", result.FinishedAt.Sub(result.StartedAt)).
		Msg("pipeline complete")

	return result, nil
}

// canSubstitute reports whether a failed segment may be replaced. The run
// itself must still be live and the segment's audio length known.
func (p *Pipeline) canSubstitute(ctx context.Context, seg Segment) bool {
	return p.opts.FailurePolicy == config.PolicyPlaceholder &&
		ctx.Err() == nil &&
		seg.Audio.Duration > 0
}

// processSegment plans, renders and reconciles one segment. The returned
// outcome carries the plan even when a later stage fails.
func (p *Pipeline) processSegment(ctx context.Context, seg Segment) (Outcome, error) {
	out := Outcome{Segment: seg}

	plan, err := p.calculator.Plan(seg.Audio, seg.Visuals)
	if err != nil {
		return out, fmt.Errorf("plan: %w", err)
	}
	out.Plan = plan

	res, err := p.render(ctx, RenderRequest{Segment: seg, Plan: plan})
	if err != nil {
		return out, err
	}
	out.Render = res

	rec, err := p.reconciler.Reconcile(reconcile.Artifact{
		SegmentID:     seg.ID,
		ClipDuration:  res.ClipDuration,
		AudioDuration: seg.Audio.Duration,
	})
	if err != nil {
		return out, fmt.Errorf("reconcile: %w", err)
	}
	out.Reconciled = rec

	return out, nil
}

type renderReply struct {
	res RenderResult
	err error
}

// render calls the renderer bounded by the configured timeout. A renderer
// that ignores cancellation is abandoned when the deadline passes.
func (p *Pipeline) render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	if p.opts.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RenderTimeout)
		defer cancel()
	}

	reply := make(chan renderReply, 1)
	go func() {
		res, err := p.renderer.Render(ctx, req)
		reply <- renderReply{res, err}
	}()

	select {
	case r := <-reply:
		if r.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return RenderResult{}, fmt.Errorf("%w after %s: %v", ErrRenderTimeout, p.opts.RenderTimeout, r.err)
			}
			return RenderResult{}, fmt.Errorf("render: %w", r.err)
		}
		return r.res, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return RenderResult{}, fmt.Errorf("%w after %s", ErrRenderTimeout, p.opts.RenderTimeout)
		}
		return RenderResult{}, ctx.Err()
	}
}
