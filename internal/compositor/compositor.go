package compositor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/keagan/avsync/internal/config"
	"github.com/keagan/avsync/internal/ffmpeg"
	"github.com/keagan/avsync/internal/timeline"
	"github.com/keagan/avsync/pkg/util"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrMissingClip is returned when a rendered segment has no clip file.
var ErrMissingClip = errors.New("segment clip file missing")

// Media is the subset of the ffmpeg executor the compositor drives.
type Media interface {
	Conform(ctx context.Context, opts ffmpeg.ConformOptions) error
	Placeholder(ctx context.Context, opts ffmpeg.PlaceholderOptions) error
	Concat(ctx context.Context, opts ffmpeg.ConcatOptions) error
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

// Source locates a segment's media files.
type Source struct {
	ClipPath  string
	AudioPath string
}

// Options configures composition.
type Options struct {
	WorkDir          string
	Concurrency      int
	Encoding         ffmpeg.Encoding
	PlaceholderColor string
	// Tolerance is the accepted difference between the output duration
	// and the timeline total.
	Tolerance    time.Duration
	KeepSegments bool
}

// OptionsFromConfig maps application config onto compositor options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WorkDir:     cfg.WorkDir,
		Concurrency: cfg.Concurrency,
		Encoding: ffmpeg.Encoding{
			Preset: cfg.FFmpeg.Preset,
			CRF:    cfg.FFmpeg.CRF,
			Width:  cfg.FFmpeg.Width,
			Height: cfg.FFmpeg.Height,
			FPS:    cfg.FFmpeg.FPS,
		},
		PlaceholderColor: cfg.FFmpeg.PlaceholderColor,
		Tolerance:        cfg.Compositor.Tolerance,
	}
}

// Result describes the composed output.
type Result struct {
	Output   string
	Expected time.Duration
	Actual   time.Duration
	// Drift is Actual minus Expected.
	Drift time.Duration
}

// Compositor applies reconciliation decisions at the media level and joins
// segments in timeline order.
type Compositor struct {
	logger zerolog.Logger
	media  Media
	opts   Options
}

// New creates a compositor
func New(logger zerolog.Logger, media Media, opts Options) *Compositor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	return &Compositor{
		logger: logger.With().Str("component", "compositor").Logger(),
		media:  media,
		opts:   opts,
	}
}

// Compose writes one file per timeline entry, concatenates them into output
// and checks the result against the timeline total.
func (c *Compositor) Compose(ctx context.Context, tl *timeline.Timeline, sources map[string]Source, output string) (*Result, error) {
	if tl == nil || len(tl.Entries) == 0 {
		return nil, fmt.Errorf("timeline has no segments")
	}

	dir := filepath.Join(c.opts.WorkDir, "segments")
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}

	files := make([]string, len(tl.Entries))
	for i, e := range tl.Entries {
		files[i] = filepath.Join(dir, fmt.Sprintf("%03d_%s.mp4", e.Position, util.SafeName(e.Segment.SegmentID)))
	}
	if !c.opts.KeepSegments {
		defer util.CleanupFiles(files...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, e := range tl.Entries {
		i, e := i, e
		g.Go(func() error {
			return c.writeSegment(gctx, e, sources[e.Segment.SegmentID], files[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := util.EnsureDir(filepath.Dir(output)); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := c.media.Concat(ctx, ffmpeg.ConcatOptions{Inputs: files, Output: output}); err != nil {
		return nil, err
	}

	actual, err := c.media.ProbeDuration(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("probe output: %w", err)
	}

	res := &Result{
		Output:   output,
		Expected: tl.Total,
		Actual:   actual,
		Drift:    actual - tl.Total,
	}

	event := c.logger.Info()
	if res.Drift > c.opts.Tolerance || -res.Drift > c.opts.Tolerance {
		event = c.logger.Warn()
	}
	event.
		Str("output", output).
		Dur("expected", res.Expected).
		Dur("actual", res.Actual).
		Dur("drift", res.Drift).
		Msg("composition complete")

	return res, nil
}

func (c *Compositor) writeSegment(ctx context.Context, e timeline.Entry, src Source, file string) error {
	seg := e.Segment
	if seg.Placeholder {
		return c.media.Placeholder(ctx, ffmpeg.PlaceholderOptions{
			Output:   file,
			Duration: seg.Duration,
			Color:    c.opts.PlaceholderColor,
			Encoding: c.opts.Encoding,
		})
	}

	if src.ClipPath == "" {
		return fmt.Errorf("%w: segment %q", ErrMissingClip, seg.SegmentID)
	}

	return c.media.Conform(ctx, ffmpeg.ConformOptions{
		Clip:     src.ClipPath,
		Audio:    src.AudioPath,
		Output:   file,
		Duration: seg.Duration,
		Hold:     seg.Padding,
		Encoding: c.opts.Encoding,
	})
}
