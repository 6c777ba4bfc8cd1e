package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoClip is returned when a segment has neither a clip duration nor a
// clip file to measure.
var ErrNoClip = errors.New("segment has no clip")

// Prober measures the duration of a media file.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

// ClipRenderer serves clips rendered ahead of time by an external renderer.
// A known clip duration is used as is; otherwise the clip file is probed.
type ClipRenderer struct {
	logger zerolog.Logger
	prober Prober
}

// NewClipRenderer creates a renderer backed by prober. prober may be nil
// when every segment carries its clip duration.
func NewClipRenderer(logger zerolog.Logger, prober Prober) *ClipRenderer {
	return &ClipRenderer{
		logger: logger.With().Str("component", "renderer").Logger(),
		prober: prober,
	}
}

func (r *ClipRenderer) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	seg := req.Segment
	if seg.ClipDuration > 0 {
		return RenderResult{ClipPath: seg.ClipPath, ClipDuration: seg.ClipDuration}, nil
	}
	if seg.ClipPath == "" {
		return RenderResult{}, ErrNoClip
	}
	if r.prober == nil {
		return RenderResult{}, fmt.Errorf("%w: no prober for %s", ErrNoClip, seg.ClipPath)
	}

	d, err := r.prober.ProbeDuration(ctx, seg.ClipPath)
	if err != nil {
		return RenderResult{}, fmt.Errorf("probe clip: %w", err)
	}

	r.logger.Debug().
		Str("segment", seg.ID).
		Str("clip", seg.ClipPath).
		Dur("duration", d).
		Msg("probed clip")

	return RenderResult{ClipPath: seg.ClipPath, ClipDuration: d}, nil
}
