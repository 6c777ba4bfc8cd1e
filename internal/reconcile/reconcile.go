package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidArtifact is returned for artifacts with non-positive durations.
var ErrInvalidArtifact = errors.New("invalid segment artifact")

// DefaultTolerance is how much longer than its audio a clip may run before
// it is trimmed.
const DefaultTolerance = 50 * time.Millisecond

// Action is the media-level adjustment applied to a segment's clip.
type Action string

const (
	ActionNone Action = "none"
	ActionPad  Action = "pad"
	ActionTrim Action = "trim"
)

// Artifact is a rendered segment: its clip length and its narration length.
type Artifact struct {
	SegmentID     string
	ClipDuration  time.Duration
	AudioDuration time.Duration
}

// Segment is a segment whose clip has been reconciled with its audio.
// Duration always equals the audio duration.
type Segment struct {
	SegmentID    string
	Duration     time.Duration
	ClipDuration time.Duration
	Action       Action
	// Padding is how long the final frame is held.
	Padding time.Duration
	Trimmed bool
	// TrimmedBy is how much of the clip tail is cut.
	TrimmedBy time.Duration

	// Placeholder marks a segment substituted for a failed render.
	Placeholder   bool
	FailureReason string
}

// Reconciler decides how each clip is padded or trimmed so it lasts exactly
// as long as its audio. Audio is never shortened.
type Reconciler struct {
	logger    zerolog.Logger
	tolerance time.Duration
}

// New creates a reconciler. A negative tolerance is treated as zero.
func New(logger zerolog.Logger, tolerance time.Duration) *Reconciler {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Reconciler{
		logger:    logger.With().Str("component", "reconcile").Logger(),
		tolerance: tolerance,
	}
}

// Tolerance returns the configured trim tolerance.
func (r *Reconciler) Tolerance() time.Duration {
	return r.tolerance
}

// Reconcile computes the adjustment for one artifact.
func (r *Reconciler) Reconcile(a Artifact) (Segment, error) {
	if a.AudioDuration <= 0 {
		return Segment{}, fmt.Errorf("%w: segment %q audio duration %s", ErrInvalidArtifact, a.SegmentID, a.AudioDuration)
	}
	if a.ClipDuration <= 0 {
		return Segment{}, fmt.Errorf("%w: segment %q clip duration %s", ErrInvalidArtifact, a.SegmentID, a.ClipDuration)
	}

	seg := Segment{
		SegmentID:    a.SegmentID,
		Duration:     a.AudioDuration,
		ClipDuration: a.ClipDuration,
		Action:       ActionNone,
	}

	diff := a.ClipDuration - a.AudioDuration
	switch {
	case diff < 0:
		seg.Action = ActionPad
		seg.Padding = -diff
		r.logger.Debug().
			Str("segment", a.SegmentID).
			Dur("clip", a.ClipDuration).
			Dur("audio", a.AudioDuration).
			Dur("padding", seg.Padding).
			Msg("clip shorter than audio, holding last frame")
	case diff > r.tolerance:
		seg.Action = ActionTrim
		seg.Trimmed = true
		seg.TrimmedBy = diff
		r.logger.Warn().
			Str("segment", a.SegmentID).
			Dur("clip", a.ClipDuration).
			Dur("audio", a.AudioDuration).
			Dur("trimmed", diff).
			Msg("clip longer than audio, trimming tail")
	}

	return seg, nil
}

// Placeholder returns the stand-in for a segment whose render failed. It has
// the full audio duration so downstream offsets are unaffected.
func Placeholder(segmentID string, audio time.Duration, cause error) Segment {
	seg := Segment{
		SegmentID:   segmentID,
		Duration:    audio,
		Action:      ActionNone,
		Placeholder: true,
	}
	if cause != nil {
		seg.FailureReason = cause.Error()
	}
	return seg
}
