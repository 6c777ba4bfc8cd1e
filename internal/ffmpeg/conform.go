package ffmpeg

import (
	"context"
	"fmt"
	"time"

	"github.com/keagan/avsync/pkg/util"
)

// ConformOptions describes one segment file: a visual clip muxed with its
// narration and cut to exactly the narration's length.
type ConformOptions struct {
	Clip     string
	Audio    string
	Output   string
	Duration time.Duration
	// Hold extends the clip by cloning its last frame.
	Hold     time.Duration
	Encoding Encoding
}

// ConformArgs builds the ffmpeg arguments for opts.
func ConformArgs(opts ConformOptions) ([]string, error) {
	if opts.Clip == "" {
		return nil, fmt.Errorf("clip path is required")
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", opts.Duration)
	}
	enc := opts.Encoding.withDefaults()

	video := NewFilterBuilder().
		Fit(enc.Width, enc.Height).
		FPS(enc.FPS).
		HoldLastFrame(opts.Hold).
		Format(DefaultPixelFormat)

	args := []string{"-i", opts.Clip}
	if opts.Audio != "" {
		args = append(args, "-i", opts.Audio)
	} else {
		// no narration file: keep the timeline length with silence
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", enc.SampleRate))
	}
	args = append(args,
		"-filter_complex", video.Graph("0:v", "v"),
		"-map", "[v]",
		"-map", "1:a:0",
	)

	args = append(args, enc.outputArgs()...)
	args = append(args, "-t", util.FormatSeconds(opts.Duration), opts.Output)
	return args, nil
}

// Conform writes one normalized segment file.
func (e *Executor) Conform(ctx context.Context, opts ConformOptions) error {
	args, err := ConformArgs(opts)
	if err != nil {
		return fmt.Errorf("invalid conform options: %w", err)
	}

	e.logger.Info().
		Str("clip", opts.Clip).
		Str("output", opts.Output).
		Dur("duration", opts.Duration).
		Dur("hold", opts.Hold).
		Msg("conforming segment")

	runOpts := RunOptions{
		Args: args,
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("conform")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("conform %s: %w", opts.Output, err)
	}
	return nil
}

// PlaceholderOptions describes a solid colour stand-in with silent audio.
type PlaceholderOptions struct {
	Output   string
	Duration time.Duration
	Color    string
	Encoding Encoding
}

// PlaceholderArgs builds the ffmpeg arguments for opts.
func PlaceholderArgs(opts PlaceholderOptions) ([]string, error) {
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", opts.Duration)
	}
	enc := opts.Encoding.withDefaults()
	color := opts.Color
	if color == "" {
		color = "magenta"
	}

	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:r=%s:d=%s", color, enc.Width, enc.Height, formatFPS(enc.FPS), util.FormatSeconds(opts.Duration)),
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", enc.SampleRate),
		"-map", "0:v",
		"-map", "1:a",
	}
	args = append(args, enc.outputArgs()...)
	args = append(args, "-t", util.FormatSeconds(opts.Duration), opts.Output)
	return args, nil
}

// Placeholder writes a placeholder segment file.
func (e *Executor) Placeholder(ctx context.Context, opts PlaceholderOptions) error {
	args, err := PlaceholderArgs(opts)
	if err != nil {
		return fmt.Errorf("invalid placeholder options: %w", err)
	}

	e.logger.Info().
		Str("output", opts.Output).
		Dur("duration", opts.Duration).
		Msg("rendering placeholder")

	if err := e.Run(ctx, RunOptions{Args: args}); err != nil {
		return fmt.Errorf("placeholder %s: %w", opts.Output, err)
	}
	return nil
}
