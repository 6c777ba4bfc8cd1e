package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ConcatOptions defines concatenation parameters
type ConcatOptions struct {
	Inputs []string
	Output string
	// ReEncode re-encodes instead of stream copying. Only needed when the
	// inputs do not share an Encoding.
	ReEncode     bool
	Encoding     Encoding
	ProgressFunc ProgressFunc
}

// ConcatArgs builds the ffmpeg arguments for joining the files listed in
// listFile.
func ConcatArgs(listFile string, opts ConcatOptions) []string {
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
	}
	if opts.ReEncode {
		args = append(args, opts.Encoding.withDefaults().outputArgs()...)
	} else {
		args = append(args, "-c", "copy")
	}
	return append(args, opts.Output)
}

// Concat joins media files, in order, with the concat demuxer.
func (e *Executor) Concat(ctx context.Context, opts ConcatOptions) error {
	if len(opts.Inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Int("inputs", len(opts.Inputs)).
		Str("output", opts.Output).
		Bool("re_encode", opts.ReEncode).
		Msg("concatenating segments")

	listFile, err := createConcatFile(opts.Inputs)
	if err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	defer os.Remove(listFile)

	runOpts := RunOptions{
		Args:            ConcatArgs(listFile, opts),
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("concatenating")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("concat: %w", err)
	}
	return nil
}

// createConcatFile generates a temporary file list for ffmpeg concat
func createConcatFile(inputs []string) (string, error) {
	tmpFile, err := os.CreateTemp("", "avsync-concat-*.txt")
	if err != nil {
		return "", err
	}
	defer tmpFile.Close()

	if err := writeConcatList(tmpFile, inputs); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}
	return tmpFile.Name(), nil
}

// writeConcatList writes one absolute, quoted file directive per input.
func writeConcatList(w io.Writer, inputs []string) error {
	for _, input := range inputs {
		absPath, err := filepath.Abs(input)
		if err != nil {
			return err
		}
		quoted := strings.ReplaceAll(absPath, "'", `'\''`)
		if _, err := fmt.Fprintf(w, "file '%s'\n", quoted); err != nil {
			return err
		}
	}
	return nil
}
