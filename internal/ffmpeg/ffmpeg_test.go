package ffmpeg

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

func TestFilterBuilder(t *testing.T) {
	filter := NewFilterBuilder().
		Fit(640, 360).
		FPS(29.97).
		HoldLastFrame(700 * time.Millisecond).
		Format("yuv420p").
		Build()

	expected := "scale=640:360:force_original_aspect_ratio=decrease,pad=640:360:(ow-iw)/2:(oh-ih)/2,setsar=1," +
		"fps=29.97,tpad=stop_mode=clone:stop_duration=0.700,format=yuv420p"
	assert.Equal(t, expected, filter)
}

func TestFilterBuilderSkipsNoops(t *testing.T) {
	fb := NewFilterBuilder().Fit(0, 720).FPS(0).HoldLastFrame(0).Format("")
	assert.Equal(t, "", fb.Build())
	assert.Equal(t, "[0:v]null[v]", fb.Graph("0:v", "v"))
}

func TestConformArgs(t *testing.T) {
	args, err := ConformArgs(ConformOptions{
		Clip:     "clip.mp4",
		Audio:    "narration.wav",
		Output:   "seg.mp4",
		Duration: 8 * time.Second,
		Hold:     700 * time.Millisecond,
	})
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	assert.Equal(t, []string{"-i", "clip.mp4", "-i", "narration.wav"}, args[:4])
	assert.Contains(t, joined, "tpad=stop_mode=clone:stop_duration=0.700")
	assert.Contains(t, joined, "-map [v] -map 1:a:0")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Equal(t, []string{"-t", "8.000", "seg.mp4"}, args[len(args)-3:])
}

func TestConformArgsWithoutAudioUsesSilence(t *testing.T) {
	args, err := ConformArgs(ConformOptions{Clip: "clip.mp4", Output: "seg.mp4", Duration: time.Second})
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f lavfi -i anullsrc=r=48000:cl=stereo")
	assert.NotContains(t, joined, "tpad")
}

func TestConformArgsValidation(t *testing.T) {
	_, err := ConformArgs(ConformOptions{Output: "x.mp4", Duration: time.Second})
	assert.Error(t, err)
	_, err = ConformArgs(ConformOptions{Clip: "c.mp4", Duration: time.Second})
	assert.Error(t, err)
	_, err = ConformArgs(ConformOptions{Clip: "c.mp4", Output: "x.mp4"})
	assert.Error(t, err)
}

func TestPlaceholderArgs(t *testing.T) {
	args, err := PlaceholderArgs(PlaceholderOptions{
		Output:   "ph.mp4",
		Duration: 2500 * time.Millisecond,
		Encoding: Encoding{Width: 640, Height: 360, FPS: 25},
	})
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "color=c=magenta:s=640x360:r=25:d=2.500")
	assert.Contains(t, joined, "anullsrc=r=48000:cl=stereo")
	assert.Equal(t, []string{"-t", "2.500", "ph.mp4"}, args[len(args)-3:])

	_, err = PlaceholderArgs(PlaceholderOptions{Output: "ph.mp4"})
	assert.Error(t, err)
}

func TestConcatArgs(t *testing.T) {
	args := ConcatArgs("list.txt", ConcatOptions{Output: "out.mp4"})
	assert.Equal(t, []string{"-f", "concat", "-safe", "0", "-i", "list.txt", "-c", "copy", "out.mp4"}, args)

	args = ConcatArgs("list.txt", ConcatOptions{Output: "out.mp4", ReEncode: true})
	assert.Contains(t, strings.Join(args, " "), "-c:v libx264")
}

func TestWriteConcatList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeConcatList(&buf, []string{"/tmp/a.mp4", "/tmp/it's.mp4"}))

	assert.Equal(t, "file '/tmp/a.mp4'\nfile '/tmp/it'\\''s.mp4'\n", buf.String())
}

func TestParseProgressLine(t *testing.T) {
	p := &Progress{}
	assert.False(t, parseProgressLine(p, "frame=42"))
	assert.False(t, parseProgressLine(p, "fps=30.0"))
	assert.False(t, parseProgressLine(p, "out_time_us=1500000"))
	assert.False(t, parseProgressLine(p, "speed=2.1x"))
	assert.False(t, parseProgressLine(p, "garbage"))
	assert.True(t, parseProgressLine(p, "progress=end"))

	assert.Equal(t, 42, p.Frame)
	assert.Equal(t, 30.0, p.FPS)
	assert.Equal(t, 1500*time.Millisecond, p.OutTime)
	assert.Equal(t, "2.1x", p.Speed)
	assert.True(t, p.Done)
}

func TestStreamOutput(t *testing.T) {
	in := strings.NewReader("frame=1\nprogress=continue\nsome log line\nframe=2\nprogress=end\n")

	var blocks []*Progress
	var lines []string
	streamOutput(in, func(p *Progress) { blocks = append(blocks, p) }, func(l string) { lines = append(lines, l) })

	require.Len(t, blocks, 2)
	assert.Equal(t, 1, blocks[0].Frame)
	assert.True(t, blocks[1].Done)
	assert.Len(t, lines, 5)
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{
		"format": {"duration": "4.200000"},
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "r_frame_rate": "30/1"},
			{"codec_type": "audio", "codec_name": "aac", "sample_rate": "48000"}
		]
	}`)

	info, err := parseProbe("x.mp4", out)
	require.NoError(t, err)

	assert.Equal(t, 4200*time.Millisecond, info.Duration)
	assert.True(t, info.HasVideo)
	assert.True(t, info.HasAudio)
	assert.Equal(t, 30.0, info.FPS)
	assert.Equal(t, 48000, info.SampleRate)

	_, err = parseProbe("x.mp4", []byte("not json"))
	assert.Error(t, err)
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	skipIfNoFFmpeg(t)

	e, err := New(zerolog.Nop(), Options{Threads: 2})
	require.NoError(t, err)
	return e
}

func generate(t *testing.T, e *Executor, out string, inputs ...string) {
	t.Helper()
	var args []string
	for _, in := range inputs {
		args = append(args, "-f", "lavfi", "-i", in)
	}
	args = append(args, "-pix_fmt", "yuv420p", out)
	require.NoError(t, e.Run(context.Background(), RunOptions{Args: args}))
}

func TestSegmentFilesIntegration(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()
	dir := t.TempDir()
	enc := Encoding{Width: 320, Height: 240, FPS: 25, Preset: "ultrafast"}

	clip := filepath.Join(dir, "clip.mp4")
	generate(t, e, clip, "testsrc=duration=0.6:size=320x240:rate=25")
	narration := filepath.Join(dir, "narration.wav")
	require.NoError(t, e.Run(ctx, RunOptions{Args: []string{"-f", "lavfi", "-i", "sine=frequency=440:duration=1", narration}}))

	seg := filepath.Join(dir, "seg-0.mp4")
	require.NoError(t, e.Conform(ctx, ConformOptions{
		Clip:     clip,
		Audio:    narration,
		Output:   seg,
		Duration: time.Second,
		Hold:     400 * time.Millisecond,
		Encoding: enc,
	}))

	ph := filepath.Join(dir, "seg-1.mp4")
	require.NoError(t, e.Placeholder(ctx, PlaceholderOptions{Output: ph, Duration: time.Second, Encoding: enc}))

	out := filepath.Join(dir, "final.mp4")
	require.NoError(t, e.Concat(ctx, ConcatOptions{Inputs: []string{seg, ph}, Output: out}))

	d, err := e.ProbeDuration(ctx, out)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d.Seconds(), 0.1)
}

func TestProbeMissingFile(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.ProbeDuration(context.Background(), filepath.Join(t.TempDir(), "nonexistent.mp4"))
	assert.Error(t, err)
}
