package ffmpeg

import "time"

// MediaInfo contains metadata about a media file
type MediaInfo struct {
	FilePath   string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	VideoCodec string
	HasVideo   bool
	HasAudio   bool
	AudioCodec string
	SampleRate int
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	OutTime time.Duration
	Speed   string
	Done    bool
}

// ProgressFunc is called once per completed -progress block.
type ProgressFunc func(*Progress)

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler ProgressFunc
	LogHandler      func(line string)
}

// Default encoding settings
const (
	DefaultCRF         = 23
	DefaultPreset      = "medium"
	DefaultVideoCodec  = "libx264"
	DefaultAudioCodec  = "aac"
	DefaultSampleRate  = 48000
	DefaultPixelFormat = "yuv420p"
)

// Encoding is the common output format of every segment file. Segments
// share it so they can be joined without re-encoding.
type Encoding struct {
	VideoCodec string
	AudioCodec string
	Preset     string
	CRF        int
	Width      int
	Height     int
	FPS        float64
	SampleRate int
}

// withDefaults fills unset fields.
func (enc Encoding) withDefaults() Encoding {
	if enc.VideoCodec == "" {
		enc.VideoCodec = DefaultVideoCodec
	}
	if enc.AudioCodec == "" {
		enc.AudioCodec = DefaultAudioCodec
	}
	if enc.Preset == "" {
		enc.Preset = DefaultPreset
	}
	if enc.CRF == 0 {
		enc.CRF = DefaultCRF
	}
	if enc.Width <= 0 || enc.Height <= 0 {
		enc.Width, enc.Height = 1280, 720
	}
	if enc.FPS <= 0 {
		enc.FPS = 30
	}
	if enc.SampleRate <= 0 {
		enc.SampleRate = DefaultSampleRate
	}
	return enc
}

// outputArgs returns the codec arguments shared by every segment file.
func (enc Encoding) outputArgs() []string {
	return []string{
		"-c:v", enc.VideoCodec,
		"-preset", enc.Preset,
		"-crf", itoa(enc.CRF),
		"-pix_fmt", DefaultPixelFormat,
		"-c:a", enc.AudioCodec,
		"-ar", itoa(enc.SampleRate),
		"-ac", "2",
	}
}
