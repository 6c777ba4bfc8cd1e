package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Failure policies applied when a segment cannot be rendered.
const (
	PolicyAbort       = "abort"
	PolicyPlaceholder = "placeholder"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir     string `yaml:"work_dir" toml:"work_dir"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency"`

	Timing     TimingConfig     `yaml:"timing" toml:"timing"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" toml:"reconcile"`
	Timeline   TimelineConfig   `yaml:"timeline" toml:"timeline"`
	Validation ValidationConfig `yaml:"validation" toml:"validation"`
	Compositor CompositorConfig `yaml:"compositor" toml:"compositor"`
	Render     RenderConfig     `yaml:"render" toml:"render"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg" toml:"ffmpeg"`
	Store      StoreConfig      `yaml:"store" toml:"store"`
}

type TimingConfig struct {
	DefaultLeadTime   time.Duration `yaml:"default_lead_time" toml:"default_lead_time"`
	MinVisualDuration time.Duration `yaml:"min_visual_duration" toml:"min_visual_duration"`
}

type ReconcileConfig struct {
	TrimTolerance time.Duration `yaml:"trim_tolerance" toml:"trim_tolerance"`
}

type TimelineConfig struct {
	Tolerance time.Duration `yaml:"tolerance" toml:"tolerance"`
}

type ValidationConfig struct {
	Tolerance time.Duration `yaml:"tolerance" toml:"tolerance"`
}

// CompositorConfig bounds the accepted drift between the composed video and
// the timeline total.
type CompositorConfig struct {
	Tolerance time.Duration `yaml:"tolerance" toml:"tolerance"`
}

type RenderConfig struct {
	Timeout       time.Duration `yaml:"timeout" toml:"timeout"`
	FailurePolicy string        `yaml:"failure_policy" toml:"failure_policy"`
}

type FFmpegConfig struct {
	BinaryPath       string  `yaml:"binary_path" toml:"binary_path"`
	ProbePath        string  `yaml:"probe_path" toml:"probe_path"`
	Threads          int     `yaml:"threads" toml:"threads"`
	Preset           string  `yaml:"preset" toml:"preset"`
	CRF              int     `yaml:"crf" toml:"crf"`
	Width            int     `yaml:"width" toml:"width"`
	Height           int     `yaml:"height" toml:"height"`
	FPS              float64 `yaml:"fps" toml:"fps"`
	PlaceholderColor string  `yaml:"placeholder_color" toml:"placeholder_color"`
}

type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Load reads configuration from file or returns defaults. A .env file in the
// working directory is loaded first and AVSYNC_* variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, err
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Save writes configuration to file, as TOML when the path ends in .toml and
// YAML otherwise.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return toml.NewEncoder(f).Encode(c)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return &ValidationError{Field: "concurrency", Message: "must be at least 1"}
	}
	if c.Timing.DefaultLeadTime < 0 {
		return &ValidationError{Field: "timing.default_lead_time", Message: "cannot be negative"}
	}
	if c.Timing.MinVisualDuration <= 0 {
		return &ValidationError{Field: "timing.min_visual_duration", Message: "must be positive"}
	}
	if c.Reconcile.TrimTolerance < 0 {
		return &ValidationError{Field: "reconcile.trim_tolerance", Message: "cannot be negative"}
	}
	if c.Timeline.Tolerance < 0 {
		return &ValidationError{Field: "timeline.tolerance", Message: "cannot be negative"}
	}
	if c.Validation.Tolerance < 0 {
		return &ValidationError{Field: "validation.tolerance", Message: "cannot be negative"}
	}
	if c.Compositor.Tolerance < 0 {
		return &ValidationError{Field: "compositor.tolerance", Message: "cannot be negative"}
	}
	if c.Render.Timeout < 0 {
		return &ValidationError{Field: "render.timeout", Message: "cannot be negative"}
	}
	switch c.Render.FailurePolicy {
	case PolicyAbort, PolicyPlaceholder:
	default:
		return &ValidationError{Field: "render.failure_policy", Message: fmt.Sprintf("unknown policy %q", c.Render.FailurePolicy)}
	}
	if c.FFmpeg.CRF < 0 || c.FFmpeg.CRF > 51 {
		return &ValidationError{Field: "ffmpeg.crf", Message: "must be between 0 and 51"}
	}
	return nil
}

// ValidationError reports the offending configuration key.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Message)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkDir:     "./work",
		Concurrency: 4,
		Timing: TimingConfig{
			DefaultLeadTime:   500 * time.Millisecond,
			MinVisualDuration: 100 * time.Millisecond,
		},
		Reconcile: ReconcileConfig{
			TrimTolerance: 50 * time.Millisecond,
		},
		Timeline: TimelineConfig{
			Tolerance: time.Millisecond,
		},
		Validation: ValidationConfig{
			Tolerance: 300 * time.Millisecond,
		},
		Compositor: CompositorConfig{
			Tolerance: 100 * time.Millisecond,
		},
		Render: RenderConfig{
			Timeout:       5 * time.Minute,
			FailurePolicy: PolicyAbort,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath:       "ffmpeg",
			ProbePath:        "ffprobe",
			Threads:          0,
			Preset:           "medium",
			CRF:              23,
			Width:            1280,
			Height:           720,
			FPS:              30,
			PlaceholderColor: "magenta",
		},
		Store: StoreConfig{
			Path: "./data/avsync.db",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./avsync.yaml",
		"./avsync.yml",
		"./avsync.toml",
		filepath.Join(os.Getenv("HOME"), ".avsync", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// applyEnv overrides individual settings from AVSYNC_* environment variables.
func applyEnv(cfg *Config) error {
	durations := map[string]*time.Duration{
		"AVSYNC_DEFAULT_LEAD_TIME":    &cfg.Timing.DefaultLeadTime,
		"AVSYNC_MIN_VISUAL_DURATION":  &cfg.Timing.MinVisualDuration,
		"AVSYNC_TRIM_TOLERANCE":       &cfg.Reconcile.TrimTolerance,
		"AVSYNC_VALIDATION_TOLERANCE": &cfg.Validation.Tolerance,
		"AVSYNC_COMPOSITOR_TOLERANCE": &cfg.Compositor.Tolerance,
		"AVSYNC_RENDER_TIMEOUT":       &cfg.Render.Timeout,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("AVSYNC_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AVSYNC_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = n
	}
	if v := os.Getenv("AVSYNC_FAILURE_POLICY"); v != "" {
		cfg.Render.FailurePolicy = v
	}
	if v := os.Getenv("AVSYNC_FFMPEG"); v != "" {
		cfg.FFmpeg.BinaryPath = v
	}
	if v := os.Getenv("AVSYNC_FFPROBE"); v != "" {
		cfg.FFmpeg.ProbePath = v
	}
	if v := os.Getenv("AVSYNC_STORE"); v != "" {
		cfg.Store.Path = v
	}
	return nil
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
