package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Timing.DefaultLeadTime)
	assert.Equal(t, 100*time.Millisecond, cfg.Timing.MinVisualDuration)
	assert.Equal(t, 50*time.Millisecond, cfg.Reconcile.TrimTolerance)
	assert.Equal(t, 300*time.Millisecond, cfg.Validation.Tolerance)
	assert.Equal(t, 100*time.Millisecond, cfg.Compositor.Tolerance)
	assert.Equal(t, PolicyAbort, cfg.Render.FailurePolicy)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avsync.yaml")
	data := []byte(`
concurrency: 8
timing:
  default_lead_time: 750ms
reconcile:
  trim_tolerance: 20ms
render:
  failure_policy: placeholder
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 750*time.Millisecond, cfg.Timing.DefaultLeadTime)
	assert.Equal(t, 20*time.Millisecond, cfg.Reconcile.TrimTolerance)
	assert.Equal(t, PolicyPlaceholder, cfg.Render.FailurePolicy)
	// untouched keys keep their defaults
	assert.Equal(t, 100*time.Millisecond, cfg.Timing.MinVisualDuration)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avsync.toml")
	data := []byte(`
concurrency = 2

[validation]
tolerance = "250ms"

[compositor]
tolerance = "40ms"

[ffmpeg]
preset = "veryfast"
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Validation.Tolerance)
	assert.Equal(t, "veryfast", cfg.FFmpeg.Preset)
	assert.Equal(t, 40*time.Millisecond, cfg.Compositor.Tolerance)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Concurrency, cfg.Concurrency)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AVSYNC_TRIM_TOLERANCE", "10ms")
	t.Setenv("AVSYNC_CONCURRENCY", "3")
	t.Setenv("AVSYNC_FAILURE_POLICY", PolicyPlaceholder)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.Reconcile.TrimTolerance)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, PolicyPlaceholder, cfg.Render.FailurePolicy)
}

func TestLoadEnvInvalidDuration(t *testing.T) {
	t.Setenv("AVSYNC_RENDER_TIMEOUT", "soon")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"concurrency":                func(c *Config) { c.Concurrency = 0 },
		"timing.default_lead_time":   func(c *Config) { c.Timing.DefaultLeadTime = -time.Second },
		"timing.min_visual_duration": func(c *Config) { c.Timing.MinVisualDuration = 0 },
		"reconcile.trim_tolerance":   func(c *Config) { c.Reconcile.TrimTolerance = -1 },
		"compositor.tolerance":       func(c *Config) { c.Compositor.Tolerance = -1 },
		"render.failure_policy":      func(c *Config) { c.Render.FailurePolicy = "retry" },
		"ffmpeg.crf":                 func(c *Config) { c.FFmpeg.CRF = 60 },
	}

	for field, mutate := range cases {
		cfg := Default()
		mutate(cfg)

		err := cfg.Validate()
		require.Error(t, err, field)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, field, verr.Field)
	}
}

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		path := filepath.Join(t.TempDir(), name)

		cfg := Default()
		cfg.Concurrency = 6
		cfg.Timing.DefaultLeadTime = 250 * time.Millisecond
		require.NoError(t, cfg.Save(path), name)

		loaded, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, 6, loaded.Concurrency, name)
		assert.Equal(t, 250*time.Millisecond, loaded.Timing.DefaultLeadTime, name)
	}
}

func TestContextRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 9

	ctx := WithConfig(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
	assert.Equal(t, 4, FromContext(context.Background()).Concurrency)
}
