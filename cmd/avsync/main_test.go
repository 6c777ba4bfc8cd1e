package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/keagan/avsync/internal/config"
	"github.com/keagan/avsync/internal/manifest"
	"github.com/keagan/avsync/internal/store"
	"github.com/keagan/avsync/internal/timeline"
	"github.com/keagan/avsync/internal/timing"
	"github.com/keagan/avsync/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `
title: Forces
segments:
  - id: intro
    audio:
      duration: 5
      words:
        - {word: "Force", start: 0.2, end: 0.6}
        - {word: "equals", start: 0.6, end: 1.0}
        - {word: "mass", start: 3.1, end: 3.5}
    visuals:
      - kind: text
        content: "Newton"
      - kind: equation
        content: "F = ma"
        trigger_words: ["mass"]
    clip: {duration: 4.2}
  - id: outro
    audio:
      duration: 3
      text: "Thanks for watching."
    clip: {duration: 3.02}
`

// setFlags sets the command flag variables for one test.
func setFlags(t *testing.T, out, format string, rec bool) {
	t.Helper()
	prevOut, prevFormat, prevRecord := outPath, outFormat, record
	outPath, outFormat, record = out, format, rec
	t.Cleanup(func() { outPath, outFormat, record = prevOut, prevFormat, prevRecord })
}

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forces.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0644))
	return path
}

func TestAssembleManifest(t *testing.T) {
	path := writeManifest(t)
	setFlags(t, "", "", false)

	res, segs, err := assemble(context.Background(), config.Default(), path)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	tl := res.Timeline
	require.Len(t, tl.Entries, 2)
	assert.Equal(t, 8*time.Second, tl.Total)
	assert.Equal(t, 5*time.Second, tl.Entries[1].Offset)
	assert.Equal(t, 800*time.Millisecond, tl.Entries[0].Segment.Padding)
	assert.False(t, tl.Entries[1].Segment.Trimmed, "within trim tolerance")

	meta, err := timeline.ReadMetadata(filepath.Join(filepath.Dir(path), "forces.sync.json"))
	require.NoError(t, err)
	assert.Equal(t, res.RunID, meta.RunID)

	starts := meta.IntendedStarts()
	require.Len(t, starts, 2)
	// "mass" at 3.1s less the default lead time
	assert.Equal(t, 2600*time.Millisecond, starts[1].Intended)
}

func TestAssembleRecordsRun(t *testing.T) {
	path := writeManifest(t)
	setFlags(t, filepath.Join(t.TempDir(), "meta.yaml"), "", true)

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "history.db")

	res, _, err := assemble(context.Background(), cfg, path)
	require.NoError(t, err)
	assert.FileExists(t, outPath)

	s, err := store.Open(cfg.Store.Path)
	require.NoError(t, err)
	defer s.Close()

	run, segs, err := s.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, run.Total)
	assert.Len(t, segs, 2)
}

func TestAssembleInvalidManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`segments: [{id: a, audio: {duration: 0}}]`), 0644))
	setFlags(t, "", "", false)

	_, _, err := assemble(context.Background(), config.Default(), path)
	assert.ErrorIs(t, err, manifest.ErrInvalidManifest)
}

func TestPrintPlansShowsNarrationEstimate(t *testing.T) {
	color.NoColor = true

	path := writeManifest(t)
	setFlags(t, "", "", false)

	project, segs, err := loadManifest(path)
	require.NoError(t, err)

	res, _, err := assemble(context.Background(), config.Default(), path)
	require.NoError(t, err)

	plans := make([]*timing.Plan, len(res.Outcomes))
	for i, o := range res.Outcomes {
		plans[i] = o.Plan
	}

	var buf bytes.Buffer
	printPlans(&buf, project, segs, plans)
	assert.Contains(t, buf.String(), "narration estimate 00:00:01.700")
	assert.Contains(t, buf.String(), `"mass"`)
}

func TestMetadataPath(t *testing.T) {
	cases := []struct {
		manifest, out, format, want string
	}{
		{"proj/video.yaml", "", "", "proj/video.sync.json"},
		{"proj/video.yaml", "", "yaml", "proj/video.sync.yaml"},
		{"proj/video.yaml", "out/meta.yml", "", "out/meta.yml"},
		{"proj/video.yaml", "out/meta.yml", "json", "out/meta.json"},
		{"proj/video.yaml", "out/meta", "json", "out/meta.json"},
		{"video", "", "", "video.sync.json"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, metadataPath(tc.manifest, tc.out, tc.format), "%+v", tc)
	}
}

func TestPrintReport(t *testing.T) {
	color.NoColor = true

	rep := &validate.Report{
		Visuals: []validate.VisualError{
			{SegmentID: "intro", VisualIndex: 0, Intended: time.Second, Realized: 1100 * time.Millisecond, Error: 100 * time.Millisecond},
		},
		P95:       100 * time.Millisecond,
		Tolerance: 300 * time.Millisecond,
		Passed:    true,
	}

	var buf bytes.Buffer
	printReport(&buf, rep)
	assert.Contains(t, buf.String(), "intro")
	assert.Contains(t, buf.String(), "PASS")

	rep.Passed = false
	buf.Reset()
	printReport(&buf, rep)
	assert.Contains(t, buf.String(), "FAIL")
}
