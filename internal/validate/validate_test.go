package validate

import (
	"testing"
	"time"

	"github.com/keagan/avsync/internal/timeline"
	"github.com/keagan/avsync/pkg/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func secs(s float64) time.Duration { return util.FromSeconds(s) }

func TestValidateMeanAndMax(t *testing.T) {
	intended := []timeline.VisualStart{
		{SegmentID: "a", VisualIndex: 0, Intended: secs(1.0)},
		{SegmentID: "a", VisualIndex: 1, Intended: secs(5.0)},
	}
	measured := []Measurement{
		{SegmentID: "a", VisualIndex: 1, Realized: secs(5.4)},
		{SegmentID: "a", VisualIndex: 0, Realized: secs(1.2)},
	}

	report := New(zerolog.Nop(), DefaultTolerance).Validate(intended, measured)

	require.Len(t, report.Visuals, 2)
	assert.Equal(t, secs(0.3), report.Mean)
	assert.Equal(t, secs(0.4), report.Max)
	assert.Equal(t, secs(0.4), report.P95)
	assert.False(t, report.Passed)
}

func TestValidatePassesWithinTolerance(t *testing.T) {
	var intended []timeline.VisualStart
	var measured []Measurement
	// 19 visuals 10ms off, one 1s off: p95 stays at 10ms
	for i := 0; i < 20; i++ {
		intended = append(intended, timeline.VisualStart{SegmentID: "s", VisualIndex: i, Intended: secs(float64(i))})
		off := 10 * time.Millisecond
		if i == 7 {
			off = time.Second
		}
		measured = append(measured, Measurement{SegmentID: "s", VisualIndex: i, Realized: secs(float64(i)) + off})
	}

	report := New(zerolog.Nop(), DefaultTolerance).Validate(intended, measured)

	assert.Equal(t, 10*time.Millisecond, report.P95)
	assert.Equal(t, time.Second, report.Max)
	assert.True(t, report.Passed)
}

func TestValidateUnmeasuredAndUnexpected(t *testing.T) {
	intended := []timeline.VisualStart{
		{SegmentID: "a", VisualIndex: 0, Intended: secs(1)},
		{SegmentID: "b", VisualIndex: 0, Intended: secs(4)},
	}
	measured := []Measurement{
		{SegmentID: "a", VisualIndex: 0, Realized: secs(1.1)},
		{SegmentID: "z", VisualIndex: 3, Realized: secs(9)},
	}

	report := New(zerolog.Nop(), DefaultTolerance).Validate(intended, measured)

	require.Len(t, report.Unmeasured, 1)
	assert.Equal(t, "b", report.Unmeasured[0].SegmentID)
	require.Len(t, report.Unexpected, 1)
	assert.Equal(t, "z", report.Unexpected[0].SegmentID)
	assert.Len(t, report.Visuals, 1)
	assert.True(t, report.Passed)
}

func TestValidateNothingMeasured(t *testing.T) {
	intended := []timeline.VisualStart{{SegmentID: "a", VisualIndex: 0, Intended: secs(1)}}

	report := New(zerolog.Nop(), DefaultTolerance).Validate(intended, nil)
	assert.False(t, report.Passed)

	empty := New(zerolog.Nop(), DefaultTolerance).Validate(nil, nil)
	assert.True(t, empty.Passed)
}

func TestPercentile(t *testing.T) {
	vals := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(10), percentile(vals, 0.95))
	assert.Equal(t, time.Duration(5), percentile(vals, 0.5))
	assert.Equal(t, time.Duration(0), percentile(nil, 0.95))
}
