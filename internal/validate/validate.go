package validate

import (
	"math"
	"sort"
	"time"

	"github.com/keagan/avsync/internal/timeline"
	"github.com/rs/zerolog"
)

// DefaultTolerance is the p95 error a run may have and still pass.
const DefaultTolerance = 300 * time.Millisecond

// Measurement is the externally observed start of one visual.
type Measurement struct {
	SegmentID   string
	VisualIndex int
	Realized    time.Duration
}

// VisualError is the discrepancy for one measured visual.
type VisualError struct {
	SegmentID   string
	VisualIndex int
	Intended    time.Duration
	Realized    time.Duration
	Error       time.Duration
}

// Report summarizes sync accuracy across a run.
type Report struct {
	Visuals []VisualError
	// Unmeasured lists intended visuals with no measurement.
	Unmeasured []timeline.VisualStart
	// Unexpected lists measurements that match no intended visual.
	Unexpected []Measurement

	Max       time.Duration
	Mean      time.Duration
	P95       time.Duration
	Tolerance time.Duration
	Passed    bool
}

// Validator compares intended and realized visual start times. It only
// reads its inputs.
type Validator struct {
	logger    zerolog.Logger
	tolerance time.Duration
}

// New creates a validator that passes runs whose p95 error is within tolerance.
func New(logger zerolog.Logger, tolerance time.Duration) *Validator {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Validator{
		logger:    logger.With().Str("component", "validate").Logger(),
		tolerance: tolerance,
	}
}

type visualKey struct {
	segment string
	index   int
}

// Validate pairs measurements with intended starts by segment and visual
// index. A run with intended visuals but no measurements does not pass.
func (v *Validator) Validate(intended []timeline.VisualStart, measured []Measurement) *Report {
	report := &Report{Tolerance: v.tolerance}

	byKey := make(map[visualKey]Measurement, len(measured))
	for _, m := range measured {
		byKey[visualKey{m.SegmentID, m.VisualIndex}] = m
	}

	seen := make(map[visualKey]bool, len(intended))
	for _, in := range intended {
		key := visualKey{in.SegmentID, in.VisualIndex}
		seen[key] = true

		m, ok := byKey[key]
		if !ok {
			report.Unmeasured = append(report.Unmeasured, in)
			continue
		}
		diff := in.Intended - m.Realized
		if diff < 0 {
			diff = -diff
		}
		report.Visuals = append(report.Visuals, VisualError{
			SegmentID:   in.SegmentID,
			VisualIndex: in.VisualIndex,
			Intended:    in.Intended,
			Realized:    m.Realized,
			Error:       diff,
		})
	}
	for _, m := range measured {
		if !seen[visualKey{m.SegmentID, m.VisualIndex}] {
			report.Unexpected = append(report.Unexpected, m)
		}
	}

	if len(report.Visuals) > 0 {
		errs := make([]time.Duration, len(report.Visuals))
		var sum time.Duration
		for i, ve := range report.Visuals {
			errs[i] = ve.Error
			sum += ve.Error
		}
		sort.Slice(errs, func(i, j int) bool { return errs[i] < errs[j] })

		report.Max = errs[len(errs)-1]
		report.Mean = sum / time.Duration(len(errs))
		report.P95 = percentile(errs, 0.95)
	}

	report.Passed = report.P95 <= v.tolerance && (len(intended) == 0 || len(report.Visuals) > 0)

	event := v.logger.Info()
	if !report.Passed {
		event = v.logger.Warn()
	}
	event.
		Int("measured", len(report.Visuals)).
		Int("unmeasured", len(report.Unmeasured)).
		Dur("max", report.Max).
		Dur("mean", report.Mean).
		Dur("p95", report.P95).
		Bool("passed", report.Passed).
		Msg("sync validation complete")

	return report
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
