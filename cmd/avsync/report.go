package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/keagan/avsync/internal/manifest"
	"github.com/keagan/avsync/internal/narration"
	"github.com/keagan/avsync/internal/pipeline"
	"github.com/keagan/avsync/internal/store"
	"github.com/keagan/avsync/internal/timeline"
	"github.com/keagan/avsync/internal/timing"
	"github.com/keagan/avsync/internal/validate"
	"github.com/keagan/avsync/pkg/util"
)

var (
	heading = color.New(color.Bold)
	dim     = color.New(color.Faint)
	good    = color.New(color.FgGreen, color.Bold)
	bad     = color.New(color.FgRed, color.Bold)
	warn    = color.New(color.FgYellow)
)

func printPlans(w io.Writer, project *manifest.Project, segs []pipeline.Segment, plans []*timing.Plan) {
	for i, plan := range plans {
		seg := segs[i]
		heading.Fprintf(w, "%s", seg.ID)
		dim.Fprintf(w, "  %s audio, %d visuals\n", util.FormatDuration(plan.AudioDuration), len(seg.Visuals))
		if est, ok := project.Segments[i].EstimatedDuration(); ok {
			line := fmt.Sprintf("  narration estimate %s at %d wpm\n", util.FormatDuration(est), narration.NormalRate)
			if diff := est - plan.AudioDuration; diff > plan.AudioDuration/10 || -diff > plan.AudioDuration/10 {
				warn.Fprint(w, line)
			} else {
				dim.Fprint(w, line)
			}
		}
		if plan.OverAllocated {
			warn.Fprintln(w, "  explicit durations exceed the audio and were scaled down")
		}

		for _, pt := range plan.Points {
			kind := "(none)"
			if pt.VisualIndex >= 0 && pt.VisualIndex < len(seg.Visuals) {
				kind = string(seg.Visuals[pt.VisualIndex].Kind)
			}
			fmt.Fprintf(w, "  %2d  %-10s %s → %s  %-10s",
				pt.VisualIndex, kind,
				util.FormatDuration(pt.Start), util.FormatDuration(pt.End()),
				pt.Source)
			if pt.TriggerWord != "" {
				dim.Fprintf(w, " %q at %s", pt.TriggerWord, util.FormatDuration(pt.TriggerTime))
			}
			fmt.Fprintln(w)
		}
	}
}

func printTimeline(w io.Writer, tl *timeline.Timeline) {
	for _, e := range tl.Entries {
		seg := e.Segment
		fmt.Fprintf(w, "%3d  %-20s %s  %s", e.Position, seg.SegmentID,
			util.FormatDuration(e.Offset), util.FormatDuration(seg.Duration))

		switch {
		case seg.Placeholder:
			bad.Fprintf(w, "  placeholder")
			dim.Fprintf(w, " (%s)", seg.FailureReason)
		case seg.Trimmed:
			warn.Fprintf(w, "  trim %s", util.FormatDuration(seg.TrimmedBy))
		case seg.Padding > 0:
			dim.Fprintf(w, "  pad %s", util.FormatDuration(seg.Padding))
		}
		fmt.Fprintln(w)
	}
	heading.Fprintf(w, "total %s\n", util.FormatDuration(tl.Total))
}

func printReport(w io.Writer, rep *validate.Report) {
	for _, v := range rep.Visuals {
		line := fmt.Sprintf("  %-20s #%-2d intended %s realized %s error %s\n",
			v.SegmentID, v.VisualIndex,
			util.FormatDuration(v.Intended), util.FormatDuration(v.Realized),
			util.FormatDuration(v.Error))
		if v.Error > rep.Tolerance {
			warn.Fprint(w, line)
		} else {
			fmt.Fprint(w, line)
		}
	}
	for _, u := range rep.Unmeasured {
		dim.Fprintf(w, "  %-20s #%-2d not measured\n", u.SegmentID, u.VisualIndex)
	}
	for _, m := range rep.Unexpected {
		warn.Fprintf(w, "  %-20s #%-2d no intended visual\n", m.SegmentID, m.VisualIndex)
	}

	fmt.Fprintf(w, "mean %s  p95 %s  max %s  tolerance %s\n",
		util.FormatDuration(rep.Mean), util.FormatDuration(rep.P95),
		util.FormatDuration(rep.Max), util.FormatDuration(rep.Tolerance))
	if rep.Passed {
		good.Fprintln(w, "PASS")
	} else {
		bad.Fprintln(w, "FAIL")
	}
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		dim.Fprintln(w, "no runs recorded")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %3d segments  %s",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Segments, util.FormatDuration(r.Total))
		if r.Placeholders > 0 {
			warn.Fprintf(w, "  %d placeholders", r.Placeholders)
		}
		fmt.Fprintf(w, "  %s\n", reportStatus(r))
	}
}

func printRun(w io.Writer, r *store.Run, segs []store.RunSegment) {
	heading.Fprintf(w, "run %s\n", r.ID)
	fmt.Fprintf(w, "started   %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "elapsed   %s\n", r.FinishedAt.Sub(r.CreatedAt))
	fmt.Fprintf(w, "total     %s\n", util.FormatDuration(r.Total))
	fmt.Fprintf(w, "report    %s\n", reportStatus(*r))
	if r.HasReport {
		fmt.Fprintf(w, "          p95 %s  max %s\n", util.FormatDuration(r.ReportP95), util.FormatDuration(r.ReportMax))
	}
	fmt.Fprintln(w)

	for _, s := range segs {
		fmt.Fprintf(w, "%3d  %-20s %s  %s  %s",
			s.Position, s.SegmentID, util.FormatDuration(s.Offset), util.FormatDuration(s.Duration), s.Action)
		if s.Placeholder {
			bad.Fprintf(w, "  placeholder")
			if s.Failure != "" {
				dim.Fprintf(w, " (%s)", strings.TrimSpace(s.Failure))
			}
		}
		fmt.Fprintln(w)
	}
}

func reportStatus(r store.Run) string {
	switch {
	case !r.HasReport:
		return dim.Sprint("unvalidated")
	case r.ReportPassed:
		return good.Sprint("pass")
	default:
		return bad.Sprint("fail")
	}
}
