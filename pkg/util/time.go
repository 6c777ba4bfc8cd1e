package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FromSeconds converts floating-point seconds to a time.Duration, rounding to
// the nearest nanosecond.
func FromSeconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// FormatDuration converts time.Duration to ffmpeg timestamp format
func FormatDuration(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	secs := (d % time.Minute).Seconds()
	s := fmt.Sprintf("%02d:%02d:%06.3f", hours, minutes, secs)
	if neg {
		return "-" + s
	}
	return s
}

// FormatSeconds renders d as plain seconds with millisecond precision ("12.345"),
// the form ffmpeg accepts for -t and filter arguments.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// ParseTimestamp parses a timestamp string (HH:MM:SS.mmm, MM:SS or SS.mmm)
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp format: %s", s)
	}

	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp format: %s", s)
		}
		total = total*60 + v
	}

	return FromSeconds(total), nil
}

// ParseFrameRate parses frame rate from ffprobe format (e.g., "30/1")
func ParseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
