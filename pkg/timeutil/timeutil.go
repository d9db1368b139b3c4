// Package timeutil has small time formatting and measurement helpers shared
// by the CLI and the logs.
package timeutil

import (
	"fmt"
	"time"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// DateString formats t as a calendar date.
func DateString(t time.Time) string {
	return t.Format(dateLayout)
}

// TimestampString formats t as a second-resolution timestamp.
func TimestampString(t time.Time) string {
	return t.Format(timestampLayout)
}

// FormatDuration renders a duration compactly for table output: sub-second
// as milliseconds, sub-minute as seconds, then m/h composites.
func FormatDuration(d time.Duration) string {
	switch {
	case d < 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// Uptime renders how long ago start was, or "-" when start is zero.
func Uptime(start time.Time) string {
	if start.IsZero() {
		return "-"
	}
	return FormatDuration(time.Since(start))
}

// Measure returns a stop function reporting the elapsed time since the
// call. Meant for defer:
//
//	defer timeutil.Measure("stop-all")(log.Info)
func Measure(name string) func(report func(msg string, fields ...map[string]interface{})) {
	start := time.Now()
	return func(report func(msg string, fields ...map[string]interface{})) {
		report("Operation timed", map[string]interface{}{
			"op":      name,
			"elapsed": FormatDuration(time.Since(start)),
		})
	}
}
