// Package timewindow evaluates membership of a clock reading in a set of
// labeled blackout windows, including windows that cross midnight.
package timewindow

import (
	"fmt"
	"regexp"
	"time"

	"github.com/goodtune/sitewarden/internal/storage"
)

var timeFormat = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ParseMinutes converts an HH:MM string to minutes since midnight.
func ParseMinutes(s string) (int, error) {
	if !timeFormat.MatchString(s) {
		return 0, fmt.Errorf("invalid time %q: must be HH:MM", s)
	}
	var h, m int
	_, _ = fmt.Sscanf(s, "%d:%d", &h, &m)
	return h*60 + m, nil
}

// Validate checks a window's time strings at the configuration boundary so
// malformed values never reach the evaluator.
func Validate(w storage.TimeWindow) error {
	if _, err := ParseMinutes(w.StartTime); err != nil {
		return fmt.Errorf("window %s start: %w", w.ID, err)
	}
	if _, err := ParseMinutes(w.EndTime); err != nil {
		return fmt.Errorf("window %s end: %w", w.ID, err)
	}
	return nil
}

// contains reports whether minute m falls inside the half-open span [s, e).
// A window with s == e is zero-width and never matches; a window with s > e
// crosses midnight.
func contains(s, e, m int) bool {
	switch {
	case s == e:
		return false
	case s < e:
		return s <= m && m < e
	default:
		return m >= s || m < e
	}
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// IsWithinAny reports whether now falls inside any enabled window.
func IsWithinAny(windows []storage.TimeWindow, now time.Time) bool {
	return ActiveWindow(windows, now) != nil
}

// ActiveWindow returns the first enabled window containing now, in input
// order. Priority among overlapping windows is the caller's responsibility.
func ActiveWindow(windows []storage.TimeWindow, now time.Time) *storage.TimeWindow {
	m := minutesOfDay(now)
	for i := range windows {
		w := &windows[i]
		if !w.Enabled {
			continue
		}
		s, err := ParseMinutes(w.StartTime)
		if err != nil {
			continue
		}
		e, err := ParseMinutes(w.EndTime)
		if err != nil {
			continue
		}
		if contains(s, e, m) {
			return w
		}
	}
	return nil
}

// NextBoundary returns the end of the window currently containing now: the
// window's end time today, or tomorrow if that instant is not strictly after
// now. The second return is false when no window is active.
func NextBoundary(windows []storage.TimeWindow, now time.Time) (time.Time, bool) {
	active := ActiveWindow(windows, now)
	if active == nil {
		return time.Time{}, false
	}

	e, err := ParseMinutes(active.EndTime)
	if err != nil {
		return time.Time{}, false
	}

	boundary := time.Date(now.Year(), now.Month(), now.Day(), e/60, e%60, 0, 0, now.Location())
	if !boundary.After(now) {
		boundary = boundary.AddDate(0, 0, 1)
	}
	return boundary, true
}
