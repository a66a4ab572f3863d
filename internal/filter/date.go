package filter

import (
	"fmt"
	"time"
)

// Relative date presets.
const (
	PresetToday     = "today"
	PresetYesterday = "yesterday"
	PresetLast7Days = "last7Days"
	PresetThisMonth = "thisMonth"
	PresetThisYear  = "thisYear"
)

// PresetRange returns the half-open interval [lo, hi) a preset covers
// relative to now, in loc.
func PresetRange(preset string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	now = now.In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch preset {
	case PresetToday:
		return day, day.AddDate(0, 0, 1), nil
	case PresetYesterday:
		return day.AddDate(0, 0, -1), day, nil
	case PresetLast7Days:
		return day.AddDate(0, 0, -6), day.AddDate(0, 0, 1), nil
	case PresetThisMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return first, first.AddDate(0, 1, 0), nil
	case PresetThisYear:
		first := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, loc)
		return first, first.AddDate(1, 0, 0), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown date preset %q", preset)
}
