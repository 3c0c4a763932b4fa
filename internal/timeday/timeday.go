// Package timeday converts calendar date ranges into local-day fetch windows.
package timeday

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTimezone indicates the caller supplied an unknown IANA zone name.
// This is a configuration error, not a retryable condition.
var ErrInvalidTimezone = errors.New("invalid IANA timezone")

// DayLayout is the calendar-day format used for request dates and cache keys.
const DayLayout = "2006-01-02"

// DayWindow is one local calendar day expressed as a UTC instant interval.
type DayWindow struct {
	Day     string    // calendar day in the requested zone, YYYY-MM-DD
	Start   time.Time // local midnight as a UTC instant
	End     time.Time // next local midnight as a UTC instant (exclusive)
	IsToday bool      // day == today in the requested zone
	Past    bool      // day < today in the requested zone; only past days are cacheable
}

// Contains reports whether t falls inside the window.
func (w DayWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Buckets expands an inclusive [startDate, endDate] range into per-day UTC
// windows in the given IANA zone. Day boundaries use each day's actual UTC
// offset, so a window straddling a DST transition is 23 or 25 hours long.
// Today flags are computed against now converted into the same zone.
func Buckets(startDate, endDate, tz string, now time.Time) ([]DayWindow, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}

	start, err := time.ParseInLocation(DayLayout, startDate, loc)
	if err != nil {
		return nil, fmt.Errorf("parse start date %q: %w", startDate, err)
	}
	end, err := time.ParseInLocation(DayLayout, endDate, loc)
	if err != nil {
		return nil, fmt.Errorf("parse end date %q: %w", endDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s", endDate, startDate)
	}

	today := now.In(loc).Format(DayLayout)

	var windows []DayWindow
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
		day := dayStart.Format(DayLayout)
		windows = append(windows, DayWindow{
			Day:     day,
			Start:   dayStart.UTC(),
			End:     dayStart.AddDate(0, 0, 1).UTC(),
			IsToday: day == today,
			Past:    day < today,
		})
	}
	return windows, nil
}

// IncludesCurrentDay reports whether any window is today or later. Requests
// touching such days must not be served from or written to result caches.
func IncludesCurrentDay(windows []DayWindow) bool {
	for _, w := range windows {
		if !w.Past {
			return true
		}
	}
	return false
}
