package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Window end offsets from local midnight.
const (
	// DefaultWindowEnd is 23:59:00, the bound existing archives were
	// produced with. The last minute of the day is not covered.
	DefaultWindowEnd = 23*time.Hour + 59*time.Minute
	// FullDayWindowEnd is 23:59:59.
	FullDayWindowEnd = DefaultWindowEnd + 59*time.Second
)

// DateLayout is the YYYYMMDD form used on the command line and in archive
// names.
const DateLayout = "20060102"

// timeLayout always renders a numeric offset, never "Z".
const timeLayout = "2006-01-02T15:04:05-07:00"

// ErrEmptyRange is returned by Dates when end is not after start.
var ErrEmptyRange = errors.New("empty date range")

// Window is the query interval for one calendar day.
type Window struct {
	Start time.Time
	End   time.Time
}

// StartString returns the start bound as sent to the API.
func (w Window) StartString() string { return w.Start.Format(timeLayout) }

// EndString returns the end bound as sent to the API.
func (w Window) EndString() string { return w.End.Format(timeLayout) }

// FixedZone returns a location with a fixed offset of hours from UTC.
func FixedZone(hours int) (*time.Location, error) {
	if hours < -12 || hours > 14 {
		return nil, fmt.Errorf("utc offset %d out of range", hours)
	}
	name := fmt.Sprintf("UTC%+d", hours)
	if hours == 0 {
		name = "UTC"
	}
	return time.FixedZone(name, hours*3600), nil
}

// ParseDate parses a YYYYMMDD date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// BuildWindow returns [00:00:00, end] of date's calendar day in loc. end is
// an offset from midnight; zero means DefaultWindowEnd.
func BuildWindow(date time.Time, loc *time.Location, end time.Duration) Window {
	if loc == nil {
		loc = time.UTC
	}
	if end <= 0 {
		end = DefaultWindowEnd
	}
	y, m, d := date.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.Add(end)}
}

// Dates returns the calendar days from start up to but excluding end, in
// ascending order.
func Dates(start, end time.Time) ([]time.Time, error) {
	loc := start.Location()
	y, m, d := start.Date()
	cur := time.Date(y, m, d, 0, 0, 0, 0, loc)
	ey, em, ed := end.In(loc).Date()
	stop := time.Date(ey, em, ed, 0, 0, 0, 0, loc)

	if !stop.After(cur) {
		return nil, fmt.Errorf("%w: %s to %s", ErrEmptyRange, cur.Format(DateLayout), stop.Format(DateLayout))
	}

	var dates []time.Time
	for cur.Before(stop) {
		dates = append(dates, cur)
		cur = cur.AddDate(0, 0, 1)
	}
	return dates, nil
}
