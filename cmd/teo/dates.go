package main

import (
	"time"

	"github.com/stackinspector/teo-utils/internal/pipeline"
)

// parseRange parses the --start and --end dates. An empty end selects the
// single day start.
func parseRange(startStr, endStr string, loc *time.Location) (start, end time.Time, err error) {
	start, err = pipeline.ParseDate(startStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if endStr == "" {
		end = start.AddDate(0, 0, 1)
	} else if end, err = pipeline.ParseDate(endStr, loc); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if _, err := pipeline.Dates(start, end); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// lagDate returns the calendar day lag days before now in loc.
func lagDate(now time.Time, loc *time.Location, lag int) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, -lag)
}
