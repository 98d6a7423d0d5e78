// Package events defines the values passed to day lifecycle hooks.
package events

import (
	"time"

	"github.com/stackinspector/teo-utils/internal/archive"
	"github.com/stackinspector/teo-utils/internal/segment"
)

// DayStart is emitted once the window is built and the segment list queried,
// before the archive is created.
type DayStart struct {
	RunID      string
	Zone       string
	Date       time.Time
	Start      string
	End        string
	TotalCount uint32
	Archive    string
}

// Segment is emitted after a record has been appended to the archive.
// Record.Payload may be nil by then.
type Segment struct {
	RunID  string
	Zone   string
	Date   time.Time
	Index  int
	Record *segment.Record
}

// DayResult describes a completed, closed archive.
type DayResult struct {
	RunID      string
	Zone       string
	Date       time.Time
	Start      string
	End        string
	TotalCount uint32
	Archive    archive.Summary
	// Segments holds every record in archive order, without payloads.
	Segments   []segment.Record
	StartedAt  time.Time
	FinishedAt time.Time
}
