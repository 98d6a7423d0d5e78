// Package ledger records archived days in the SQLite ledger.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/db"
	"github.com/stackinspector/teo-utils/internal/events"
	"github.com/stackinspector/teo-utils/internal/hooks"
	"github.com/stackinspector/teo-utils/internal/logging"
	"github.com/stackinspector/teo-utils/internal/models"
	"github.com/stackinspector/teo-utils/internal/segment"
)

// DateLayout is how dates are stored in the ledger.
const DateLayout = "20060102"

// Hook saves every archived day.
type Hook struct {
	DB     *sql.DB
	Logger *zap.Logger
}

var _ hooks.ArchivedHook = (*Hook)(nil)

// New creates a Hook writing to d.
func New(d *sql.DB, logger *zap.Logger) *Hook {
	return &Hook{DB: d, Logger: logging.OrNop(logger).Named("ledger")}
}

// ID implements hooks.Hook.
func (h *Hook) ID() string { return "ledger" }

// OnArchived implements hooks.ArchivedHook.
func (h *Hook) OnArchived(_ context.Context, e *events.DayResult) error {
	day, segs := Convert(e)
	id, err := db.SaveDay(h.DB, day, segs)
	if err != nil {
		return fmt.Errorf("save day %s: %w", day.Date, err)
	}
	logging.OrNop(h.Logger).Debug("day recorded",
		logging.Zone(e.Zone),
		logging.Date(e.Date),
		zap.Int64("day_id", id))
	return nil
}

// Convert maps a day result to ledger rows.
func Convert(e *events.DayResult) (models.Day, []models.Segment) {
	var runID *string
	if e.RunID != "" {
		id := e.RunID
		runID = &id
	}
	day := models.Day{
		RunID:        runID,
		Zone:         e.Zone,
		Date:         e.Date.Format(DateLayout),
		WindowStart:  e.Start,
		WindowEnd:    e.End,
		TotalCount:   int64(e.TotalCount),
		ArchivePath:  e.Archive.Path,
		Records:      e.Archive.Records,
		Fetched:      e.Archive.Fetched,
		Failed:       e.Archive.Failed,
		PayloadBytes: int64(e.Archive.PayloadBytes),
		ArchiveSize:  e.Archive.Size,
		Digest:       e.Archive.Digest,
		StartedAt:    e.StartedAt.Unix(),
		FinishedAt:   e.FinishedAt.Unix(),
	}

	segs := make([]models.Segment, 0, len(e.Segments))
	for i, rec := range e.Segments {
		s := models.Segment{
			Index:         i,
			Domain:        rec.Domain,
			Area:          rec.Area,
			LogPacketName: rec.LogPacketName,
			URL:           rec.UrlWithoutQuery,
			LogTime:       int64(rec.LogTime),
			LogStartTime:  rec.LogStartTime,
			LogEndTime:    rec.LogEndTime,
			Size:          int64(rec.Size),
		}
		switch o := rec.Outcome.(type) {
		case segment.Fetched:
			name := o.GzFilename
			mtime := int64(o.GzMtime)
			size := int64(o.UncompressedSize)
			s.Outcome = segment.TypeFetched
			s.GzFilename = &name
			s.GzMtime = &mtime
			s.UncompressedSize = &size
		case segment.Failed:
			s.Outcome = segment.TypeFailed
			if o.Status != nil {
				status := int(*o.Status)
				s.Status = &status
			}
		}
		segs = append(segs, s)
	}
	return day, segs
}
