package upload

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/db"
	"github.com/stackinspector/teo-utils/internal/events"
	"github.com/stackinspector/teo-utils/internal/hooks"
	"github.com/stackinspector/teo-utils/internal/ledger"
	"github.com/stackinspector/teo-utils/internal/logging"
)

// Hook uploads each archived day. When DB is set the upload is recorded in
// the ledger; register it after the ledger hook so the day row exists.
type Hook struct {
	Uploader *Uploader
	DB       *sql.DB
	Logger   *zap.Logger
}

var _ hooks.ArchivedHook = (*Hook)(nil)

// ID implements hooks.Hook.
func (h *Hook) ID() string { return "upload" }

// OnArchived implements hooks.ArchivedHook.
func (h *Hook) OnArchived(ctx context.Context, e *events.DayResult) error {
	key, skipped, err := h.Uploader.Upload(ctx, e.Archive.Path, e.Archive.Digest)
	if err != nil {
		return err
	}
	if h.DB == nil {
		return nil
	}

	var dayID *int64
	day, err := db.GetDay(h.DB, e.Zone, e.Date.Format(ledger.DateLayout))
	if err != nil {
		return fmt.Errorf("look up day: %w", err)
	}
	if day != nil {
		dayID = &day.ID
	}
	if _, err := db.RecordUpload(h.DB, dayID, e.Archive.Path, h.Uploader.Bucket, key, skipped); err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	logging.OrNop(h.Logger).Debug("upload recorded", logging.Key(key))
	return nil
}
