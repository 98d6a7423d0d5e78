package db

import (
	"database/sql"
	"time"

	"github.com/stackinspector/teo-utils/internal/models"
)

// RecordUpload stores an upload of archivePath. dayID may be nil when the
// archive is not in the ledger.
func RecordUpload(d *sql.DB, dayID *int64, archivePath, bucket, key string, skipped bool) (int64, error) {
	skippedVal := 0
	if skipped {
		skippedVal = 1
	}
	result, err := d.Exec(
		"INSERT INTO uploads (day_id, archive_path, bucket, object_key, skipped, uploaded_at) VALUES (?, ?, ?, ?, ?, ?)",
		dayID, archivePath, bucket, key, skippedVal, time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListUploads returns the uploads of a day, oldest first.
func ListUploads(d *sql.DB, dayID int64) ([]models.Upload, error) {
	rows, err := d.Query(
		"SELECT id, day_id, archive_path, bucket, object_key, skipped, uploaded_at FROM uploads WHERE day_id = ? ORDER BY id",
		dayID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []models.Upload
	for rows.Next() {
		var u models.Upload
		var skippedVal int
		if err := rows.Scan(&u.ID, &u.DayID, &u.ArchivePath, &u.Bucket, &u.Key, &skippedVal, &u.UploadedAt); err != nil {
			return nil, err
		}
		u.Skipped = skippedVal != 0
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}
