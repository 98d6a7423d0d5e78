package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/stackinspector/teo-utils/internal/models"
)

const dayColumns = `id, run_id, zone, date, window_start, window_end, total_count, archive_path,
	records, fetched, failed, payload_bytes, archive_size, digest, started_at, finished_at`

// SaveDay stores an archived day and its segments in one transaction and
// returns the day's ID. Saving a (zone, date) that already exists replaces
// the previous row and its segments.
func SaveDay(d *sql.DB, day models.Day, segs []models.Segment) (int64, error) {
	tx, err := d.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var dayID int64
	err = tx.QueryRow(`
		INSERT INTO days (run_id, zone, date, window_start, window_end, total_count, archive_path,
			records, fetched, failed, payload_bytes, archive_size, digest, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (zone, date) DO UPDATE SET
			run_id = excluded.run_id,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			total_count = excluded.total_count,
			archive_path = excluded.archive_path,
			records = excluded.records,
			fetched = excluded.fetched,
			failed = excluded.failed,
			payload_bytes = excluded.payload_bytes,
			archive_size = excluded.archive_size,
			digest = excluded.digest,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
		RETURNING id
	`, day.RunID, day.Zone, day.Date, day.WindowStart, day.WindowEnd, day.TotalCount, day.ArchivePath,
		day.Records, day.Fetched, day.Failed, day.PayloadBytes, day.ArchiveSize, day.Digest,
		day.StartedAt, day.FinishedAt,
	).Scan(&dayID)
	if err != nil {
		return 0, fmt.Errorf("upsert day: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM segments WHERE day_id = ?", dayID); err != nil {
		return 0, fmt.Errorf("clear segments: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO segments (day_id, idx, domain, area, log_packet_name, url, log_time,
			log_start_time, log_end_time, size, outcome, status, gz_filename, gz_mtime, uncompressed_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range segs {
		if _, err := stmt.Exec(dayID, s.Index, s.Domain, s.Area, s.LogPacketName, s.URL, s.LogTime,
			s.LogStartTime, s.LogEndTime, s.Size, s.Outcome, s.Status, s.GzFilename, s.GzMtime, s.UncompressedSize); err != nil {
			return 0, fmt.Errorf("insert segment %d: %w", s.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return dayID, nil
}

func scanDay(row interface{ Scan(...any) error }) (models.Day, error) {
	var day models.Day
	err := row.Scan(&day.ID, &day.RunID, &day.Zone, &day.Date, &day.WindowStart, &day.WindowEnd,
		&day.TotalCount, &day.ArchivePath, &day.Records, &day.Fetched, &day.Failed,
		&day.PayloadBytes, &day.ArchiveSize, &day.Digest, &day.StartedAt, &day.FinishedAt)
	return day, err
}

// GetDay returns the day archived for zone on date (YYYYMMDD), or nil if
// there is none.
func GetDay(d *sql.DB, zone, date string) (*models.Day, error) {
	day, err := scanDay(d.QueryRow("SELECT "+dayColumns+" FROM days WHERE zone = ? AND date = ?", zone, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query day: %w", err)
	}
	return &day, nil
}

// ListDays returns archived days in date order. An empty zone lists every
// zone.
func ListDays(d *sql.DB, zone string) ([]models.Day, error) {
	query := "SELECT " + dayColumns + " FROM days"
	var args []any
	if zone != "" {
		query += " WHERE zone = ?"
		args = append(args, zone)
	}
	query += " ORDER BY date, zone"

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []models.Day
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// ListSegments returns the segments of a day in archive order.
func ListSegments(d *sql.DB, dayID int64) ([]models.Segment, error) {
	rows, err := d.Query(`
		SELECT id, day_id, idx, domain, area, log_packet_name, url, log_time, log_start_time,
			log_end_time, size, outcome, status, gz_filename, gz_mtime, uncompressed_size
		FROM segments WHERE day_id = ? ORDER BY idx
	`, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []models.Segment
	for rows.Next() {
		var s models.Segment
		if err := rows.Scan(&s.ID, &s.DayID, &s.Index, &s.Domain, &s.Area, &s.LogPacketName, &s.URL,
			&s.LogTime, &s.LogStartTime, &s.LogEndTime, &s.Size, &s.Outcome, &s.Status,
			&s.GzFilename, &s.GzMtime, &s.UncompressedSize); err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	return segs, rows.Err()
}
