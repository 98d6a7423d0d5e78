package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/stackinspector/teo-utils/internal/models"
)

// CreateRun inserts a run in the running state.
func CreateRun(d *sql.DB, id, zone, startDate, endDate string) error {
	_, err := d.Exec(
		"INSERT INTO runs (id, zone, start_date, end_date, started_at, status) VALUES (?, ?, ?, ?, ?, ?)",
		id, zone, startDate, endDate, time.Now().Unix(), models.RunRunning,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run as ok, or failed with runErr's message.
func FinishRun(d *sql.DB, id string, runErr error) error {
	status := models.RunOK
	var msg *string
	if runErr != nil {
		status = models.RunFailed
		s := runErr.Error()
		msg = &s
	}
	res, err := d.Exec(
		"UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?",
		time.Now().Unix(), status, msg, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not found", id)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func ListRuns(d *sql.DB, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.Query(
		"SELECT id, zone, start_date, end_date, started_at, finished_at, status, error FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(&r.ID, &r.Zone, &r.StartDate, &r.EndDate, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
