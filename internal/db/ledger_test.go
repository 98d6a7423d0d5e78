package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stackinspector/teo-utils/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleDay(zone, date string) models.Day {
	return models.Day{
		Zone:         zone,
		Date:         date,
		WindowStart:  "2024-07-17T00:00:00+08:00",
		WindowEnd:    "2024-07-17T23:59:00+08:00",
		TotalCount:   3,
		ArchivePath:  "/archive/" + date + "-" + zone + ".xz",
		Records:      3,
		Fetched:      2,
		Failed:       1,
		PayloadBytes: 2048,
		ArchiveSize:  512,
		Digest:       "abcd",
		StartedAt:    1721145600,
		FinishedAt:   1721145660,
	}
}

func sampleSegments(n int) []models.Segment {
	segs := make([]models.Segment, n)
	for i := range segs {
		segs[i] = models.Segment{
			Index:         i,
			Domain:        "example.com",
			Area:          "mainland",
			LogPacketName: fmt.Sprintf("pkt-%d", i),
			URL:           fmt.Sprintf("https://logs.example/%d.gz", i),
			LogTime:       1721145600,
			LogStartTime:  "2024-07-17T00:00:00+08:00",
			LogEndTime:    "2024-07-17T01:00:00+08:00",
			Size:          100,
			Outcome:       "Ok",
		}
		if i == n-1 {
			status := 404
			segs[i].Outcome = "Err"
			segs[i].Status = &status
		} else {
			name := fmt.Sprintf("%d.log", i)
			mtime := int64(1721145600)
			size := int64(1024)
			segs[i].GzFilename = &name
			segs[i].GzMtime = &mtime
			segs[i].UncompressedSize = &size
		}
	}
	return segs
}

func TestForeignKeysOnEveryConnection(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Hold two connections at once so the pool has to open a second one.
	c1, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	c2, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	for i, c := range []*sql.Conn{c1, c2} {
		var fk int
		if err := c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("PRAGMA foreign_keys failed: %v", err)
		}
		if fk != 1 {
			t.Errorf("connection %d: foreign keys not enabled", i)
		}
	}
}

func TestSaveAndGetDay(t *testing.T) {
	db := openTestDB(t)

	if err := CreateRun(db, "run-1", "zone-1", "20240717", "20240718"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	day := sampleDay("zone-1", "20240717")
	runID := "run-1"
	day.RunID = &runID

	dayID, err := SaveDay(db, day, sampleSegments(3))
	if err != nil {
		t.Fatalf("SaveDay failed: %v", err)
	}

	got, err := GetDay(db, "zone-1", "20240717")
	if err != nil {
		t.Fatalf("GetDay failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetDay returned nil")
	}
	if got.ID != dayID || got.Fetched != 2 || got.Failed != 1 || got.Digest != "abcd" {
		t.Errorf("day = %+v", got)
	}
	if got.RunID == nil || *got.RunID != "run-1" {
		t.Errorf("RunID = %v", got.RunID)
	}

	segs, err := ListSegments(db, dayID)
	if err != nil {
		t.Fatalf("ListSegments failed: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	if segs[0].GzFilename == nil || *segs[0].GzFilename != "0.log" {
		t.Errorf("segment 0 gz filename = %v", segs[0].GzFilename)
	}
	if segs[2].Outcome != "Err" || segs[2].Status == nil || *segs[2].Status != 404 {
		t.Errorf("segment 2 = %+v", segs[2])
	}
	if segs[2].UncompressedSize != nil {
		t.Error("failed segment should have no size")
	}
}

func TestGetDayMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := GetDay(db, "zone-1", "20240717")
	if err != nil {
		t.Fatalf("GetDay failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSaveDayReplacesExisting(t *testing.T) {
	db := openTestDB(t)

	first, err := SaveDay(db, sampleDay("zone-1", "20240717"), sampleSegments(3))
	if err != nil {
		t.Fatalf("SaveDay failed: %v", err)
	}
	day := sampleDay("zone-1", "20240717")
	day.Records = 1
	day.Digest = "ef01"
	second, err := SaveDay(db, day, sampleSegments(1))
	if err != nil {
		t.Fatalf("second SaveDay failed: %v", err)
	}
	if first != second {
		t.Errorf("day id changed from %d to %d", first, second)
	}

	days, err := ListDays(db, "zone-1")
	if err != nil {
		t.Fatalf("ListDays failed: %v", err)
	}
	if len(days) != 1 || days[0].Digest != "ef01" {
		t.Errorf("days = %+v", days)
	}
	segs, err := ListSegments(db, second)
	if err != nil {
		t.Fatalf("ListSegments failed: %v", err)
	}
	if len(segs) != 1 {
		t.Errorf("expected 1 segment after replace, got %d", len(segs))
	}
}

func TestSaveDayRollsBackOnError(t *testing.T) {
	db := openTestDB(t)

	segs := sampleSegments(2)
	segs[1].Index = segs[0].Index // violates UNIQUE (day_id, idx)
	if _, err := SaveDay(db, sampleDay("zone-1", "20240717"), segs); err == nil {
		t.Fatal("expected error for duplicate segment index")
	}

	got, err := GetDay(db, "zone-1", "20240717")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("day should not be stored after a failed transaction")
	}
}

func TestListDaysOrderAndFilter(t *testing.T) {
	db := openTestDB(t)
	for _, d := range []struct{ zone, date string }{
		{"zone-2", "20240718"},
		{"zone-1", "20240718"},
		{"zone-1", "20240717"},
	} {
		if _, err := SaveDay(db, sampleDay(d.zone, d.date), nil); err != nil {
			t.Fatalf("SaveDay failed: %v", err)
		}
	}

	tests := []struct {
		zone string
		want []string
	}{
		{"", []string{"20240717/zone-1", "20240718/zone-1", "20240718/zone-2"}},
		{"zone-1", []string{"20240717/zone-1", "20240718/zone-1"}},
		{"zone-3", nil},
	}
	for _, tt := range tests {
		t.Run("zone="+tt.zone, func(t *testing.T) {
			days, err := ListDays(db, tt.zone)
			if err != nil {
				t.Fatalf("ListDays failed: %v", err)
			}
			var got []string
			for _, d := range days {
				got = append(got, d.Date+"/"+d.Zone)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	if err := CreateRun(db, "run-ok", "zone-1", "20240717", "20240718"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := CreateRun(db, "run-bad", "zone-1", "20240718", "20240719"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := FinishRun(db, "run-ok", nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if err := FinishRun(db, "run-bad", errors.New("archive exists")); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if err := FinishRun(db, "run-missing", nil); err == nil {
		t.Error("FinishRun of unknown run should fail")
	}

	runs, err := ListRuns(db, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	byID := map[string]models.Run{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	if r := byID["run-ok"]; r.Status != models.RunOK || r.FinishedAt == nil || r.Error != nil {
		t.Errorf("run-ok = %+v", r)
	}
	if r := byID["run-bad"]; r.Status != models.RunFailed || r.Error == nil || *r.Error != "archive exists" {
		t.Errorf("run-bad = %+v", r)
	}

	limited, err := ListRuns(db, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 run with limit, got %d", len(limited))
	}
}

func TestRecordUpload(t *testing.T) {
	db := openTestDB(t)
	dayID, err := SaveDay(db, sampleDay("zone-1", "20240717"), nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := RecordUpload(db, &dayID, "/archive/a.xz", "logs", "teo/a.xz", false); err != nil {
		t.Fatalf("RecordUpload failed: %v", err)
	}
	if _, err := RecordUpload(db, &dayID, "/archive/a.xz", "logs", "teo/a.xz", true); err != nil {
		t.Fatalf("RecordUpload failed: %v", err)
	}
	if _, err := RecordUpload(db, nil, "/archive/b.xz", "logs", "teo/b.xz", false); err != nil {
		t.Fatalf("RecordUpload without day failed: %v", err)
	}

	uploads, err := ListUploads(db, dayID)
	if err != nil {
		t.Fatalf("ListUploads failed: %v", err)
	}
	if len(uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(uploads))
	}
	if uploads[0].Skipped || !uploads[1].Skipped {
		t.Errorf("skipped flags = %v, %v", uploads[0].Skipped, uploads[1].Skipped)
	}
	if uploads[0].Key != "teo/a.xz" || uploads[0].Bucket != "logs" {
		t.Errorf("upload = %+v", uploads[0])
	}
}
