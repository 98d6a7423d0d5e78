package server

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stackinspector/teo-utils/internal/db"
	"github.com/stackinspector/teo-utils/internal/models"
)

func setupTestStatusServer(t *testing.T) (*StatusServer, *sql.DB) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := db.CreateRun(database, "run-1", "zone-1", "20240717", "20240718"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	runID := "run-1"
	status := 404
	size := int64(20)
	dayID, err := db.SaveDay(database, models.Day{
		RunID:       &runID,
		Zone:        "zone-1",
		Date:        "20240717",
		WindowStart: "2024-07-17T00:00:00+08:00",
		WindowEnd:   "2024-07-17T23:59:00+08:00",
		TotalCount:  2,
		ArchivePath: "/data/20240717-zone-1.xz",
		Records:     2,
		Fetched:     1,
		Failed:      1,
		ArchiveSize: 512,
		Digest:      "abc",
		StartedAt:   1721145600,
		FinishedAt:  1721145700,
	}, []models.Segment{
		{Index: 0, Domain: "example.com", LogPacketName: "a.gz", URL: "https://logs.example/a.gz", Outcome: "Ok", UncompressedSize: &size},
		{Index: 1, Domain: "example.com", LogPacketName: "b.gz", URL: "https://logs.example/b.gz", Outcome: "Err", Status: &status},
	})
	if err != nil {
		t.Fatalf("SaveDay failed: %v", err)
	}
	if _, err := db.RecordUpload(database, &dayID, "/data/20240717-zone-1.xz", "archive", "teo/20240717-zone-1.xz", false); err != nil {
		t.Fatalf("RecordUpload failed: %v", err)
	}
	if err := db.FinishRun(database, "run-1", nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "teo_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	return &StatusServer{DB: database, Gatherer: reg}, database
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := setupTestStatusServer(t)
	w := get(t, srv.Handler(), "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestHealthLedgerClosed(t *testing.T) {
	srv, database := setupTestStatusServer(t)
	_ = database.Close()
	w := get(t, srv.Handler(), "/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestListDays(t *testing.T) {
	srv, _ := setupTestStatusServer(t)
	w := get(t, srv.Handler(), "/v1/days?zone=zone-1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Days []DayInfo `json:"days"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Days) != 1 || resp.Days[0].RunID != "run-1" || resp.Days[0].Failed != 1 {
		t.Errorf("days = %+v", resp.Days)
	}

	w = get(t, srv.Handler(), "/v1/days?zone=other")
	if strings.TrimSpace(w.Body.String()) != `{"days":[]}` {
		t.Errorf("other zone body = %s", w.Body.String())
	}
}

func TestGetDay(t *testing.T) {
	srv, _ := setupTestStatusServer(t)
	w := get(t, srv.Handler(), "/v1/days/zone-1/20240717")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp DayDetail
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Segments) != 2 || resp.Segments[1].Status == nil || *resp.Segments[1].Status != 404 {
		t.Errorf("segments = %+v", resp.Segments)
	}
	if len(resp.Uploads) != 1 || resp.Uploads[0].Key != "teo/20240717-zone-1.xz" {
		t.Errorf("uploads = %+v", resp.Uploads)
	}
	if resp.FinishedAt != "2024-07-16T16:01:40Z" {
		t.Errorf("finished_at = %s", resp.FinishedAt)
	}
}

func TestGetDayNotFound(t *testing.T) {
	srv, _ := setupTestStatusServer(t)
	w := get(t, srv.Handler(), "/v1/days/zone-1/20240718")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	srv, _ := setupTestStatusServer(t)

	w := get(t, srv.Handler(), "/v1/runs?limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Runs []RunInfo `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Runs) != 1 || resp.Runs[0].Status != models.RunOK || resp.Runs[0].FinishedAt == nil {
		t.Errorf("runs = %+v", resp.Runs)
	}

	w = get(t, srv.Handler(), "/v1/runs?limit=abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestLedgerDisabled(t *testing.T) {
	srv := &StatusServer{}
	if w := get(t, srv.Handler(), "/v1/days"); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if w := get(t, srv.Handler(), "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("metrics without gatherer: expected 404, got %d", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	srv, _ := setupTestStatusServer(t)
	w := get(t, srv.Handler(), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "teo_test_total 1") {
		t.Errorf("metrics body:\n%s", w.Body.String())
	}
}

func TestManagedStartAndShutdown(t *testing.T) {
	m := NewManaged("127.0.0.1:0", http.NotFoundHandler(), nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.Shutdown(context.Background())
}

func TestManagedStartError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	m := NewManaged(ln.Addr().String(), http.NotFoundHandler(), nil)
	if err := m.Start(); err == nil {
		t.Fatal("expected error for address in use")
	}
	m.Shutdown(context.Background())
}
