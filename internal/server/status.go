// Package server implements the read-only status API of the archive daemon.
package server

import (
	"bytes"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/db"
	"github.com/stackinspector/teo-utils/internal/logging"
	"github.com/stackinspector/teo-utils/internal/models"
)

const defaultRunsLimit = 20

// DayInfo is the API form of an archived day.
type DayInfo struct {
	Zone         string `json:"zone"`
	Date         string `json:"date"`
	RunID        string `json:"run_id,omitempty"`
	WindowStart  string `json:"window_start"`
	WindowEnd    string `json:"window_end"`
	TotalCount   int64  `json:"total_count"`
	Archive      string `json:"archive"`
	Records      int    `json:"records"`
	Fetched      int    `json:"fetched"`
	Failed       int    `json:"failed"`
	PayloadBytes int64  `json:"payload_bytes"`
	ArchiveSize  int64  `json:"archive_size"`
	Digest       string `json:"digest"`
	FinishedAt   string `json:"finished_at"`
}

// SegmentInfo is the API form of an archived segment.
type SegmentInfo struct {
	Index         int    `json:"index"`
	Domain        string `json:"domain"`
	LogPacketName string `json:"log_packet_name"`
	URL           string `json:"url"`
	Outcome       string `json:"outcome"`
	Status        *int   `json:"status,omitempty"`
	Size          *int64 `json:"uncompressed_size,omitempty"`
}

// UploadInfo is the API form of an archive upload.
type UploadInfo struct {
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	Skipped    bool   `json:"skipped"`
	UploadedAt string `json:"uploaded_at"`
}

// DayDetail is returned for a single day.
type DayDetail struct {
	DayInfo
	Segments []SegmentInfo `json:"segments"`
	Uploads  []UploadInfo  `json:"uploads"`
}

// RunInfo is the API form of a pipeline run.
type RunInfo struct {
	ID         string  `json:"id"`
	Zone       string  `json:"zone"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	Status     string  `json:"status"`
	Error      *string `json:"error,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// StatusServer serves health, metrics and the ledger contents.
type StatusServer struct {
	DB       *sql.DB
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Handler returns the HTTP handler for the status server. Ledger routes
// answer 404 when DB is nil; /metrics is only mounted with a Gatherer.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/days", s.handleListDays)
	mux.HandleFunc("GET /v1/days/{zone}/{date}", s.handleGetDay)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		if err := s.DB.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "ledger unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleListDays(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	days, err := db.ListDays(s.DB, r.URL.Query().Get("zone"))
	if err != nil {
		s.dbError(w, err)
		return
	}
	resp := make([]DayInfo, 0, len(days))
	for _, d := range days {
		resp = append(resp, dayInfo(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": resp})
}

func (s *StatusServer) handleGetDay(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	day, err := db.GetDay(s.DB, r.PathValue("zone"), r.PathValue("date"))
	if err != nil {
		s.dbError(w, err)
		return
	}
	if day == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "day not found"})
		return
	}

	segs, err := db.ListSegments(s.DB, day.ID)
	if err != nil {
		s.dbError(w, err)
		return
	}
	uploads, err := db.ListUploads(s.DB, day.ID)
	if err != nil {
		s.dbError(w, err)
		return
	}

	resp := DayDetail{
		DayInfo:  dayInfo(*day),
		Segments: make([]SegmentInfo, 0, len(segs)),
		Uploads:  make([]UploadInfo, 0, len(uploads)),
	}
	for _, sg := range segs {
		resp.Segments = append(resp.Segments, SegmentInfo{
			Index:         sg.Index,
			Domain:        sg.Domain,
			LogPacketName: sg.LogPacketName,
			URL:           sg.URL,
			Outcome:       sg.Outcome,
			Status:        sg.Status,
			Size:          sg.UncompressedSize,
		})
	}
	for _, u := range uploads {
		resp.Uploads = append(resp.Uploads, UploadInfo{
			Bucket:     u.Bucket,
			Key:        u.Key,
			Skipped:    u.Skipped,
			UploadedAt: formatUnix(u.UploadedAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *StatusServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := db.ListRuns(s.DB, limit)
	if err != nil {
		s.dbError(w, err)
		return
	}
	resp := make([]RunInfo, 0, len(runs))
	for _, run := range runs {
		info := RunInfo{
			ID:        run.ID,
			Zone:      run.Zone,
			StartDate: run.StartDate,
			EndDate:   run.EndDate,
			Status:    run.Status,
			Error:     run.Error,
			StartedAt: formatUnix(run.StartedAt),
		}
		if run.FinishedAt != nil {
			f := formatUnix(*run.FinishedAt)
			info.FinishedAt = &f
		}
		resp = append(resp, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": resp})
}

func (s *StatusServer) requireDB(w http.ResponseWriter) bool {
	if s.DB == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ledger disabled"})
		return false
	}
	return true
}

func (s *StatusServer) dbError(w http.ResponseWriter, err error) {
	logging.OrNop(s.Logger).Error("ledger query failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
}

func dayInfo(d models.Day) DayInfo {
	info := DayInfo{
		Zone:         d.Zone,
		Date:         d.Date,
		WindowStart:  d.WindowStart,
		WindowEnd:    d.WindowEnd,
		TotalCount:   d.TotalCount,
		Archive:      d.ArchivePath,
		Records:      d.Records,
		Fetched:      d.Fetched,
		Failed:       d.Failed,
		PayloadBytes: d.PayloadBytes,
		ArchiveSize:  d.ArchiveSize,
		Digest:       d.Digest,
		FinishedAt:   formatUnix(d.FinishedAt),
	}
	if d.RunID != nil {
		info.RunID = *d.RunID
	}
	return info
}

func formatUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
