package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/api"
	"github.com/stackinspector/teo-utils/internal/archive"
	"github.com/stackinspector/teo-utils/internal/config"
	"github.com/stackinspector/teo-utils/internal/db"
	"github.com/stackinspector/teo-utils/internal/hooks"
	"github.com/stackinspector/teo-utils/internal/ledger"
	"github.com/stackinspector/teo-utils/internal/metrics"
	"github.com/stackinspector/teo-utils/internal/models"
	"github.com/stackinspector/teo-utils/internal/pipeline"
	"github.com/stackinspector/teo-utils/internal/segment"
)

func TestArchiveOptionsApply(t *testing.T) {
	t.Setenv("TEO_ZONE", "zone-env")
	t.Setenv("TEO_DB", "")

	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var o archiveOptions
	addArchiveFlags(f, &o)
	if err := f.Parse([]string{"--codec", "zstd", "--concurrency", "4", "--domains", "a.example,b.example", "--full-day"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	c := config.Default()
	c.Logsave.UTCOffset = 0
	c.Ledger.Path = "from-config.db"
	o.apply(f, c)

	if c.Logsave.Zone != "zone-env" {
		t.Errorf("Zone = %q, want value from TEO_ZONE", c.Logsave.Zone)
	}
	if c.Logsave.Codec != "zstd" || c.Logsave.Concurrency != 4 || !c.Logsave.FullDay {
		t.Errorf("logsave = %+v", c.Logsave)
	}
	if len(c.Logsave.Domains) != 2 {
		t.Errorf("Domains = %v", c.Logsave.Domains)
	}
	if c.Logsave.UTCOffset != 0 {
		t.Errorf("unset --utc-offset overrode config: %d", c.Logsave.UTCOffset)
	}
	if c.Ledger.Path != "from-config.db" {
		t.Errorf("Ledger.Path = %q", c.Ledger.Path)
	}
}

func TestArchiveOptionsFlagBeatsEnv(t *testing.T) {
	t.Setenv("TEO_ZONE", "zone-env")

	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var o archiveOptions
	addArchiveFlags(f, &o)
	if err := f.Parse([]string{"--zone", "zone-flag"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := config.Default()
	o.apply(f, c)
	if c.Logsave.Zone != "zone-flag" {
		t.Errorf("Zone = %q, want zone-flag", c.Logsave.Zone)
	}
}

func TestPipelineConfig(t *testing.T) {
	c := config.Default()
	c.Logsave.Zone = "zone-1"
	c.Logsave.Codec = "zst"

	pcfg, err := pipelineConfig(c)
	if err != nil {
		t.Fatalf("pipelineConfig failed: %v", err)
	}
	if pcfg.Archive.Codec != archive.CodecZstd {
		t.Errorf("Codec = %q", pcfg.Archive.Codec)
	}
	if pcfg.WindowEnd != pipeline.DefaultWindowEnd {
		t.Errorf("WindowEnd = %v", pcfg.WindowEnd)
	}
	if _, off := time.Date(2024, 1, 1, 0, 0, 0, 0, pcfg.Location).Zone(); off != 8*3600 {
		t.Errorf("offset = %d", off)
	}

	c.Logsave.FullDay = true
	pcfg, _ = pipelineConfig(c)
	if pcfg.WindowEnd != pipeline.FullDayWindowEnd {
		t.Errorf("full day WindowEnd = %v", pcfg.WindowEnd)
	}

	c.Logsave.Recipients = []string{"not-a-recipient"}
	if _, err := pipelineConfig(c); err == nil {
		t.Error("expected error for bad recipient")
	}
}

func TestParseRange(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	tests := []struct {
		name      string
		start     string
		end       string
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{"single day", "20240717", "", "20240717", "20240718", false},
		{"range", "20240717", "20240720", "20240717", "20240720", false},
		{"empty range", "20240717", "20240717", "", "", true},
		{"bad start", "2024-07-17", "", "", "", true},
		{"bad end", "20240717", "tomorrow", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseRange(tt.start, tt.end, loc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := start.Format(pipeline.DateLayout); got != tt.wantStart {
				t.Errorf("start = %s, want %s", got, tt.wantStart)
			}
			if got := end.Format(pipeline.DateLayout); got != tt.wantEnd {
				t.Errorf("end = %s, want %s", got, tt.wantEnd)
			}
		})
	}
}

func TestLagDate(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// 2024-07-19 20:00 UTC is already 2024-07-20 in UTC+8.
	now := time.Date(2024, 7, 19, 20, 0, 0, 0, time.UTC)
	got := lagDate(now, loc, 2)
	want := time.Date(2024, 7, 18, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("lagDate = %v, want %v", got, want)
	}
}

type stubLister struct {
	segs []api.L7OfflineLog
}

func (s *stubLister) DownloadL7Logs(_ context.Context, req *api.DownloadL7LogsRequest) (*api.DownloadL7LogsResponse, error) {
	return &api.DownloadL7LogsResponse{TotalCount: uint32(len(s.segs)), Data: s.segs}, nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, d api.L7OfflineLog) (*segment.Record, error) {
	h, err := segment.NewHeader(d)
	if err != nil {
		return nil, err
	}
	if strings.Contains(d.Url, "missing") {
		return &segment.Record{Header: h, Outcome: segment.FailedStatus(404)}, nil
	}
	payload := []byte("GET /index.html 200\n")
	return &segment.Record{
		Header:  h,
		Outcome: segment.Fetched{GzFilename: d.LogPacketName, UncompressedSize: uint64(len(payload))},
		Payload: payload,
	}, nil
}

func newTestArchiver(t *testing.T) *archiver {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	loc, _ := pipeline.FixedZone(8)
	registry := hooks.NewRegistry(zap.NewNop())
	registry.Register(ledger.New(database, zap.NewNop()))
	m := metrics.New()
	registry.Register(m)

	return &archiver{
		pcfg: pipeline.Config{
			Zone:      "zone-1",
			Location:  loc,
			OutputDir: dir,
			Archive:   archive.Options{Codec: archive.CodecZstd},
		},
		lister: &stubLister{segs: []api.L7OfflineLog{
			{Domain: "example.com", LogPacketName: "a.gz", Url: "https://logs.example/a.gz?sign=x", Size: 10},
			{Domain: "example.com", LogPacketName: "b.gz", Url: "https://logs.example/missing.gz?sign=x", Size: 10},
		}},
		fetcher:  stubFetcher{},
		registry: registry,
		db:       database,
		metrics:  m,
		textfile: filepath.Join(dir, "teo.prom"),
		logger:   zap.NewNop(),
	}
}

func TestArchiverRunRecordsLedgerAndMetrics(t *testing.T) {
	a := newTestArchiver(t)
	start := time.Date(2024, 7, 17, 0, 0, 0, 0, a.pcfg.Location)

	if err := a.run(context.Background(), start, start.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	runs, err := db.ListRuns(a.db, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunOK {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].StartDate != "20240717" || runs[0].EndDate != "20240718" {
		t.Errorf("run range = %s-%s", runs[0].StartDate, runs[0].EndDate)
	}

	days, err := db.ListDays(a.db, "zone-1")
	if err != nil {
		t.Fatalf("ListDays failed: %v", err)
	}
	if len(days) != 1 || days[0].Fetched != 1 || days[0].Failed != 1 {
		t.Fatalf("days = %+v", days)
	}
	if days[0].RunID == nil || *days[0].RunID != runs[0].ID {
		t.Errorf("day not linked to run: %v", days[0].RunID)
	}

	data, err := os.ReadFile(a.textfile)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), `teo_days_archived_total{zone="zone-1"} 1`) {
		t.Errorf("textfile missing day counter:\n%s", data)
	}
}

func TestArchiverRunConflictIsNotCountedAsFailure(t *testing.T) {
	a := newTestArchiver(t)
	start := time.Date(2024, 7, 17, 0, 0, 0, 0, a.pcfg.Location)
	end := start.AddDate(0, 0, 1)

	if err := a.run(context.Background(), start, end); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	err := a.run(context.Background(), start, end)
	if !pipeline.IsConflict(err) {
		t.Fatalf("second run err = %v, want conflict", err)
	}

	runs, _ := db.ListRuns(a.db, 0)
	if len(runs) != 2 || runs[0].Status != models.RunFailed {
		t.Fatalf("runs = %+v", runs)
	}
	data, _ := os.ReadFile(a.textfile)
	if strings.Contains(string(data), "teo_day_failures_total{") {
		t.Errorf("conflict counted as a failure:\n%s", data)
	}
}

func TestInspectArchive(t *testing.T) {
	a := newTestArchiver(t)
	start := time.Date(2024, 7, 17, 0, 0, 0, 0, a.pcfg.Location)
	if err := a.run(context.Background(), start, start.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	path := filepath.Join(a.pcfg.OutputDir, "20240717-zone-1.zst")

	var out bytes.Buffer
	if err := inspectArchive(&out, path, false, nil); err != nil {
		t.Fatalf("inspectArchive failed: %v", err)
	}
	s := out.String()
	for _, want := range []string{"a.gz", "http 404", "2 segments, 1 fetched, 1 failed"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}

	out.Reset()
	if err := inspectArchive(&out, path, true, nil); err != nil {
		t.Fatalf("inspectArchive payload failed: %v", err)
	}
	if out.String() != "GET /index.html 200\n" {
		t.Errorf("payload = %q", out.String())
	}
}

func TestPrintDaysEmpty(t *testing.T) {
	var out bytes.Buffer
	printDays(&out, nil)
	if !strings.Contains(out.String(), "No archived days") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPrintRuns(t *testing.T) {
	msg := "boom"
	now := time.Unix(1721200000, 0)
	var out bytes.Buffer
	printRuns(&out, []models.Run{{
		ID: "run-1", Zone: "zone-1", StartDate: "20240717", EndDate: "20240718",
		StartedAt: now.Add(-time.Hour).Unix(), Status: models.RunFailed, Error: &msg,
	}}, now)
	s := out.String()
	for _, want := range []string{"run-1", "failed", "boom", "ago"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}

func TestRunNowSerializesWithScheduledRuns(t *testing.T) {
	var active, overlaps, runs atomic.Int32
	tick := func() {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
	}

	c, id, err := newScheduler("0 0 3 * * *", time.UTC, cronLogger{zap.NewNop()}, tick)
	if err != nil {
		t.Fatalf("newScheduler failed: %v", err)
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNow(c, id)
		}()
	}
	wg.Wait()

	if runs.Load() != 3 {
		t.Errorf("runs = %d, want 3", runs.Load())
	}
	if overlaps.Load() != 0 {
		t.Errorf("%d runs overlapped", overlaps.Load())
	}
}

func TestNewSchedulerRejectsBadExpression(t *testing.T) {
	if _, _, err := newScheduler("0 3 * * *", time.UTC, cronLogger{zap.NewNop()}, func() {}); err == nil {
		t.Error("expected error for five-field expression")
	}
}
