// Package pipeline archives the offline L7 logs of a zone, one calendar day
// at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackinspector/teo-utils/internal/api"
	"github.com/stackinspector/teo-utils/internal/archive"
	"github.com/stackinspector/teo-utils/internal/events"
	"github.com/stackinspector/teo-utils/internal/hooks"
	"github.com/stackinspector/teo-utils/internal/logging"
	"github.com/stackinspector/teo-utils/internal/segment"
)

// DefaultLimit is the page size of a segment list query.
const DefaultLimit = 300

// Config is the per-run configuration. It is copied into the Pipeline and
// never modified afterwards.
type Config struct {
	Zone      string
	Location  *time.Location
	Limit     uint32
	Domains   []string
	OutputDir string
	// WindowEnd is the end of the query window as an offset from midnight.
	WindowEnd time.Duration
	// Paginate pages through results instead of failing when the day has
	// more than Limit segments.
	Paginate bool
	// Concurrency bounds parallel segment fetches. Records are still
	// written in API order.
	Concurrency int
	Archive     archive.Options
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.WindowEnd <= 0 {
		c.WindowEnd = DefaultWindowEnd
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	c.Domains = append([]string(nil), c.Domains...)
	return c
}

// Lister queries the segment list of a window.
type Lister interface {
	DownloadL7Logs(ctx context.Context, req *api.DownloadL7LogsRequest) (*api.DownloadL7LogsResponse, error)
}

// Fetcher downloads one segment. Transport and status failures are
// reported in the returned record; a non-nil error is fatal for the day.
type Fetcher interface {
	Fetch(ctx context.Context, d api.L7OfflineLog) (*segment.Record, error)
}

// PaginationError reports a day with more segments than one page holds.
type PaginationError struct {
	Zone       string
	Date       time.Time
	TotalCount uint32
	Limit      uint32
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("zone %s on %s has %d segments, more than the page limit %d; enable pagination",
		e.Zone, e.Date.Format(DateLayout), e.TotalCount, e.Limit)
}

// Pipeline runs the day state machine: build window, query, fetch each
// segment into the archive, finalize.
type Pipeline struct {
	cfg     Config
	lister  Lister
	fetcher Fetcher
	hooks   *hooks.Registry
	logger  *zap.Logger
	runID   string
	now     func() time.Time
}

// New creates a Pipeline. registry may be nil.
func New(cfg Config, lister Lister, fetcher Fetcher, registry *hooks.Registry, logger *zap.Logger) *Pipeline {
	logger = logging.OrNop(logger)
	return &Pipeline{
		cfg:     cfg.withDefaults(),
		lister:  lister,
		fetcher: fetcher,
		hooks:   registry,
		logger:  logger.Named("pipeline").With(logging.Zone(cfg.Zone)),
		runID:   uuid.NewString(),
		now:     time.Now,
	}
}

// RunID identifies this pipeline's run in logs, hooks and the ledger.
func (p *Pipeline) RunID() string { return p.runID }

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// ArchivePath returns where the archive for date is written.
func (p *Pipeline) ArchivePath(date time.Time) string {
	return filepath.Join(p.cfg.OutputDir, archive.Name(date.In(p.cfg.Location), p.cfg.Zone, p.cfg.Archive))
}

// Run archives every day in [start, end) in ascending order. It stops at the
// first fatal error and returns the days completed before it.
func (p *Pipeline) Run(ctx context.Context, start, end time.Time) ([]*events.DayResult, error) {
	dates, err := Dates(start.In(p.cfg.Location), end.In(p.cfg.Location))
	if err != nil {
		return nil, err
	}

	p.logger.Info("run started",
		logging.RunID(p.runID),
		logging.Date(dates[0]),
		logging.Count(len(dates)))

	results := make([]*events.DayResult, 0, len(dates))
	for _, date := range dates {
		res, err := p.Day(ctx, date)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Day archives a single calendar day.
func (p *Pipeline) Day(ctx context.Context, date time.Time) (*events.DayResult, error) {
	startedAt := p.now()
	window := BuildWindow(date, p.cfg.Location, p.cfg.WindowEnd)
	date = window.Start
	logger := p.logger.With(logging.RunID(p.runID), logging.Date(date))

	segs, total, err := p.query(ctx, date, window)
	if err != nil {
		return nil, err
	}
	logger.Info("segments listed", logging.Count(len(segs)))

	path := p.ArchivePath(date)
	p.hooks.DayStart(ctx, &events.DayStart{
		RunID:      p.runID,
		Zone:       p.cfg.Zone,
		Date:       date,
		Start:      window.StartString(),
		End:        window.EndString(),
		TotalCount: total,
		Archive:    path,
	})

	w, err := archive.Create(path, p.cfg.Archive)
	if err != nil {
		return nil, err
	}

	records, err := p.fetchAll(ctx, date, segs, w)
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			logger.Error("failed to remove partial archive", logging.Path(path), zap.Error(abortErr))
		}
		return nil, err
	}

	sum, err := w.Close()
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			logger.Error("failed to remove partial archive", logging.Path(path), zap.Error(abortErr))
		}
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	res := &events.DayResult{
		RunID:      p.runID,
		Zone:       p.cfg.Zone,
		Date:       date,
		Start:      window.StartString(),
		End:        window.EndString(),
		TotalCount: total,
		Archive:    sum,
		Segments:   records,
		StartedAt:  startedAt,
		FinishedAt: p.now(),
	}
	logger.Info("day archived",
		logging.Path(sum.Path),
		zap.Int("fetched", sum.Fetched),
		zap.Int("failed", sum.Failed),
		logging.Bytes(sum.Size))

	p.hooks.Archived(ctx, res)
	return res, nil
}

func (p *Pipeline) query(ctx context.Context, date time.Time, window Window) ([]api.L7OfflineLog, uint32, error) {
	req := &api.DownloadL7LogsRequest{
		StartTime: window.StartString(),
		EndTime:   window.EndString(),
		ZoneIds:   []string{p.cfg.Zone},
		Domains:   p.cfg.Domains,
		Limit:     p.cfg.Limit,
		Offset:    0,
	}

	resp, err := p.lister.DownloadL7Logs(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("query segments: %w", err)
	}
	total := resp.TotalCount
	if total <= p.cfg.Limit {
		return resp.Data, total, nil
	}
	if !p.cfg.Paginate {
		return nil, 0, &PaginationError{Zone: p.cfg.Zone, Date: date, TotalCount: total, Limit: p.cfg.Limit}
	}

	segs := append([]api.L7OfflineLog(nil), resp.Data...)
	for uint32(len(segs)) < total && len(resp.Data) > 0 {
		next := *req
		next.Offset = uint32(len(segs))
		resp, err = p.lister.DownloadL7Logs(ctx, &next)
		if err != nil {
			return nil, 0, fmt.Errorf("query segments at offset %d: %w", next.Offset, err)
		}
		segs = append(segs, resp.Data...)
	}
	if uint32(len(segs)) != total {
		return nil, 0, fmt.Errorf("query segments: listed %d of %d", len(segs), total)
	}
	return segs, total, nil
}

type fetchResult struct {
	rec *segment.Record
	err error
}

// fetchAll fetches up to Concurrency segments at a time and appends the
// records to w strictly in index order. It returns the records without
// their payloads.
func (p *Pipeline) fetchAll(parent context.Context, date time.Time, segs []api.L7OfflineLog, w *archive.Writer) ([]segment.Record, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	results := make([]chan fetchResult, len(segs))
	for i := range results {
		results[i] = make(chan fetchResult, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, d := range segs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					results[i] <- fetchResult{err: err}
					return err
				}
				rec, err := p.fetcher.Fetch(gctx, d)
				results[i] <- fetchResult{rec: rec, err: err}
				return err
			})
		}
	}()
	wait := func() error {
		cancel()
		<-launched
		return g.Wait()
	}

	records := make([]segment.Record, 0, len(segs))
	for i := range segs {
		var res fetchResult
		select {
		case res = <-results[i]:
		case <-ctx.Done():
			_ = wait()
			return nil, ctx.Err()
		}
		if res.err != nil {
			// A later segment failed first and canceled this one.
			first := wait()
			if errors.Is(res.err, context.Canceled) && parent.Err() == nil &&
				first != nil && !errors.Is(first, context.Canceled) {
				return nil, first
			}
			return nil, fmt.Errorf("segment %d (%s): %w", i, segs[i].LogPacketName, res.err)
		}
		if err := w.Append(res.rec); err != nil {
			_ = wait()
			return nil, fmt.Errorf("append segment %d: %w", i, err)
		}

		p.hooks.Segment(ctx, &events.Segment{
			RunID:  p.runID,
			Zone:   p.cfg.Zone,
			Date:   date,
			Index:  i,
			Record: res.rec,
		})

		stored := *res.rec
		stored.Payload = nil
		records = append(records, stored)
	}

	_ = wait()
	return records, nil
}

// IsConflict reports whether err is a rerun against an existing archive.
func IsConflict(err error) bool {
	var ee *archive.ExistsError
	return errors.As(err, &ee)
}
