package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/api"
	"github.com/stackinspector/teo-utils/internal/archive"
	"github.com/stackinspector/teo-utils/internal/config"
	"github.com/stackinspector/teo-utils/internal/db"
	"github.com/stackinspector/teo-utils/internal/hooks"
	"github.com/stackinspector/teo-utils/internal/ledger"
	"github.com/stackinspector/teo-utils/internal/logging"
	"github.com/stackinspector/teo-utils/internal/metrics"
	"github.com/stackinspector/teo-utils/internal/pipeline"
	"github.com/stackinspector/teo-utils/internal/retry"
	"github.com/stackinspector/teo-utils/internal/segment"
	"github.com/stackinspector/teo-utils/internal/tcapi"
	"github.com/stackinspector/teo-utils/internal/upload"
)

const uploadTimeout = 10 * time.Minute

// archiveOptions are the flags shared by logsave and schedule. Only flags
// set on the command line override the config file.
type archiveOptions struct {
	credentials     string
	zone            string
	utcOffset       int
	outputDir       string
	limit           uint32
	domains         []string
	paginate        bool
	fullDay         bool
	concurrency     int
	codec           string
	recipients      []string
	dbPath          string
	upload          bool
	metricsTextfile string
}

func addArchiveFlags(f *pflag.FlagSet, o *archiveOptions) {
	f.StringVar(&o.credentials, "credentials", "", "path to API credentials JSON file (env TEO_CREDENTIALS)")
	f.StringVar(&o.zone, "zone", "", "EdgeOne zone id (env TEO_ZONE)")
	f.IntVar(&o.utcOffset, "utc-offset", 8, "UTC offset in hours of the calendar days")
	f.StringVar(&o.outputDir, "output-dir", "", "directory archives are written to (env TEO_OUTPUT_DIR)")
	f.Uint32Var(&o.limit, "limit", pipeline.DefaultLimit, "page size of the segment list query")
	f.StringSliceVar(&o.domains, "domains", nil, "only archive segments of these domains")
	f.BoolVar(&o.paginate, "paginate", false, "page through days with more segments than --limit")
	f.BoolVar(&o.fullDay, "full-day", false, "end the query window at 23:59:59 instead of 23:59:00")
	f.IntVar(&o.concurrency, "concurrency", 1, "number of segments fetched in parallel")
	f.StringVar(&o.codec, "codec", string(archive.CodecXZ), "archive codec: xz or zstd")
	f.StringSliceVar(&o.recipients, "recipient", nil, "encrypt archives to this age recipient (repeatable)")
	f.StringVar(&o.dbPath, "db", "", "path to the SQLite ledger (env TEO_DB)")
	f.BoolVar(&o.upload, "upload", false, "upload archives to the configured bucket")
	f.StringVar(&o.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after each run")
}

// apply copies changed flags, then environment variables, over c.
func (o *archiveOptions) apply(f *pflag.FlagSet, c *config.Config) {
	overrideString(f, "credentials", "TEO_CREDENTIALS", o.credentials, &c.Credentials)
	overrideString(f, "zone", "TEO_ZONE", o.zone, &c.Logsave.Zone)
	overrideString(f, "output-dir", "TEO_OUTPUT_DIR", o.outputDir, &c.Logsave.OutputDir)
	overrideString(f, "db", "TEO_DB", o.dbPath, &c.Ledger.Path)
	overrideString(f, "codec", "", o.codec, &c.Logsave.Codec)
	overrideString(f, "metrics-textfile", "", o.metricsTextfile, &c.Metrics.Textfile)

	if f.Changed("utc-offset") {
		c.Logsave.UTCOffset = o.utcOffset
	} else {
		c.Logsave.UTCOffset = config.GetEnvInt("TEO_UTC_OFFSET", c.Logsave.UTCOffset)
	}
	if f.Changed("limit") {
		c.Logsave.Limit = o.limit
	}
	if f.Changed("domains") {
		c.Logsave.Domains = o.domains
	}
	if f.Changed("paginate") {
		c.Logsave.Paginate = o.paginate
	}
	if f.Changed("full-day") {
		c.Logsave.FullDay = o.fullDay
	}
	if f.Changed("concurrency") {
		c.Logsave.Concurrency = o.concurrency
	}
	if f.Changed("recipient") {
		c.Logsave.Recipients = o.recipients
	}
	if f.Changed("upload") {
		c.Upload.Enabled = o.upload
	}
}

func overrideString(f *pflag.FlagSet, name, env, val string, dst *string) {
	if f.Changed(name) {
		*dst = val
		return
	}
	if env != "" {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

// pipelineConfig translates the logsave section into a pipeline.Config.
func pipelineConfig(c *config.Config) (pipeline.Config, error) {
	loc, err := pipeline.FixedZone(c.Logsave.UTCOffset)
	if err != nil {
		return pipeline.Config{}, err
	}
	codec, err := archive.ParseCodec(c.Logsave.Codec)
	if err != nil {
		return pipeline.Config{}, err
	}
	recipients, err := archive.ParseRecipients(c.Logsave.Recipients)
	if err != nil {
		return pipeline.Config{}, err
	}

	windowEnd := pipeline.DefaultWindowEnd
	if c.Logsave.FullDay {
		windowEnd = pipeline.FullDayWindowEnd
	}

	return pipeline.Config{
		Zone:        c.Logsave.Zone,
		Location:    loc,
		Limit:       c.Logsave.Limit,
		Domains:     c.Logsave.Domains,
		OutputDir:   c.Logsave.OutputDir,
		WindowEnd:   windowEnd,
		Paginate:    c.Logsave.Paginate,
		Concurrency: c.Logsave.Concurrency,
		Archive:     archive.Options{Codec: codec, Recipients: recipients},
	}, nil
}

// archiver wires the day pipeline to the ledger, upload and metrics hooks
// enabled in the config.
type archiver struct {
	pcfg     pipeline.Config
	lister   pipeline.Lister
	fetcher  pipeline.Fetcher
	registry *hooks.Registry
	db       *sql.DB
	metrics  *metrics.Metrics
	textfile string
	logger   *zap.Logger
}

func newArchiver(ctx context.Context, c *config.Config, logger *zap.Logger) (*archiver, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if c.Logsave.Zone == "" {
		return nil, errors.New("zone required (use --zone flag, TEO_ZONE env var or logsave.zone)")
	}
	pcfg, err := pipelineConfig(c)
	if err != nil {
		return nil, err
	}
	creds, err := tcapi.LoadCredentials(c.Credentials)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(pcfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	client := tcapi.NewClient(creds, logger)
	client.Region = c.Region

	a := &archiver{
		pcfg:     pcfg,
		lister:   &api.EdgeOne{Caller: client},
		fetcher:  segment.NewFetcher(logger),
		registry: hooks.NewRegistry(logger),
		textfile: c.Metrics.Textfile,
		logger:   logger,
	}

	if c.Ledger.Path != "" {
		a.db, err = db.Open(c.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.registry.Register(ledger.New(a.db, logger))
	}

	if c.Upload.Enabled {
		s3Client, err := upload.NewS3Client(ctx, upload.Options{
			Region:    c.Upload.Region,
			Endpoint:  c.Upload.Endpoint,
			PathStyle: c.Upload.PathStyle,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.registry.Register(&upload.Hook{
			Uploader: &upload.Uploader{
				Client:  s3Client,
				Bucket:  c.Upload.Bucket,
				Prefix:  c.Upload.Prefix,
				Retry:   retry.Default(),
				Timeout: uploadTimeout,
				Logger:  logger.Named("upload"),
			},
			DB:     a.db,
			Logger: logger,
		})
	}

	if a.textfile != "" || c.Schedule.Listen != "" {
		a.metrics = metrics.New()
		a.registry.Register(a.metrics)
	}

	logger.Debug("archiver ready",
		logging.Zone(pcfg.Zone),
		zap.Strings("hooks", a.registry.IDs()))
	return a, nil
}

// run archives [start, end) as one ledger run.
func (a *archiver) run(ctx context.Context, start, end time.Time) error {
	p := pipeline.New(a.pcfg, a.lister, a.fetcher, a.registry, a.logger)

	if a.db != nil {
		if err := db.CreateRun(a.db, p.RunID(), a.pcfg.Zone,
			start.Format(pipeline.DateLayout), end.Format(pipeline.DateLayout)); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
	}

	_, runErr := p.Run(ctx, start, end)

	if runErr != nil && a.metrics != nil && !errors.Is(runErr, pipeline.ErrEmptyRange) && !pipeline.IsConflict(runErr) {
		a.metrics.IncDayFailures(a.pcfg.Zone)
	}
	if a.db != nil {
		if err := db.FinishRun(a.db, p.RunID(), runErr); err != nil {
			a.logger.Error("failed to finish run", logging.RunID(p.RunID()), zap.Error(err))
		}
	}
	if a.metrics != nil && a.textfile != "" {
		if err := a.metrics.WriteTextfile(a.textfile); err != nil {
			a.logger.Error("failed to write metrics", logging.Path(a.textfile), zap.Error(err))
		}
	}
	return runErr
}

func (a *archiver) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close ledger", zap.Error(err))
		}
	}
}
