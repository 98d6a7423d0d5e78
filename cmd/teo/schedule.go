package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/logging"
	"github.com/stackinspector/teo-utils/internal/pipeline"
	"github.com/stackinspector/teo-utils/internal/server"
)

var scheduleFlags struct {
	archiveOptions
	cron    string
	lagDays int
	now     bool
	listen  string
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Archive one day on every tick of a cron schedule",
	Long: `Run until interrupted, archiving the day --lag-days before today on
every tick of --cron. The cron expression has a leading seconds field and is
evaluated in the --utc-offset time zone. A tick that finds the day already
archived is skipped; a tick still running when the next one fires delays it.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	addArchiveFlags(scheduleCmd.Flags(), &scheduleFlags.archiveOptions)
	scheduleCmd.Flags().StringVar(&scheduleFlags.cron, "cron", "", "cron expression with seconds (default from config)")
	scheduleCmd.Flags().IntVar(&scheduleFlags.lagDays, "lag-days", 2, "archive the day this many days before today")
	scheduleCmd.Flags().BoolVar(&scheduleFlags.now, "now", false, "run one tick immediately on start")
	scheduleCmd.Flags().StringVar(&scheduleFlags.listen, "listen", "", "serve health, metrics and ledger status on this address")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	scheduleFlags.apply(cmd.Flags(), cfg)
	if cmd.Flags().Changed("cron") {
		cfg.Schedule.Cron = scheduleFlags.cron
	}
	if cmd.Flags().Changed("lag-days") {
		cfg.Schedule.LagDays = scheduleFlags.lagDays
	}
	if cmd.Flags().Changed("listen") {
		cfg.Schedule.Listen = scheduleFlags.listen
	}

	a, err := newArchiver(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Named("schedule")
	cronLog := cronLogger{log}
	loc := a.pcfg.Location
	lag := cfg.Schedule.LagDays

	tick := func() { scheduledRun(ctx, a, log, time.Now(), loc, lag) }

	c, id, err := newScheduler(cfg.Schedule.Cron, loc, cronLog, tick)
	if err != nil {
		return err
	}

	log.Info("scheduler started",
		logging.Zone(a.pcfg.Zone),
		zap.String("cron", cfg.Schedule.Cron),
		zap.Int("lag_days", lag))

	if cfg.Schedule.Listen != "" {
		status := &server.StatusServer{DB: a.db, Logger: log}
		if a.metrics != nil {
			status.Gatherer = a.metrics.Registry()
		}
		srv := server.NewManaged(cfg.Schedule.Listen, status.Handler(), log)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	c.Start()
	if scheduleFlags.now {
		runNow(c, id)
	}

	<-ctx.Done()
	log.Info("shutting down scheduler")
	<-c.Stop().Done()
	return nil
}

// newScheduler registers tick under spec. Overlapping runs of the job are
// serialized and a panic is logged instead of killing the process.
func newScheduler(spec string, loc *time.Location, log cron.Logger, tick func()) (*cron.Cron, cron.EntryID, error) {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.DelayIfStillRunning(log)),
	)
	id, err := c.AddFunc(spec, tick)
	if err != nil {
		return nil, 0, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return c, id, nil
}

// runNow runs the entry through its job wrappers, so a scheduled fire that
// lands meanwhile waits for it.
func runNow(c *cron.Cron, id cron.EntryID) {
	c.Entry(id).WrappedJob.Run()
}

// scheduledRun archives the day lag days before now. Failures are logged;
// the scheduler keeps running.
func scheduledRun(ctx context.Context, a *archiver, log *zap.Logger, now time.Time, loc *time.Location, lag int) {
	if ctx.Err() != nil {
		return
	}
	date := lagDate(now, loc, lag)
	err := a.run(ctx, date, date.AddDate(0, 0, 1))
	switch {
	case err == nil:
	case pipeline.IsConflict(err):
		log.Info("day already archived", logging.Date(date))
	default:
		log.Error("scheduled archive failed", logging.Date(date), zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
