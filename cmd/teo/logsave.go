package main

import (
	"github.com/spf13/cobra"

	"github.com/stackinspector/teo-utils/internal/pipeline"
)

var logsaveFlags struct {
	archiveOptions
	start string
	end   string
}

var logsaveCmd = &cobra.Command{
	Use:   "logsave",
	Short: "Archive the offline L7 logs of a zone for a range of days",
	Long: `Archive the offline L7 logs of a zone, one file per calendar day.

Days run from --start up to but excluding --end (both YYYYMMDD, in the
--utc-offset time zone). Without --end a single day is archived. Each
archive is created exclusively: a day whose archive already exists stops
the run. Segments that fail to download are recorded in the archive and do
not stop the day.`,
	Args: cobra.NoArgs,
	RunE: runLogsave,
}

func init() {
	rootCmd.AddCommand(logsaveCmd)

	addArchiveFlags(logsaveCmd.Flags(), &logsaveFlags.archiveOptions)
	logsaveCmd.Flags().StringVar(&logsaveFlags.start, "start", "", "first day to archive (YYYYMMDD)")
	logsaveCmd.Flags().StringVar(&logsaveFlags.end, "end", "", "day after the last day to archive (YYYYMMDD)")
	_ = logsaveCmd.MarkFlagRequired("start")
}

func runLogsave(cmd *cobra.Command, args []string) error {
	logsaveFlags.apply(cmd.Flags(), cfg)

	loc, err := pipeline.FixedZone(cfg.Logsave.UTCOffset)
	if err != nil {
		return err
	}
	start, end, err := parseRange(logsaveFlags.start, logsaveFlags.end, loc)
	if err != nil {
		return err
	}

	a, err := newArchiver(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.run(cmd.Context(), start, end)
}
