package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stackinspector/teo-utils/internal/db"
	"github.com/stackinspector/teo-utils/internal/models"
)

var historyFlags struct {
	zone   string
	dbPath string
	runs   bool
	limit  int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived days and runs from the ledger",
	Long:  `List the days recorded in the SQLite ledger, or with --runs the most recent pipeline runs.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyFlags.zone, "zone", "", "only show days of this zone")
	historyCmd.Flags().StringVar(&historyFlags.dbPath, "db", "", "path to the SQLite ledger (env TEO_DB)")
	historyCmd.Flags().BoolVar(&historyFlags.runs, "runs", false, "list runs instead of days")
	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "number of runs to list (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	overrideString(cmd.Flags(), "db", "TEO_DB", historyFlags.dbPath, &cfg.Ledger.Path)
	if cfg.Ledger.Path == "" {
		return errors.New("ledger path required (use --db flag, TEO_DB env var or ledger.path)")
	}
	if _, err := os.Stat(cfg.Ledger.Path); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	database, err := db.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer database.Close()

	if historyFlags.runs {
		runs, err := db.ListRuns(database, historyFlags.limit)
		if err != nil {
			return err
		}
		printRuns(os.Stdout, runs, time.Now())
		return nil
	}

	days, err := db.ListDays(database, historyFlags.zone)
	if err != nil {
		return err
	}
	printDays(os.Stdout, days)
	return nil
}

func printDays(w io.Writer, days []models.Day) {
	if len(days) == 0 {
		fmt.Fprintln(w, "No archived days.")
		return
	}
	fmt.Fprintf(w, "%-8s  %-20s  %-8s  %-7s  %-6s  %-10s  %s\n", "DATE", "ZONE", "SEGMENTS", "FETCHED", "FAILED", "SIZE", "ARCHIVE")
	for _, d := range days {
		fmt.Fprintf(w, "%-8s  %-20s  %-8d  %-7d  %-6d  %-10s  %s\n",
			d.Date, d.Zone, d.Records, d.Fetched, d.Failed, humanize.Bytes(uint64(d.ArchiveSize)), d.ArchivePath)
	}
}

func printRuns(w io.Writer, runs []models.Run, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-17s  %-7s  %-16s  %s\n", "RUN", "ZONE", "RANGE", "STATUS", "STARTED", "ERROR")
	for _, r := range runs {
		errStr := "-"
		if r.Error != nil {
			errStr = *r.Error
		}
		started := humanize.RelTime(time.Unix(r.StartedAt, 0), now, "ago", "from now")
		fmt.Fprintf(w, "%-36s  %-20s  %-8s-%-8s  %-7s  %-16s  %s\n",
			r.ID, r.Zone, r.StartDate, r.EndDate, r.Status, started, errStr)
	}
}
