package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stackinspector/teo-utils/internal/archive"
	"github.com/stackinspector/teo-utils/internal/segment"
)

var inspectFlags struct {
	payload  bool
	identity string
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive>",
	Short: "List the segments stored in an archive",
	Long: `List the segments of a day archive with their outcome and size.

With --payload the decompressed log lines of every fetched segment are
written to stdout instead. Encrypted (.age) archives need --identity.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVar(&inspectFlags.payload, "payload", false, "write segment payloads to stdout")
	inspectCmd.Flags().StringVar(&inspectFlags.identity, "identity", "", "age identity file for encrypted archives")
}

func runInspect(cmd *cobra.Command, args []string) error {
	var ids []age.Identity
	if inspectFlags.identity != "" {
		var err error
		ids, err = archive.LoadIdentities(inspectFlags.identity)
		if err != nil {
			return err
		}
	}
	return inspectArchive(os.Stdout, args[0], inspectFlags.payload, ids)
}

func inspectArchive(w io.Writer, path string, payload bool, ids []age.Identity) error {
	r, err := archive.Open(path, ids...)
	if err != nil {
		return err
	}
	defer r.Close()

	if !payload {
		fmt.Fprintf(w, "%-5s  %-7s  %-10s  %-30s  %s\n", "INDEX", "OUTCOME", "SIZE", "DOMAIN", "PACKET")
	}

	var total, fetched int
	var bytes uint64
	for i := 0; ; i++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		total++

		if payload {
			if _, err := w.Write(rec.Payload); err != nil {
				return err
			}
			continue
		}

		outcome, size := describeOutcome(rec.Outcome)
		if rec.Fetched() {
			fetched++
			bytes += uint64(len(rec.Payload))
		}
		fmt.Fprintf(w, "%-5d  %-7s  %-10s  %-30s  %s\n", i, outcome, size, rec.Domain, rec.LogPacketName)
	}

	if !payload {
		fmt.Fprintf(w, "\n%d segments, %d fetched, %d failed, %s uncompressed\n",
			total, fetched, total-fetched, humanize.Bytes(bytes))
	}
	return nil
}

func describeOutcome(o segment.Outcome) (outcome, size string) {
	switch v := o.(type) {
	case segment.Fetched:
		return "ok", humanize.Bytes(v.UncompressedSize)
	case segment.Failed:
		if v.Status == nil {
			return "error", "-"
		}
		return fmt.Sprintf("http %d", *v.Status), "-"
	default:
		return "?", "-"
	}
}
