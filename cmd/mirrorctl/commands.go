package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mirrorsplit/internal/domain/upload"
)

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List stored binaries without metadata",
	RunE: func(cmd *cobra.Command, _ []string) error {
		srv, log, err := openServer(cmd.Context())
		if err != nil {
			return err
		}
		defer log.Sync()
		defer srv.Close()

		orphans, err := srv.Service().FindOrphans(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(orphans) == 0 {
			fmt.Fprintln(out, "no orphaned files")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZE\tCREATED")
		for _, o := range orphans {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Name, humanize.Bytes(uint64(o.Size)), humanize.Time(o.CreatedAt))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d orphaned file(s)\n", len(orphans))
		return nil
	},
}

var recoverInput upload.RecoverInput

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Upsert a metadata record for an orphaned binary",
	Long: `Upsert a metadata record for a binary found by "mirrorctl orphans".

The record is written to the database with the usual retry policy. It is
never written to the local ledger.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		srv, log, err := openServer(cmd.Context())
		if err != nil {
			return err
		}
		defer log.Sync()
		defer srv.Close()

		rec, err := srv.Service().RecoverMetadata(cmd.Context(), recoverInput)
		if err != nil {
			return err
		}
		url := ""
		if rec.URL != nil {
			url = *rec.URL
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recovered %s (%s by %s) %s\n", rec.ID, rec.Title, rec.Artist, url)
		return nil
	},
}

var replayLedgerCmd = &cobra.Command{
	Use:   "replay-ledger",
	Short: "Copy ledger records missing from the database into it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		srv, log, err := openServer(cmd.Context())
		if err != nil {
			return err
		}
		defer log.Sync()
		defer srv.Close()

		start := time.Now()
		report, err := srv.Service().ReplayLedger(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, recovered %d, already present %d, failed %d (%s)\n",
			report.Scanned, report.Recovered, report.Skipped, report.Failed, time.Since(start).Round(time.Millisecond))
		if report.Failed > 0 {
			return fmt.Errorf("%d record(s) could not be replayed", report.Failed)
		}
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		srv, log, err := openServer(cmd.Context())
		if err != nil {
			return err
		}
		defer log.Sync()
		defer srv.Close()

		n, err := srv.Reindex(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d record(s)\n", n)
		return nil
	},
}

func init() {
	f := recoverCmd.Flags()
	f.StringVar(&recoverInput.ID, "id", "", "upload id (required)")
	f.StringVar(&recoverInput.Title, "title", "", "title")
	f.StringVar(&recoverInput.Artist, "artist", "", "artist")
	f.StringVar(&recoverInput.Price, "price", "", "price")
	f.StringVar(&recoverInput.Section, "section", "", "section")
	f.StringVar(&recoverInput.FilePath, "file-path", "", "storage key of the binary")
	f.StringVar(&recoverInput.URL, "url", "", "public url; derived from the storage key when empty")
	_ = recoverCmd.MarkFlagRequired("id")
}
