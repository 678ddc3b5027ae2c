package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/askdocs/askdocs/internal/service"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show corpus, index, cache, and query statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	svc, err := service.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	report, err := svc.Metrics(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printStats(cmd.OutOrStdout(), report)
	return nil
}

// printStats writes the human-readable stats format.
func printStats(w io.Writer, report *service.MetricsReport) {
	fmt.Fprintln(w, "Corpus")
	fmt.Fprintf(w, "  Documents:       %d\n", report.Documents)
	fmt.Fprintf(w, "  Stale documents: %d\n", report.StaleDocuments)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Index")
	fmt.Fprintf(w, "  Lexical entries: %d\n", report.LexicalCount)
	fmt.Fprintf(w, "  Vector entries:  %d\n", report.VectorCount)
	fmt.Fprintf(w, "  Stale entries:   %d\n", report.StaleIndexCount)
	if report.IndexVersion != "" {
		fmt.Fprintf(w, "  Version:         %s\n", report.IndexVersion)
	} else {
		fmt.Fprintln(w, "  Version:         (no index yet; run 'askdocs reindex')")
	}
	if !report.LastFullReindex.IsZero() {
		fmt.Fprintf(w, "  Last reindex:    %s\n", report.LastFullReindex.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  Reindexing:      %t\n", report.Reindexing)
	fmt.Fprintf(w, "  Watcher active:  %t\n", report.WatcherActive)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Cache")
	fmt.Fprintf(w, "  Hit rate:        %.1f%%\n", report.CacheHitRate*100)
	fmt.Fprintln(w)

	t := report.QueryTelemetry
	fmt.Fprintln(w, "Queries (since start)")
	fmt.Fprintf(w, "  Total:           %d\n", t.TotalQueries)
	fmt.Fprintf(w, "  Zero results:    %d\n", t.ZeroResultCount)
	if len(t.ModeCounts) > 0 {
		fmt.Fprintln(w, "  By mode:")
		for mode, count := range t.ModeCounts {
			fmt.Fprintf(w, "    %-10s %d\n", mode, count)
		}
	}
	if len(t.TopTerms) > 0 {
		fmt.Fprintln(w, "  Top terms:")
		for i, tc := range t.TopTerms {
			if i >= 10 {
				break
			}
			fmt.Fprintf(w, "    %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
	}
	if len(t.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "  Recent zero-result queries:")
		for _, q := range t.ZeroResultQueries {
			fmt.Fprintf(w, "    - %q\n", q)
		}
	}
}
