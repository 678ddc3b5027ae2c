package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askdocs/askdocs/internal/service"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Ingest extracted document bodies into the corpus",
		Long: `Ingest one document by path, or every extracted .txt body when no
path is given. Unchanged content is skipped; changed content keeps its
stable document id. When a live index is open, changed documents are
indexed incrementally; otherwise they wait for the next reindex.`,
		Example: `  askdocs ingest
  askdocs ingest extracted/2024-10-24_보수건.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runIngest(cmd, path)
		},
	}
	return cmd
}

func runIngest(cmd *cobra.Command, path string) error {
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

	w := cmd.OutOrStdout()

	if path != "" {
		result, err := svc.Ingest(cmd.Context(), path)
		if err != nil {
			return err
		}
		switch {
		case result.Updated:
			fmt.Fprintf(w, "Ingested %s (doc %d)\n", result.Filename, result.DocID)
		case result.DuplicateOf != "":
			fmt.Fprintf(w, "Skipped %s (duplicate of %s)\n", result.Filename, result.DuplicateOf)
		default:
			fmt.Fprintf(w, "Unchanged %s (doc %d)\n", result.Filename, result.DocID)
		}
		return nil
	}

	ingested, unchanged, failed, err := svc.IngestAll(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Ingested %d documents (%d unchanged, %d failed)\n", ingested, unchanged, failed)
	if ingested > 0 {
		fmt.Fprintln(w, "Run 'askdocs reindex' to make new documents searchable.")
	}
	return nil
}
