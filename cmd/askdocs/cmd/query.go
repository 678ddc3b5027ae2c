package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/askdocs/askdocs/internal/service"
)

func newQueryCmd() *cobra.Command {
	var topK int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question against the document corpus",
		Long: `Ask one question and print the composed, cited answer.

The question is routed by intent (cost, document lookup, search, general)
and answered from the most relevant documents in the corpus.`,
		Example: `  askdocs query "중계차 보수 비용 합계는 얼마야?"
  askdocs query --top-k 10 "2024년 남준수가 작성한 문서 찾아줘"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], topK, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "number of source documents (0 = server default)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runQuery(cmd *cobra.Command, question string, topK int, jsonOutput bool) error {
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

	result, err := svc.Query(cmd.Context(), question, topK)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printQueryResult(cmd.OutOrStdout(), result)
	return nil
}

// printQueryResult writes the human-readable answer format.
func printQueryResult(w io.Writer, result *service.QueryResult) {
	fmt.Fprintln(w, result.Answer)

	if len(result.SourceDocs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, doc := range result.SourceDocs {
			line := "  - " + doc.Filename
			if doc.Title != "" {
				line += " (" + doc.Title + ")"
			}
			fmt.Fprintln(w, line)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "mode=%s confidence=%.2f cache_hit=%t duration=%dms\n",
		result.Mode, result.Confidence, result.CacheHit, result.DurationMs)
}
