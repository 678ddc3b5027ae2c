package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/askdocs/askdocs/internal/index"
	"github.com/askdocs/askdocs/internal/service"
	"github.com/askdocs/askdocs/internal/ui"
)

func newReindexCmd() *cobra.Command {
	var force bool
	var plain bool

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the lexical and vector indexes",
		Long: `Rebuild both search indexes from the metadata store and atomically
swap them over the live files. Queries keep working against the old
index until the swap.

--force drops the old index files first; use it after changing the
embedding model, its dimensions, or the lexical backend.`,
		Example: `  askdocs reindex
  askdocs reindex --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReindex(cmd, force, plain)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "drop old index files before the rebuild")
	cmd.Flags().BoolVar(&plain, "plain", false, "plain text progress output (no TUI)")
	return cmd
}

func runReindex(cmd *cobra.Command, force, plain bool) error {
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

	renderer := ui.NewRenderer(ui.NewConfig(os.Stdout,
		ui.WithForcePlain(plain),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithDataDir(cfg.Paths.DataDir),
	))
	if err := renderer.Start(cmd.Context()); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	svc.SetReindexProgress(renderProgress(renderer))

	result, err := svc.Reindex(cmd.Context(), force)
	if err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		return err
	}

	renderer.Complete(ui.CompletionStats{
		Documents: result.Documents,
		Version:   result.Version,
		Duration:  result.Duration,
		Embedder: ui.EmbedderInfo{
			Backend:    cfg.Embeddings.Provider,
			Model:      svc.Embedder().ModelName(),
			Dimensions: svc.Embedder().Dimensions(),
		},
	})
	return nil
}

// renderProgress adapts coordinator progress callbacks to renderer events.
func renderProgress(r ui.Renderer) index.ProgressFunc {
	return func(stage string, current, total int, file string) {
		event := ui.ProgressEvent{Current: current, Total: total, CurrentFile: file}
		switch stage {
		case "scan":
			event.Stage = ui.StageScanning
			event.Message = "collecting documents"
		case "embed":
			event.Stage = ui.StageEmbedding
		case "publish":
			event.Stage = ui.StagePublishing
			event.Message = "swapping index files"
		default:
			return
		}
		r.UpdateProgress(event)
	}
}
