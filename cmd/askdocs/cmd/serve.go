package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/askdocs/askdocs/internal/mcp"
	"github.com/askdocs/askdocs/internal/service"
)

func newServeCmd() *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the askdocs tools over MCP stdio",
		Long: `Run the MCP server on stdio, exposing the ask, ingest_document,
metrics, and preview_page tools.

Stdout carries JSON-RPC exclusively; logs go to the data dir log file.
Unless --no-watch is given, the extracted directory is watched and
changed documents are ingested in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, noWatch)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch the extracted directory")
	return cmd
}

func runServe(cmd *cobra.Command, noWatch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if !noWatch {
		if err := svc.StartWatcher(ctx); err != nil {
			return err
		}
	}

	srv, err := mcp.NewServer(svc, logger)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}
