package mcp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/askdocs/askdocs/internal/service"
	"github.com/askdocs/askdocs/internal/store"
	"github.com/askdocs/askdocs/internal/validation"
	"github.com/askdocs/askdocs/pkg/version"
)

// pagePreviewCacheSize bounds the extracted-page LRU.
const pagePreviewCacheSize = 128

// Server bridges MCP clients with the askdocs service.
type Server struct {
	mcp    *mcp.Server
	svc    *service.Service
	pages  *store.PageTextExtractor
	logger *slog.Logger
}

// NewServer creates the MCP server and registers all tools.
func NewServer(svc *service.Service, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pages, err := store.NewPageTextExtractor(pagePreviewCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		svc:    svc,
		pages:  pages,
		logger: logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "askdocs",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// registerTools registers the four askdocs tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question about the document corpus. Retrieves the most relevant documents and composes a grounded, cited answer in Korean. Use this for cost questions, document lookups, and general questions.",
	}, s.askHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Ingest one document into the corpus by path. Re-ingesting unchanged content is a no-op; changed content keeps its stable document id.",
	}, s.ingestHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "metrics",
		Description: "Report corpus and index counts, reindex status, cache hit rate, and query telemetry. Use before asking to verify the index is ready.",
	}, s.metricsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "preview_page",
		Description: "Extract the plain text of one PDF page by corpus filename. Paths are confined to the documents root.",
	}, s.previewPageHandler)

	s.logger.Info("mcp_tools_registered", slog.Int("count", 4))
}

// askHandler answers one question through the full query pipeline.
func (s *Server) askHandler(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult,
	AskOutput,
	error,
) {
	if input.Query == "" {
		return nil, AskOutput{}, NewInvalidParamsError("query parameter is required")
	}

	start := time.Now()
	result, err := s.svc.Query(ctx, input.Query, input.TopK)
	if err != nil {
		s.logger.Warn("ask_failed",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, AskOutput{}, MapError(err)
	}

	return nil, AskOutput{
		Answer:            result.Answer,
		SourcesCited:      result.SourcesCited,
		Confidence:        result.Confidence,
		HasProperCitation: result.HasProperCitation,
		Mode:              result.Mode,
		SourceDocs:        result.SourceDocs,
		CacheHit:          result.CacheHit,
		DurationMs:        result.DurationMs,
	}, nil
}

// ingestHandler ingests one document by path.
func (s *Server) ingestHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (
	*mcp.CallToolResult,
	IngestOutput,
	error,
) {
	if input.Path == "" {
		return nil, IngestOutput{}, NewInvalidParamsError("path parameter is required")
	}

	result, err := s.svc.Ingest(ctx, input.Path)
	if err != nil {
		return nil, IngestOutput{}, MapError(err)
	}
	return nil, IngestOutput{
		DocID:    result.DocID,
		Filename: result.Filename,
		Updated:  result.Updated,
	}, nil
}

// metricsHandler reports the operational snapshot.
func (s *Server) metricsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ MetricsInput) (
	*mcp.CallToolResult,
	MetricsOutput,
	error,
) {
	report, err := s.svc.Metrics(ctx)
	if err != nil {
		return nil, MetricsOutput{}, MapError(err)
	}

	out := MetricsOutput{
		Documents:       report.Documents,
		StaleDocuments:  report.StaleDocuments,
		LexicalCount:    report.LexicalCount,
		VectorCount:     report.VectorCount,
		IndexVersion:    report.IndexVersion,
		Reindexing:      report.Reindexing,
		WatcherActive:   report.WatcherActive,
		CacheHitRate:    report.CacheHitRate,
		TotalQueries:    report.QueryTelemetry.TotalQueries,
		ZeroResultCount: report.QueryTelemetry.ZeroResultCount,
	}
	if !report.LastFullReindex.IsZero() {
		out.LastFullReindex = report.LastFullReindex.Format(time.RFC3339)
	}
	return nil, out, nil
}

// previewPageHandler extracts one PDF page, path-safe under the
// documents root.
func (s *Server) previewPageHandler(ctx context.Context, _ *mcp.CallToolRequest, input PreviewPageInput) (
	*mcp.CallToolResult,
	PreviewPageOutput,
	error,
) {
	if input.Filename == "" {
		return nil, PreviewPageOutput{}, NewInvalidParamsError("filename parameter is required")
	}
	page := input.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return nil, PreviewPageOutput{}, NewInvalidParamsError("page must be >= 1")
	}

	doc, err := s.svc.Metadata().GetByFilename(ctx, input.Filename)
	if err != nil {
		return nil, PreviewPageOutput{}, MapError(err)
	}
	if doc == nil {
		doc, err = s.svc.Metadata().GetByFilenameFuzzy(ctx, input.Filename)
		if err != nil {
			return nil, PreviewPageOutput{}, MapError(err)
		}
	}
	if doc == nil {
		return nil, PreviewPageOutput{}, MapError(ErrDocumentNotFound)
	}

	path, err := validation.ResolveUnderRoot(s.svc.Config().Paths.DocumentsRoot, doc.Path)
	if err != nil {
		return nil, PreviewPageOutput{}, MapError(err)
	}

	count, err := s.pages.PageCount(path)
	if err != nil {
		return nil, PreviewPageOutput{}, MapError(err)
	}
	if page > count {
		return nil, PreviewPageOutput{}, NewInvalidParamsError(
			"page out of range")
	}
	text, err := s.pages.ExtractPage(path, page)
	if err != nil {
		return nil, PreviewPageOutput{}, MapError(err)
	}

	return nil, PreviewPageOutput{
		Filename:  doc.Filename,
		Page:      page,
		PageCount: count,
		Text:      text,
	}, nil
}

// Serve runs the server over stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}
