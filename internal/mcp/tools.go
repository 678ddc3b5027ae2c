package mcp

import "github.com/askdocs/askdocs/internal/service"

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Query string `json:"query" jsonschema:"the question to answer, in Korean or English"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of source documents, default 5, max 50"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer            string              `json:"answer" jsonschema:"the composed answer text"`
	SourcesCited      []string            `json:"sources_cited" jsonschema:"document filenames cited in the answer"`
	Confidence        float64             `json:"confidence" jsonschema:"confidence score between 0 and 1"`
	HasProperCitation bool                `json:"has_proper_citation" jsonschema:"false when the source line was force-appended"`
	Mode              string              `json:"mode" jsonschema:"query handling mode: COST, DOCUMENT, SEARCH, or QA"`
	SourceDocs        []service.SourceDoc `json:"source_docs" jsonschema:"the documents behind the answer"`
	CacheHit          bool                `json:"cache_hit" jsonschema:"true when the answer came from the cache"`
	DurationMs        int64               `json:"duration_ms" jsonschema:"end-to-end latency in milliseconds"`
}

// IngestInput is the input schema for the ingest_document tool.
type IngestInput struct {
	Path string `json:"path" jsonschema:"document path, relative to the documents root or absolute inside it"`
}

// IngestOutput is the output schema for the ingest_document tool.
type IngestOutput struct {
	DocID    int64  `json:"doc_id" jsonschema:"stable numeric document id"`
	Filename string `json:"filename" jsonschema:"stored PDF filename"`
	Updated  bool   `json:"updated" jsonschema:"false when the content was unchanged"`
}

// MetricsInput is the input schema for the metrics tool (no parameters).
type MetricsInput struct{}

// MetricsOutput is the output schema for the metrics tool.
type MetricsOutput struct {
	Documents       int     `json:"documents" jsonschema:"documents in the metadata store"`
	StaleDocuments  int     `json:"stale_documents" jsonschema:"documents with too little extracted text"`
	LexicalCount    int     `json:"lexical_count" jsonschema:"documents in the lexical index"`
	VectorCount     int     `json:"vector_count" jsonschema:"documents in the vector index"`
	IndexVersion    string  `json:"index_version" jsonschema:"active index version"`
	LastFullReindex string  `json:"last_full_reindex,omitempty" jsonschema:"RFC3339 time of the last full reindex"`
	Reindexing      bool    `json:"reindexing" jsonschema:"true while a reindex holds the lock"`
	WatcherActive   bool    `json:"watcher_active" jsonschema:"true when the extracted dir watcher is running"`
	CacheHitRate    float64 `json:"cache_hit_rate" jsonschema:"answer cache hit rate between 0 and 1"`
	TotalQueries    int64   `json:"total_queries" jsonschema:"queries answered since start"`
	ZeroResultCount int64   `json:"zero_result_count" jsonschema:"queries that found no documents"`
}

// PreviewPageInput is the input schema for the preview_page tool.
type PreviewPageInput struct {
	Filename string `json:"filename" jsonschema:"PDF filename as stored in the corpus"`
	Page     int    `json:"page,omitempty" jsonschema:"1-indexed page number, default 1"`
}

// PreviewPageOutput is the output schema for the preview_page tool.
type PreviewPageOutput struct {
	Filename  string `json:"filename" jsonschema:"resolved PDF filename"`
	Page      int    `json:"page" jsonschema:"previewed page number"`
	PageCount int    `json:"page_count" jsonschema:"total pages in the document"`
	Text      string `json:"text" jsonschema:"plain text of the page"`
}
