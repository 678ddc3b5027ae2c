package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	aerr "github.com/askdocs/askdocs/internal/errors"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host       string // default http://localhost:11434
	Model      string // embedding model name
	Dimensions int    // 0 = auto-detect from first embedding
	BatchSize  int
	Timeout    time.Duration

	// SkipHealthCheck skips the startup probe (testing).
	SkipHealthCheck bool
}

// OllamaEmbedder generates embeddings via Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates a new Ollama embedder and probes the server.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	// No client-level timeout: per-request contexts control deadlines.
	client := &http.Client{Transport: transport}

	e := &OllamaEmbedder{
		client:    client,
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		vec, err := e.embedBatch(checkCtx, []string{"ping"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, aerr.New(aerr.ErrCodeModelLoad,
				fmt.Sprintf("failed to probe embedding model %s", cfg.Model), err)
		}
		if e.dims == 0 && len(vec) > 0 {
			e.dims = len(vec[0])
		}
	}
	if e.dims == 0 {
		e.dims = StaticDimensions
	}

	return e, nil
}

// embedBatch issues one /api/embed call.
func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.config.Host+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d",
			len(result.Embeddings), len(texts))
	}

	for i := range result.Embeddings {
		result.Embeddings[i] = normalizeVector(result.Embeddings[i])
	}
	return result.Embeddings, nil
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, chunked by BatchSize.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batchCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		vecs, err := e.embedBatch(batchCtx, texts[start:end])
		cancel()
		if err != nil {
			return nil, aerr.New(aerr.ErrCodeEmbedFailed,
				fmt.Sprintf("failed to embed batch %d-%d", start, end), err)
		}

		for _, v := range vecs {
			if e.dims > 0 && len(v) != e.dims {
				return nil, fmt.Errorf("dimension drift: got %d, want %d", len(v), e.dims)
			}
		}
		results = append(results, vecs...)
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available probes the Ollama server.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
