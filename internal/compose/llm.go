// Package compose turns retrieved chunks into a grounded, cited answer:
// doctype-specific prompt templates, context packing, the LLM call, and
// citation enforcement.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	aerr "github.com/askdocs/askdocs/internal/errors"
)

// LLM is the text-completion service the composer talks to. Answers are
// returned whole; there is no streaming.
type LLM interface {
	// Generate completes a prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName returns the model identifier.
	ModelName() string
}

// OllamaLLMConfig configures the Ollama completion client.
type OllamaLLMConfig struct {
	Host              string // default http://localhost:11434
	Model             string
	MaxContextTokens  int
	MaxResponseTokens int
	Timeout           time.Duration
}

// OllamaLLM calls Ollama's /api/generate endpoint.
type OllamaLLM struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaLLMConfig

	mu     sync.RWMutex
	closed bool
}

var _ LLM = (*OllamaLLM)(nil)

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaLLM creates the completion client. No startup probe: the
// first query surfaces an unreachable server with a coded error.
func NewOllamaLLM(cfg OllamaLLMConfig) *OllamaLLM {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OllamaLLM{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}
}

// Generate completes a prompt synchronously.
func (o *OllamaLLM) Generate(ctx context.Context, prompt string) (string, error) {
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		return "", fmt.Errorf("llm client is closed")
	}
	o.mu.RUnlock()

	options := map[string]interface{}{
		"temperature": 0.2,
	}
	if o.config.MaxContextTokens > 0 {
		options["num_ctx"] = o.config.MaxContextTokens
	}
	if o.config.MaxResponseTokens > 0 {
		options["num_predict"] = o.config.MaxResponseTokens
	}

	reqBody, err := json.Marshal(ollamaGenerateRequest{
		Model:   o.config.Model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		o.config.Host+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return "", aerr.New(aerr.ErrCodeModelTimeout,
				fmt.Sprintf("model %s timed out after %s", o.config.Model, o.config.Timeout), err)
		}
		return "", aerr.New(aerr.ErrCodeModelCall,
			fmt.Sprintf("failed to call model %s", o.config.Model), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", aerr.New(aerr.ErrCodeModelCall,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", aerr.New(aerr.ErrCodeModelCall, "failed to decode model response", err)
	}
	return result.Response, nil
}

// ModelName returns the model identifier.
func (o *OllamaLLM) ModelName() string {
	return o.config.Model
}

// Close releases connections.
func (o *OllamaLLM) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	o.transport.CloseIdleConnections()
	return nil
}
