package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/askdocs/askdocs/internal/config"
)

// NewEmbedder builds the configured embedder wrapped in a cache.
// Provider "ollama" falls back to the static embedder when the server is
// unreachable, with a warning; retrieval stays available.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig, llmTimeoutSec int) (Embedder, error) {
	var inner Embedder

	switch cfg.Provider {
	case "static":
		inner = NewStaticEmbedder()

	case "ollama":
		timeout := time.Duration(llmTimeoutSec) * time.Second
		ollama, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    timeout,
		})
		if err != nil {
			slog.Warn("ollama_embedder_unavailable",
				slog.String("host", cfg.OllamaHost),
				slog.String("model", cfg.Model),
				slog.String("error", err.Error()))
			inner = NewStaticEmbedder()
		} else {
			inner = ollama
		}

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	cached, err := NewCachedEmbedder(inner, 1024)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return cached, nil
}
