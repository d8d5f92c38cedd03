package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
	"github.com/xkilldash9x/lancet/internal/embedding"
	"github.com/xkilldash9x/lancet/internal/knowledgegraph"
	"github.com/xkilldash9x/lancet/internal/llmclient"
	"github.com/xkilldash9x/lancet/internal/retrieval"
	"github.com/xkilldash9x/lancet/internal/vectorindex"
)

// InitializeLLMClient creates the tiered LLM client from configuration.
func InitializeLLMClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llm, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llm, nil
}

// InitializeEmbedder creates the configured embedder. The gemini provider
// reuses the LLM API key.
func InitializeEmbedder(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.Embedder, error) {
	embCfg := cfg.Embedding()
	if embCfg.Provider != config.ProviderGemini {
		return embedding.New(embCfg, nil, logger)
	}
	sdk, err := llmclient.NewGenaiClient(ctx, cfg.LLM().APIKey, cfg.LLM().BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client for embeddings: %w", err)
	}
	return embedding.New(embCfg, sdk, logger)
}

// OpenCache opens the embedding cache, or returns nil when caching is off.
func OpenCache(cfg config.CacheConfig, logger *zap.Logger) (vectorindex.EmbeddingCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	c, err := vectorindex.OpenBadgerCache(cfg.Dir, cfg.TTL, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// IndexOptions tunes BuildIndex.
type IndexOptions struct {
	// Refresh re-embeds the corpus even when the cache has it.
	Refresh bool
	// Reindex rebuilds a remote index from scratch.
	Reindex bool
}

// BuiltIndex is the retrievable corpus: entries aligned with their vectors
// and the index searching them.
type BuiltIndex struct {
	Entries []schemas.Entry
	Index   schemas.VectorIndex
}

// BuildIndex reads every entry from the graph, embeds the entry texts (via
// the cache when available) and builds the configured vector index.
func BuildIndex(ctx context.Context, cfg config.Interface, graph *knowledgegraph.Client, embedder schemas.Embedder, cache vectorindex.EmbeddingCache, opts IndexOptions, logger *zap.Logger) (*BuiltIndex, error) {
	rows, err := graph.EntryRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph entries: %w", err)
	}
	entries := retrieval.BuildEntries(rows)
	if len(entries) == 0 {
		return nil, schemas.Errorf(schemas.ErrKindGraph, "entries", "the graph has no variables to index")
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}

	vectors, err := vectorindex.EmbedCorpus(ctx, texts, embedder, cache, vectorindex.CorpusOptions{
		BatchSize:   cfg.Embedding().BatchSize,
		Concurrency: cfg.Embedding().Concurrency,
		Refresh:     opts.Refresh,
	}, logger)
	if err != nil {
		return nil, err
	}

	index, err := vectorindex.New(ctx, cfg.VectorIndex(), texts, vectors, opts.Reindex, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build vector index: %w", err)
	}
	logger.Info("Vector index ready", zap.String("type", cfg.VectorIndex().Type), zap.Int("entries", len(entries)))
	return &BuiltIndex{Entries: entries, Index: index}, nil
}
