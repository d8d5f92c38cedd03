package vectorindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/embedding"
	"github.com/xkilldash9x/lancet/internal/observability"
)

// CorpusOptions tunes EmbedCorpus.
type CorpusOptions struct {
	BatchSize   int
	Concurrency int
	// Refresh ignores cached vectors and re-embeds everything.
	Refresh bool
}

// EmbedCorpus returns one vector per text, aligned with texts. Cached vectors
// are used when the whole corpus is present; otherwise the corpus is embedded
// and the result saved. Cache failures are logged and never fatal.
func EmbedCorpus(ctx context.Context, texts []string, e schemas.Embedder, cache EmbeddingCache, opts CorpusOptions, logger *zap.Logger) ([][]float32, error) {
	hash := CorpusHash(texts, e.Model())

	if cache != nil && !opts.Refresh {
		cached, err := cache.Load(ctx, hash)
		if err != nil {
			logger.Warn("Embedding cache load failed, re-embedding", zap.Error(err))
		}
		if vecs, ok := alignCached(texts, cached); ok {
			observability.RecordCacheLookup(true)
			logger.Info("Loaded entry embeddings from cache", zap.Int("entries", len(vecs)), zap.String("hash", shortHash(hash)))
			return vecs, nil
		}
		observability.RecordCacheLookup(false)
	}

	logger.Info("Embedding entries", zap.Int("entries", len(texts)), zap.String("model", e.Model()))
	vecs, err := embedding.EmbedBatched(ctx, e, texts, opts.BatchSize, opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}

	if cache != nil {
		toSave := make(map[string][]float32, len(texts))
		for i, t := range texts {
			toSave[t] = vecs[i]
		}
		if err := cache.Save(ctx, hash, toSave); err != nil {
			logger.Warn("Failed to persist entry embeddings", zap.Error(err))
		}
	}
	return vecs, nil
}

func alignCached(texts []string, cached map[string][]float32) ([][]float32, bool) {
	if len(cached) == 0 {
		return nil, false
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := cached[t]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
