package vectorindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
)

// New builds the configured index over the given entry texts and vectors.
// reindex forces a remote index to be rebuilt from vectors.
func New(ctx context.Context, cfg config.VectorIndexConfig, texts []string, vectors [][]float32, reindex bool, logger *zap.Logger) (schemas.VectorIndex, error) {
	switch cfg.Type {
	case config.IndexFlat, "":
		return NewFlatIndex(vectors)
	case config.IndexWeaviate:
		idx, err := NewWeaviateIndex(cfg.Weaviate, len(texts), logger)
		if err != nil {
			return nil, err
		}
		if err := idx.Ingest(ctx, texts, vectors, reindex); err != nil {
			return nil, fmt.Errorf("weaviate ingest: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown vector index type '%s'", cfg.Type)
	}
}
