package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/dataset"
	"github.com/xkilldash9x/lancet/internal/knowledgegraph"
	"github.com/xkilldash9x/lancet/internal/vectorindex"
)

// Components holds the long-lived services behind every analysis request
// and owns their shutdown order.
type Components struct {
	LLM           schemas.LLMClient
	Embedder      schemas.Embedder
	Graph         *knowledgegraph.Client
	Entries       []schemas.Entry
	Index         schemas.VectorIndex
	Frame         *dataset.Frame
	ColumnContext string
	Pipeline      schemas.Analyzer

	cache  vectorindex.EmbeddingCache
	logger *zap.Logger
}

// Shutdown releases resources in reverse order of creation. It is safe to
// call on partially initialized components.
func (c *Components) Shutdown(ctx context.Context) {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. The embedding cache holds a directory lock.
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			logger.Warn("Error closing embedding cache.", zap.Error(err))
		} else {
			logger.Debug("Embedding cache closed.")
		}
	}

	// 2. Graph connections.
	if c.Graph != nil {
		if err := c.Graph.Close(ctx); err != nil {
			logger.Warn("Error closing graph store.", zap.Error(err))
		} else {
			logger.Debug("Graph store closed.")
		}
	}

	// 3. LLM clients.
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		} else {
			logger.Debug("LLM client closed.")
		}
	}

	logger.Info("All components shut down.")
}
