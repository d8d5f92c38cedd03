package embedding

import (
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
)

// New selects the embedding strategy from configuration. sdk is only needed
// for the gemini provider and may be nil otherwise.
func New(cfg config.EmbeddingConfig, sdk *genai.Client, logger *zap.Logger) (schemas.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiEmbedder(sdk, cfg.Model, cfg.Timeout, logger)
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, cfg.Timeout, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider '%s'. Supported: [%s, %s]", cfg.Provider, config.ProviderGemini, config.ProviderOllama)
	}
}
