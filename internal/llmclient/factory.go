package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
)

// NewClient builds the tiered LLM client selected by configuration. Both
// tiers share one SDK client and one rate limiter.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		sdk, err := NewGenaiClient(ctx, cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create genai client: %w", err)
		}
		limiter := NewLimiter(cfg.RequestsPerMinute)
		fast, err := NewGeminiClient(sdk, cfg.FastModel, cfg, limiter, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create fast tier client: %w", err)
		}
		powerful, err := NewGeminiClient(sdk, cfg.PowerfulModel, cfg, limiter, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
		}
		return NewLLMRouter(logger, fast, powerful)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
