// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
	"github.com/xkilldash9x/lancet/internal/observability"
)

// contentGenerator is the slice of *genai.Models the client depends on.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient for one Gemini model.
type GeminiClient struct {
	models         contentGenerator
	model          string
	config         config.LLMConfig
	limiter        *rate.Limiter
	backoffFactory func() backoff.BackOff
	logger         *zap.Logger
}

// NewGenaiClient builds the shared SDK client. BaseURL overrides the API
// endpoint, which is how tests and proxies redirect traffic.
func NewGenaiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	return genai.NewClient(ctx, cc)
}

// NewGeminiClient wraps an SDK client for a single model. The limiter may be
// shared between clients so both tiers draw from one quota.
func NewGeminiClient(client *genai.Client, model string, cfg config.LLMConfig, limiter *rate.Limiter, logger *zap.Logger) (*GeminiClient, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	return newGeminiClient(client.Models, model, cfg, limiter, logger)
}

func newGeminiClient(models contentGenerator, model string, cfg config.LLMConfig, limiter *rate.Limiter, logger *zap.Logger) (*GeminiClient, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if limiter == nil {
		limiter = NewLimiter(cfg.RequestsPerMinute)
	}
	maxElapsed := cfg.MaxElapsed
	return &GeminiClient{
		models:  models,
		model:   model,
		config:  cfg,
		limiter: limiter,
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			b.MaxInterval = 30 * time.Second
			return b
		},
		logger: logger.Named("llm_client.gemini").With(zap.String("model", model)),
	}, nil
}

// NewLimiter converts a per-minute budget into a token bucket. A non-positive
// budget disables limiting.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// Generate sends the prompts to Gemini and returns the generated text,
// retrying transient failures with exponential backoff.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}
	genConfig := c.buildGenerationConfig(req)

	var text string
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx := ctx
		if c.config.APITimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.config.APITimeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := c.models.GenerateContent(callCtx, c.model, contents, genConfig)
		duration := time.Since(start)
		if err != nil {
			observability.RecordLLMCall(c.model, err, duration, 0, 0)
			return c.classifyError(err)
		}

		var promptTokens, outputTokens int
		if resp.UsageMetadata != nil {
			promptTokens = int(resp.UsageMetadata.PromptTokenCount)
			outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		if len(resp.Candidates) == 0 {
			err := fmt.Errorf("gemini API returned no candidates")
			observability.RecordLLMCall(c.model, err, duration, promptTokens, outputTokens)
			return backoff.Permanent(err)
		}
		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
				err := fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason)
				observability.RecordLLMCall(c.model, err, duration, promptTokens, outputTokens)
				return backoff.Permanent(err)
			}
			err := fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
			observability.RecordLLMCall(c.model, err, duration, promptTokens, outputTokens)
			return err
		}

		observability.RecordLLMCall(c.model, nil, duration, promptTokens, outputTokens)
		c.logger.Debug("LLM generation complete",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", promptTokens),
			zap.Int("completion_tokens", outputTokens),
		)
		text = resp.Text()
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return "", schemas.NewError(schemas.ErrKindLLM, "generate", err)
	}
	return text, nil
}

// Close is a no-op; the SDK client owns no closable resources.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) buildGenerationConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = c.config.Temperature
	}
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if c.config.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = int32(c.config.MaxOutputTokens)
	}
	if req.Options.TopP > 0 {
		gc.TopP = genai.Ptr(float32(req.Options.TopP))
	}
	if req.Options.TopK > 0 {
		gc.TopK = genai.Ptr(float32(req.Options.TopK))
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

// classifyError marks everything except throttling, server faults and
// timeouts as permanent.
func (c *GeminiClient) classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("LLM call timed out, retrying", zap.Error(err))
		return err
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		c.logger.Warn("Network error during LLM request, retrying", zap.Error(err))
		return err
	}

	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		c.logger.Warn("Transient Gemini API error, retrying", zap.Int("status", code), zap.Error(err))
		return err
	default:
		c.logger.Error("Gemini API returned error status", zap.Int("status", code), zap.Error(err))
		return backoff.Permanent(err)
	}
}
