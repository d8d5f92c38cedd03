package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/lancet/api/schemas"
)

// geminiMaxBatch is the API's per-request input limit.
const geminiMaxBatch = 100

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder embeds text with a hosted Gemini embedding model.
type GeminiEmbedder struct {
	models         contentEmbedder
	model          string
	timeout        time.Duration
	backoffFactory func() backoff.BackOff
	logger         *zap.Logger
}

// NewGeminiEmbedder wraps the models service of an SDK client.
func NewGeminiEmbedder(client *genai.Client, model string, timeout time.Duration, logger *zap.Logger) (*GeminiEmbedder, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	return newGeminiEmbedder(client.Models, model, timeout, logger)
}

func newGeminiEmbedder(models contentEmbedder, model string, timeout time.Duration, logger *zap.Logger) (*GeminiEmbedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	return &GeminiEmbedder{
		models:  models,
		model:   model,
		timeout: timeout,
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = time.Minute
			return b
		},
		logger: logger.Named("embedder.gemini"),
	}, nil
}

func (g *GeminiEmbedder) Model() string { return g.model }

// Embed returns one vector per input text, in input order.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))
		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *GeminiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var vectors [][]float32
	operation := func() error {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		resp, err := g.models.EmbedContent(callCtx, g.model, contents, &genai.EmbedContentConfig{})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			g.logger.Warn("Embedding call failed, retrying", zap.Error(err))
			return err
		}
		if len(resp.Embeddings) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)))
		}
		vectors = make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			if e == nil || len(e.Values) == 0 {
				return backoff.Permanent(fmt.Errorf("empty embedding at position %d", i))
			}
			vectors[i] = e.Values
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(g.backoffFactory(), ctx)); err != nil {
		return nil, schemas.NewError(schemas.ErrKindRetrieval, "embed", err)
	}
	return vectors, nil
}
