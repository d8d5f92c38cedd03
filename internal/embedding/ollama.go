package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder embeds text with a locally served model.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client
	logger *zap.Logger
}

// NewOllamaEmbedder points at an Ollama server root, e.g. http://localhost:11434.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration, logger *zap.Logger) (*OllamaEmbedder, error) {
	if baseURL == "" || model == "" {
		return nil, fmt.Errorf("ollama url and model are required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		url:    strings.TrimRight(baseURL, "/") + "/api/embed",
		model:  model,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("embedder.ollama"),
	}, nil
}

func (o *OllamaEmbedder) Model() string { return o.model }

// Embed sends all texts in one request; /api/embed accepts an input array.
func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := o.call(ctx, texts)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindRetrieval, "embed", err)
	}
	return vecs, nil
}

func (o *OllamaEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedReq{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaEmbedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed service returned %d vectors for %d inputs", len(parsed.Embeddings), len(texts))
	}
	for i, v := range parsed.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("embed service returned empty vector at position %d", i)
		}
	}
	o.logger.Debug("Embedded batch", zap.Int("count", len(texts)))
	return parsed.Embeddings, nil
}
