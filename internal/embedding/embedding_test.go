package embedding

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// fakeContentEmbedder returns a vector whose first component is the input length.
type fakeContentEmbedder struct {
	calls int
	errs  []error
}

func (f *fakeContentEmbedder) EmbedContent(_ context.Context, _ string, contents []*genai.Content, _ *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	resp := &genai.EmbedContentResponse{}
	for _, c := range contents {
		resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{
			Values: []float32{float32(len(c.Parts[0].Text)), 1},
		})
	}
	return resp, nil
}

// lengthEmbedder is an in-process Embedder keyed on text length.
type lengthEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	failOn  string
}

func (l *lengthEmbedder) Model() string { return "length" }

func (l *lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	l.mu.Lock()
	l.batches = append(l.batches, texts)
	l.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == l.failOn {
			return nil, errors.New("boom")
		}
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestGeminiEmbedder(t *testing.T) {
	fake := &fakeContentEmbedder{}
	e, err := newGeminiEmbedder(fake, "text-embedding-004", time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-004", e.Model())

	vecs, err := e.Embed(context.Background(), []string{"a", "abc"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
}

func TestGeminiEmbedder_SplitsLargeInputs(t *testing.T) {
	fake := &fakeContentEmbedder{}
	e, err := newGeminiEmbedder(fake, "m", 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	texts := make([]string, geminiMaxBatch+5)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	vecs, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, len(texts))
	assert.Equal(t, 2, fake.calls)
	assert.Equal(t, float32(len(texts)), vecs[len(texts)-1][0])
}

func TestGeminiEmbedder_RetryThenFail(t *testing.T) {
	fake := &fakeContentEmbedder{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	e, err := newGeminiEmbedder(fake, "m", 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	e.backoffFactory = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1) }

	_, err = e.Embed(context.Background(), []string{"q"})
	require.Error(t, err)
	assert.Equal(t, schemas.ErrKindRetrieval, schemas.KindOf(err))
	assert.Equal(t, 2, fake.calls)
}

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req ollamaEmbedReq
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "all-minilm", req.Model)

		resp := ollamaEmbedResp{}
		for _, in := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(len(in)), 0.5})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(server.URL+"/", "all-minilm", time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 0.5}, {4, 0.5}}, vecs)

	empty, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(server.URL, "missing", time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrRetrieval))
	assert.Contains(t, err.Error(), "404")
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestEmbedBatched_PreservesOrder(t *testing.T) {
	e := &lengthEmbedder{}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	vecs, err := EmbedBatched(context.Background(), e, texts, 2, 3)
	require.NoError(t, err)
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Len(t, e.batches, 3)
}

func TestEmbedBatched_PropagatesError(t *testing.T) {
	e := &lengthEmbedder{failOn: "ccc"}
	_, err := EmbedBatched(context.Background(), e, []string{"a", "bb", "ccc"}, 1, 2)
	assert.Error(t, err)
}

func TestEmbedOne(t *testing.T) {
	v, err := EmbedOne(context.Background(), &lengthEmbedder{}, "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4}, v)
}

func TestNew(t *testing.T) {
	logger := zaptest.NewLogger(t)

	e, err := New(config.EmbeddingConfig{Provider: config.ProviderOllama, OllamaURL: "http://localhost:11434", OllamaModel: "all-minilm"}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &OllamaEmbedder{}, e)

	_, err = New(config.EmbeddingConfig{Provider: config.ProviderGemini, Model: "m"}, nil, logger)
	assert.Error(t, err, "gemini requires an SDK client")

	_, err = New(config.EmbeddingConfig{Provider: "word2vec"}, nil, logger)
	assert.ErrorContains(t, err, "unknown embedding provider")
}
