// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) LLM() config.LLMConfig {
	args := m.Called()
	return args.Get(0).(config.LLMConfig)
}

func (m *MockConfig) Embedding() config.EmbeddingConfig {
	args := m.Called()
	return args.Get(0).(config.EmbeddingConfig)
}

func (m *MockConfig) Graph() config.GraphConfig {
	args := m.Called()
	return args.Get(0).(config.GraphConfig)
}

func (m *MockConfig) VectorIndex() config.VectorIndexConfig {
	args := m.Called()
	return args.Get(0).(config.VectorIndexConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	args := m.Called()
	return args.Get(0).(config.CacheConfig)
}

func (m *MockConfig) Retrieval() config.RetrievalConfig {
	args := m.Called()
	return args.Get(0).(config.RetrievalConfig)
}

func (m *MockConfig) Reflection() config.ReflectionConfig {
	args := m.Called()
	return args.Get(0).(config.ReflectionConfig)
}

func (m *MockConfig) Planning() config.PlanningConfig {
	args := m.Called()
	return args.Get(0).(config.PlanningConfig)
}

func (m *MockConfig) Execution() config.ExecutionConfig {
	args := m.Called()
	return args.Get(0).(config.ExecutionConfig)
}

func (m *MockConfig) Dataset() config.DatasetConfig {
	args := m.Called()
	return args.Get(0).(config.DatasetConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

// --- Setters ---

func (m *MockConfig) SetExecutionMaxRetries(n int) { m.Called(n) }
func (m *MockConfig) SetReflectionSteps(n int)     { m.Called(n) }
func (m *MockConfig) SetRetrievalTopK(k int)       { m.Called(k) }
func (m *MockConfig) SetDatasetPath(p string)      { m.Called(p) }
func (m *MockConfig) SetServerAddr(a string)       { m.Called(a) }

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Scripted LLM --

// Rule answers any prompt containing Match. Err, when set, is returned
// instead of Reply.
type Rule struct {
	Match string
	Reply string
	Err   error
}

// ScriptedLLM is a deterministic LLMClient for multi-call flows where
// ordering expectations on a mock would be brittle. The first rule whose
// Match occurs in the user prompt wins; unmatched prompts get Default.
type ScriptedLLM struct {
	Rules   []Rule
	Default string

	mu      sync.Mutex
	prompts []string
}

func (s *ScriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, req.UserPrompt)
	s.mu.Unlock()

	for _, r := range s.Rules {
		if strings.Contains(req.UserPrompt, r.Match) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Reply, nil
		}
	}
	return s.Default, nil
}

func (s *ScriptedLLM) Close() error { return nil }

// Prompts returns every user prompt seen so far, in call order.
func (s *ScriptedLLM) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// CountMatching counts prompts containing substr.
func (s *ScriptedLLM) CountMatching(substr string) int {
	n := 0
	for _, p := range s.Prompts() {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

// -- Embedder Mock --

// MockEmbedder mocks the schemas.Embedder interface.
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if v := args.Get(0); v != nil {
		return v.([][]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEmbedder) Model() string {
	return m.Called().String(0)
}

// KeywordEmbedder embeds text as a bag-of-keywords vector: dimension i is 1
// when Keywords[i] occurs in the lower-cased text. Texts sharing keywords
// end up close under both L2 and cosine.
type KeywordEmbedder struct {
	Keywords []string
}

func (k *KeywordEmbedder) Model() string { return "keyword" }

func (k *KeywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		vec := make([]float32, len(k.Keywords)+1)
		vec[len(k.Keywords)] = 0.01
		for j, kw := range k.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				vec[j] = 1
			}
		}
		out[i] = vec
	}
	return out, nil
}

// -- Vector Index Mock --

// MockVectorIndex mocks the schemas.VectorIndex interface.
type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) Search(ctx context.Context, query []float32, k int) ([]schemas.Neighbor, error) {
	args := m.Called(ctx, query, k)
	if v := args.Get(0); v != nil {
		return v.([]schemas.Neighbor), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockVectorIndex) Size() int {
	return m.Called().Int(0)
}

// -- Graph Store Mock --

// MockGraphStore mocks the schemas.GraphStore interface.
type MockGraphStore struct {
	mock.Mock
}

func (m *MockGraphStore) Run(ctx context.Context, query schemas.QueryTemplate, params map[string]any) ([]schemas.Record, error) {
	args := m.Called(ctx, query, params)
	if v := args.Get(0); v != nil {
		return v.([]schemas.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGraphStore) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
