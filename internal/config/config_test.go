// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, 20, cfg.Retrieval().TopK)
	assert.Equal(t, 10, cfg.Retrieval().ChunkSize)
	assert.InDelta(t, 0.35, cfg.Retrieval().SimilarityThreshold, 1e-9)
	assert.Equal(t, 2, cfg.Reflection().Steps)
	assert.Equal(t, 5, cfg.Reflection().TopK)
	assert.Equal(t, 1, cfg.Execution().MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Execution().StepTimeout)
	assert.Equal(t, 20, cfg.Embedding().BatchSize)
	assert.Equal(t, GraphNeo4j, cfg.Graph().Type)
	assert.Equal(t, IndexFlat, cfg.VectorIndex().Type)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM().PowerfulModel)
	assert.Equal(t, 168*time.Hour, cfg.Cache().TTL)
	assert.True(t, cfg.Planning().RenameValueDict)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate(), "defaults should validate")

		invalidTopK := *cfg
		invalidTopK.RetrievalCfg.TopK = 0
		err := invalidTopK.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retrieval.top_k must be a positive integer")

		invalidThreshold := *cfg
		invalidThreshold.RetrievalCfg.SimilarityThreshold = 1.5
		err = invalidThreshold.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "similarity_threshold")

		negativeRetries := *cfg
		negativeRetries.ExecutionCfg.MaxRetries = -1
		err = negativeRetries.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "execution.max_retries must not be negative")

		zeroRetries := *cfg
		zeroRetries.ExecutionCfg.MaxRetries = 0
		assert.NoError(t, zeroRetries.Validate(), "zero retries is a valid budget")

		badEmbedder := *cfg
		badEmbedder.EmbeddingCfg.Provider = "word2vec"
		err = badEmbedder.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported embedding.provider")
	})

	t.Run("Graph Validation", func(t *testing.T) {
		tests := []struct {
			name    string
			cfg     GraphConfig
			wantErr string
		}{
			{"neo4j ok", GraphConfig{Type: GraphNeo4j, URI: "neo4j://h:7687"}, ""},
			{"neo4j missing uri", GraphConfig{Type: GraphNeo4j}, "uri is required"},
			{"postgres missing url", GraphConfig{Type: GraphPostgres}, "LANCET_DATABASE_URL"},
			{"postgres ok", GraphConfig{Type: GraphPostgres, PostgresURL: "postgres://x"}, ""},
			{"memory missing seed", GraphConfig{Type: GraphInMemory}, "seed_file is required"},
			{"unknown", GraphConfig{Type: "arangodb"}, "unknown type"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.cfg.Validate()
				if tt.wantErr == "" {
					assert.NoError(t, err)
					return
				}
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})

	t.Run("Vector Index Validation", func(t *testing.T) {
		ok := VectorIndexConfig{Type: IndexWeaviate, Weaviate: WeaviateConfig{Host: "h:8080", Class: "KGEntry"}}
		assert.NoError(t, ok.Validate())

		missing := VectorIndexConfig{Type: IndexWeaviate}
		assert.Error(t, missing.Validate())

		unknown := VectorIndexConfig{Type: "faiss"}
		assert.Error(t, unknown.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
retrieval:
  top_k: 8
execution:
  max_retries: 2
graph:
  type: memory
  seed_file: testdata/graph.yaml
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.Retrieval().TopK)
		assert.Equal(t, 2, cfg.Execution().MaxRetries)
		assert.Equal(t, GraphInMemory, cfg.Graph().Type)
		// Check a default value was also loaded
		assert.Equal(t, 5, cfg.Reflection().TopK)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("reflection.top_k", 0) // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "reflection.top_k must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("graph.type", GraphPostgres)

		yamlConfig := []byte(`
graph:
  postgres_url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		t.Setenv("LANCET_GEMINI_API_KEY", "env-gemini-key")
		t.Setenv("LANCET_GRAPH_PASSWORD", "securepassword123")
		t.Setenv("LANCET_DATABASE_URL", "postgres://envvar/db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "env-gemini-key", cfg.LLM().APIKey)
		assert.Equal(t, "securepassword123", cfg.Graph().Password)
		// The env var overrides the value from the config buffer.
		assert.Equal(t, "postgres://envvar/db", cfg.Graph().PostgresURL)
	})
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetExecutionMaxRetries(0)
	cfg.SetReflectionSteps(3)
	cfg.SetRetrievalTopK(7)
	cfg.SetDatasetPath("/tmp/cohort.csv")
	cfg.SetServerAddr("127.0.0.1:9000")

	assert.Equal(t, 0, cfg.Execution().MaxRetries)
	assert.Equal(t, 3, cfg.Reflection().Steps)
	assert.Equal(t, 7, cfg.Retrieval().TopK)
	assert.Equal(t, "/tmp/cohort.csv", cfg.Dataset().Path)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server().Addr)
}
