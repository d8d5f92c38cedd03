// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	LLM() LLMConfig
	Embedding() EmbeddingConfig
	Graph() GraphConfig
	VectorIndex() VectorIndexConfig
	Cache() CacheConfig
	Retrieval() RetrievalConfig
	Reflection() ReflectionConfig
	Planning() PlanningConfig
	Execution() ExecutionConfig
	Dataset() DatasetConfig
	Server() ServerConfig

	// Setters used by CLI flag overrides.
	SetExecutionMaxRetries(int)
	SetReflectionSteps(int)
	SetRetrievalTopK(int)
	SetDatasetPath(string)
	SetServerAddr(string)
}

// Provider and backend identifiers.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"

	GraphNeo4j    = "neo4j"
	GraphPostgres = "postgres"
	GraphInMemory = "memory"

	IndexFlat     = "flat"
	IndexWeaviate = "weaviate"
)

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	LLMCfg         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	EmbeddingCfg   EmbeddingConfig   `mapstructure:"embedding" yaml:"embedding"`
	GraphCfg       GraphConfig       `mapstructure:"graph" yaml:"graph"`
	VectorIndexCfg VectorIndexConfig `mapstructure:"vector_index" yaml:"vector_index"`
	CacheCfg       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	RetrievalCfg   RetrievalConfig   `mapstructure:"retrieval" yaml:"retrieval"`
	ReflectionCfg  ReflectionConfig  `mapstructure:"reflection" yaml:"reflection"`
	PlanningCfg    PlanningConfig    `mapstructure:"planning" yaml:"planning"`
	ExecutionCfg   ExecutionConfig   `mapstructure:"execution" yaml:"execution"`
	DatasetCfg     DatasetConfig     `mapstructure:"dataset" yaml:"dataset"`
	ServerCfg      ServerConfig      `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) LLM() LLMConfig                 { return c.LLMCfg }
func (c *Config) Embedding() EmbeddingConfig     { return c.EmbeddingCfg }
func (c *Config) Graph() GraphConfig             { return c.GraphCfg }
func (c *Config) VectorIndex() VectorIndexConfig { return c.VectorIndexCfg }
func (c *Config) Cache() CacheConfig             { return c.CacheCfg }
func (c *Config) Retrieval() RetrievalConfig     { return c.RetrievalCfg }
func (c *Config) Reflection() ReflectionConfig   { return c.ReflectionCfg }
func (c *Config) Planning() PlanningConfig       { return c.PlanningCfg }
func (c *Config) Execution() ExecutionConfig     { return c.ExecutionCfg }
func (c *Config) Dataset() DatasetConfig         { return c.DatasetCfg }
func (c *Config) Server() ServerConfig           { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetExecutionMaxRetries(n int) { c.ExecutionCfg.MaxRetries = n }
func (c *Config) SetReflectionSteps(n int)     { c.ReflectionCfg.Steps = n }
func (c *Config) SetRetrievalTopK(k int)       { c.RetrievalCfg.TopK = k }
func (c *Config) SetDatasetPath(p string)      { c.DatasetCfg.Path = p }
func (c *Config) SetServerAddr(a string)       { c.ServerCfg.Addr = a }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMConfig configures the generation backend and its two model tiers.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	FastModel         string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel     string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxOutputTokens   int           `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxElapsed        time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
}

// EmbeddingConfig selects the embedding strategy.
type EmbeddingConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	BatchSize   int           `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	OllamaURL   string        `mapstructure:"ollama_url" yaml:"ollama_url"`
	OllamaModel string        `mapstructure:"ollama_model" yaml:"ollama_model"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// GraphConfig selects and configures the graph store.
type GraphConfig struct {
	Type         string        `mapstructure:"type" yaml:"type"`
	URI          string        `mapstructure:"uri" yaml:"uri"`
	User         string        `mapstructure:"user" yaml:"user"`
	Password     string        `mapstructure:"password" yaml:"-"`
	Database     string        `mapstructure:"database" yaml:"database"`
	PostgresURL  string        `mapstructure:"postgres_url" yaml:"-"`
	SeedFile     string        `mapstructure:"seed_file" yaml:"seed_file"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// VectorIndexConfig selects the nearest-neighbour backend.
type VectorIndexConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"`
	Weaviate WeaviateConfig `mapstructure:"weaviate" yaml:"weaviate"`
}

// WeaviateConfig holds the remote index connection settings.
type WeaviateConfig struct {
	Host   string `mapstructure:"host" yaml:"host"`
	Scheme string `mapstructure:"scheme" yaml:"scheme"`
	Class  string `mapstructure:"class" yaml:"class"`
	APIKey string `mapstructure:"api_key" yaml:"-"`
}

// CacheConfig controls on-disk persistence of entry embeddings.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// RetrievalConfig tunes initial retrieval and expansion.
type RetrievalConfig struct {
	TopK                int     `mapstructure:"top_k" yaml:"top_k"`
	ChunkSize           int     `mapstructure:"chunk_size" yaml:"chunk_size"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	LLMExpansionFilter  bool    `mapstructure:"llm_expansion_filter" yaml:"llm_expansion_filter"`
}

// ReflectionConfig tunes the reflection loop.
type ReflectionConfig struct {
	Steps int `mapstructure:"steps" yaml:"steps"`
	TopK  int `mapstructure:"top_k" yaml:"top_k"`
}

// PlanningConfig tunes plan generation.
type PlanningConfig struct {
	RenameValueDict bool `mapstructure:"rename_value_dict" yaml:"rename_value_dict"`
}

// ExecutionConfig tunes the plan executor.
type ExecutionConfig struct {
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	StepTimeout   time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ResultPreview int           `mapstructure:"result_preview" yaml:"result_preview"`
}

// DatasetConfig locates the tabular dataset.
type DatasetConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// NewDefaultConfig creates a new configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "lancet")
	v.SetDefault("logger.log_file", "lancet.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- LLM --
	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "2m")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_output_tokens", 8192)
	v.SetDefault("llm.requests_per_minute", 60)
	v.SetDefault("llm.max_elapsed", "2m")

	// -- Embedding --
	v.SetDefault("embedding.provider", ProviderGemini)
	v.SetDefault("embedding.model", "text-embedding-004")
	v.SetDefault("embedding.batch_size", 20)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.ollama_url", "http://localhost:11434")
	v.SetDefault("embedding.ollama_model", "all-minilm")
	v.SetDefault("embedding.timeout", "30s")

	// -- Graph --
	v.SetDefault("graph.type", GraphNeo4j)
	v.SetDefault("graph.uri", "neo4j://localhost:7687")
	v.SetDefault("graph.user", "neo4j")
	v.SetDefault("graph.password", "") // Should be set via env var
	v.SetDefault("graph.database", "")
	v.SetDefault("graph.query_timeout", "30s")

	// -- Vector Index --
	v.SetDefault("vector_index.type", IndexFlat)
	v.SetDefault("vector_index.weaviate.host", "localhost:8080")
	v.SetDefault("vector_index.weaviate.scheme", "http")
	v.SetDefault("vector_index.weaviate.class", "KGEntry")

	// -- Cache --
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", ".lancet-cache")
	v.SetDefault("cache.ttl", "168h")

	// -- Retrieval --
	v.SetDefault("retrieval.top_k", 20)
	v.SetDefault("retrieval.chunk_size", 10)
	v.SetDefault("retrieval.similarity_threshold", 0.35)
	v.SetDefault("retrieval.llm_expansion_filter", true)

	// -- Reflection --
	v.SetDefault("reflection.steps", 2)
	v.SetDefault("reflection.top_k", 5)

	// -- Planning --
	v.SetDefault("planning.rename_value_dict", true)

	// -- Execution --
	v.SetDefault("execution.max_retries", 1)
	v.SetDefault("execution.step_timeout", "30s")
	v.SetDefault("execution.result_preview", 2000)

	// -- Dataset --
	v.SetDefault("dataset.path", "data/data.csv")
	v.SetDefault("dataset.format", "csv")

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.request_timeout", "10m")
	v.SetDefault("server.shutdown_grace", "15s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("llm.api_key", "LANCET_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("graph.password", "LANCET_GRAPH_PASSWORD", "NEO4J_PASS")
	_ = v.BindEnv("graph.postgres_url", "LANCET_DATABASE_URL")
	_ = v.BindEnv("vector_index.weaviate.api_key", "LANCET_WEAVIATE_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up
	if cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = os.Getenv("LANCET_GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.RetrievalCfg.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be a positive integer")
	}
	if c.RetrievalCfg.ChunkSize <= 0 {
		return fmt.Errorf("retrieval.chunk_size must be a positive integer")
	}
	if c.RetrievalCfg.SimilarityThreshold < -1.0 || c.RetrievalCfg.SimilarityThreshold > 1.0 {
		return fmt.Errorf("retrieval.similarity_threshold must be between -1.0 and 1.0")
	}
	if c.ReflectionCfg.Steps < 0 {
		return fmt.Errorf("reflection.steps must not be negative")
	}
	if c.ReflectionCfg.TopK <= 0 {
		return fmt.Errorf("reflection.top_k must be a positive integer")
	}
	if c.ExecutionCfg.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries must not be negative")
	}
	if c.EmbeddingCfg.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be a positive integer")
	}
	if err := c.GraphCfg.Validate(); err != nil {
		return fmt.Errorf("graph configuration invalid: %w", err)
	}
	if err := c.VectorIndexCfg.Validate(); err != nil {
		return fmt.Errorf("vector_index configuration invalid: %w", err)
	}
	switch c.LLMCfg.Provider {
	case ProviderGemini:
	default:
		return fmt.Errorf("unsupported llm.provider '%s'", c.LLMCfg.Provider)
	}
	switch c.EmbeddingCfg.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("unsupported embedding.provider '%s'", c.EmbeddingCfg.Provider)
	}
	return nil
}

// Validate checks the graph store selection.
func (g *GraphConfig) Validate() error {
	switch g.Type {
	case GraphNeo4j:
		if g.URI == "" {
			return fmt.Errorf("uri is required for neo4j")
		}
	case GraphPostgres:
		if g.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for postgres (hint: set LANCET_DATABASE_URL)")
		}
	case GraphInMemory:
		if g.SeedFile == "" {
			return fmt.Errorf("seed_file is required for the in-memory graph")
		}
	default:
		return fmt.Errorf("unknown type '%s'", g.Type)
	}
	return nil
}

// Validate checks the vector index selection.
func (vi *VectorIndexConfig) Validate() error {
	switch vi.Type {
	case IndexFlat:
		return nil
	case IndexWeaviate:
		if vi.Weaviate.Host == "" || vi.Weaviate.Class == "" {
			return fmt.Errorf("weaviate.host and weaviate.class are required")
		}
		return nil
	default:
		return fmt.Errorf("unknown type '%s'", vi.Type)
	}
}
