package schemas

import (
	"context"
)

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is a single-shot text generator. No conversation state is kept
// between calls.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Embedding & Vector Search --

// Embedder turns text into fixed-dimension vectors. The output slice is
// aligned with the input slice.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the embedding model, used to key persisted vectors.
	Model() string
}

// Neighbor is one nearest-neighbour hit: the entry position and its distance.
type Neighbor struct {
	Index    int
	Distance float64
}

// VectorIndex answers k-nearest-neighbour queries over a fixed set of entries.
// Results are ordered by ascending distance.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	Size() int
}

// -- Graph Store --

// GraphStore executes one of the named query templates against the knowledge
// graph and returns the resulting rows.
//
//go:generate mockery --name GraphStore --output ../../internal/mocks --outpkg mocks
type GraphStore interface {
	Run(ctx context.Context, query QueryTemplate, params map[string]any) ([]Record, error)
	Close(ctx context.Context) error
}

// -- Analysis --

// Analyzer answers one raw request, either plain question text or a JSON
// Query. Failures are reported in Response.Error, never returned.
type Analyzer interface {
	Run(ctx context.Context, raw string) Response
}
