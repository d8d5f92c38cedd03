package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/embedding"
	"github.com/xkilldash9x/lancet/internal/knowledgegraph"
	"github.com/xkilldash9x/lancet/internal/llmutil"
)

// ExpansionScore is the fixed score of every expansion result. It is a
// sentinel, not a distance.
const ExpansionScore = 1.0

// NeighborSource looks up the related (variable, value) pairs of a variable.
type NeighborSource interface {
	RelatedVariableValues(ctx context.Context, varName string) ([]knowledgegraph.RelatedValue, error)
}

const expansionFilterPrompt = `A user asked: "%s"

We have the following potential expansions:
%s

Please list the lines (by exact text) that you believe are relevant to the query
(or say 'none' if none are relevant).`

// ExpanderOptions tunes embedding batches and the LLM filter.
type ExpanderOptions struct {
	BatchSize   int
	Concurrency int
	ChunkSize   int
}

// Expander walks one hop out from a variable and keeps the related values
// whose text is similar enough to the question.
type Expander struct {
	graph    NeighborSource
	embedder schemas.Embedder
	llm      schemas.LLMClient
	opts     ExpanderOptions
	logger   *zap.Logger
}

// NewExpander creates an expander. llm is only needed by FilterWithLLM.
func NewExpander(graph NeighborSource, embedder schemas.Embedder, llm schemas.LLMClient, opts ExpanderOptions, logger *zap.Logger) *Expander {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10
	}
	return &Expander{graph: graph, embedder: embedder, llm: llm, opts: opts, logger: logger.Named("expansion")}
}

// Expand returns the related values of variableName with cosine similarity
// to query of at least threshold, in graph order, each scored ExpansionScore.
func (e *Expander) Expand(ctx context.Context, variableName, query string, threshold float64) (schemas.ResultSet, error) {
	related, err := e.graph.RelatedVariableValues(ctx, variableName)
	if err != nil {
		return nil, err
	}
	if len(related) == 0 {
		return nil, nil
	}

	entries := make([]schemas.Entry, len(related))
	texts := make([]string, len(related))
	for i, rv := range related {
		entries[i] = schemas.NewExpandedValueEntry(rv.Variable, rv.Value)
		texts[i] = entries[i].Text
	}

	queryVec, err := embedding.EmbedOne(ctx, e.embedder, query)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindRetrieval, "expand", err)
	}
	vecs, err := embedding.EmbedBatched(ctx, e.embedder, texts, e.opts.BatchSize, e.opts.Concurrency)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindRetrieval, "expand", err)
	}

	var kept schemas.ResultSet
	for i, v := range vecs {
		if embedding.Cosine(queryVec, v) >= threshold {
			kept = append(kept, schemas.ScoredResult{Entry: entries[i], Score: ExpansionScore})
		}
	}
	e.logger.Debug("Expanded variable",
		zap.String("variable", variableName),
		zap.Int("candidates", len(related)),
		zap.Int("kept", len(kept)),
	)
	return kept, nil
}

// FilterWithLLM asks the LLM, one chunk at a time, which expansions matter
// for query. An expansion survives when its text occurs in any returned line.
func (e *Expander) FilterWithLLM(ctx context.Context, query string, expansions schemas.ResultSet) (schemas.ResultSet, error) {
	var selected schemas.ResultSet
	for _, chunk := range Chunk(expansions, e.opts.ChunkSize) {
		var sb strings.Builder
		for i, r := range chunk {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString("- ")
			sb.WriteString(r.Entry.Text)
		}

		reply, err := e.llm.Generate(ctx, schemas.GenerationRequest{
			UserPrompt: fmt.Sprintf(expansionFilterPrompt, query, sb.String()),
			Tier:       schemas.TierFast,
		})
		if err != nil {
			return nil, schemas.NewError(schemas.ErrKindLLM, "filter expansions", err)
		}

		var lines []string
		for _, l := range llmutil.NonEmptyLines(reply) {
			lines = append(lines, strings.TrimSpace(strings.Trim(l, "- ")))
		}
		for _, r := range chunk {
			for _, l := range lines {
				if strings.Contains(l, r.Entry.Text) {
					selected = append(selected, r)
					break
				}
			}
		}
	}
	e.logger.Debug("Filtered expansions", zap.Int("in", len(expansions)), zap.Int("out", len(selected)))
	return selected, nil
}
