// Package retrieval finds the graph entries relevant to a question: vector
// similarity search, LLM-driven reflection rounds and graph expansion.
package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/embedding"
	"github.com/xkilldash9x/lancet/internal/knowledgegraph"
)

// BuildEntries turns data dictionary rows into retrievable entries. A row
// with a value label yields a value entry, unique per (variable, value); a
// row without one yields a variable entry, unique per variable.
func BuildEntries(rows []knowledgegraph.EntryRow) []schemas.Entry {
	type pair struct{ variable, value string }
	seenValues := make(map[pair]bool)
	seenVars := make(map[string]bool)

	var entries []schemas.Entry
	for _, r := range rows {
		if r.ValueLabel != "" {
			key := pair{r.VarName, r.ValueLabel}
			if seenValues[key] {
				continue
			}
			seenValues[key] = true
			entries = append(entries, schemas.NewValueEntry(r.VarName, r.ValueLabel, r.Category))
			continue
		}
		if seenVars[r.VarName] {
			continue
		}
		seenVars[r.VarName] = true
		entries = append(entries, schemas.NewVariableEntry(r.VarName, r.Description, r.Category))
	}
	return entries
}

// Retriever answers nearest-entry queries against a fixed entry set. The
// index positions line up with entries. Safe for concurrent use when the
// embedder and index are.
type Retriever struct {
	embedder schemas.Embedder
	index    schemas.VectorIndex
	entries  []schemas.Entry
	logger   *zap.Logger
}

// NewRetriever creates a retriever over entries indexed by index.
func NewRetriever(embedder schemas.Embedder, index schemas.VectorIndex, entries []schemas.Entry, logger *zap.Logger) *Retriever {
	return &Retriever{embedder: embedder, index: index, entries: entries, logger: logger.Named("retriever")}
}

// Entries returns the entry universe.
func (r *Retriever) Entries() []schemas.Entry { return r.entries }

// Retrieve embeds query and returns up to topK entries by ascending distance.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) (schemas.ResultSet, error) {
	if r.index.Size() == 0 || len(r.entries) == 0 {
		return nil, schemas.Errorf(schemas.ErrKindRetrieval, "retrieve", "vector index is empty")
	}

	vec, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindRetrieval, "retrieve", err)
	}
	neighbors, err := r.index.Search(ctx, vec, topK)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindRetrieval, "retrieve", err)
	}

	results := make(schemas.ResultSet, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Index < 0 || n.Index >= len(r.entries) {
			return nil, schemas.Errorf(schemas.ErrKindRetrieval, "retrieve", "index returned position %d outside %d entries", n.Index, len(r.entries))
		}
		results = append(results, schemas.ScoredResult{Entry: r.entries[n.Index], Score: n.Distance})
	}
	r.logger.Debug("Retrieved entries", zap.String("query", query), zap.Int("top_k", topK), zap.Int("results", len(results)))
	return results, nil
}

// Merge returns existing followed by each incoming result whose lower-cased
// text is not yet present. Neither input is modified.
func Merge(existing, incoming schemas.ResultSet) schemas.ResultSet {
	combined := make(schemas.ResultSet, len(existing), len(existing)+len(incoming))
	copy(combined, existing)

	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Entry.Key()] = struct{}{}
	}
	for _, r := range incoming {
		key := r.Entry.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		combined = append(combined, r)
	}
	return combined
}

// Chunk splits rs into consecutive batches of at most size results.
func Chunk(rs schemas.ResultSet, size int) []schemas.ResultSet {
	if size <= 0 {
		size = len(rs)
	}
	var chunks []schemas.ResultSet
	for start := 0; start < len(rs); start += size {
		chunks = append(chunks, rs[start:min(start+size, len(rs))])
	}
	return chunks
}
