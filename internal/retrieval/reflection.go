package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/llmutil"
)

// ContextFormatter renders a result set with its graph relationships.
type ContextFormatter interface {
	Format(ctx context.Context, rs schemas.ResultSet) (string, error)
}

const reflectionPrompt = `A user asked: "%s"

Current context from the knowledge graph:
%s

Column Context:
%s

Based on this context and the list of column names, which variables or values might still be missing to fully answer the question?
List just their names, one per line. If you're unsure, list none.`

// Reflector grows a result set by asking the LLM what is missing and
// retrieving each newly named term.
type Reflector struct {
	llm       schemas.LLMClient
	retriever *Retriever
	formatter ContextFormatter
	topK      int
	logger    *zap.Logger
}

// NewReflector creates a reflector retrieving topK entries per missing term.
func NewReflector(llm schemas.LLMClient, retriever *Retriever, formatter ContextFormatter, topK int, logger *zap.Logger) *Reflector {
	return &Reflector{llm: llm, retriever: retriever, formatter: formatter, topK: topK, logger: logger.Named("reflection")}
}

// Reflect runs steps rounds. The result only ever grows; steps <= 0 returns
// current unchanged. A round in which the LLM names nothing ends the loop.
func (r *Reflector) Reflect(ctx context.Context, query string, current schemas.ResultSet, columnContext string, steps int) (schemas.ResultSet, error) {
	for round := 0; round < steps; round++ {
		contextText, err := r.formatter.Format(ctx, current)
		if err != nil {
			return nil, err
		}

		reply, err := r.llm.Generate(ctx, schemas.GenerationRequest{
			UserPrompt: fmt.Sprintf(reflectionPrompt, query, contextText, columnContext),
			Tier:       schemas.TierFast,
		})
		if err != nil {
			return nil, schemas.NewError(schemas.ErrKindLLM, "reflect", err)
		}

		terms := llmutil.NonEmptyLines(reply)
		if len(terms) == 0 {
			r.logger.Debug("Reflection named nothing, stopping early", zap.Int("round", round+1))
			break
		}

		var extra schemas.ResultSet
		for _, term := range terms {
			if coveredBy(current, term) {
				continue
			}
			retrieved, err := r.retriever.Retrieve(ctx, term, r.topK)
			if err != nil {
				return nil, err
			}
			extra = Merge(extra, retrieved)
		}

		before := len(current)
		current = Merge(current, extra)
		r.logger.Info("Reflection round complete",
			zap.Int("round", round+1),
			zap.Int("terms", len(terms)),
			zap.Int("added", len(current)-before),
		)
	}
	return current, nil
}

// coveredBy reports whether term already occurs in any entry text.
func coveredBy(rs schemas.ResultSet, term string) bool {
	t := strings.ToLower(term)
	for _, r := range rs {
		if strings.Contains(strings.ToLower(r.Entry.Text), t) {
			return true
		}
	}
	return false
}
