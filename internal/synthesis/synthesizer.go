package synthesis

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const answerPrompt = `You are a biomedical assistant using a knowledge graph to help answer user queries.

User's question: "%s"

Mode: %s
%s
Relevant variables/values from the graph and connections:
%s

--- Dataset Column Context (Use these exactly) ---
%s

Please:
1) Identify which variables/values are relevant to the query.
2) Group them logically.
3) Summarize how we might filter or join data to answer the question.
4) Remember that only the number is the key (e.g., "cardiaccomorbidity1 == 1" NOT "cardiaccomorbidity1 == 1 - Coronary Artery Disease")
5) Use the column context to correct the spelling (e.g., "Cardiaccomorbidity1" = "cardiaccomorbidity1")
6) The last thing in the output should be an array of all variables that will be used during the steps. Confirm they have the same spelling as the column context.

Provide a concise yet complete explanation.`

const picotBlock = `
(PICOT format)
- Population: %s
- Intervention: %s
- Control: %s
- Outcome: %s
- Timeframe: %s
`

const renamePrompt = `You are an assistant that corrects variable names in a JSON object to match column names in a dataset.

Here is the list of column names (case and spelling must match exactly):
%s

Here is a JSON object where the keys are variable names, and the values are lists of category labels:
%s

Your task:
- Match each key to the most likely column name from the column list.
- Replace the key with the correct column name from the list.
- Do NOT modify the values.
- Do NOT invent new columns; only use exact matches from the list.
- Preserve the structure.
- Return only the corrected object as valid JSON. No explanation.`

const summaryPrompt = `You are a biomedical assistant. Based on the following user query and the final detailed response, summarize the final conclusion into a single, clear sentence.

User query:
"%s"

Final synthesized answer:
%s

Respond with only the final answer as a natural-language sentence. Do not include any extra commentary.`

// Synthesizer wraps the single-shot LLM prompts that bracket planning: the
// reasoning answer, the value dictionary rename and the final summary.
type Synthesizer struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(llm schemas.LLMClient, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{llm: llm, logger: logger.Named("synthesis")}
}

// Answer asks for a free-text reasoning answer ending in a variable list.
// The reply is returned verbatim.
func (s *Synthesizer) Answer(ctx context.Context, query, contextText, columnContext, mode string, picot schemas.PICOT) (string, error) {
	var picotText string
	if !picot.IsEmpty() {
		picotText = fmt.Sprintf(picotBlock, picot.Population, picot.Intervention, picot.Control, picot.Outcome, picot.Timeframe)
	}
	if mode == "" {
		mode = "default"
	}
	reply, err := s.llm.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(answerPrompt, query, mode, picotText, contextText, columnContext),
		Tier:       schemas.TierPowerful,
	})
	if err != nil {
		return "", schemas.NewError(schemas.ErrKindLLM, "answer", err)
	}
	return reply, nil
}

// ExtractVariables returns the names in the first bracketed list of text,
// or nil when there is none.
func ExtractVariables(text string) []string {
	return llmutil.ExtractBracketList(text)
}

// RenameValueDict asks the LLM to rename the keys of values to exact column
// spellings. Unparseable output yields an empty map rather than an error.
func (s *Synthesizer) RenameValueDict(ctx context.Context, values map[string][]string, columnContext string) (map[string][]string, error) {
	raw, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal value dictionary: %w", err)
	}
	reply, err := s.llm.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(renamePrompt, columnContext, raw),
		Tier:       schemas.TierFast,
		Options:    schemas.GenerationOptions{ForceJSONFormat: true},
	})
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindLLM, "rename value dictionary", err)
	}

	renamed, err := llmutil.ParseJSONResponse[map[string][]string](reply)
	if err != nil || renamed == nil || *renamed == nil {
		s.logger.Warn("Failed to parse renamed value dictionary", zap.Error(err))
		return map[string][]string{}, nil
	}
	return *renamed, nil
}

// Summarize condenses the narrative into one sentence.
func (s *Synthesizer) Summarize(ctx context.Context, narrative, query string) (string, error) {
	reply, err := s.llm.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(summaryPrompt, query, narrative),
		Tier:       schemas.TierFast,
	})
	if err != nil {
		return "", schemas.NewError(schemas.ErrKindLLM, "summarize", err)
	}
	return strings.TrimSpace(reply), nil
}
