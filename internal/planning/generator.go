// Package planning turns a free-text reasoning answer into an ordered list
// of executable analysis steps.
package planning

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const planPrompt = `You are an assistant generating a structured plan to analyze biomedical patient data held in a lazily evaluated data frame named df.

Below is:
1. A reasoning analysis of how to answer the user's question.
2. The actual column names available in the dataset.
3. The coded values known for the relevant variables.

--- Reasoning Analysis ---
%s

--- Dataset Column Context (Use these exactly) ---
%s

--- Known Values by Variable ---
%s

--- User Query ---
%s

Your task:
Output a JSON array of steps to be executed against the data frame.
Each step must include:
- "name": short identifier, unique within the plan
- "description": what the step does
- "instruction": natural language instruction describing the query/filter logic
- The instruction should contain a list of the variables needed to perform the step (e.g. [operativedeath, bmi])
- The instruction variables must ALL match the spelling from the Dataset Column Context
- Each step should only talk about that step and not the previous or following step UNLESS the information is relevant
- Be explicit in your filters and use the numeric code for the value (e.g., "cardiaccomorbidity1 == 1" NOT "cardiaccomorbidity1 == 1 - Coronary Artery Disease")
- The above applies to ALL column/value pairs: it is never "1 - valuename", always just the number that is the key
- The aim of the steps should be resolving the user query
- If the instruction requires comparing cohorts (e.g., VATS vs. thoracotomy), assign them to named frames like df_vats or df_thoracotomy
- Frames are lazy, so the final step must call compute() to get numbers back. Make the steps lead up to that final compute step.

Do not return any explanation. Respond ONLY with the JSON array.`

// Generator asks the LLM for an analysis plan.
type Generator struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

// NewGenerator creates a plan generator.
func NewGenerator(llm schemas.LLMClient, logger *zap.Logger) *Generator {
	return &Generator{llm: llm, logger: logger.Named("planning")}
}

// Generate returns the parsed plan. A reply without a usable plan yields an
// empty plan and a PLAN_PARSE_ERROR; a failed LLM call yields LLM_ERROR.
func (g *Generator) Generate(ctx context.Context, answer, columnContext, query string, valueDict map[string][]string) ([]schemas.PlanStep, error) {
	values := "{}"
	if len(valueDict) > 0 {
		raw, err := json.MarshalIndent(valueDict, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal value dictionary: %w", err)
		}
		values = string(raw)
	}

	reply, err := g.llm.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(planPrompt, answer, columnContext, values, query),
		Tier:       schemas.TierPowerful,
	})
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindLLM, "generate plan", err)
	}

	steps, err := ParsePlan(reply)
	if err != nil {
		g.logger.Warn("No usable plan in LLM reply", zap.Error(err), zap.String("reply", llmutil.Truncate(reply, 500)))
		return []schemas.PlanStep{}, err
	}
	g.logger.Info("Plan generated", zap.Int("steps", len(steps)))
	return steps, nil
}

// ParsePlan extracts the first array of step objects from text. Strict JSON
// is tried first, then a lenient literal parse. Steps without a name are
// named by position and repeated names get a numeric suffix.
func ParsePlan(text string) ([]schemas.PlanStep, error) {
	block, ok := llmutil.ExtractObjectArray(text)
	if !ok {
		return []schemas.PlanStep{}, schemas.Errorf(schemas.ErrKindPlanParse, "parse plan", "no array of objects found")
	}

	var steps []schemas.PlanStep
	if err := json.Unmarshal([]byte(block), &steps); err != nil {
		lenient, lerr := llmutil.ParseLenient[[]schemas.PlanStep](block)
		if lerr != nil {
			return []schemas.PlanStep{}, schemas.NewError(schemas.ErrKindPlanParse, "parse plan", fmt.Errorf("%w; lenient parse: %v", err, lerr))
		}
		steps = *lenient
	}
	if len(steps) == 0 {
		return []schemas.PlanStep{}, schemas.Errorf(schemas.ErrKindPlanParse, "parse plan", "plan is empty")
	}
	return normalizeNames(steps), nil
}

func normalizeNames(steps []schemas.PlanStep) []schemas.PlanStep {
	seen := make(map[string]int, len(steps))
	for i := range steps {
		name := strings.TrimSpace(steps[i].Name)
		if name == "" {
			name = "step_" + strconv.Itoa(i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = name + "_" + strconv.Itoa(n)
		}
		steps[i].Name = name
	}
	return steps
}
