// Package execution runs a generated analysis plan step by step against a
// shared per-request state, asking the LLM for each step's purpose and code
// and recovering from failed code within a per-step retry budget.
package execution

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
	"github.com/xkilldash9x/lancet/internal/llmutil"
	"github.com/xkilldash9x/lancet/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ResultNotCaptured is recorded for steps that only succeeded on recovery.
const ResultNotCaptured = "(not captured)"

// StepOutcome is what running one code body produced.
type StepOutcome struct {
	// Result is the value bound to `result`, or nil.
	Result any
	// Bound lists names newly added to the state.
	Bound []string
}

// StepExecutor runs generated code against the state. Implementations must
// honour ctx cancellation and must only add bindings through State.Adopt.
type StepExecutor interface {
	Execute(ctx context.Context, code string, state *State) (StepOutcome, error)
}

// Report is the outcome of a whole plan run.
type Report struct {
	Narrative string
	Log       *schemas.ExecutionLog
	Completed []string
	Failed    []string
	Skipped   []string
}

// Executor drives the per-step thought, code, run and reflection loop.
type Executor struct {
	llm    schemas.LLMClient
	runner StepExecutor
	cfg    config.ExecutionConfig
	logger *zap.Logger
}

// NewExecutor creates an executor. A zero step timeout disables the
// per-attempt deadline; a zero result preview falls back to 2000 bytes.
func NewExecutor(llm schemas.LLMClient, runner StepExecutor, cfg config.ExecutionConfig, logger *zap.Logger) *Executor {
	if cfg.ResultPreview <= 0 {
		cfg.ResultPreview = 2000
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Executor{llm: llm, runner: runner, cfg: cfg, logger: logger.Named("execution")}
}

// Run executes steps in order. A step is skipped when the step directly
// before it failed. Failures of generated code are recorded in the log and
// never returned; the returned error is reserved for LLM failures.
func (e *Executor) Run(ctx context.Context, steps []schemas.PlanStep, query string, state *State) (*Report, error) {
	rep := &Report{Log: schemas.NewExecutionLog()}
	failed := make(map[string]bool)

	for i, step := range steps {
		if i > 0 && failed[steps[i-1].Name] {
			e.logger.Warn("Skipping step after previous failure",
				zap.Int("step", i+1), zap.String("name", step.Name), zap.String("previous", steps[i-1].Name))
			observability.RecordPlanStep(observability.StepSkipped)
			rep.Skipped = append(rep.Skipped, step.Name)
			continue
		}

		ok, err := e.runStep(ctx, step, len(rep.Completed)+1, query, state, rep.Log)
		if err != nil {
			return rep, err
		}
		if ok {
			rep.Completed = append(rep.Completed, step.Name)
			observability.RecordPlanStep(observability.StepCompleted)
			continue
		}
		failed[step.Name] = true
		rep.Failed = append(rep.Failed, step.Name)
		observability.RecordPlanStep(observability.StepFailed)
		e.logger.Warn("Plan step marked failed", zap.String("name", step.Name), zap.Int("max_retries", e.cfg.MaxRetries))
	}

	logJSON := rep.Log.Indented()
	completed, failedNames := joinOrNone(rep.Completed), joinOrNone(rep.Failed)

	check, err := e.generate(ctx, schemas.TierFast, fmt.Sprintf(finalCheckPrompt, query, completed, failedNames, logJSON))
	if err != nil {
		return rep, schemas.NewError(schemas.ErrKindLLM, "final check", err)
	}
	e.logger.Info("Final check", zap.String("missing_variables", check))

	narrative, err := e.generate(ctx, schemas.TierPowerful, fmt.Sprintf(synthesisPrompt, query, completed, failedNames, logJSON))
	if err != nil {
		return rep, schemas.NewError(schemas.ErrKindLLM, "synthesize execution", err)
	}
	rep.Narrative = narrative
	return rep, nil
}

// runStep reports whether the step completed.
func (e *Executor) runStep(ctx context.Context, step schemas.PlanStep, num int, query string, state *State, log *schemas.ExecutionLog) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "execution.step",
		attribute.String("step.name", step.Name), attribute.Int("step.number", num))
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	stepLog := e.logger.With(zap.Int("step", num), zap.String("name", step.Name))
	stepLog.Info("Running plan step")
	stateDesc := state.Describe()

	thought, err := e.generate(ctx, schemas.TierFast, fmt.Sprintf(thoughtPrompt, query, step.Name, step.Instruction))
	if err != nil {
		spanErr = schemas.NewError(schemas.ErrKindLLM, "step thought", err)
		return false, spanErr
	}
	rawCode, err := e.generate(ctx, schemas.TierPowerful, fmt.Sprintf(codePrompt, query, thought, step.Instruction, stateDesc))
	if err != nil {
		spanErr = schemas.NewError(schemas.ErrKindLLM, "step code", err)
		return false, spanErr
	}
	code := llmutil.CleanCodeOutput(rawCode)

	outcome, runErr := e.attempt(ctx, code, state)
	if runErr == nil {
		resultText := FormatResult(outcome.Result)
		reflection, err := e.reflect(ctx, query, step, code, resultText)
		if err != nil {
			spanErr = err
			return false, err
		}
		log.Record(step.Name, schemas.StepRecord{
			Thought: thought, Instruction: step.Instruction, Code: code, Result: resultText, Reflection: reflection,
		})
		stepLog.Info("Plan step completed", zap.Strings("bound", outcome.Bound))
		return true, nil
	}

	stepLog.Warn("Plan step failed", zap.Error(runErr))
	spanErr = schemas.NewError(schemas.ErrKindStepExecution, step.Name, runErr)
	failure := schemas.StepRecord{
		Thought: thought, Instruction: step.Instruction, Code: code, Result: "ERROR: " + runErr.Error(),
	}
	if e.cfg.MaxRetries == 0 {
		failure.Reflection = fmt.Sprintf("Step failed with error: %s. Maximum retries exceeded.", runErr)
		log.Record(step.Name, failure)
		return false, nil
	}

	lastCode, lastErr := code, runErr
	for try := 1; try <= e.cfg.MaxRetries; try++ {
		observability.RecordRecoveryAttempt()
		stepLog.Info("Attempting recovery", zap.Int("attempt", try))
		rawFix, err := e.generate(ctx, schemas.TierPowerful,
			fmt.Sprintf(recoveryPrompt, lastErr.Error(), lastCode, state.Describe(), step.Instruction))
		if err != nil {
			spanErr = schemas.NewError(schemas.ErrKindLLM, "step recovery", err)
			return false, spanErr
		}
		fix := llmutil.CleanCodeOutput(rawFix)
		if _, err := e.attempt(ctx, fix, state); err != nil {
			stepLog.Warn("Recovery also failed", zap.Int("attempt", try), zap.Error(err))
			lastCode, lastErr = fix, err
			continue
		}

		reflection, err := e.reflect(ctx, query, step, fix, ResultNotCaptured)
		if err != nil {
			spanErr = err
			return false, err
		}
		log.Record(step.Name, schemas.StepRecord{
			Thought: thought, Instruction: step.Instruction, Code: fix, Result: ResultNotCaptured, Reflection: reflection,
		})
		spanErr = nil
		stepLog.Info("Plan step recovered", zap.Int("attempt", try))
		return true, nil
	}

	failure.Reflection = fmt.Sprintf("Step failed with error: %s. Recovery attempt also failed: %s", runErr, lastErr)
	log.Record(step.Name, failure)
	return false, nil
}

// attempt runs one code body under the step timeout. Panics in the runner
// become errors.
func (e *Executor) attempt(ctx context.Context, code string, state *State) (out StepOutcome, err error) {
	if e.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Step executor panicked", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic during execution: %v", r)
		}
	}()
	return e.runner.Execute(ctx, code, state)
}

func (e *Executor) reflect(ctx context.Context, query string, step schemas.PlanStep, code, result string) (string, error) {
	reflection, err := e.generate(ctx, schemas.TierFast, fmt.Sprintf(reflectionPrompt,
		query, step.Name, step.Instruction, code, llmutil.Truncate(result, e.cfg.ResultPreview)))
	if err != nil {
		return "", schemas.NewError(schemas.ErrKindLLM, "step reflection", err)
	}
	return reflection, nil
}

func (e *Executor) generate(ctx context.Context, tier schemas.ModelTier, prompt string) (string, error) {
	start := time.Now()
	out, err := e.llm.Generate(ctx, schemas.GenerationRequest{UserPrompt: prompt, Tier: tier})
	e.logger.Debug("LLM call", zap.Duration("took", time.Since(start)), zap.Error(err))
	return strings.TrimSpace(out), err
}

// FormatResult renders a step result for the log. Frames and deferred
// aggregates are described rather than evaluated.
func FormatResult(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case describer:
		return x.Describe()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, ", ")
}
