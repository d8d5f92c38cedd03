// Package pipeline wires the retrieval, reasoning, planning and execution
// stages into a single request handler.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
	"github.com/xkilldash9x/lancet/internal/dataset"
	"github.com/xkilldash9x/lancet/internal/execution"
	"github.com/xkilldash9x/lancet/internal/observability"
	"github.com/xkilldash9x/lancet/internal/planning"
	"github.com/xkilldash9x/lancet/internal/retrieval"
	"github.com/xkilldash9x/lancet/internal/synthesis"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Defaults applied to a parsed query.
const (
	DefaultQuestion = "No question provided"
	DefaultMode     = "default"
)

// ValueSource looks up the coded values of variables.
type ValueSource interface {
	ValuesForVariables(ctx context.Context, names []string) (map[string][]string, error)
}

// Deps are the long-lived collaborators shared by every request.
type Deps struct {
	Retriever     *retrieval.Retriever
	Reflector     *retrieval.Reflector
	Expander      *retrieval.Expander
	Formatter     *synthesis.Formatter
	Synthesizer   *synthesis.Synthesizer
	Values        ValueSource
	Planner       *planning.Generator
	Executor      *execution.Executor
	Frame         *dataset.Frame
	ColumnContext string
}

// Options tune the stages.
type Options struct {
	TopK                int
	ReflectionSteps     int
	SimilarityThreshold float64
	LLMExpansionFilter  bool
	RenameValueDict     bool
}

// OptionsFromConfig reads stage options from configuration.
func OptionsFromConfig(cfg config.Interface) Options {
	return Options{
		TopK:                cfg.Retrieval().TopK,
		ReflectionSteps:     cfg.Reflection().Steps,
		SimilarityThreshold: cfg.Retrieval().SimilarityThreshold,
		LLMExpansionFilter:  cfg.Retrieval().LLMExpansionFilter,
		RenameValueDict:     cfg.Planning().RenameValueDict,
	}
}

// Pipeline answers one question at a time per call; calls may run
// concurrently since each gets its own execution state.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

var _ schemas.Analyzer = (*Pipeline)(nil)

// New creates a pipeline.
func New(deps Deps, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{deps: deps, opts: opts, logger: logger.Named("pipeline")}
}

// ParseQuery accepts a JSON request {fullQuestion, mode, picot} or, when raw
// is not a JSON object, treats raw as the question itself.
func ParseQuery(raw string) schemas.Query {
	var q schemas.Query
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return schemas.Query{FullQuestion: raw, Mode: DefaultMode}
	}
	if strings.TrimSpace(q.FullQuestion) == "" {
		q.FullQuestion = DefaultQuestion
	}
	if q.Mode == "" {
		q.Mode = DefaultMode
	}
	return q
}

// Run handles a raw request and never returns an error or panics: failures
// become a response carrying only Error.
func (p *Pipeline) Run(ctx context.Context, raw string) (resp schemas.Response) {
	log := observability.LoggerFor(ctx, p.logger)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			observability.RecordRequest(observability.OutcomeError)
			resp = schemas.Response{Error: fmt.Sprintf("%s: panic: %v", schemas.ErrKindTopLevel, r)}
		}
	}()

	resp, err := p.Analyze(ctx, ParseQuery(raw))
	switch {
	case err != nil:
		log.Error("Pipeline failed", zap.String("kind", string(schemas.KindOf(err))), zap.Error(err))
		observability.RecordRequest(observability.OutcomeError)
		return schemas.Response{Error: err.Error()}
	case resp.NoPlan:
		observability.RecordRequest(observability.OutcomeNoPlan)
	default:
		observability.RecordRequest(observability.OutcomeAnswered)
	}
	return resp
}

// Analyze runs every stage for q. An empty plan ends the run early with
// NoPlan set and the reasoning answer in Debug.
func (p *Pipeline) Analyze(ctx context.Context, q schemas.Query) (schemas.Response, error) {
	log := observability.LoggerFor(ctx, p.logger)
	log.Info("Analyzing question", zap.String("question", q.FullQuestion), zap.String("mode", q.Mode))

	results, err := p.gather(ctx, q.FullQuestion)
	if err != nil {
		return schemas.Response{}, err
	}

	contextText, err := stage(ctx, "format_context", func(ctx context.Context) (string, error) {
		return p.deps.Formatter.Format(ctx, results)
	})
	if err != nil {
		return schemas.Response{}, err
	}

	answer, err := stage(ctx, "answer", func(ctx context.Context) (string, error) {
		return p.deps.Synthesizer.Answer(ctx, q.FullQuestion, contextText, p.deps.ColumnContext, q.Mode, q.PICOT)
	})
	if err != nil {
		return schemas.Response{}, err
	}

	values, err := stage(ctx, "value_lookup", func(ctx context.Context) (map[string][]string, error) {
		names := synthesis.ExtractVariables(answer)
		log.Info("Extracted variables", zap.Strings("variables", names))
		values, err := p.deps.Values.ValuesForVariables(ctx, names)
		if err != nil || !p.opts.RenameValueDict {
			return values, err
		}
		return p.deps.Synthesizer.RenameValueDict(ctx, values, p.deps.ColumnContext)
	})
	if err != nil {
		return schemas.Response{}, err
	}

	steps, err := stage(ctx, "plan", func(ctx context.Context) ([]schemas.PlanStep, error) {
		return p.deps.Planner.Generate(ctx, answer, p.deps.ColumnContext, q.FullQuestion, values)
	})
	if err != nil && schemas.KindOf(err) != schemas.ErrKindPlanParse {
		return schemas.Response{}, err
	}
	if len(steps) == 0 {
		log.Warn("No plan generated, skipping execution")
		return schemas.Response{Debug: answer, NoPlan: true}, nil
	}

	report, err := stage(ctx, "execute", func(ctx context.Context) (*execution.Report, error) {
		return p.deps.Executor.Run(ctx, steps, q.FullQuestion, execution.NewState(p.deps.Frame))
	})
	if err != nil {
		return schemas.Response{}, err
	}
	log.Info("Plan executed",
		zap.Strings("completed", report.Completed),
		zap.Strings("failed", report.Failed),
		zap.Strings("skipped", report.Skipped),
	)

	short, err := stage(ctx, "summarize", func(ctx context.Context) (string, error) {
		return p.deps.Synthesizer.Summarize(ctx, report.Narrative, q.FullQuestion)
	})
	if err != nil {
		return schemas.Response{}, err
	}
	return schemas.Response{Answer: short, Debug: report.Narrative}, nil
}

// gather retrieves, reflects and expands. Expansions are merged after the
// reflected results and never re-ranked against them.
func (p *Pipeline) gather(ctx context.Context, query string) (schemas.ResultSet, error) {
	initial, err := stage(ctx, "retrieve", func(ctx context.Context) (schemas.ResultSet, error) {
		return p.deps.Retriever.Retrieve(ctx, query, p.opts.TopK)
	})
	if err != nil {
		return nil, err
	}

	reflected, err := stage(ctx, "reflect", func(ctx context.Context) (schemas.ResultSet, error) {
		return p.deps.Reflector.Reflect(ctx, query, initial, p.deps.ColumnContext, p.opts.ReflectionSteps)
	})
	if err != nil {
		return nil, err
	}

	expansions, err := stage(ctx, "expand", func(ctx context.Context) (schemas.ResultSet, error) {
		var all schemas.ResultSet
		for _, r := range reflected {
			if !r.Entry.IsVariable() {
				continue
			}
			found, err := p.deps.Expander.Expand(ctx, r.Entry.VarName, query, p.opts.SimilarityThreshold)
			if err != nil {
				return nil, err
			}
			all = retrieval.Merge(all, found)
		}
		if p.opts.LLMExpansionFilter && len(all) > 0 {
			return p.deps.Expander.FilterWithLLM(ctx, query, all)
		}
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	return retrieval.Merge(reflected, expansions), nil
}

// stage runs fn inside a traced, timed pipeline stage.
func stage[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, done := observability.TrackStage(ctx, name)
	out, err := fn(ctx)
	done(err)
	return out, err
}
