package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/internal/config"
	"github.com/xkilldash9x/lancet/internal/dataset"
	"github.com/xkilldash9x/lancet/internal/execution"
	"github.com/xkilldash9x/lancet/internal/knowledgegraph"
	"github.com/xkilldash9x/lancet/internal/pipeline"
	"github.com/xkilldash9x/lancet/internal/planning"
	"github.com/xkilldash9x/lancet/internal/retrieval"
	"github.com/xkilldash9x/lancet/internal/sandbox/jsexec"
	"github.com/xkilldash9x/lancet/internal/synthesis"
)

// ComponentFactory creates the set of components needed to answer
// questions. Commands depend on it so they can be tested without backends.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create connects every backend, builds the index and wires the pipeline.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown(context.Background())
		}
	}()

	// 1. LLM
	llm, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.LLM = llm
	logger.Debug("LLM client initialized.")

	// 2. Embedder
	embedder, err := InitializeEmbedder(ctx, cfg, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize embedder: %w", err)
		return nil, initializationErr
	}
	components.Embedder = embedder
	logger.Debug("Embedder initialized.", zap.String("model", embedder.Model()))

	// 3. Knowledge graph
	graph, err := knowledgegraph.New(ctx, cfg.Graph(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Graph = graph
	logger.Debug("Knowledge graph initialized.", zap.String("type", cfg.Graph().Type))

	// 4. Embedding cache
	cache, err := OpenCache(cfg.Cache(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.cache = cache

	// 5. Entry index
	built, err := BuildIndex(ctx, cfg, graph, embedder, cache, IndexOptions{}, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Entries = built.Entries
	components.Index = built.Index
	logger.Debug("Entry index built.", zap.Int("entries", len(built.Entries)))

	// 6. Dataset
	frame, err := dataset.Load(cfg.Dataset(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Frame = frame
	components.ColumnContext = dataset.ColumnContext(frame)
	logger.Debug("Dataset loaded.")

	// 7. Pipeline
	components.Pipeline = newPipeline(cfg, components, logger)
	logger.Info("All components initialized successfully.")
	return components, nil
}

func newPipeline(cfg config.Interface, c *Components, logger *zap.Logger) *pipeline.Pipeline {
	retriever := retrieval.NewRetriever(c.Embedder, c.Index, c.Entries, logger)
	formatter := synthesis.NewFormatter(c.Graph)
	expander := retrieval.NewExpander(c.Graph, c.Embedder, c.LLM, retrieval.ExpanderOptions{
		BatchSize:   cfg.Embedding().BatchSize,
		Concurrency: cfg.Embedding().Concurrency,
		ChunkSize:   cfg.Retrieval().ChunkSize,
	}, logger)
	executor := execution.NewExecutor(c.LLM, jsexec.NewRuntime(logger), cfg.Execution(), logger)

	deps := pipeline.Deps{
		Retriever:     retriever,
		Reflector:     retrieval.NewReflector(c.LLM, retriever, formatter, cfg.Reflection().TopK, logger),
		Expander:      expander,
		Formatter:     formatter,
		Synthesizer:   synthesis.NewSynthesizer(c.LLM, logger),
		Values:        c.Graph,
		Planner:       planning.NewGenerator(c.LLM, logger),
		Executor:      executor,
		Frame:         c.Frame,
		ColumnContext: c.ColumnContext,
	}
	return pipeline.New(deps, pipeline.OptionsFromConfig(cfg), logger)
}
