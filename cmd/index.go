package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/internal/config"
	"github.com/xkilldash9x/lancet/internal/knowledgegraph"
	"github.com/xkilldash9x/lancet/internal/service"
)

func newIndexCmd() *cobra.Command {
	var opts service.IndexOptions

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the knowledge graph entries and build the vector index",
		Long: `Reads every variable and value from the knowledge graph, embeds the entry
texts and stores the vectors in the embedding cache. With a weaviate index the
vectors are also ingested into the configured class.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runIndex(ctx, getLoggerFromContext(ctx), cfg, opts, cmd.OutOrStdout())
		},
	}
	indexCmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "Re-embed even when the cache holds the corpus")
	indexCmd.Flags().BoolVar(&opts.Reindex, "reindex", false, "Drop and rebuild a remote index")
	return indexCmd
}

func runIndex(ctx context.Context, logger *zap.Logger, cfg config.Interface, opts service.IndexOptions, w io.Writer) error {
	embedder, err := service.InitializeEmbedder(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	graph, err := knowledgegraph.New(ctx, cfg.Graph(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := graph.Close(context.Background()); err != nil {
			logger.Warn("Error closing graph store.", zap.Error(err))
		}
	}()

	cache, err := service.OpenCache(cfg.Cache(), logger)
	if err != nil {
		return err
	}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("Error closing embedding cache.", zap.Error(err))
			}
		}()
	}

	built, err := service.BuildIndex(ctx, cfg, graph, embedder, cache, opts, logger)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Indexed %d entries with %s into a %s index.\n", len(built.Entries), embedder.Model(), cfg.VectorIndex().Type)
	return err
}
