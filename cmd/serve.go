package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/internal/config"
	"github.com/xkilldash9x/lancet/internal/server"
	"github.com/xkilldash9x/lancet/internal/service"
)

func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis pipeline over HTTP",
		Long:  `Starts an HTTP server with POST /analyze, GET /healthz and GET /metrics.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := getLoggerFromContext(ctx)

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.SetServerAddr(addr)
			}
			return runServe(ctx, logger, cfg, factory)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return serveCmd
}

// runServe holds the components for the lifetime of the server, which stops
// when ctx is cancelled.
func runServe(ctx context.Context, logger *zap.Logger, cfg config.Interface, factory service.ComponentFactory) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown(context.Background())

	return server.New(cfg.Server(), components.Pipeline, logger).Run(ctx)
}
