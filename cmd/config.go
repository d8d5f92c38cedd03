package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/lancet/internal/config"
	"github.com/xkilldash9x/lancet/internal/observability"
)

// configDump is the printable configuration. Secrets never appear in the
// config sections and are listed masked.
type configDump struct {
	config.Config `yaml:",inline"`
	Secrets       map[string]string `yaml:"secrets"`
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the merged configuration as YAML with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			concrete, ok := cfg.(*config.Config)
			if !ok {
				return fmt.Errorf("cannot print configuration of type %T", cfg)
			}
			out, err := yaml.Marshal(redacted(concrete))
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return configCmd
}

func redacted(cfg *config.Config) configDump {
	return configDump{
		Config: *cfg,
		Secrets: map[string]string{
			"llm.api_key":                   observability.Redact(cfg.LLMCfg.APIKey),
			"graph.password":                observability.Redact(cfg.GraphCfg.Password),
			"graph.postgres_url":            observability.Redact(cfg.GraphCfg.PostgresURL),
			"vector_index.weaviate.api_key": observability.Redact(cfg.VectorIndexCfg.Weaviate.APIKey),
		},
	}
}
