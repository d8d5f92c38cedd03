package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
	"github.com/xkilldash9x/lancet/internal/pipeline"
	"github.com/xkilldash9x/lancet/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Output formats for analyze.
const (
	outputJSON = "json"
	outputText = "text"
)

// errAnalysisFailed marks a run whose response carried an error.
var errAnalysisFailed = errors.New("analysis failed")

type analyzeOptions struct {
	mode   string
	picot  schemas.PICOT
	output string
}

func newAnalyzeCmd(factory service.ComponentFactory) *cobra.Command {
	opts := &analyzeOptions{}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [question|-]",
		Short: "Answer a research question against the dataset",
		Long: `Runs the full pipeline for one question: knowledge graph retrieval,
reasoning, plan generation and step-by-step execution over the dataset.

The question is plain text or a JSON request
{"fullQuestion": "...", "mode": "...", "picot": {...}}. Use - to read it from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := getLoggerFromContext(ctx)

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			applyAnalyzeFlagOverrides(cmd, cfg)

			raw, err := buildRequest(cmd, args[0], opts, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runAnalyze(ctx, logger, cfg, factory, raw, opts.output, cmd.OutOrStdout())
		},
	}

	f := analyzeCmd.Flags()
	f.StringVar(&opts.mode, "mode", "", "Answer mode passed to the reasoning prompt")
	f.StringVar(&opts.picot.Population, "picot-population", "", "PICOT population")
	f.StringVar(&opts.picot.Intervention, "picot-intervention", "", "PICOT intervention")
	f.StringVar(&opts.picot.Control, "picot-control", "", "PICOT control or comparison")
	f.StringVar(&opts.picot.Outcome, "picot-outcome", "", "PICOT outcome")
	f.StringVar(&opts.picot.Timeframe, "picot-timeframe", "", "PICOT timeframe")
	f.StringVarP(&opts.output, "output", "o", outputText, "Output format: text or json")
	f.Int("max-retries", 0, "Recovery attempts per failed plan step")
	f.Int("reflection-steps", 0, "Reflection iterations")
	f.Int("top-k", 0, "Initial retrieval size")
	f.String("dataset", "", "Path to the dataset file")
	return analyzeCmd
}

// applyAnalyzeFlagOverrides copies explicitly set flags into cfg.
func applyAnalyzeFlagOverrides(cmd *cobra.Command, cfg config.Interface) {
	flags := cmd.Flags()
	if flags.Changed("max-retries") {
		n, _ := flags.GetInt("max-retries")
		cfg.SetExecutionMaxRetries(n)
	}
	if flags.Changed("reflection-steps") {
		n, _ := flags.GetInt("reflection-steps")
		cfg.SetReflectionSteps(n)
	}
	if flags.Changed("top-k") {
		n, _ := flags.GetInt("top-k")
		cfg.SetRetrievalTopK(n)
	}
	if flags.Changed("dataset") {
		p, _ := flags.GetString("dataset")
		cfg.SetDatasetPath(p)
	}
}

// buildRequest resolves the question argument and folds --mode and --picot-*
// flags into it. Without those flags the text is passed through unchanged.
func buildRequest(cmd *cobra.Command, arg string, opts *analyzeOptions, stdin io.Reader) (string, error) {
	text := arg
	if arg == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read question from stdin: %w", err)
		}
		text = string(b)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("question is empty")
	}

	flags := cmd.Flags()
	picotSet := false
	for _, name := range []string{"picot-population", "picot-intervention", "picot-control", "picot-outcome", "picot-timeframe"} {
		picotSet = picotSet || flags.Changed(name)
	}
	if !flags.Changed("mode") && !picotSet {
		return text, nil
	}

	q := pipeline.ParseQuery(text)
	if flags.Changed("mode") {
		q.Mode = opts.mode
	}
	if picotSet {
		mergePICOT(&q.PICOT, opts.picot)
	}
	b, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	return string(b), nil
}

func mergePICOT(dst *schemas.PICOT, src schemas.PICOT) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Population, src.Population)
	set(&dst.Intervention, src.Intervention)
	set(&dst.Control, src.Control)
	set(&dst.Outcome, src.Outcome)
	set(&dst.Timeframe, src.Timeframe)
}

// runAnalyze creates the components, answers raw and writes the response.
func runAnalyze(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	factory service.ComponentFactory,
	raw, output string,
	w io.Writer,
) error {
	if output != outputJSON && output != outputText {
		return fmt.Errorf("unsupported output format %q (want %s or %s)", output, outputText, outputJSON)
	}

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown(context.Background())

	resp := components.Pipeline.Run(ctx, raw)

	if output == outputJSON {
		b, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
		if _, err := fmt.Fprintln(w, string(b)); err != nil {
			return err
		}
		if resp.Error != "" {
			return errAnalysisFailed
		}
		return nil
	}

	if resp.Error != "" {
		return fmt.Errorf("%w: %s", errAnalysisFailed, resp.Error)
	}
	if resp.NoPlan {
		_, err = fmt.Fprintf(w, "No analysis plan could be generated.\n\n%s\n", resp.Debug)
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n\n%s\n", resp.Answer, resp.Debug)
	return err
}
