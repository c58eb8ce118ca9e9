package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gugacoder/insight-kb-sub001/internal/enrich"
	"github.com/gugacoder/insight-kb-sub001/internal/logging"
)

// NewEnrichCmd constructs the `insightkb enrich` command, which runs the
// pipeline once for a single question and prints the resulting context.
func NewEnrichCmd() *cobra.Command {
	var asJSON bool
	var language string

	cmd := &cobra.Command{
		Use:   "enrich [question]",
		Short: "Run the enrichment pipeline once for a question",
		Long: `Run the full enrichment pipeline for a single natural language question
and print the resulting context block to stdout.

Useful for inspecting what a host application would receive, and for
tuning scoring and token-budget settings.

Examples:
  insightkb enrich "how do I rotate the API credentials?"
  insightkb enrich --json "what changed in the billing export?"
  insightkb enrich --language pt "como configurar a integração?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			p, err := buildPipeline(loadedConfig, log)
			if err != nil {
				return fmt.Errorf("enrich: %w", err)
			}
			defer p.Close()

			res := p.Enricher.Enrich(ctx, args[0], enrich.Options{Language: language})
			if res == nil {
				fmt.Fprintln(os.Stderr, "no enrichment available for this question")
				return nil
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			fmt.Println(res.Context)
			fmt.Fprintf(os.Stderr, "\n%d documents, ~%d tokens, mean relevance %.2f, strategy %s\n",
				res.DocumentsIncluded, res.TokenCount, res.RelevanceScore, res.Strategy)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().StringVarP(&language, "language", "l", "", "ISO 639-1 language code for token estimation")

	return cmd
}
