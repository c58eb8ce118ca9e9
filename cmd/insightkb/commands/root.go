// Package commands defines all Cobra CLI commands for the insightkb binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/gugacoder/insight-kb-sub001/internal/audit"
	"github.com/gugacoder/insight-kb-sub001/internal/config"
	"github.com/gugacoder/insight-kb-sub001/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfig stores the resolved configuration for subcommands.
var loadedConfig *config.Config

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "insightkb",
		Short: "Insight KB: resilient knowledge-base enrichment for LLM applications",
		Long: `Insight KB retrieves relevant passages from a knowledge base, re-ranks
them with domain heuristics, and compresses them into a token-bounded
context block ready to prepend to a language model prompt.

The pipeline is built to degrade, never to fail: provider outages, slow
responses, and empty result sets all fall back to "no context" so the host
application's request path is never blocked.

Provider credentials come from the INSIGHT_PROVIDER_* environment
variables or a YAML config file (~/.insightkb/config.yaml).
See 'insightkb --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			cfg, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfig = cfg

			// Emit structured audit log for every command invocation.
			if cfg.Enrichment.Audit {
				audit.LogCommandStart(log, cmd.Name(), config.ResolvedPath(configPath))
			}

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.insightkb/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewEnrichCmd(),
		NewDiagnoseCmd(),
		NewVersionCmd(),
	)

	return root
}
