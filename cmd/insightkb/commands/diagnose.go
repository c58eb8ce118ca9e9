package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gugacoder/insight-kb-sub001/internal/logging"
)

// NewDiagnoseCmd constructs the `insightkb diagnose` command, which checks
// connectivity to the retrieval provider and the cache and prints a
// human-readable report.
func NewDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check provider and cache connectivity",
		Long: `Probe the retrieval provider's health endpoint and the local cache
database, and print a connectivity report with round-trip latency.

Run this first when enrichment starts returning no context: it tells an
open circuit apart from bad credentials or an unreachable provider.

Examples:
  insightkb diagnose
  INSIGHT_PROVIDER_URL=https://api.example.com/v1 insightkb diagnose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			cfg := loadedConfig

			p, err := buildPipeline(cfg, log)
			if err != nil {
				return fmt.Errorf("diagnose: %w", err)
			}
			defer p.Close()

			fmt.Printf("provider url:  %s\n", cfg.Provider.URL)
			fmt.Printf("pipeline:      %s/%s\n", cfg.Provider.Org, cfg.Provider.Pipeline)
			fmt.Printf("api key:       %s\n", presence(cfg.Provider.APIKey))

			h := p.Client.HealthCheck(ctx)
			if h.Up {
				fmt.Printf("provider:      up (%dms)\n", h.Latency.Milliseconds())
			} else {
				fmt.Printf("provider:      DOWN (%dms)\n", h.Latency.Milliseconds())
			}

			if p.Cache != nil {
				if err := p.Cache.Ping(ctx); err != nil {
					fmt.Printf("cache:         ERROR (%v)\n", err)
				} else {
					fmt.Println("cache:         ok")
				}
			} else {
				fmt.Println("cache:         disabled")
			}

			snap := p.Coordinator.BreakerSnapshot()
			fmt.Printf("breaker:       %s\n", snap.State)

			if !h.Up {
				return fmt.Errorf("diagnose: retrieval provider is unreachable")
			}
			return nil
		},
	}
}

// presence reports whether a secret is configured without printing it.
func presence(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "(set)"
}
