package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gugacoder/insight-kb-sub001/internal/logging"
	"github.com/gugacoder/insight-kb-sub001/internal/server"
)

// NewServeCmd constructs the `insightkb serve` command, which starts the
// HTTP server exposing the enrichment API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Insight KB enrichment HTTP server",
		Long: `Start the Insight KB HTTP server on localhost.

The server exposes POST /api/enrich for enrichment requests, plus health,
readiness, circuit-breaker, and Prometheus metrics endpoints for operators.

Examples:
  insightkb serve
  insightkb serve --port 9090
  INSIGHT_PROVIDER_URL=https://api.example.com/v1 insightkb serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			cfg := loadedConfig

			p, err := buildPipeline(cfg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer p.Close()

			pingers := []server.Pinger{server.NewProviderPinger(p.Client)}
			if p.Cache != nil {
				pingers = append(pingers, server.NewCachePinger(p.Cache))
			}

			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			srv, err := server.New(p.Enricher, p.Coordinator, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				RateLimit:       cfg.Server.RateLimit,
				RateBurst:       cfg.Server.RateBurst,
				APIKey:          cfg.Server.APIKey,
				MetricsRegistry: p.Registry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default from config)")

	return cmd
}
