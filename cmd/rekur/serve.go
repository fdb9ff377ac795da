package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rekurlabs/rekur/internal/broker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a standalone broker",
	Long:  `Expose the request broker on a fixed address so external processes can route completion requests through it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		policy, err := retryPolicy(cfg)
		if err != nil {
			return err
		}

		guard := broker.NewBudgetGuard(cfg.Budget.RootTokens, cfg.Budget.SubTokens)
		srv := broker.NewServer(registry, guard, cfg.Server.BindAddr, broker.RuntimeConfig{
			ShutdownTimeout: shutdownTimeout(cfg),
			RetryPolicy:     policy,
		})

		addr, err := srv.Start(cmd.Context())
		if err != nil {
			return err
		}
		slog.Info("Broker serving", "addr", addr, "models", registry.Names())

		metricsAddr, err := cmd.Flags().GetString("metrics-addr")
		if err != nil {
			return err
		}
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					slog.Error("Metrics endpoint failed", "error", err)
				}
			}()
			slog.Info("Metrics exposed", "addr", metricsAddr)
		}

		handler := NewSignalHandler(cmd.Context())
		handler.Start()
		defer handler.Stop()
		handler.Wait()

		return srv.Stop(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("metrics-addr", "", "address for the Prometheus /metrics endpoint (disabled when empty)")
}
