package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/klatch"
	"github.com/ambiyansyah-risyal/klatch/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local chat gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector())
			registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			collector := klatch.NewMetricsCollectorWithRegistry(registry)

			client, cfg, err := ctx.newClient(klatch.WithMetricsCollector(collector))
			if err != nil {
				return err
			}

			address := listen
			if address == "" {
				address = cfg.Server.Listen
			}
			logger := cfg.NewLogger()

			srv, err := server.New(server.Config{
				Address:      address,
				DefaultModel: cfg.Model,
				Gatherer:     registry,
				Logger:       logger,
			}, client)
			if err != nil {
				return err
			}

			logger.Info("gateway starting", "address", address, "endpoint", cfg.Endpoint, "version", klatch.Version)
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")
	return cmd
}
