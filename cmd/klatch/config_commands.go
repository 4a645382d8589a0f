package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigValidateCommand(ctx))
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}

			out := cmd.OutOrStdout()
			source := ctx.configPath()
			if source == "" {
				source = "(defaults)"
			}
			fmt.Fprintln(out, "Configuration valid")
			fmt.Fprintf(out, "Source: %s\n", source)
			fmt.Fprintf(out, "Endpoint: %s\n", cfg.Endpoint)
			fmt.Fprintf(out, "Model: %s\n", cfg.Model)
			fmt.Fprintf(out, "Cache: %s\n", yesNo(!cfg.Cache.Disabled))
			fmt.Fprintf(out, "Deduplication: %s\n", yesNo(!cfg.Deduplication.Disabled))
			fmt.Fprintf(out, "Circuit breaker: %s\n", yesNo(cfg.CircuitBreaker.Enabled))
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.APIKey != "" {
				cfg.APIKey = redacted
			}
			if jsonOutput {
				return writeJSON(cmd, cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
