package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/klatch"
)

type sendOptions struct {
	model       string
	system      string
	temperature float64
	maxTokens   int
	stream      bool
	repeat      int
	showStats   bool
	jsonOutput  bool
}

type sendOutput struct {
	Text         string       `json:"text"`
	TokenCount   *int         `json:"token_count,omitempty"`
	Fingerprint  string       `json:"fingerprint"`
	FromCache    bool         `json:"from_cache"`
	Deduplicated bool         `json:"deduplicated"`
	Attempts     int          `json:"attempts"`
	LatencyMS    int64        `json:"latency_ms"`
	Stats        *statsReport `json:"stats,omitempty"`
}

func newSendCommand(ctx *commandContext) *cobra.Command {
	opts := sendOptions{repeat: 1}

	cmd := &cobra.Command{
		Use:   "send [prompt]",
		Short: "Send one prompt and print the completion",
		Long: `Send a single user prompt to the configured endpoint.

The prompt is taken from the arguments, or from stdin when the only
argument is "-" or no argument is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd, args)
			if err != nil {
				return err
			}
			if opts.repeat < 1 {
				return fmt.Errorf("--repeat must be at least 1, got %d", opts.repeat)
			}

			client, cfg, err := ctx.newClient()
			if err != nil {
				return err
			}

			genCfg := klatch.GenerationConfig{
				Model:        opts.model,
				Temperature:  opts.temperature,
				MaxTokens:    opts.maxTokens,
				SystemPrompt: opts.system,
			}
			if genCfg.Model == "" {
				genCfg.Model = cfg.Model
			}
			turns := []klatch.Turn{{Role: klatch.RoleUser, Content: prompt}}

			out := cmd.OutOrStdout()
			var last *klatch.Result
			for i := 0; i < opts.repeat; i++ {
				if opts.stream && !opts.jsonOutput {
					last, err = client.SendStreaming(cmd.Context(), turns, genCfg, func(chunk string) {
						fmt.Fprint(out, chunk)
					})
					if err == nil {
						fmt.Fprintln(out)
					}
				} else if opts.stream {
					last, err = client.SendStreaming(cmd.Context(), turns, genCfg, nil)
				} else {
					last, err = client.Send(cmd.Context(), turns, genCfg)
					if err == nil && !opts.jsonOutput {
						fmt.Fprintln(out, last.Text)
					}
				}
				if err != nil {
					return err
				}
			}

			stats := client.Stats()
			if opts.jsonOutput {
				payload := sendOutput{
					Text:         last.Text,
					TokenCount:   last.TokenCount,
					Fingerprint:  last.Fingerprint,
					FromCache:    last.FromCache,
					Deduplicated: last.Deduplicated,
					Attempts:     last.Attempts,
					LatencyMS:    last.Latency.Milliseconds(),
				}
				if opts.showStats {
					report := newStatsReport(stats)
					payload.Stats = &report
				}
				return writeJSON(cmd, payload)
			}
			if opts.showStats {
				fmt.Fprintln(cmd.ErrOrStderr())
				renderStats(cmd.ErrOrStderr(), stats)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model name (defaults to the configured model)")
	cmd.Flags().StringVarP(&opts.system, "system", "s", "", "System prompt")
	cmd.Flags().Float64VarP(&opts.temperature, "temperature", "t", 0, "Sampling temperature")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "Maximum completion tokens (0 leaves it to the provider)")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Stream the completion as it arrives")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "Send the same prompt this many times")
	cmd.Flags().BoolVar(&opts.showStats, "stats", false, "Print client statistics when done")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	return prompt, nil
}
