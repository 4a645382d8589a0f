package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/klatch"
)

func newVersionCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return writeJSON(cmd, klatch.GetVersionInfo())
			}
			fmt.Fprintln(cmd.OutOrStdout(), klatch.GetVersion())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
