// Package main is the relay CLI: a self-hosted proxy that speaks the
// Anthropic messages API and runs a bounded server-side tool loop
// against Databricks or Azure-hosted Anthropic models.
//
// Start the server:
//
//	relay serve --config relay.yaml
//
// Configuration comes from the YAML file with environment variables
// taking precedence; see internal/config for the full surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Anthropic-compatible agent proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s (%s, built %s)\n", version, commit, date)
		},
	}
}
