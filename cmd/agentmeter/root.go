package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

const checkMark = "\033[32m✓\033[0m"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentmeter",
	Short: "Usage metering and live dashboards for AI agent deployments",
	Long: `Agentmeter ingests usage events from AI agents, classifies them by
agent type and model provider, assigns per-event costs, and serves
incrementally-maintained dashboard aggregates over HTTP and SSE.

Quick start:
  agentmeter serve                       # Start the server
  agentmeter keys create --user=user_1   # Mint an API key

Management:
  agentmeter keys      # Manage API keys
  agentmeter version   # Print version information`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "agentmeter.yaml", "config file path")
}
