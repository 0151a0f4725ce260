// Package main is the entry point for bridgebot, a scheduled crypto
// portfolio rebalancer that trades every asset against one bridge currency.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bridgebot",
	Short: "Scheduled portfolio rebalancer trading through a bridge currency",
	Long: `bridgebot keeps each configured strategy at its target weights. On every
scheduled trigger it values the stored portfolio, diffs it against the target,
sells into the bridge currency, buys out of it and persists what was filled.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API (default)",
	RunE:  runServe,
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance <strategy>",
	Short: "Run one rebalance cycle for a strategy and exit",
	Long: `Run one rebalance cycle immediately, outside the schedule, and print the
cycle report as JSON. Use --preview to only print the orders it would place.`,
	Args: cobra.ExactArgs(1),
	RunE: runRebalance,
}

var previewOnly bool

func init() {
	rebalanceCmd.Flags().BoolVar(&previewOnly, "preview", false, "print the planned orders without trading")
	rootCmd.AddCommand(serveCmd, rebalanceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
