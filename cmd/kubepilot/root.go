package main

import (
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "kubepilot",
	Short: "Goal-driven Kubernetes operations agent",
	Long: `Kubepilot turns operator goals into guarded, dependency-ordered task plans
and executes them against a cluster.

A goal like "scale payments to 5 replicas" is decomposed into small kubectl
tasks (inspect, validate, apply, verify) with an explicit dependency graph.
Every task passes through guardrails before running: role permissions,
protected namespaces, prohibited patterns, and risk assessment. Failures
retry with backoff, and operator feedback after each run tunes future
decompositions.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
