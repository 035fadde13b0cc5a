package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kranthiB/kubepilot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("Config file: %s\n\n", config.GetUserConfigPath())

		apiKey := "(not set)"
		if cfg.Anthropic.APIKey != "" {
			apiKey = "(set)"
		}
		fmt.Printf("anthropic.api_key: %s\n", apiKey)
		fmt.Printf("anthropic.model: %s\n", orDefault(cfg.Anthropic.Model, "(sdk default)"))

		fmt.Printf("planner.timeout: %s\n", cfg.Planner.Timeout)
		fmt.Printf("planner.max_steps: %d\n", cfg.Planner.MaxSteps)
		fmt.Printf("planner.disable_provider: %t\n", cfg.Planner.DisableProvider)

		fmt.Printf("scheduler.max_concurrency: %d\n", cfg.Scheduler.MaxConcurrency)
		fmt.Printf("scheduler.max_retries: %d\n", cfg.Scheduler.MaxRetries)
		fmt.Printf("scheduler.task_timeout: %s\n", cfg.Scheduler.TaskTimeout)
		fmt.Printf("scheduler.role: %s\n", cfg.Scheduler.Role)

		fmt.Printf("guardrail.config_path: %s\n", orDefault(cfg.Guardrail.ConfigPath, "(built-in defaults)"))
		fmt.Printf("guardrail.watch: %t\n", cfg.Guardrail.Watch)

		fmt.Printf("feedback.enabled: %t\n", cfg.Feedback.Enabled)
		fmt.Printf("feedback.mode: %s\n", cfg.Feedback.Mode)

		fmt.Printf("history.db_path: %s\n", historyDBPath(cfg))
		fmt.Printf("history.retention: %s\n", cfg.History.Retention)

		fmt.Printf("kubectl.bin: %s\n", cfg.Kubectl.Bin)
		fmt.Printf("kubectl.context: %s\n", orDefault(cfg.Kubectl.Context, "(current)"))
		return nil
	},
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
