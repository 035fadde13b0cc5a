package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kranthiB/kubepilot/internal/config"
	"github.com/kranthiB/kubepilot/internal/decompose"
	"github.com/kranthiB/kubepilot/internal/metrics"
	"github.com/kranthiB/kubepilot/pkg/models"
)

var (
	planNamespace    string
	planCategory     string
	planRole         string
	planFallbackOnly bool
)

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Decompose a goal and preview guardrail decisions without executing",
	Long: `Plan shows what run would do: the decomposed task list, its dependency
order, and the guardrail verdict each task would receive. Nothing touches
the cluster.`,
	Args: cobra.MinimumNArgs(1),
	RunE: previewPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planNamespace, "namespace", "n", "", "Default namespace for the goal")
	planCmd.Flags().StringVar(&planCategory, "category", "", "Goal category override (skips inference)")
	planCmd.Flags().StringVar(&planRole, "role", "", "Operator role evaluated by guardrails")
	planCmd.Flags().BoolVar(&planFallbackOnly, "fallback-only", false, "Use template decomposition only, no reasoning provider")
}

func previewPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if planRole != "" {
		cfg.Scheduler.Role = planRole
	}
	if planFallbackOnly {
		cfg.Planner.DisableProvider = true
	}

	log := buildLogger(cfg)
	m := metrics.New()
	defer m.Close()

	guard, _, err := buildGuardrails(cfg, log)
	if err != nil {
		return err
	}

	templates := decompose.NewTemplateStore()
	decomposer, err := buildDecomposer(cfg, templates, m, log)
	if err != nil {
		return err
	}

	goal := models.Goal{
		Text:      strings.Join(args, " "),
		Category:  planCategory,
		Namespace: planNamespace,
	}
	p, err := decomposer.Decompose(context.Background(), goal)
	if err != nil {
		return fmt.Errorf("decompose goal: %w", err)
	}

	bold := color.New(color.Bold)
	bold.Printf("Plan %s (%s decomposition, category %s)\n\n", p.ID, p.Method, p.Goal.Category)

	byID := make(map[string]int, len(p.Tasks))
	for i, t := range p.Tasks {
		byID[t.ID] = i + 1
	}

	for i, t := range p.Tasks {
		decision := guard.Evaluate(t, cfg.Scheduler.Role)

		target := t.ResourceType
		if t.ResourceName != "" {
			target += "/" + t.ResourceName
		}
		deps := ""
		if len(t.DependsOn) > 0 {
			nums := make([]string, len(t.DependsOn))
			for j, dep := range t.DependsOn {
				nums[j] = fmt.Sprintf("%d", byID[dep])
			}
			deps = " (after " + strings.Join(nums, ", ") + ")"
		}

		fmt.Printf("%d. [%s %s] %s%s\n", i+1, t.Operation, target, t.Description, deps)
		switch decision.Verdict {
		case models.VerdictBlock:
			color.Red("   would be BLOCKED (%s risk): %s", decision.Risk, strings.Join(decision.Reasons, "; "))
		case models.VerdictWarn:
			color.Yellow("   warning (%s risk): %s", decision.Risk, strings.Join(decision.Reasons, "; "))
		default:
			color.Green("   allowed (%s risk)", decision.Risk)
		}
		if len(decision.Mitigations) > 0 {
			fmt.Printf("   mitigations: %s\n", strings.Join(decision.Mitigations, "; "))
		}
	}
	return nil
}
