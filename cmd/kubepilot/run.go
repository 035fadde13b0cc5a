package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kranthiB/kubepilot/internal/config"
	"github.com/kranthiB/kubepilot/internal/decompose"
	"github.com/kranthiB/kubepilot/internal/feedback"
	"github.com/kranthiB/kubepilot/internal/metrics"
	"github.com/kranthiB/kubepilot/internal/plan"
	"github.com/kranthiB/kubepilot/internal/scheduler"
	"github.com/kranthiB/kubepilot/internal/state"
	"github.com/kranthiB/kubepilot/internal/tools"
	"github.com/kranthiB/kubepilot/pkg/models"
)

var (
	runNamespace    string
	runCategory     string
	runRole         string
	runMetricsAddr  string
	runNoFeedback   bool
	runFallbackOnly bool
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Decompose a goal and execute it against the cluster",
	Long: `Run decomposes the goal into a task plan and executes it.

Each task is evaluated by the guardrail engine before its tool runs: role
permissions, protected namespaces, prohibited input patterns, and a risk
tier for the operation. Blocked tasks never reach the cluster, and their
dependents are skipped. Transient failures retry with exponential backoff.

After the run, the plan and every guardrail decision are recorded in the
history database, and you are prompted for feedback that tunes future
decompositions for this kind of goal.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGoal,
}

func init() {
	runCmd.Flags().StringVarP(&runNamespace, "namespace", "n", "", "Default namespace for the goal")
	runCmd.Flags().StringVar(&runCategory, "category", "", "Goal category override (skips inference)")
	runCmd.Flags().StringVar(&runRole, "role", "", "Operator role evaluated by guardrails")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().BoolVar(&runNoFeedback, "no-feedback", false, "Skip the feedback prompt")
	runCmd.Flags().BoolVar(&runFallbackOnly, "fallback-only", false, "Use template decomposition only, no reasoning provider")
}

func runGoal(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runRole != "" {
		cfg.Scheduler.Role = runRole
	}
	if runMetricsAddr != "" {
		cfg.Scheduler.MetricsAddr = runMetricsAddr
	}
	if runFallbackOnly {
		cfg.Planner.DisableProvider = true
	}

	log := buildLogger(cfg)
	m := metrics.New()
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, letting running tasks finish...")
		cancel()
	}()

	if cfg.Scheduler.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Scheduler.MetricsAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	guard, watcher, err := buildGuardrails(cfg, log)
	if err != nil {
		return err
	}
	if watcher != nil {
		go watcher.Run(ctx)
	}

	templates := decompose.NewTemplateStore()
	decomposer, err := buildDecomposer(cfg, templates, m, log)
	if err != nil {
		return err
	}

	goal := models.Goal{
		Text:      strings.Join(args, " "),
		Category:  runCategory,
		Namespace: runNamespace,
	}

	p, err := decomposer.Decompose(ctx, goal)
	if err != nil {
		return fmt.Errorf("decompose goal: %w", err)
	}
	printPlan(p)

	store, err := plan.New(p, cfg.Scheduler.MaxRetries)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	invoker := tools.NewKubectlInvoker(cfg.Kubectl.Context)
	if cfg.Kubectl.Bin != "" {
		invoker.Bin = cfg.Kubectl.Bin
	}

	sched := scheduler.New(guard, invoker, m, log, scheduler.Config{
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
		TaskTimeout:    cfg.Scheduler.TaskTimeout,
		RetryBaseDelay: cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:  cfg.Scheduler.RetryMaxDelay,
		Role:           cfg.Scheduler.Role,
	})
	if watcher != nil {
		sched.UseEngineSource(watcher.Engine)
	}

	// The hook runs on the scheduler loop goroutine, so no locking here.
	type taskDecision struct {
		taskID   string
		decision models.Decision
	}
	var decisions []taskDecision
	sched.OnDecision(func(taskID string, d models.Decision) {
		decisions = append(decisions, taskDecision{taskID: taskID, decision: d})
	})

	outcome, runErr := sched.Run(ctx, store)
	printOutcome(outcome, p)

	if db, err := state.Open(historyDBPath(cfg)); err != nil {
		log.Warn("history unavailable", "error", err)
	} else {
		if err := db.SaveRun(p, outcome); err != nil {
			log.Warn("save run history", "error", err)
		}
		for _, d := range decisions {
			if err := db.SaveDecision(p.ID, d.taskID, d.decision); err != nil {
				log.Warn("save guardrail decision", "error", err)
				break
			}
		}
		if n, err := db.Purge(cfg.History.Retention); err != nil {
			log.Warn("purge run history", "error", err)
		} else if n > 0 {
			log.Debug("purged old runs", "count", n)
		}
		db.Close()
	}

	if cfg.Feedback.Enabled && !runNoFeedback && runErr == nil {
		collectFeedback(cfg, templates, m, log, outcome, p.Goal)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if outcome.Status == models.PlanStatusFailed || outcome.Status == models.PlanStatusBlocked {
		os.Exit(1)
	}
	return nil
}

func collectFeedback(cfg *config.Config, templates *decompose.TemplateStore, m *metrics.Registry, log *slog.Logger, outcome *models.PlanOutcome, goal models.Goal) {
	metadata, ok := feedbackMetadata(cfg, outcome, goal)
	if !ok {
		log.Warn("skipping feedback: operator unknown and anonymous feedback is disabled")
		return
	}

	fstore, err := feedback.NewStore(feedbackDBPath(cfg))
	if err != nil {
		log.Warn("feedback store unavailable", "error", err)
		return
	}
	defer fstore.Close()
	if err := fstore.Migrate(); err != nil {
		log.Warn("feedback store migrate", "error", err)
		return
	}

	collector := feedback.NewCollector(os.Stdin, os.Stdout, feedback.CollectorConfig{
		Mode:              models.FeedbackMode(cfg.Feedback.Mode),
		RetryOnNoResponse: cfg.Feedback.RetryOnNoResponse,
		Metadata:          metadata,
	})
	rec := collector.Collect(outcome, goal.Category)

	mgr := feedback.NewManager(fstore, feedback.TemplateLearner{Reinforcer: templates}, m,
		log, feedback.ManagerConfig{
			AutoLearnOnPositive: cfg.Feedback.AutoLearnOnPositive,
			AutoLearnOnNegative: cfg.Feedback.AutoLearnOnNegative,
		})
	if err := mgr.Record(rec); err != nil {
		log.Warn("record feedback", "error", err)
	}
}

// feedbackMetadata selects the run attributes stored with each record, per
// feedback.metadata_to_store. The operator identity is always kept when
// known; a missing identity is acceptable only with anonymous feedback.
func feedbackMetadata(cfg *config.Config, outcome *models.PlanOutcome, goal models.Goal) (map[string]string, bool) {
	operator := os.Getenv("USER")
	if operator == "" && !cfg.Feedback.AllowAnonymous {
		return nil, false
	}

	available := map[string]string{
		"category":    goal.Category,
		"namespace":   goal.Namespace,
		"plan_status": string(outcome.Status),
		"role":        cfg.Scheduler.Role,
	}
	metadata := make(map[string]string, len(cfg.Feedback.MetadataToStore)+1)
	for _, key := range cfg.Feedback.MetadataToStore {
		if v := available[key]; v != "" {
			metadata[key] = v
		}
	}
	if operator != "" {
		metadata["operator"] = operator
	}
	return metadata, true
}

func printPlan(p *models.Plan) {
	bold := color.New(color.Bold)
	bold.Printf("\nPlan %s (%s decomposition, %d tasks)\n", p.ID, p.Method, len(p.Tasks))
	for i, t := range p.Tasks {
		target := t.ResourceType
		if t.ResourceName != "" {
			target += "/" + t.ResourceName
		}
		fmt.Printf("  %d. [%s %s] %s\n", i+1, t.Operation, target, t.Description)
	}
	fmt.Println()
}

func printOutcome(outcome *models.PlanOutcome, p *models.Plan) {
	fmt.Println()
	switch outcome.Status {
	case models.PlanStatusSucceeded:
		color.Green("Plan %s succeeded in %s", p.ID, outcome.Duration.Round(time.Millisecond))
	case models.PlanStatusFailed:
		color.Red("Plan %s failed after %s", p.ID, outcome.Duration.Round(time.Millisecond))
	case models.PlanStatusBlocked:
		color.Yellow("Plan %s blocked by guardrails after %s", p.ID, outcome.Duration.Round(time.Millisecond))
	case models.PlanStatusCanceled:
		color.Yellow("Plan %s canceled after %s", p.ID, outcome.Duration.Round(time.Millisecond))
	default:
		fmt.Printf("Plan %s: %s\n", p.ID, outcome.Status)
	}
	fmt.Printf("  %d succeeded, %d failed, %d blocked, %d skipped\n",
		outcome.Succeeded, outcome.Failed, outcome.Blocked, outcome.Skipped)

	for _, t := range p.Tasks {
		switch t.Status {
		case models.TaskStatusBlocked:
			color.Yellow("  blocked: %s (%s)", t.Description, t.StatusDetail)
		case models.TaskStatusFailed:
			color.Red("  failed: %s (%s)", t.Description, t.StatusDetail)
		}
	}
}
