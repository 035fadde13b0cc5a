// Package scheduler drives plan execution: it dispatches ready tasks to
// workers under a concurrency bound, routes every action through the
// guardrail engine, and retries failures with exponential backoff.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kranthiB/kubepilot/internal/guardrail"
	"github.com/kranthiB/kubepilot/internal/metrics"
	"github.com/kranthiB/kubepilot/internal/plan"
	"github.com/kranthiB/kubepilot/internal/tools"
	"github.com/kranthiB/kubepilot/pkg/models"
)

// Config tunes the scheduler.
type Config struct {
	// MaxConcurrency bounds simultaneously running tasks.
	MaxConcurrency int
	// TaskTimeout bounds a single tool invocation.
	TaskTimeout time.Duration
	// RetryBaseDelay is the first retry backoff; each retry doubles it.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff growth.
	RetryMaxDelay time.Duration
	// Role is the operator role evaluated by the guardrail engine.
	Role string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 60 * time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.Role == "" {
		c.Role = "viewer"
	}
	return c
}

// Scheduler executes one plan at a time. It owns no state between runs.
type Scheduler struct {
	guard      *guardrail.Engine
	engineFn   func() *guardrail.Engine
	invoker    tools.Invoker
	metrics    *metrics.Registry
	log        *slog.Logger
	cfg        Config
	onDecision func(taskID string, d models.Decision)
}

// New creates a scheduler.
func New(guard *guardrail.Engine, invoker tools.Invoker, m *metrics.Registry, log *slog.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		guard:   guard,
		invoker: invoker,
		metrics: m,
		log:     log,
		cfg:     cfg.withDefaults(),
	}
}

// UseEngineSource makes the scheduler resolve the guardrail engine through
// fn before each execution attempt, so a hot-reloaded policy applies to
// tasks dispatched after the swap. Pass the watcher's Engine method.
func (s *Scheduler) UseEngineSource(fn func() *guardrail.Engine) {
	s.engineFn = fn
}

// engine returns the guardrail engine for one attempt. Each attempt resolves
// once, so evaluation and output filtering see the same policy.
func (s *Scheduler) engine() *guardrail.Engine {
	if s.engineFn != nil {
		return s.engineFn()
	}
	return s.guard
}

// OnDecision registers a callback invoked from the run loop with the
// guardrail decision of every execution attempt. Callers use it to persist
// an audit trail; the callback runs on the loop goroutine.
func (s *Scheduler) OnDecision(fn func(taskID string, d models.Decision)) {
	s.onDecision = fn
}

// completion is a worker's report back to the run loop.
type completion struct {
	taskID   string
	status   models.TaskStatus
	detail   string
	err      string
	decision models.Decision
}

// Run executes the plan to quiescence and returns the outcome. Cancellation
// lets running tasks finish inside their own timeout; tasks not yet started
// are skipped.
func (s *Scheduler) Run(ctx context.Context, store *plan.Store) (*models.PlanOutcome, error) {
	cfg := s.cfg
	start := time.Now()
	p := store.Plan()
	log := s.log.With("plan_id", p.ID, "goal_category", p.Goal.Category)

	completionCh := make(chan completion, cfg.MaxConcurrency)
	retryCh := make(chan string, 16)

	inflight := 0
	pendingRetries := 0
	var retryTimers []*time.Timer
	canceled := false

	handleCompletion := func(c completion) {
		inflight--
		if s.onDecision != nil {
			s.onDecision(c.taskID, c.decision)
		}
		if err := store.ApplyTransition(c.taskID, c.status, c.detail); err != nil {
			log.Error("apply transition", "task_id", c.taskID, "status", c.status, "error", err)
			return
		}
		if c.status != models.TaskStatusFailed {
			return
		}
		task := store.Task(c.taskID)
		if task == nil || task.RetryCount >= store.MaxRetries() {
			return
		}
		if canceled {
			return
		}
		// Budget remains: schedule the failed->ready transition after backoff.
		delay := backoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay, task.RetryCount)
		pendingRetries++
		s.metrics.RecordRetry(p.ID, c.taskID)
		log.Warn("task failed, retrying", "task_id", c.taskID,
			"retry", task.RetryCount, "delay", delay, "error", c.err)
		id := c.taskID
		retryTimers = append(retryTimers, time.AfterFunc(delay, func() {
			retryCh <- id
		}))
	}

	for {
		select {
		case <-ctx.Done():
			if !canceled {
				canceled = true
				for _, t := range retryTimers {
					if t.Stop() {
						pendingRetries--
					}
				}
				s.skipUnstarted(store)
				store.Finalize()
				log.Info("run canceled, draining in-flight tasks", "inflight", inflight)
			}
			if inflight == 0 && pendingRetries == 0 {
				return store.Outcome(time.Since(start)), ctx.Err()
			}
			// Block until something drains; timers are stopped so only
			// completions (and already-fired retries) arrive.
			select {
			case c := <-completionCh:
				handleCompletion(c)
			case <-retryCh:
				pendingRetries--
			}

		case c := <-completionCh:
			handleCompletion(c)

		case taskID := <-retryCh:
			pendingRetries--
			if err := store.ApplyTransition(taskID, models.TaskStatusReady, "retry"); err != nil {
				log.Error("requeue for retry", "task_id", taskID, "error", err)
			}

		default:
			ready := s.materializeReady(store)
			if len(ready) == 0 {
				if inflight == 0 && pendingRetries == 0 {
					return store.Outcome(time.Since(start)), nil
				}
				// Nothing dispatchable, wait for a completion or retry.
				select {
				case <-ctx.Done():
				case c := <-completionCh:
					handleCompletion(c)
				case taskID := <-retryCh:
					pendingRetries--
					if err := store.ApplyTransition(taskID, models.TaskStatusReady, "retry"); err != nil {
						log.Error("requeue for retry", "task_id", taskID, "error", err)
					}
				}
				continue
			}

			dispatched := 0
			for _, task := range ready {
				if inflight >= cfg.MaxConcurrency {
					break
				}
				if err := store.ApplyTransition(task.ID, models.TaskStatusRunning, ""); err != nil {
					log.Error("dispatch", "task_id", task.ID, "error", err)
					continue
				}
				inflight++
				dispatched++
				go s.execute(ctx, store, task, completionCh, log)
			}
			if dispatched == 0 && inflight > 0 {
				// Concurrency bound is saturated, wait for a slot.
				handleCompletion(<-completionCh)
			}
		}
	}
}

// materializeReady promotes dependency-satisfied pending tasks to ready so
// every task observably passes through the ready state, then returns the
// dispatchable set in priority order.
func (s *Scheduler) materializeReady(store *plan.Store) []*models.Task {
	ready := store.ReadyTasks()
	for _, t := range ready {
		if t.Status == models.TaskStatusPending {
			if err := store.ApplyTransition(t.ID, models.TaskStatusReady, ""); err != nil {
				s.log.Error("promote to ready", "task_id", t.ID, "error", err)
			}
		}
	}
	return store.ReadyTasks()
}

// skipUnstarted marks every pending or ready task skipped. Used on
// cancellation; skip propagation to dependents is handled by the store.
func (s *Scheduler) skipUnstarted(store *plan.Store) {
	for _, t := range store.Plan().Tasks {
		switch t.Status {
		case models.TaskStatusPending, models.TaskStatusReady:
			if err := store.ApplyTransition(t.ID, models.TaskStatusSkipped, "run canceled"); err != nil &&
				t.Status != models.TaskStatusSkipped {
				s.log.Error("skip on cancel", "task_id", t.ID, "error", err)
			}
		}
	}
}

// execute runs the guardrail-wrapped tool pipeline for one task and reports
// the terminal status on completionCh. The task was already transitioned to
// running by the loop.
func (s *Scheduler) execute(ctx context.Context, store *plan.Store, task *models.Task, completionCh chan<- completion, log *slog.Logger) {
	category := store.Plan().Goal.Category
	start := time.Now()

	guard := s.engine()
	decision := guard.Evaluate(task, s.cfg.Role)
	store.SetRisk(task.ID, decision.Risk)

	if decision.Blocked() {
		s.metrics.RecordGuardrailBlock(category, string(decision.Risk))
		log.Warn("task blocked by guardrails", "task_id", task.ID,
			"risk", decision.Risk, "reasons", decision.Reasons)
		detail := strings.Join(decision.Reasons, "; ")
		if len(decision.Mitigations) > 0 {
			detail += " | mitigations: " + strings.Join(decision.Mitigations, "; ")
		}
		completionCh <- completion{taskID: task.ID, status: models.TaskStatusBlocked, detail: detail, decision: decision}
		return
	}
	if decision.Verdict == models.VerdictWarn {
		log.Warn("task proceeding with warnings", "task_id", task.ID,
			"risk", decision.Risk, "reasons", decision.Reasons,
			"mitigations", decision.Mitigations)
	}

	req := tools.Request{
		Operation:    task.Operation,
		ResourceType: task.ResourceType,
		ResourceName: task.ResourceName,
		Namespace:    task.Namespace,
		Params:       task.Params,
		Timeout:      s.cfg.TaskTimeout,
	}

	s.metrics.RecordToolCall(task.Operation, category)
	// A canceled run still lets in-flight work finish; the per-call timeout
	// is the only bound here.
	result, err := s.invoker.Invoke(context.WithoutCancel(ctx), req)
	elapsed := time.Since(start)
	s.metrics.ObserveTaskDuration(task.PlanID, task.ID, task.Operation, category, task.Priority, elapsed)

	if err != nil {
		s.metrics.RecordToolResult(task.Operation, category, false)
		completionCh <- completion{taskID: task.ID, status: models.TaskStatusFailed, detail: err.Error(), err: err.Error(), decision: decision}
		return
	}

	filtered, matched := guard.FilterOutput(result.Output)
	if len(matched) > 0 {
		log.Info("output filtered", "task_id", task.ID, "categories", matched)
	}
	store.SetOutput(task.ID, filtered)

	s.metrics.RecordToolResult(task.Operation, category, result.Success)
	if !result.Success {
		completionCh <- completion{taskID: task.ID, status: models.TaskStatusFailed, detail: result.Error, err: result.Error, decision: decision}
		return
	}
	log.Info("task succeeded", "task_id", task.ID, "duration", elapsed)
	completionCh <- completion{taskID: task.ID, status: models.TaskStatusSucceeded, decision: decision}
}

// backoff returns base*2^(attempt-1) capped at max. attempt is 1-based.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
