// Package decompose turns operator goals into dependency-ordered task plans.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kranthiB/kubepilot/internal/graph"
	"github.com/kranthiB/kubepilot/internal/metrics"
	"github.com/kranthiB/kubepilot/pkg/models"
)

// ErrEmptyResult indicates the provider returned no tasks.
var ErrEmptyResult = errors.New("decomposition produced no tasks")

// ErrFallbackFailed indicates the template fallback could not produce a plan.
// This is the only decomposition failure that rejects the goal.
var ErrFallbackFailed = errors.New("fallback decomposition failed")

// Candidate is one task proposed by the reasoning provider. Dependencies
// reference the refs of other candidates in the same set.
type Candidate struct {
	Ref          string            `json:"ref"`
	Description  string            `json:"description"`
	Operation    string            `json:"operation"`
	ResourceType string            `json:"resource_type"`
	ResourceName string            `json:"resource_name,omitempty"`
	Namespace    string            `json:"namespace,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	Priority     int               `json:"priority,omitempty"`
	DependsOn    []string          `json:"depends_on,omitempty"`
}

// Provider produces candidate tasks for a goal. Implementations call an
// external reasoning service and are expected to honor the context deadline.
type Provider interface {
	Propose(ctx context.Context, goal models.Goal) ([]Candidate, error)
}

// Config tunes the decomposer.
type Config struct {
	// Timeout bounds the primary provider call. Expiry triggers fallback.
	Timeout time.Duration
	// MaxSteps caps the number of tasks accepted from the provider.
	MaxSteps int
}

// Decomposer validates provider output and falls back to deterministic
// template expansion when the primary path fails. Decomposition is one-shot
// per goal; a second submission produces a new plan.
type Decomposer struct {
	provider  Provider
	templates *TemplateStore
	metrics   *metrics.Registry
	log       *slog.Logger
	timeout   time.Duration
	maxSteps  int
}

// New creates a decomposer. The provider may be nil, in which case every goal
// goes through the template fallback.
func New(provider Provider, templates *TemplateStore, m *metrics.Registry, log *slog.Logger, cfg Config) *Decomposer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}
	return &Decomposer{
		provider:  provider,
		templates: templates,
		metrics:   m,
		log:       log,
		timeout:   timeout,
		maxSteps:  maxSteps,
	}
}

// Decompose produces a plan for the goal. Provider failures of any kind
// (timeout, malformed output, unknown dependencies, cycles, empty result) are
// recovered through the fallback; only a fallback failure is returned.
func (d *Decomposer) Decompose(ctx context.Context, goal models.Goal) (*models.Plan, error) {
	category := goal.Category
	if category == "" {
		category = d.templates.InferCategory(goal.Text)
	}
	goal.Category = category

	planID := uuid.New().String()
	start := time.Now()

	if d.provider != nil {
		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		tasks, err := d.proposePrimary(pctx, planID, goal)
		cancel()
		if err == nil {
			d.metrics.ObserveDecomposition(string(models.MethodPrimary), category, time.Since(start))
			return &models.Plan{
				ID:        planID,
				Goal:      goal,
				Tasks:     tasks,
				Method:    models.MethodPrimary,
				CreatedAt: time.Now(),
			}, nil
		}
		d.log.Warn("primary decomposition failed, using template fallback",
			"plan_id", planID, "goal_category", category, "error", err)
	}

	tasks, err := d.templates.Expand(planID, goal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFallbackFailed, err)
	}
	d.metrics.RecordFallback(category)
	d.metrics.ObserveDecomposition(string(models.MethodFallback), category, time.Since(start))

	return &models.Plan{
		ID:        planID,
		Goal:      goal,
		Tasks:     tasks,
		Method:    models.MethodFallback,
		CreatedAt: time.Now(),
	}, nil
}

// proposePrimary calls the provider and validates its output.
func (d *Decomposer) proposePrimary(ctx context.Context, planID string, goal models.Goal) ([]*models.Task, error) {
	candidates, err := d.provider.Propose(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	return d.buildTasks(planID, goal, candidates)
}

// buildTasks converts candidates into tasks and validates the dependency
// graph: every referenced dependency must exist and the graph must be acyclic.
func (d *Decomposer) buildTasks(planID string, goal models.Goal, candidates []Candidate) ([]*models.Task, error) {
	if len(candidates) == 0 {
		return nil, ErrEmptyResult
	}
	if len(candidates) > d.maxSteps {
		candidates = candidates[:d.maxSteps]
	}

	refToID := make(map[string]string, len(candidates))
	for _, c := range candidates {
		if c.Ref == "" {
			return nil, fmt.Errorf("candidate %q has no ref", c.Description)
		}
		if _, dup := refToID[c.Ref]; dup {
			return nil, fmt.Errorf("duplicate candidate ref %q", c.Ref)
		}
		refToID[c.Ref] = uuid.New().String()
	}

	now := time.Now()
	tasks := make([]*models.Task, len(candidates))
	for i, c := range candidates {
		namespace := c.Namespace
		if namespace == "" {
			namespace = goal.Namespace
		}
		priority := c.Priority
		if priority == 0 {
			priority = len(candidates) - i
		}

		task := &models.Task{
			ID:           refToID[c.Ref],
			PlanID:       planID,
			Description:  c.Description,
			Operation:    c.Operation,
			ResourceType: c.ResourceType,
			ResourceName: c.ResourceName,
			Namespace:    namespace,
			Params:       c.Params,
			Priority:     priority,
			Status:       models.TaskStatusPending,
			CreatedAt:    now,
		}
		for _, depRef := range c.DependsOn {
			depID, ok := refToID[depRef]
			if !ok {
				return nil, fmt.Errorf("candidate %q depends on unknown ref %q", c.Ref, depRef)
			}
			task.DependsOn = append(task.DependsOn, depID)
		}
		tasks[i] = task
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return nil, fmt.Errorf("validate dependencies: %w", err)
	}
	return tasks, nil
}
