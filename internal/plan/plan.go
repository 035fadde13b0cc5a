// Package plan wraps a decomposed plan with the task state machine the
// scheduler drives. The store is the only writer of task statuses.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kranthiB/kubepilot/internal/graph"
	"github.com/kranthiB/kubepilot/pkg/models"
)

// ErrTerminalStatus indicates an attempt to overwrite a terminal task status.
var ErrTerminalStatus = errors.New("task status is terminal")

// ErrInvalidTransition indicates a transition the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store owns a plan for the duration of a scheduler run. All status mutations
// go through ApplyTransition, which is internally synchronized.
type Store struct {
	mu         sync.RWMutex
	plan       *models.Plan
	graph      *graph.DependencyGraph
	tasks      map[string]*models.Task
	maxRetries int
	finalized  bool
}

// New builds a store for the given plan. The task dependency graph must be
// acyclic; a cyclic plan is a decomposition defect and is rejected here.
func New(p *models.Plan, maxRetries int) (*Store, error) {
	g := graph.New()
	if err := g.Build(p.Tasks); err != nil {
		return nil, fmt.Errorf("build task graph: %w", err)
	}

	tasks := make(map[string]*models.Task, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks[t.ID] = t
	}

	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Store{plan: p, graph: g, tasks: tasks, maxRetries: maxRetries}, nil
}

// Plan returns the underlying plan.
func (s *Store) Plan() *models.Plan {
	return s.plan
}

// MaxRetries returns the retry budget applied to failed tasks.
func (s *Store) MaxRetries() int {
	return s.maxRetries
}

// Task returns the task with the given ID, or nil.
func (s *Store) Task(id string) *models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[id]
}

// ReadyTasks returns every task that can be dispatched now: tasks already in
// ready status (retry returns) and pending tasks whose dependencies have all
// succeeded. Ordered by descending priority, then ascending ID, so dispatch
// order is deterministic.
func (s *Store) ReadyTasks() []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []*models.Task
	for id, t := range s.tasks {
		switch t.Status {
		case models.TaskStatusReady:
			ready = append(ready, t)
		case models.TaskStatusPending:
			if s.graph.DependenciesSucceeded(id) {
				ready = append(ready, t)
			}
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// Active reports whether any task could still make progress.
// Failed tasks with retry budget left count as active until finalized.
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tasks {
		switch t.Status {
		case models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusRunning:
			return true
		case models.TaskStatusFailed:
			if !s.finalized && t.RetryCount < s.maxRetries {
				return true
			}
		}
	}
	return false
}

// Finalize declares that no further retries will run: failed tasks still
// holding retry budget become terminal and their dependents are skipped.
// The scheduler calls this on cancellation, after abandoning retry timers.
func (s *Store) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	s.finalized = true

	now := time.Now()
	for id, t := range s.tasks {
		if t.Status == models.TaskStatusFailed && t.CompletedAt == nil {
			t.CompletedAt = &now
			s.skipDependentsLocked(id, models.TaskStatusFailed)
		}
	}
}

// SetRisk records the guardrail risk classification on a task.
func (s *Store) SetRisk(taskID string, risk models.RiskLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Risk = risk
	}
}

// SetOutput records the filtered tool output on a task.
func (s *Store) SetOutput(taskID, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Output = output
	}
}

// ApplyTransition validates and applies a status transition. Terminal statuses
// are never overwritten. When a task terminates without succeeding, every
// transitive dependent still waiting is moved to skipped.
func (s *Store) ApplyTransition(taskID string, next models.TaskStatus, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if s.terminalLocked(t) {
		return fmt.Errorf("%w: task %s is %s", ErrTerminalStatus, taskID, t.Status)
	}
	if !allowedTransition(t.Status, next) {
		return fmt.Errorf("%w: %s -> %s for task %s", ErrInvalidTransition, t.Status, next, taskID)
	}

	switch next {
	case models.TaskStatusFailed:
		// Each failed execution attempt consumes one retry.
		t.RetryCount++
		t.LastError = detail
	case models.TaskStatusReady:
		if t.Status == models.TaskStatusFailed && t.RetryCount >= s.maxRetries {
			return fmt.Errorf("%w: task %s retry budget exhausted", ErrInvalidTransition, taskID)
		}
	}

	t.Status = next
	t.StatusDetail = detail

	if s.terminalLocked(t) {
		now := time.Now()
		t.CompletedAt = &now
		if next != models.TaskStatusSucceeded {
			s.skipDependentsLocked(taskID, next)
		}
	}
	return nil
}

// Status derives the overall plan status from the task statuses.
func (s *Store) Status() models.PlanStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed, blocked, skipped bool
	for _, t := range s.tasks {
		switch t.Status {
		case models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusRunning:
			return models.PlanStatusRunning
		case models.TaskStatusFailed:
			if !s.finalized && t.RetryCount < s.maxRetries {
				return models.PlanStatusRunning
			}
			failed = true
		case models.TaskStatusBlocked:
			blocked = true
		case models.TaskStatusSkipped:
			skipped = true
		}
	}

	switch {
	case failed:
		return models.PlanStatusFailed
	case blocked:
		return models.PlanStatusBlocked
	case skipped:
		// Tasks were skipped without any failure: the run was canceled.
		return models.PlanStatusCanceled
	default:
		return models.PlanStatusSucceeded
	}
}

// Outcome summarizes the plan after the run completed.
func (s *Store) Outcome(duration time.Duration) *models.PlanOutcome {
	status := s.Status()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &models.PlanOutcome{
		PlanID:   s.plan.ID,
		Status:   status,
		Duration: duration,
	}
	for _, t := range s.tasks {
		switch t.Status {
		case models.TaskStatusSucceeded:
			out.Succeeded++
		case models.TaskStatusFailed:
			out.Failed++
		case models.TaskStatusBlocked:
			out.Blocked++
		case models.TaskStatusSkipped:
			out.Skipped++
		}
	}
	return out
}

// terminalLocked reports whether a task can no longer change status.
func (s *Store) terminalLocked(t *models.Task) bool {
	switch t.Status {
	case models.TaskStatusSucceeded, models.TaskStatusBlocked, models.TaskStatusSkipped:
		return true
	case models.TaskStatusFailed:
		return s.finalized || t.RetryCount >= s.maxRetries
	default:
		return false
	}
}

// skipDependentsLocked moves every transitive dependent that has not started
// to terminal skipped. Caller must hold s.mu.
func (s *Store) skipDependentsLocked(taskID string, cause models.TaskStatus) {
	now := time.Now()
	for _, depID := range s.graph.TransitiveDependents(taskID) {
		dep := s.tasks[depID]
		if dep == nil {
			continue
		}
		switch dep.Status {
		case models.TaskStatusPending, models.TaskStatusReady:
			dep.Status = models.TaskStatusSkipped
			dep.StatusDetail = fmt.Sprintf("dependency %s %s", taskID, cause)
			dep.CompletedAt = &now
		}
	}
}

// allowedTransition encodes the task state machine.
func allowedTransition(from, to models.TaskStatus) bool {
	switch from {
	case models.TaskStatusPending:
		return to == models.TaskStatusReady || to == models.TaskStatusSkipped
	case models.TaskStatusReady:
		return to == models.TaskStatusRunning || to == models.TaskStatusSkipped
	case models.TaskStatusRunning:
		switch to {
		case models.TaskStatusSucceeded, models.TaskStatusFailed, models.TaskStatusBlocked:
			return true
		}
		return false
	case models.TaskStatusFailed:
		// Retry path. Budget is checked by the caller holding the lock.
		return to == models.TaskStatusReady
	default:
		return false
	}
}
