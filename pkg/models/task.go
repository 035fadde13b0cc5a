package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on its dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies succeeded and the task can be dispatched.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates the task is executing against the cluster.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the task completed successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the last execution attempt failed.
	// A failed task may return to ready until its retry budget is spent.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates the guardrail denied execution. Terminal.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusSkipped indicates a dependency terminated without succeeding. Terminal.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusSucceeded, TaskStatusFailed, TaskStatusBlocked, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Task represents a single cluster operation within a plan.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// PlanID is the identifier of the owning plan.
	PlanID string `json:"plan_id"`
	// Description is the human-readable statement of the task.
	Description string `json:"description"`
	// Operation is the verb applied to the resource (get, scale, delete, ...).
	Operation string `json:"operation"`
	// ResourceType is the kind of resource the operation targets.
	ResourceType string `json:"resource_type"`
	// ResourceName is the name of the target resource, if any.
	ResourceName string `json:"resource_name,omitempty"`
	// Namespace is the target namespace, if any.
	Namespace string `json:"namespace,omitempty"`
	// Params carries operation-specific parameters (replicas, container, ...).
	Params map[string]string `json:"params,omitempty"`
	// Priority orders dispatch among simultaneously ready tasks. Higher first.
	Priority int `json:"priority"`
	// DependsOn lists task IDs that must succeed before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// StatusDetail carries the reason for the latest transition.
	StatusDetail string `json:"status_detail,omitempty"`
	// RetryCount is the number of failed execution attempts so far.
	RetryCount int `json:"retry_count,omitempty"`
	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`
	// Risk is the classification assigned by the guardrail engine.
	Risk RiskLevel `json:"risk,omitempty"`
	// Output is the filtered tool output from a successful execution.
	Output string `json:"output,omitempty"`
	// CreatedAt is when the task was created by the decomposer.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Goal is an operator-supplied intent. Immutable once accepted.
type Goal struct {
	// Text is the raw operator intent.
	Text string `json:"text"`
	// Category tags the goal for template selection and metrics grouping.
	Category string `json:"category,omitempty"`
	// Namespace is the target namespace, when the operator scopes the goal.
	Namespace string `json:"namespace,omitempty"`
	// Cluster identifies the target cluster, when more than one is configured.
	Cluster string `json:"cluster,omitempty"`
}

// DecompositionMethod records how a plan was produced.
type DecompositionMethod string

const (
	// MethodPrimary indicates the reasoning provider produced the plan.
	MethodPrimary DecompositionMethod = "primary"
	// MethodFallback indicates the deterministic template expansion was used.
	MethodFallback DecompositionMethod = "fallback"
)

// PlanStatus is the overall status of a plan, derived from its task statuses.
type PlanStatus string

const (
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusSucceeded PlanStatus = "succeeded"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusBlocked   PlanStatus = "blocked"
	PlanStatusCanceled  PlanStatus = "canceled"
)

// Plan is one decomposition result for a goal. Append-only except for task
// status transitions, which are owned by the scheduler.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// Goal is the operator intent this plan was produced for.
	Goal Goal `json:"goal"`
	// Tasks is the ordered set of tasks produced by decomposition.
	Tasks []*Task `json:"tasks"`
	// Method records whether the primary provider or the fallback produced it.
	Method DecompositionMethod `json:"method"`
	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`
}

// PlanOutcome summarizes a completed scheduler run.
type PlanOutcome struct {
	// PlanID is the plan this outcome belongs to.
	PlanID string `json:"plan_id"`
	// Status is the derived terminal plan status.
	Status PlanStatus `json:"status"`
	// Succeeded, Failed, Blocked, and Skipped count tasks by terminal status.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Skipped   int `json:"skipped"`
	// Duration is the wall-clock time of the run.
	Duration time.Duration `json:"duration"`
}
