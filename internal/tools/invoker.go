// Package tools defines the boundary to the target cluster. The orchestration
// core treats an invoker as an opaque side-effecting call.
package tools

import (
	"context"
	"time"
)

// Request describes one cluster operation to perform.
type Request struct {
	// Operation is the verb (get, scale, delete, drain, ...).
	Operation string
	// ResourceType is the kind of resource the operation targets.
	ResourceType string
	// ResourceName is the name of the target resource, if any.
	ResourceName string
	// Namespace is the target namespace, if any.
	Namespace string
	// Params carries operation-specific parameters.
	Params map[string]string
	// Timeout bounds the call.
	Timeout time.Duration
}

// Result is the outcome of one invocation. Error is set when the operation ran
// and failed; a transport-level failure is returned as a Go error instead.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Invoker executes one cluster operation.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to the Invoker interface.
type Func func(ctx context.Context, req Request) (Result, error)

// Invoke calls the wrapped function.
func (f Func) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
