// Package integration defines the contract between the remediation engine and
// the external NAC/DLP/notification platforms that carry out actions. The
// engine only sees Executors; wire clients live in subpackages.
package integration

import (
	"context"

	"github.com/linnemanlabs/warden/internal/classify"
)

// Target identifies what an action operates on.
type Target struct {
	// SourceAddr is the offending device address (quarantine, VLAN isolation).
	SourceAddr string
	// IncidentID ties notifications and artifact quarantines back to the incident.
	IncidentID string
	// EventType gives the platform context for the action (e.g. data_exfiltration).
	EventType string
}

// Executor carries out one or more action primitives against a platform.
// Execute must be idempotent from the caller's perspective: the dispatcher
// retries transient failures. Errors are classified via the fault package.
type Executor interface {
	Execute(ctx context.Context, action classify.Action, target Target) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action classify.Action, target Target) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, action classify.Action, target Target) error {
	return f(ctx, action, target)
}

// Registry routes each action name to the Executor responsible for it.
type Registry struct {
	executors map[classify.Action]Executor
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[classify.Action]Executor)}
}

// Register binds an executor to the given actions.
func (r *Registry) Register(ex Executor, actions ...classify.Action) {
	for _, a := range actions {
		r.executors[a] = ex
	}
}

// Get retrieves the executor for an action, and whether one is registered.
func (r *Registry) Get(action classify.Action) (Executor, bool) {
	ex, ok := r.executors[action]
	return ex, ok
}

// Actions returns the registered action names.
func (r *Registry) Actions() []classify.Action {
	out := make([]classify.Action, 0, len(r.executors))
	for a := range r.executors {
		out = append(out, a)
	}
	return classify.SortActions(out)
}
