// Package events lets callers observe batch execution through typed
// callbacks. Hooks are registered up front and invoked synchronously by
// the orchestrator; a slow hook slows the batch, so hooks should be cheap.
package events

import (
	"sync"

	"github.com/sdejongh/patchnorris/pkg/models"
)

// OperationStarted is emitted just before a batch item begins executing
type OperationStarted struct {
	// BatchID identifies the enclosing batch invocation
	BatchID string

	// Index is the item's position in the batch, 0-based
	Index int

	// Item is the unit of work about to run
	Item models.BatchItem
}

// OperationCompleted is emitted after a batch item finishes, whatever the
// outcome
type OperationCompleted struct {
	BatchID string
	Index   int
	Item    models.BatchItem

	// Report is the item's operation report; nil only when the item was
	// rejected before an operation could run (see Err)
	Report *models.OperationReport

	// Err is the item's fatal error, nil on success
	Err error
}

// StartedHook observes operation starts
type StartedHook func(OperationStarted)

// CompletedHook observes operation completions
type CompletedHook func(OperationCompleted)

// Registry holds the hooks for one batch invocation. The zero value is
// usable; a nil *Registry is also safe to emit on.
type Registry struct {
	mu        sync.RWMutex
	started   []StartedHook
	completed []CompletedHook
}

// NewRegistry creates an empty hook registry
func NewRegistry() *Registry {
	return &Registry{}
}

// OnStarted registers a hook for operation starts
func (r *Registry) OnStarted(hook StartedHook) {
	r.mu.Lock()
	r.started = append(r.started, hook)
	r.mu.Unlock()
}

// OnCompleted registers a hook for operation completions
func (r *Registry) OnCompleted(hook CompletedHook) {
	r.mu.Lock()
	r.completed = append(r.completed, hook)
	r.mu.Unlock()
}

// EmitStarted invokes the started hooks in registration order
func (r *Registry) EmitStarted(event OperationStarted) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.started
	r.mu.RUnlock()
	for _, hook := range hooks {
		hook(event)
	}
}

// EmitCompleted invokes the completed hooks in registration order
func (r *Registry) EmitCompleted(event OperationCompleted) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.completed
	r.mu.RUnlock()
	for _, hook := range hooks {
		hook(event)
	}
}
