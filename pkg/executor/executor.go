// Package executor defines how the orchestrator runs a task once the
// engine hands it out: a small request contract, a registry dispatching on
// task kind, and the built-in and AMQP-backed executors.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osprey-intel/taskflow/pkg/task"
)

// ErrUnknownKind is returned when no executor is registered for a task kind.
var ErrUnknownKind = errors.New("no executor registered for kind")

// Request carries everything an executor needs to run one task.
type Request struct {
	WorkflowID uuid.UUID              `json:"workflow_id"`
	TaskID     string                 `json:"task_id"`
	Kind       string                 `json:"kind"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
	MaxRetries int                    `json:"max_retries,omitempty"`
	Timeout    time.Duration          `json:"timeout,omitempty"`
}

// Executor runs one task to completion. Implementations must honor ctx
// cancellation; the orchestrator derives it from the task timeout.
type Executor interface {
	Execute(ctx context.Context, req Request) (task.Result, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, req Request) (task.Result, error)

func (f Func) Execute(ctx context.Context, req Request) (task.Result, error) {
	return f(ctx, req)
}

// Registry dispatches requests to the executor registered for their kind.
// It implements Executor itself so the orchestrator needs no special case.
type Registry struct {
	mutex  sync.RWMutex
	byKind map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string]Executor)}
}

// Register binds kind to ex, replacing any previous binding.
func (r *Registry) Register(kind string, ex Executor) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.byKind[kind] = ex
}

// Get returns the executor bound to kind.
func (r *Registry) Get(kind string) (Executor, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	ex, ok := r.byKind[kind]
	return ex, ok
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	kinds := make([]string, 0, len(r.byKind))
	for kind := range r.byKind {
		kinds = append(kinds, kind)
	}
	return kinds
}

func (r *Registry) Execute(ctx context.Context, req Request) (task.Result, error) {
	ex, ok := r.Get(req.Kind)
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.Kind, ErrUnknownKind)
	}
	return ex.Execute(ctx, req)
}
