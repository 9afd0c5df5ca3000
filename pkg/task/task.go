// Package task defines the immutable unit-of-work model shared by the
// workflow engine, the orchestrator and the executor surface.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task within a workflow.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	// StatusCancelled marks a task whose prerequisite failed. The engine
	// never hands a cancelled task to an executor.
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether a task in this status will never run again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Priority values are small integers, lower served first.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 9
)

// Defaults applied by New when the spec leaves a field unset.
const (
	DefaultTimeout           = 5 * time.Minute
	DefaultEstimatedDuration = time.Minute
)

var errEmptyKind = errors.New("task spec: executor kind is required")

// Result is the payload an executor returns for a completed task.
type Result map[string]interface{}

// Spec is the caller-facing description of a task. Zero fields other than
// Kind are filled with defaults by New.
type Spec struct {
	ID                string                 `json:"id,omitempty" yaml:"id"`
	Kind              string                 `json:"kind" yaml:"kind"`
	Payload           map[string]interface{} `json:"payload,omitempty" yaml:"payload"`
	Priority          int                    `json:"priority,omitempty" yaml:"priority"`
	EstimatedDuration time.Duration          `json:"estimated_duration,omitempty" yaml:"estimated_duration"`
	Timeout           time.Duration          `json:"timeout,omitempty" yaml:"timeout"`
	MaxRetries        int                    `json:"max_retries,omitempty" yaml:"max_retries"`
	DependsOn         []string               `json:"depends_on,omitempty" yaml:"depends"`
	Metadata          map[string]string      `json:"metadata,omitempty" yaml:"metadata"`
}

// Task is an immutable description of one unit of work plus its scheduling
// metadata. Build one with New; the engine owns all mutable state.
type Task struct {
	ID                string
	Kind              string
	Payload           map[string]interface{}
	Priority          int
	CreatedAt         time.Time
	DependsOn         []string
	MaxRetries        int
	Timeout           time.Duration
	EstimatedDuration time.Duration
	Metadata          map[string]string
}

// New validates a spec, applies defaults and returns the immutable task.
func New(spec Spec) (*Task, error) {
	if spec.Kind == "" {
		return nil, errEmptyKind
	}
	if spec.Priority < 0 {
		return nil, fmt.Errorf("task spec %q: negative priority %d", spec.ID, spec.Priority)
	}
	if spec.MaxRetries < 0 {
		return nil, fmt.Errorf("task spec %q: negative max retries %d", spec.ID, spec.MaxRetries)
	}

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	priority := spec.Priority
	if priority == 0 {
		priority = PriorityNormal
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	estimated := spec.EstimatedDuration
	if estimated <= 0 {
		estimated = DefaultEstimatedDuration
	}

	t := &Task{
		ID:                id,
		Kind:              spec.Kind,
		Priority:          priority,
		CreatedAt:         time.Now(),
		MaxRetries:        spec.MaxRetries,
		Timeout:           timeout,
		EstimatedDuration: estimated,
	}
	if len(spec.Payload) > 0 {
		t.Payload = make(map[string]interface{}, len(spec.Payload))
		for k, v := range spec.Payload {
			t.Payload[k] = v
		}
	}
	if len(spec.DependsOn) > 0 {
		t.DependsOn = append([]string(nil), spec.DependsOn...)
	}
	if len(spec.Metadata) > 0 {
		t.Metadata = make(map[string]string, len(spec.Metadata))
		for k, v := range spec.Metadata {
			t.Metadata[k] = v
		}
	}
	return t, nil
}
