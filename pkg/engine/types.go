package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/osprey-intel/taskflow/pkg/task"
)

// node wraps one task with the engine-owned mutable state. All access is
// guarded by the engine mutex.
type node struct {
	task      *task.Task
	status    task.Status
	startedAt time.Time
	endedAt   time.Time
	result    task.Result
	err       error

	// waiting holds the ids of dependencies that have not completed yet.
	waiting map[string]struct{}
	// dependents lists the nodes that name this one as a prerequisite,
	// in workflow declaration order.
	dependents []string
}

// ready reports whether the node may be handed to an executor.
func (n *node) ready() bool {
	return n.status == task.StatusPending && len(n.waiting) == 0
}

type workflow struct {
	id        uuid.UUID
	createdAt time.Time
	nodes     map[string]*node
}

func (w *workflow) allTerminal() bool {
	for _, n := range w.nodes {
		if !n.status.Terminal() {
			return false
		}
	}
	return true
}

// NodeSnapshot is a point-in-time copy of one node's state.
type NodeSnapshot struct {
	TaskID            string        `json:"task_id"`
	Kind              string        `json:"kind"`
	Status            task.Status   `json:"status"`
	Priority          int           `json:"priority"`
	StartedAt         time.Time     `json:"started_at,omitempty"`
	EndedAt           time.Time     `json:"ended_at,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	Result            task.Result   `json:"result,omitempty"`
	Error             string        `json:"error,omitempty"`
	WaitingOn         []string      `json:"waiting_on,omitempty"`
}

// WorkflowSnapshot is a point-in-time copy of an active workflow.
type WorkflowSnapshot struct {
	ID        uuid.UUID               `json:"id"`
	CreatedAt time.Time               `json:"created_at"`
	Tasks     map[string]NodeSnapshot `json:"tasks"`
}

// TaskOutcome is the terminal record of one task inside an archived
// workflow.
type TaskOutcome struct {
	Status   task.Status   `json:"status"`
	Duration time.Duration `json:"duration"`
	Result   task.Result   `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// CompletedWorkflow is the immutable archive record built when the last
// node of a workflow reaches a terminal status.
type CompletedWorkflow struct {
	ID          uuid.UUID              `json:"id"`
	CompletedAt time.Time              `json:"completed_at"`
	Tasks       map[string]TaskOutcome `json:"tasks"`
}

// Counts is the engine-level census polled by the metrics surface.
type Counts struct {
	ActiveWorkflows   int `json:"active_workflows"`
	ArchivedWorkflows int `json:"archived_workflows"`
	RunningTasks      int `json:"running_tasks"`
	QueueDepth        int `json:"queue_depth"`
}
