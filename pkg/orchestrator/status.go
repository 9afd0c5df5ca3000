package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osprey-intel/taskflow/pkg/engine"
	"github.com/osprey-intel/taskflow/pkg/resource"
	"github.com/osprey-intel/taskflow/pkg/task"
)

// runningProgressCap keeps a running task's estimate below done until it
// actually completes.
const runningProgressCap = 0.95

// TaskStatus describes one task inside a workflow status document.
type TaskStatus struct {
	Status   task.Status   `json:"status"`
	Progress float64       `json:"progress"`
	Duration time.Duration `json:"duration,omitempty"`
	Result   task.Result   `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// WorkflowStatus is the status document served by the API for one
// workflow, active or archived.
type WorkflowStatus struct {
	ID          uuid.UUID             `json:"id"`
	Archived    bool                  `json:"archived"`
	CreatedAt   time.Time             `json:"created_at,omitempty"`
	CompletedAt time.Time             `json:"completed_at,omitempty"`
	Tasks       map[string]TaskStatus `json:"tasks"`
}

// WorkflowSummary is one row of the active workflow listing.
type WorkflowSummary struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	TaskCount int       `json:"task_count"`
}

// Metrics is the poll-style counter snapshot served by the API.
type Metrics struct {
	TasksSubmitted     int64          `json:"tasks_submitted"`
	TasksCompleted     int64          `json:"tasks_completed"`
	TasksFailed        int64          `json:"tasks_failed"`
	WorkflowsSubmitted int64          `json:"workflows_submitted"`
	WorkflowsCompleted int64          `json:"workflows_completed"`
	ActiveTasks        int            `json:"active_tasks"`
	ActiveWorkflows    int            `json:"active_workflows"`
	QueueDepth         int            `json:"queue_depth"`
	ResourceStats      resource.Stats `json:"resource_stats"`
}

func (o *orchestrator) WorkflowStatus(id uuid.UUID) (*WorkflowStatus, error) {
	if snap, ok := o.engine.Snapshot(id); ok {
		return statusFromSnapshot(snap), nil
	}
	if done, ok := o.engine.Completed(id); ok {
		return statusFromArchive(done), nil
	}
	return nil, fmt.Errorf("%s: %w", id, engine.ErrWorkflowNotFound)
}

func (o *orchestrator) ListWorkflows() []WorkflowSummary {
	ids := o.engine.ListActive()
	summaries := make([]WorkflowSummary, 0, len(ids))
	for _, id := range ids {
		snap, ok := o.engine.Snapshot(id)
		if !ok {
			continue
		}
		summaries = append(summaries, WorkflowSummary{
			ID:        snap.ID,
			CreatedAt: snap.CreatedAt,
			TaskCount: len(snap.Tasks),
		})
	}
	return summaries
}

func statusFromSnapshot(snap *engine.WorkflowSnapshot) *WorkflowStatus {
	status := &WorkflowStatus{
		ID:        snap.ID,
		CreatedAt: snap.CreatedAt,
		Tasks:     make(map[string]TaskStatus, len(snap.Tasks)),
	}
	for id, node := range snap.Tasks {
		ts := TaskStatus{
			Status:   node.Status,
			Progress: progress(node),
			Result:   node.Result,
			Error:    node.Error,
		}
		if node.Status.Terminal() && !node.StartedAt.IsZero() {
			ts.Duration = node.EndedAt.Sub(node.StartedAt)
		}
		status.Tasks[id] = ts
	}
	return status
}

func statusFromArchive(done *engine.CompletedWorkflow) *WorkflowStatus {
	status := &WorkflowStatus{
		ID:          done.ID,
		Archived:    true,
		CompletedAt: done.CompletedAt,
		Tasks:       make(map[string]TaskStatus, len(done.Tasks)),
	}
	for id, out := range done.Tasks {
		ts := TaskStatus{
			Status:   out.Status,
			Duration: out.Duration,
			Result:   out.Result,
			Error:    out.Error,
		}
		if out.Status == task.StatusCompleted {
			ts.Progress = 1
		}
		status.Tasks[id] = ts
	}
	return status
}

// progress estimates how far along a task is. Completed counts as done,
// running tasks extrapolate from the estimated duration, everything else
// has not produced work worth counting.
func progress(node engine.NodeSnapshot) float64 {
	switch node.Status {
	case task.StatusCompleted:
		return 1
	case task.StatusRunning:
		if node.EstimatedDuration <= 0 {
			return 0
		}
		p := float64(time.Since(node.StartedAt)) / float64(node.EstimatedDuration)
		if p > runningProgressCap {
			return runningProgressCap
		}
		return p
	default:
		return 0
	}
}
