package engine

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/osprey-intel/taskflow/pkg/task"
)

// newWorkflow builds the dependency graph for a task set. Dependencies are
// declared by task id and must name tasks in the same workflow; an id that
// resolves to nothing is logged and stays unmet, so the dependent task never
// becomes ready.
func newWorkflow(id uuid.UUID, tasks []*task.Task) *workflow {
	wrk := &workflow{
		id:        id,
		createdAt: time.Now(),
		nodes:     make(map[string]*node, len(tasks)),
	}
	for _, t := range tasks {
		wrk.nodes[t.ID] = &node{
			task:    t,
			status:  task.StatusPending,
			waiting: make(map[string]struct{}, len(t.DependsOn)),
		}
	}
	for _, t := range tasks {
		n := wrk.nodes[t.ID]
		for _, dep := range t.DependsOn {
			if _, ok := n.waiting[dep]; ok {
				continue
			}
			n.waiting[dep] = struct{}{}
			parent, ok := wrk.nodes[dep]
			if !ok {
				log.Warn().
					Str("workflow", id.String()).
					Str("task", t.ID).
					Str("dependency", dep).
					Msg("dependency does not name a task in this workflow")
				continue
			}
			parent.dependents = append(parent.dependents, t.ID)
		}
	}
	return wrk
}

// cancelDownstream marks every pending task that transitively depends on
// taskID as cancelled and returns the affected ids.
func (w *workflow) cancelDownstream(taskID string) []string {
	var cancelled []string
	frontier := append([]string(nil), w.nodes[taskID].dependents...)
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		n := w.nodes[id]
		if n.status != task.StatusPending {
			continue
		}
		n.status = task.StatusCancelled
		n.endedAt = time.Now()
		cancelled = append(cancelled, id)
		frontier = append(frontier, n.dependents...)
	}
	sort.Strings(cancelled)
	return cancelled
}

func (w *workflow) snapshot() *WorkflowSnapshot {
	snap := &WorkflowSnapshot{
		ID:        w.id,
		CreatedAt: w.createdAt,
		Tasks:     make(map[string]NodeSnapshot, len(w.nodes)),
	}
	for id, n := range w.nodes {
		ns := NodeSnapshot{
			TaskID:            id,
			Kind:              n.task.Kind,
			Status:            n.status,
			Priority:          n.task.Priority,
			StartedAt:         n.startedAt,
			EndedAt:           n.endedAt,
			EstimatedDuration: n.task.EstimatedDuration,
			Result:            n.result,
		}
		if n.err != nil {
			ns.Error = n.err.Error()
		}
		for dep := range n.waiting {
			ns.WaitingOn = append(ns.WaitingOn, dep)
		}
		sort.Strings(ns.WaitingOn)
		snap.Tasks[id] = ns
	}
	return snap
}

func (w *workflow) completed() *CompletedWorkflow {
	done := &CompletedWorkflow{
		ID:          w.id,
		CompletedAt: time.Now(),
		Tasks:       make(map[string]TaskOutcome, len(w.nodes)),
	}
	for id, n := range w.nodes {
		out := TaskOutcome{
			Status: n.status,
			Result: n.result,
		}
		if !n.startedAt.IsZero() && !n.endedAt.IsZero() {
			out.Duration = n.endedAt.Sub(n.startedAt)
		}
		if n.err != nil {
			out.Error = n.err.Error()
		}
		done.Tasks[id] = out
	}
	return done
}
