package engine

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/osprey-intel/taskflow/pkg/task"
)

var (
	// ErrWorkflowExists signals a workflow id collision with an active or
	// archived workflow.
	ErrWorkflowExists = errors.New("workflow id already exists")
	// ErrWorkflowNotFound signals an operation on an unknown workflow.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrTaskNotFound signals an operation on an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
)

// WorkflowEngine tracks the dependency graph of every active workflow,
// serves ready tasks in priority order and archives workflows once all of
// their tasks reach a terminal status.
type WorkflowEngine interface {
	// CreateWorkflow registers a workflow under id and queues the tasks
	// that have no dependencies.
	CreateWorkflow(id uuid.UUID, tasks []*task.Task) error

	// NextTask pops the highest priority ready task and marks it RUNNING.
	// The boolean is false when no task is ready.
	NextTask() (uuid.UUID, *task.Task, bool)

	// CompleteTask records the outcome of a RUNNING task. A nil taskErr
	// marks the task COMPLETED and may unblock dependents; a non-nil
	// taskErr marks it FAILED and cancels every pending task downstream
	// of it. The workflow is archived when no non-terminal task remains.
	CompleteTask(workflowID uuid.UUID, taskID string, result task.Result, taskErr error) error

	// Requeue returns a task handed out by NextTask to the ready queue
	// without recording an attempt. Used when execution could not be
	// admitted. Reports whether the task was requeued.
	Requeue(workflowID uuid.UUID, taskID string) bool

	// Snapshot returns the current per-task state of an active workflow.
	Snapshot(id uuid.UUID) (*WorkflowSnapshot, bool)

	// Completed returns the archived record of a finished workflow.
	Completed(id uuid.UUID) (*CompletedWorkflow, bool)

	// ListActive returns the ids of active workflows, oldest first.
	ListActive() []uuid.UUID

	// Counts reports queue and workflow totals for metrics.
	Counts() Counts
}

type engine struct {
	mutex    sync.Mutex
	active   map[uuid.UUID]*workflow
	archived map[uuid.UUID]*CompletedWorkflow
	queue    readyQueue
	seq      uint64
	running  int
	store    ArchiveStore
}

// NewWorkflowEngine creates an engine. The store may be nil, in which case
// archived workflows are held in memory only.
func NewWorkflowEngine(store ArchiveStore) WorkflowEngine {
	return &engine{
		active:   make(map[uuid.UUID]*workflow),
		archived: make(map[uuid.UUID]*CompletedWorkflow),
		store:    store,
	}
}

func (e *engine) CreateWorkflow(id uuid.UUID, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return fmt.Errorf("workflow %s has no tasks", id)
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("workflow %s: duplicate task id %s", id, t.ID)
		}
		seen[t.ID] = struct{}{}
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, ok := e.active[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrWorkflowExists)
	}
	if _, ok := e.archived[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrWorkflowExists)
	}

	wrk := newWorkflow(id, tasks)
	e.active[id] = wrk
	for _, t := range tasks {
		n := wrk.nodes[t.ID]
		if n.ready() {
			e.push(wrk.id, t.ID, t.Priority)
		}
	}
	log.Debug().
		Str("workflow", id.String()).
		Int("tasks", len(tasks)).
		Msg("workflow created")
	return nil
}

func (e *engine) NextTask() (uuid.UUID, *task.Task, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	for e.queue.Len() > 0 {
		entry := heap.Pop(&e.queue).(*queueEntry)
		wrk, ok := e.active[entry.workflowID]
		if !ok {
			continue
		}
		n, ok := wrk.nodes[entry.taskID]
		if !ok || !n.ready() {
			continue
		}
		n.status = task.StatusRunning
		n.startedAt = time.Now()
		e.running++
		log.Debug().
			Str("workflow", entry.workflowID.String()).
			Str("task", entry.taskID).
			Msg("task dequeued")
		return entry.workflowID, n.task, true
	}
	return uuid.Nil, nil, false
}

func (e *engine) CompleteTask(workflowID uuid.UUID, taskID string, result task.Result, taskErr error) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	wrk, ok := e.active[workflowID]
	if !ok {
		return fmt.Errorf("%s: %w", workflowID, ErrWorkflowNotFound)
	}
	n, ok := wrk.nodes[taskID]
	if !ok {
		return fmt.Errorf("%s: %w", taskID, ErrTaskNotFound)
	}
	if n.status != task.StatusRunning {
		return fmt.Errorf("task %s in workflow %s is %s, expected %s",
			taskID, workflowID, n.status, task.StatusRunning)
	}

	n.endedAt = time.Now()
	n.result = result
	n.err = taskErr
	e.running--

	if taskErr == nil {
		n.status = task.StatusCompleted
		for _, dep := range n.dependents {
			child := wrk.nodes[dep]
			delete(child.waiting, taskID)
			if child.ready() {
				e.push(workflowID, dep, child.task.Priority)
			}
		}
	} else {
		n.status = task.StatusFailed
		cancelled := wrk.cancelDownstream(taskID)
		log.Info().
			Str("workflow", workflowID.String()).
			Str("task", taskID).
			Strs("cancelled", cancelled).
			Err(taskErr).
			Msg("task failed")
	}

	if wrk.allTerminal() {
		e.archive(wrk)
	}
	return nil
}

func (e *engine) Requeue(workflowID uuid.UUID, taskID string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	wrk, ok := e.active[workflowID]
	if !ok {
		return false
	}
	n, ok := wrk.nodes[taskID]
	if !ok || n.status != task.StatusRunning {
		return false
	}
	n.status = task.StatusPending
	n.startedAt = time.Time{}
	e.running--
	e.push(workflowID, taskID, n.task.Priority)
	log.Debug().
		Str("workflow", workflowID.String()).
		Str("task", taskID).
		Msg("task requeued")
	return true
}

func (e *engine) Snapshot(id uuid.UUID) (*WorkflowSnapshot, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	wrk, ok := e.active[id]
	if !ok {
		return nil, false
	}
	return wrk.snapshot(), true
}

func (e *engine) Completed(id uuid.UUID) (*CompletedWorkflow, bool) {
	e.mutex.Lock()
	done, ok := e.archived[id]
	e.mutex.Unlock()
	if ok {
		return done, true
	}
	if e.store == nil {
		return nil, false
	}
	done, ok, err := e.store.GetCompleted(id)
	if err != nil {
		log.Error().Err(err).Str("workflow", id.String()).Msg("archive store lookup failed")
		return nil, false
	}
	return done, ok
}

func (e *engine) ListActive() []uuid.UUID {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	ids := make([]uuid.UUID, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		wi, wj := e.active[ids[i]], e.active[ids[j]]
		if !wi.createdAt.Equal(wj.createdAt) {
			return wi.createdAt.Before(wj.createdAt)
		}
		return ids[i].String() < ids[j].String()
	})
	return ids
}

func (e *engine) Counts() Counts {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return Counts{
		ActiveWorkflows:   len(e.active),
		ArchivedWorkflows: len(e.archived),
		RunningTasks:      e.running,
		QueueDepth:        e.queue.Len(),
	}
}

// push appends a ready-queue entry. Caller holds the engine lock.
func (e *engine) push(workflowID uuid.UUID, taskID string, priority int) {
	e.seq++
	heap.Push(&e.queue, &queueEntry{
		priority:   priority,
		seq:        e.seq,
		workflowID: workflowID,
		taskID:     taskID,
	})
}

// archive moves a finished workflow out of the active table. Caller holds
// the engine lock.
func (e *engine) archive(wrk *workflow) {
	done := wrk.completed()
	delete(e.active, wrk.id)
	e.archived[wrk.id] = done
	log.Info().
		Str("workflow", wrk.id.String()).
		Int("tasks", len(done.Tasks)).
		Msg("workflow archived")
	if e.store == nil {
		return
	}
	if err := e.store.SaveCompleted(done); err != nil {
		log.Error().Err(err).Str("workflow", wrk.id.String()).Msg("archive store write failed")
	}
}
