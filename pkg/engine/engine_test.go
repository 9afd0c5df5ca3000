package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osprey-intel/taskflow/pkg/task"
)

func taskSet(t *testing.T, specs ...task.Spec) []*task.Task {
	t.Helper()
	tasks := make([]*task.Task, 0, len(specs))
	for _, s := range specs {
		tk, err := task.New(s)
		require.NoError(t, err)
		tasks = append(tasks, tk)
	}
	return tasks
}

func popAll(t *testing.T, eng WorkflowEngine) []string {
	t.Helper()
	var ids []string
	for {
		_, tk, ok := eng.NextTask()
		if !ok {
			return ids
		}
		ids = append(ids, tk.ID)
	}
}

// memStore is a hand-rolled ArchiveStore for observing write-through.
type memStore struct {
	saved   []*CompletedWorkflow
	saveErr error
	stock   map[uuid.UUID]*CompletedWorkflow
	getErr  error
}

func (s *memStore) SaveCompleted(c *CompletedWorkflow) error {
	s.saved = append(s.saved, c)
	return s.saveErr
}

func (s *memStore) GetCompleted(id uuid.UUID) (*CompletedWorkflow, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	c, ok := s.stock[id]
	return c, ok, nil
}

func (s *memStore) ListCompleted(limit int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(s.stock))
	for id := range s.stock {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestCreateWorkflowDuplicateID(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t, task.Spec{ID: "a", Kind: "echo"})))

	err := eng.CreateWorkflow(id, taskSet(t, task.Spec{ID: "a", Kind: "echo"}))
	assert.ErrorIs(t, err, ErrWorkflowExists)

	// the id stays taken after the workflow is archived
	_, tk, ok := eng.NextTask()
	require.True(t, ok)
	require.NoError(t, eng.CompleteTask(id, tk.ID, nil, nil))
	err = eng.CreateWorkflow(id, taskSet(t, task.Spec{ID: "a", Kind: "echo"}))
	assert.ErrorIs(t, err, ErrWorkflowExists)
}

func TestCreateWorkflowValidation(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	assert.Error(t, eng.CreateWorkflow(uuid.New(), nil))

	dup := taskSet(t,
		task.Spec{ID: "a", Kind: "echo"},
		task.Spec{ID: "a", Kind: "echo"})
	assert.Error(t, eng.CreateWorkflow(uuid.New(), dup))
}

func TestNextTaskPriorityOrder(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t,
		task.Spec{ID: "low", Kind: "echo", Priority: task.PriorityLow},
		task.Spec{ID: "high", Kind: "echo", Priority: task.PriorityHigh},
		task.Spec{ID: "normal", Kind: "echo", Priority: task.PriorityNormal},
	)))

	assert.Equal(t, []string{"high", "normal", "low"}, popAll(t, eng))
}

func TestNextTaskFIFOWithinPriority(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t,
		task.Spec{ID: "first", Kind: "echo"},
		task.Spec{ID: "second", Kind: "echo"},
		task.Spec{ID: "third", Kind: "echo"},
	)))

	assert.Equal(t, []string{"first", "second", "third"}, popAll(t, eng))
}

func TestQueueIsGlobalAcrossWorkflows(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	first, second := uuid.New(), uuid.New()
	require.NoError(t, eng.CreateWorkflow(first, taskSet(t,
		task.Spec{ID: "routine", Kind: "echo", Priority: task.PriorityNormal})))
	require.NoError(t, eng.CreateWorkflow(second, taskSet(t,
		task.Spec{ID: "urgent", Kind: "echo", Priority: task.PriorityHigh})))

	wfID, tk, ok := eng.NextTask()
	require.True(t, ok)
	assert.Equal(t, second, wfID)
	assert.Equal(t, "urgent", tk.ID)
}

func TestDependencyGating(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t,
		task.Spec{ID: "a", Kind: "echo"},
		task.Spec{ID: "b", Kind: "echo"},
		task.Spec{ID: "c", Kind: "echo", DependsOn: []string{"a", "b"}},
		task.Spec{ID: "d", Kind: "echo", DependsOn: []string{"c"}},
	)))

	assert.Equal(t, []string{"a", "b"}, popAll(t, eng))

	require.NoError(t, eng.CompleteTask(id, "a", task.Result{"rows": 10}, nil))
	_, _, ok := eng.NextTask()
	assert.False(t, ok, "c waits for both dependencies")

	require.NoError(t, eng.CompleteTask(id, "b", nil, nil))
	_, tk, ok := eng.NextTask()
	require.True(t, ok)
	assert.Equal(t, "c", tk.ID)

	require.NoError(t, eng.CompleteTask(id, "c", nil, nil))
	_, tk, ok = eng.NextTask()
	require.True(t, ok)
	assert.Equal(t, "d", tk.ID)
	require.NoError(t, eng.CompleteTask(id, "d", nil, nil))

	_, active := eng.Snapshot(id)
	assert.False(t, active, "finished workflow leaves the active table")

	done, ok := eng.Completed(id)
	require.True(t, ok)
	require.Len(t, done.Tasks, 4)
	for tid, out := range done.Tasks {
		assert.Equal(t, task.StatusCompleted, out.Status, tid)
	}
	assert.Equal(t, task.Result{"rows": 10}, done.Tasks["a"].Result)
}

// An unblocked high-priority task overtakes a low-priority task that has
// been sitting in the queue since workflow creation.
func TestUnblockedTaskOvertakesByPriority(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t,
		task.Spec{ID: "a", Kind: "echo", Priority: task.PriorityHigh},
		task.Spec{ID: "b", Kind: "echo", Priority: task.PriorityHigh},
		task.Spec{ID: "c", Kind: "echo", Priority: task.PriorityHigh, DependsOn: []string{"a", "b"}},
		task.Spec{ID: "d", Kind: "echo", Priority: task.PriorityNormal},
	)))

	_, first, ok := eng.NextTask()
	require.True(t, ok)
	_, second, ok := eng.NextTask()
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{first.ID, second.ID})

	require.NoError(t, eng.CompleteTask(id, "a", nil, nil))
	require.NoError(t, eng.CompleteTask(id, "b", nil, nil))

	// c joined the queue long after d but has the better priority
	assert.Equal(t, []string{"c", "d"}, popAll(t, eng))
}

func TestFailureCancelsDownstream(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t,
		task.Spec{ID: "a", Kind: "echo"},
		task.Spec{ID: "b", Kind: "echo", DependsOn: []string{"a"}},
		task.Spec{ID: "c", Kind: "echo", DependsOn: []string{"b"}},
		task.Spec{ID: "d", Kind: "echo"},
	)))

	require.Equal(t, []string{"a", "d"}, popAll(t, eng))

	require.NoError(t, eng.CompleteTask(id, "a", nil, errors.New("boom")))

	snap, ok := eng.Snapshot(id)
	require.True(t, ok, "d is still running")
	assert.Equal(t, task.StatusFailed, snap.Tasks["a"].Status)
	assert.Equal(t, task.StatusCancelled, snap.Tasks["b"].Status)
	assert.Equal(t, task.StatusCancelled, snap.Tasks["c"].Status)
	assert.Equal(t, task.StatusRunning, snap.Tasks["d"].Status)

	_, _, ok = eng.NextTask()
	assert.False(t, ok, "cancelled tasks never reach the queue")

	require.NoError(t, eng.CompleteTask(id, "d", nil, nil))

	done, ok := eng.Completed(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusFailed, done.Tasks["a"].Status)
	assert.Equal(t, "boom", done.Tasks["a"].Error)
	assert.Equal(t, task.StatusCancelled, done.Tasks["b"].Status)
	assert.Equal(t, task.StatusCancelled, done.Tasks["c"].Status)
	assert.Equal(t, task.StatusCompleted, done.Tasks["d"].Status)
}

func TestFailureCancelsDiamond(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t,
		task.Spec{ID: "root", Kind: "echo"},
		task.Spec{ID: "left", Kind: "echo", DependsOn: []string{"root"}},
		task.Spec{ID: "right", Kind: "echo", DependsOn: []string{"root"}},
		task.Spec{ID: "join", Kind: "echo", DependsOn: []string{"left", "right"}},
	)))

	_, tk, ok := eng.NextTask()
	require.True(t, ok)
	require.Equal(t, "root", tk.ID)
	require.NoError(t, eng.CompleteTask(id, "root", nil, errors.New("boom")))

	done, ok := eng.Completed(id)
	require.True(t, ok, "nothing left running, archived at once")
	assert.Equal(t, task.StatusFailed, done.Tasks["root"].Status)
	for _, tid := range []string{"left", "right", "join"} {
		assert.Equal(t, task.StatusCancelled, done.Tasks[tid].Status, tid)
	}
}

func TestNextTaskSkipsStaleEntries(t *testing.T) {
	eng := NewWorkflowEngine(nil).(*engine)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t,
		task.Spec{ID: "real", Kind: "echo", Priority: task.PriorityLow})))

	// entries that outlived their workflow or task sort ahead of the
	// real one and must be skipped
	eng.push(uuid.New(), "ghost", task.PriorityHigh)
	eng.push(id, "gone", task.PriorityHigh)

	wfID, tk, ok := eng.NextTask()
	require.True(t, ok)
	assert.Equal(t, id, wfID)
	assert.Equal(t, "real", tk.ID)

	_, _, ok = eng.NextTask()
	assert.False(t, ok)
}

func TestRequeue(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t, task.Spec{ID: "a", Kind: "echo"})))

	wfID, tk, ok := eng.NextTask()
	require.True(t, ok)

	assert.True(t, eng.Requeue(wfID, tk.ID))
	counts := eng.Counts()
	assert.Equal(t, 0, counts.RunningTasks)
	assert.Equal(t, 1, counts.QueueDepth)

	snap, ok := eng.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusPending, snap.Tasks["a"].Status)
	assert.True(t, snap.Tasks["a"].StartedAt.IsZero())

	_, tk, ok = eng.NextTask()
	require.True(t, ok)
	assert.Equal(t, "a", tk.ID)

	assert.False(t, eng.Requeue(id, "missing"))
	assert.False(t, eng.Requeue(uuid.New(), "a"))

	require.NoError(t, eng.CompleteTask(id, "a", nil, nil))
	assert.False(t, eng.Requeue(id, "a"), "workflow already archived")
}

func TestDanglingDependencyNeverReady(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t,
		task.Spec{ID: "a", Kind: "echo"},
		task.Spec{ID: "b", Kind: "echo", DependsOn: []string{"ghost"}},
	)))

	_, tk, ok := eng.NextTask()
	require.True(t, ok)
	assert.Equal(t, "a", tk.ID)
	require.NoError(t, eng.CompleteTask(id, "a", nil, nil))

	_, _, ok = eng.NextTask()
	assert.False(t, ok)

	snap, ok := eng.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusPending, snap.Tasks["b"].Status)
	assert.Equal(t, []string{"ghost"}, snap.Tasks["b"].WaitingOn)
}

func TestCompleteTaskValidation(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t, task.Spec{ID: "a", Kind: "echo"})))

	assert.ErrorIs(t, eng.CompleteTask(uuid.New(), "a", nil, nil), ErrWorkflowNotFound)
	assert.ErrorIs(t, eng.CompleteTask(id, "missing", nil, nil), ErrTaskNotFound)
	assert.Error(t, eng.CompleteTask(id, "a", nil, nil), "task was never handed out")
}

func TestArchiveWriteThrough(t *testing.T) {
	store := &memStore{}
	eng := NewWorkflowEngine(store)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t, task.Spec{ID: "a", Kind: "echo"})))

	_, tk, ok := eng.NextTask()
	require.True(t, ok)
	require.NoError(t, eng.CompleteTask(id, tk.ID, task.Result{"ok": true}, nil))

	require.Len(t, store.saved, 1)
	assert.Equal(t, id, store.saved[0].ID)

	done, ok := eng.Completed(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, done.Tasks["a"].Status)
}

func TestArchiveStoreFailureIsNotFatal(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	eng := NewWorkflowEngine(store)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t, task.Spec{ID: "a", Kind: "echo"})))

	_, tk, ok := eng.NextTask()
	require.True(t, ok)
	require.NoError(t, eng.CompleteTask(id, tk.ID, nil, nil))

	// in-memory archive still serves the record
	_, ok = eng.Completed(id)
	assert.True(t, ok)
}

func TestCompletedFallsBackToStore(t *testing.T) {
	id := uuid.New()
	store := &memStore{stock: map[uuid.UUID]*CompletedWorkflow{
		id: {ID: id, CompletedAt: time.Now()},
	}}
	eng := NewWorkflowEngine(store)

	done, ok := eng.Completed(id)
	require.True(t, ok)
	assert.Equal(t, id, done.ID)

	_, ok = eng.Completed(uuid.New())
	assert.False(t, ok)

	store.getErr = errors.New("db gone")
	_, ok = eng.Completed(id)
	assert.False(t, ok)
}

func TestCounts(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	id := uuid.New()
	require.NoError(t, eng.CreateWorkflow(id, taskSet(t,
		task.Spec{ID: "a", Kind: "echo"},
		task.Spec{ID: "b", Kind: "echo", DependsOn: []string{"a"}},
	)))

	assert.Equal(t, Counts{ActiveWorkflows: 1, QueueDepth: 1}, eng.Counts())

	_, tk, ok := eng.NextTask()
	require.True(t, ok)
	counts := eng.Counts()
	assert.Equal(t, 1, counts.RunningTasks)
	assert.Equal(t, 0, counts.QueueDepth)

	require.NoError(t, eng.CompleteTask(id, tk.ID, nil, nil))
	_, tk, ok = eng.NextTask()
	require.True(t, ok)
	require.NoError(t, eng.CompleteTask(id, tk.ID, nil, nil))

	assert.Equal(t, Counts{ArchivedWorkflows: 1}, eng.Counts())
}

func TestListActiveOrder(t *testing.T) {
	eng := NewWorkflowEngine(nil)
	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.New()
		require.NoError(t, eng.CreateWorkflow(id, taskSet(t, task.Spec{ID: "a", Kind: "echo"})))
		want = append(want, id)
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, want, eng.ListActive())
}
