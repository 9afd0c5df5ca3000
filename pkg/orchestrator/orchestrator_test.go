package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osprey-intel/taskflow/pkg/engine"
	"github.com/osprey-intel/taskflow/pkg/executor"
	"github.com/osprey-intel/taskflow/pkg/resource"
	"github.com/osprey-intel/taskflow/pkg/task"
)

func idleHost() (float64, float64, error) { return 5, 5, nil }

func newTestOrchestrator(exec executor.Executor, maxConcurrent int) Orchestrator {
	eng := engine.NewWorkflowEngine(nil)
	resources := resource.New(maxConcurrent, resource.WithUtilizationFunc(idleHost))
	return New(eng, resources, exec, WithPollInterval(5*time.Millisecond))
}

// recordingExecutor remembers execution order and simulates failures for
// the "fail" kind.
type recordingExecutor struct {
	mutex sync.Mutex
	order []string
}

func (e *recordingExecutor) Execute(ctx context.Context, req executor.Request) (task.Result, error) {
	e.mutex.Lock()
	e.order = append(e.order, req.TaskID)
	e.mutex.Unlock()
	if req.Kind == "fail" {
		return nil, errors.New("synthetic failure")
	}
	return task.Result{"task": req.TaskID}, nil
}

func (e *recordingExecutor) executed() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]string(nil), e.order...)
}

func waitArchived(t *testing.T, o Orchestrator, id uuid.UUID) *WorkflowStatus {
	t.Helper()
	var status *WorkflowStatus
	require.Eventually(t, func() bool {
		s, err := o.WorkflowStatus(id)
		if err != nil {
			return false
		}
		status = s
		return s.Archived
	}, 2*time.Second, 5*time.Millisecond, "workflow %s never archived", id)
	return status
}

func TestEndToEndCompletion(t *testing.T) {
	exec := &recordingExecutor{}
	o := newTestOrchestrator(exec, 4)
	o.Start()
	defer o.Stop()

	id, err := o.SubmitWorkflow([]task.Spec{
		{ID: "a", Kind: "echo"},
		{ID: "b", Kind: "echo", DependsOn: []string{"a"}},
		{ID: "c", Kind: "echo", DependsOn: []string{"b"}},
	})
	require.NoError(t, err)

	status := waitArchived(t, o, id)
	assert.Equal(t, []string{"a", "b", "c"}, exec.executed())
	for tid, ts := range status.Tasks {
		assert.Equal(t, task.StatusCompleted, ts.Status, tid)
		assert.Equal(t, 1.0, ts.Progress, tid)
	}
	assert.Equal(t, task.Result{"task": "b"}, status.Tasks["b"].Result)

	m := o.Metrics()
	assert.EqualValues(t, 3, m.TasksSubmitted)
	assert.EqualValues(t, 3, m.TasksCompleted)
	assert.EqualValues(t, 0, m.TasksFailed)
	assert.EqualValues(t, 1, m.WorkflowsSubmitted)
	assert.EqualValues(t, 1, m.WorkflowsCompleted)
}

func TestFailureIsolation(t *testing.T) {
	exec := &recordingExecutor{}
	o := newTestOrchestrator(exec, 4)
	o.Start()
	defer o.Stop()

	id, err := o.SubmitWorkflow([]task.Spec{
		{ID: "a", Kind: "fail"},
		{ID: "b", Kind: "echo", DependsOn: []string{"a"}},
		{ID: "c", Kind: "echo"},
	})
	require.NoError(t, err)

	status := waitArchived(t, o, id)
	assert.Equal(t, task.StatusFailed, status.Tasks["a"].Status)
	assert.Equal(t, "synthetic failure", status.Tasks["a"].Error)
	assert.Equal(t, task.StatusCancelled, status.Tasks["b"].Status)
	assert.Equal(t, task.StatusCompleted, status.Tasks["c"].Status)

	m := o.Metrics()
	assert.EqualValues(t, 1, m.TasksFailed)
	assert.EqualValues(t, 1, m.TasksCompleted)
}

func TestExecutorPanicBecomesTaskFailure(t *testing.T) {
	exec := executor.Func(func(ctx context.Context, req executor.Request) (task.Result, error) {
		if req.Kind == "explode" {
			panic("boom")
		}
		return task.Result{}, nil
	})
	o := newTestOrchestrator(exec, 4)
	o.Start()
	defer o.Stop()

	id, err := o.SubmitWorkflow([]task.Spec{
		{ID: "bad", Kind: "explode"},
		{ID: "good", Kind: "echo"},
	})
	require.NoError(t, err)

	status := waitArchived(t, o, id)
	assert.Equal(t, task.StatusFailed, status.Tasks["bad"].Status)
	assert.Contains(t, status.Tasks["bad"].Error, "executor panic")
	assert.Equal(t, task.StatusCompleted, status.Tasks["good"].Status)
}

func TestConcurrencyLimitAndRequeue(t *testing.T) {
	var active, peak int64
	exec := executor.Func(func(ctx context.Context, req executor.Request) (task.Result, error) {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return task.Result{}, nil
	})

	o := newTestOrchestrator(exec, 1)
	o.Start()
	defer o.Stop()

	var specs []task.Spec
	for _, id := range []string{"t1", "t2", "t3"} {
		specs = append(specs, task.Spec{ID: id, Kind: "echo"})
	}
	id, err := o.SubmitWorkflow(specs)
	require.NoError(t, err)

	waitArchived(t, o, id)
	assert.EqualValues(t, 1, atomic.LoadInt64(&peak), "admission limit held")
}

func TestStopWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	exec := executor.Func(func(ctx context.Context, req executor.Request) (task.Result, error) {
		once.Do(func() { close(started) })
		<-release
		return task.Result{}, nil
	})

	o := newTestOrchestrator(exec, 1)
	o.Start()

	id, err := o.SubmitWorkflow([]task.Spec{{ID: "slow", Kind: "echo"}})
	require.NoError(t, err)
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	o.Stop()

	status, err := o.WorkflowStatus(id)
	require.NoError(t, err)
	assert.True(t, status.Archived, "stop returned only after the task finished")
}

func TestStartStopIdempotent(t *testing.T) {
	o := newTestOrchestrator(&recordingExecutor{}, 2)

	o.Stop() // never started
	o.Start()
	o.Start()
	o.Stop()
	o.Stop()

	// restart still dispatches
	o.Start()
	defer o.Stop()
	id, err := o.SubmitWorkflow([]task.Spec{{ID: "a", Kind: "echo"}})
	require.NoError(t, err)
	waitArchived(t, o, id)
}

func TestSubmitWorkflowValidation(t *testing.T) {
	o := newTestOrchestrator(&recordingExecutor{}, 2)

	_, err := o.SubmitWorkflow(nil)
	assert.Error(t, err)

	_, err = o.SubmitWorkflow([]task.Spec{{ID: "a"}})
	assert.Error(t, err, "missing kind")
}

func TestWorkflowStatusNotFound(t *testing.T) {
	o := newTestOrchestrator(&recordingExecutor{}, 2)
	_, err := o.WorkflowStatus(uuid.New())
	assert.ErrorIs(t, err, engine.ErrWorkflowNotFound)
}

func TestListWorkflows(t *testing.T) {
	o := newTestOrchestrator(&recordingExecutor{}, 2)

	id, err := o.SubmitWorkflow([]task.Spec{
		{ID: "a", Kind: "echo"},
		{ID: "b", Kind: "echo", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	summaries := o.ListWorkflows()
	require.Len(t, summaries, 1)
	assert.Equal(t, id, summaries[0].ID)
	assert.Equal(t, 2, summaries[0].TaskCount)
}

func TestProgressEstimates(t *testing.T) {
	assert.Equal(t, 1.0, progress(engine.NodeSnapshot{Status: task.StatusCompleted}))
	assert.Equal(t, 0.0, progress(engine.NodeSnapshot{Status: task.StatusPending}))
	assert.Equal(t, 0.0, progress(engine.NodeSnapshot{Status: task.StatusFailed}))
	assert.Equal(t, 0.0, progress(engine.NodeSnapshot{Status: task.StatusCancelled}))

	halfway := engine.NodeSnapshot{
		Status:            task.StatusRunning,
		StartedAt:         time.Now().Add(-30 * time.Second),
		EstimatedDuration: time.Minute,
	}
	assert.InDelta(t, 0.5, progress(halfway), 0.05)

	overdue := engine.NodeSnapshot{
		Status:            task.StatusRunning,
		StartedAt:         time.Now().Add(-time.Hour),
		EstimatedDuration: time.Minute,
	}
	assert.Equal(t, 0.95, progress(overdue), "running tasks never report done")
}
