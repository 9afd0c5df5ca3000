// Package orchestrator drives the workflow engine: it pulls ready tasks,
// gates them through the resource manager and runs them on an executor
// without ever blocking the dispatch loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osprey-intel/taskflow/pkg/engine"
	"github.com/osprey-intel/taskflow/pkg/executor"
	"github.com/osprey-intel/taskflow/pkg/metrics"
	"github.com/osprey-intel/taskflow/pkg/resource"
	"github.com/osprey-intel/taskflow/pkg/task"
)

// DefaultPollInterval is how long the dispatch loop sleeps when the queue
// is empty or admission was refused.
const DefaultPollInterval = 100 * time.Millisecond

//go:generate mockgen -source orchestrator.go -destination ./mock/orchestrator.go

// Orchestrator is the service facade: submission, status and metrics on
// top of the dispatch loop.
type Orchestrator interface {
	// Start launches the dispatch loop. Calling Start on a running
	// orchestrator is a no-op.
	Start()
	// Stop halts dispatching and waits for in-flight tasks to finish.
	// Calling Stop on a stopped orchestrator is a no-op.
	Stop()
	// SubmitWorkflow validates the specs, builds the tasks and registers
	// them as one workflow.
	SubmitWorkflow(specs []task.Spec) (uuid.UUID, error)
	// WorkflowStatus reports per-task status and progress for an active
	// or archived workflow.
	WorkflowStatus(id uuid.UUID) (*WorkflowStatus, error)
	// ListWorkflows returns a summary of every active workflow.
	ListWorkflows() []WorkflowSummary
	// Metrics returns a point-in-time snapshot of engine and execution
	// counters.
	Metrics() Metrics
}

// Option adjusts an orchestrator at construction time.
type Option func(*orchestrator)

// WithPollInterval overrides DefaultPollInterval, mainly for tests.
func WithPollInterval(d time.Duration) Option {
	return func(o *orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMetrics installs a Prometheus metric set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *orchestrator) { o.prom = m }
}

type orchestrator struct {
	engine       engine.WorkflowEngine
	resources    resource.Manager
	exec         executor.Executor
	prom         *metrics.Metrics
	pollInterval time.Duration

	mutex          sync.Mutex
	running        bool
	cancel         context.CancelFunc
	group          *errgroup.Group
	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	wfSubmitted    int64
	archivedSeen   int
}

// New wires an orchestrator from its collaborators.
func New(eng engine.WorkflowEngine, resources resource.Manager, exec executor.Executor, opts ...Option) Orchestrator {
	o := &orchestrator{
		engine:       eng,
		resources:    resources,
		exec:         exec,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *orchestrator) Start() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	o.cancel = cancel
	o.group = group
	o.running = true
	group.Go(func() error {
		o.dispatch(ctx, group)
		return nil
	})
	log.Info().Msg("orchestrator started")
}

func (o *orchestrator) Stop() {
	o.mutex.Lock()
	if !o.running {
		o.mutex.Unlock()
		return
	}
	o.running = false
	cancel, group := o.cancel, o.group
	o.mutex.Unlock()

	cancel()
	group.Wait()
	log.Info().Msg("orchestrator stopped")
}

// dispatch pulls ready tasks and hands each admitted one to its own
// goroutine. It never blocks on task execution.
func (o *orchestrator) dispatch(ctx context.Context, group *errgroup.Group) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		workflowID, tk, ok := o.engine.NextTask()
		if !ok {
			o.syncGauges()
			if !o.sleep(ctx) {
				return
			}
			continue
		}

		if !o.resources.Acquire(tk) {
			o.engine.Requeue(workflowID, tk.ID)
			if !o.sleep(ctx) {
				return
			}
			continue
		}

		group.Go(func() error {
			o.execute(workflowID, tk)
			return nil
		})
	}
}

func (o *orchestrator) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(o.pollInterval):
		return true
	}
}

// execute runs one admitted task. The context is deliberately detached
// from the dispatch loop: Stop waits for in-flight tasks instead of
// cancelling them, and the task timeout is the only deadline.
func (o *orchestrator) execute(workflowID uuid.UUID, tk *task.Task) {
	defer o.resources.Release(tk.ID)

	ctx, cancel := context.WithTimeout(context.Background(), tk.Timeout)
	defer cancel()

	req := executor.Request{
		WorkflowID: workflowID,
		TaskID:     tk.ID,
		Kind:       tk.Kind,
		Payload:    tk.Payload,
		Metadata:   tk.Metadata,
		MaxRetries: tk.MaxRetries,
		Timeout:    tk.Timeout,
	}

	start := time.Now()
	result, err := o.runExecutor(ctx, req)
	elapsed := time.Since(start)

	o.resources.RecordPerformance(tk.ID, elapsed, err == nil)

	if cerr := o.engine.CompleteTask(workflowID, tk.ID, result, err); cerr != nil {
		log.Error().
			Err(cerr).
			Str("workflow", workflowID.String()).
			Str("task", tk.ID).
			Msg("could not record task completion")
	}

	o.mutex.Lock()
	if err == nil {
		o.tasksCompleted++
	} else {
		o.tasksFailed++
	}
	o.mutex.Unlock()

	if o.prom != nil {
		o.prom.TaskDuration.Observe(elapsed.Seconds())
		o.prom.TasksCompleted.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	}
	o.syncGauges()
}

// runExecutor confines executor panics to the task that caused them.
func (o *orchestrator) runExecutor(ctx context.Context, req executor.Request) (result task.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("task", req.TaskID).
				Msg("executor panicked")
			result, err = nil, fmt.Errorf("executor panic: %v", r)
		}
	}()
	return o.exec.Execute(ctx, req)
}

func (o *orchestrator) SubmitWorkflow(specs []task.Spec) (uuid.UUID, error) {
	if len(specs) == 0 {
		return uuid.Nil, errors.New("workflow needs at least one task")
	}
	tasks := make([]*task.Task, 0, len(specs))
	for _, spec := range specs {
		tk, err := task.New(spec)
		if err != nil {
			return uuid.Nil, err
		}
		tasks = append(tasks, tk)
	}

	id := uuid.New()
	if err := o.engine.CreateWorkflow(id, tasks); err != nil {
		return uuid.Nil, err
	}

	o.mutex.Lock()
	o.wfSubmitted++
	o.tasksSubmitted += int64(len(tasks))
	o.mutex.Unlock()
	if o.prom != nil {
		o.prom.WorkflowsSubmitted.Inc()
		o.prom.TasksSubmitted.Add(float64(len(tasks)))
	}
	log.Info().
		Str("workflow", id.String()).
		Int("tasks", len(tasks)).
		Msg("workflow submitted")
	return id, nil
}

func (o *orchestrator) Metrics() Metrics {
	counts := o.engine.Counts()
	o.mutex.Lock()
	m := Metrics{
		TasksSubmitted:     o.tasksSubmitted,
		TasksCompleted:     o.tasksCompleted,
		TasksFailed:        o.tasksFailed,
		WorkflowsSubmitted: o.wfSubmitted,
	}
	o.mutex.Unlock()

	m.WorkflowsCompleted = int64(counts.ArchivedWorkflows)
	m.ActiveTasks = counts.RunningTasks
	m.ActiveWorkflows = counts.ActiveWorkflows
	m.QueueDepth = counts.QueueDepth
	m.ResourceStats = o.resources.Stats()
	return m
}

// syncGauges pushes the engine census into the Prometheus gauges and
// turns newly archived workflows into counter increments.
func (o *orchestrator) syncGauges() {
	if o.prom == nil {
		return
	}
	counts := o.engine.Counts()
	o.prom.ActiveTasks.Set(float64(counts.RunningTasks))
	o.prom.ActiveWorkflows.Set(float64(counts.ActiveWorkflows))
	o.prom.QueueDepth.Set(float64(counts.QueueDepth))

	o.mutex.Lock()
	delta := counts.ArchivedWorkflows - o.archivedSeen
	o.archivedSeen = counts.ArchivedWorkflows
	o.mutex.Unlock()
	if delta > 0 {
		o.prom.WorkflowsCompleted.Add(float64(delta))
	}
}
