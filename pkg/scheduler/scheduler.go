// Package scheduler submits workflows on a one-off, fixed-interval or
// daily time-of-day basis.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/osprey-intel/taskflow/pkg/metrics"
	"github.com/osprey-intel/taskflow/pkg/task"
)

// Kind selects how a schedule decides its next run.
type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
)

// Defaults for the schedule loop timings.
const (
	// DefaultErrorBackoff is slept after a failed interval submission.
	DefaultErrorBackoff = time.Minute
	// DefaultDailyBackoff is slept after a failed daily submission
	// before the next occurrence is recomputed.
	DefaultDailyBackoff = time.Hour
	// DefaultRecheckInterval bounds how long a daily schedule sleeps in
	// one stretch, so clock adjustments are picked up.
	DefaultRecheckInterval = 30 * time.Second
)

// ErrScheduleExists signals a schedule id collision.
var ErrScheduleExists = errors.New("schedule id already exists")

// When carries the timing parameters for a schedule. The Kind decides
// which fields are read.
type When struct {
	// At is the execution time of a once schedule.
	At time.Time `json:"at,omitempty"`
	// Every is the delay between interval runs.
	Every time.Duration `json:"every,omitempty"`
	// Hour and Minute give the local time of day of daily runs.
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// WorkflowSubmitter is the part of the orchestrator the scheduler needs.
type WorkflowSubmitter interface {
	SubmitWorkflow(specs []task.Spec) (uuid.UUID, error)
}

// ScheduleInfo is one row of the schedule listing.
type ScheduleInfo struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

// Scheduler owns a set of named schedules, each driven by its own
// goroutine until removed or stopped.
type Scheduler interface {
	// Add registers a schedule and starts its loop. The id must be new.
	Add(id string, specs []task.Spec, kind Kind, when When) error
	// Remove cancels a schedule's loop. Reports whether id existed.
	Remove(id string) bool
	// Snapshot lists the registered schedules, sorted by id.
	Snapshot() []ScheduleInfo
	// Stop cancels every schedule and waits for their loops to return.
	Stop()
}

// Option adjusts a Scheduler at construction time.
type Option func(*scheduler)

// WithErrorBackoff overrides DefaultErrorBackoff, mainly for tests.
func WithErrorBackoff(d time.Duration) Option {
	return func(s *scheduler) { s.errorBackoff = d }
}

// WithDailyBackoff overrides DefaultDailyBackoff.
func WithDailyBackoff(d time.Duration) Option {
	return func(s *scheduler) { s.dailyBackoff = d }
}

// WithRecheckInterval overrides DefaultRecheckInterval.
func WithRecheckInterval(d time.Duration) Option {
	return func(s *scheduler) { s.recheckInterval = d }
}

// WithMetrics installs a Prometheus metric set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *scheduler) { s.prom = m }
}

type schedule struct {
	id     string
	kind   Kind
	when   When
	specs  []task.Spec
	cancel context.CancelFunc

	runs    int
	lastRun time.Time
	lastErr error
	nextRun time.Time
}

type scheduler struct {
	submitter       WorkflowSubmitter
	prom            *metrics.Metrics
	errorBackoff    time.Duration
	dailyBackoff    time.Duration
	recheckInterval time.Duration

	mutex     sync.Mutex
	stopped   bool
	schedules map[string]*schedule
	wg        sync.WaitGroup
}

// New creates a Scheduler submitting through submitter.
func New(submitter WorkflowSubmitter, opts ...Option) Scheduler {
	s := &scheduler{
		submitter:       submitter,
		errorBackoff:    DefaultErrorBackoff,
		dailyBackoff:    DefaultDailyBackoff,
		recheckInterval: DefaultRecheckInterval,
		schedules:       make(map[string]*schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *scheduler) Add(id string, specs []task.Spec, kind Kind, when When) error {
	if id == "" {
		return errors.New("schedule id is required")
	}
	if len(specs) == 0 {
		return fmt.Errorf("schedule %s: no tasks", id)
	}
	switch kind {
	case KindOnce:
		if when.At.IsZero() {
			return fmt.Errorf("schedule %s: once needs an execution time", id)
		}
	case KindInterval:
		if when.Every <= 0 {
			return fmt.Errorf("schedule %s: interval needs a positive period", id)
		}
	case KindDaily:
		if when.Hour < 0 || when.Hour > 23 || when.Minute < 0 || when.Minute > 59 {
			return fmt.Errorf("schedule %s: daily needs hour 0-23 and minute 0-59", id)
		}
	default:
		return fmt.Errorf("schedule %s: unknown kind %q", id, kind)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopped {
		return errors.New("scheduler is stopped")
	}
	if _, dup := s.schedules[id]; dup {
		return fmt.Errorf("%s: %w", id, ErrScheduleExists)
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &schedule{
		id:     id,
		kind:   kind,
		when:   when,
		specs:  specs,
		cancel: cancel,
	}
	switch kind {
	case KindOnce:
		entry.nextRun = when.At
	case KindInterval:
		entry.nextRun = time.Now()
	case KindDaily:
		entry.nextRun = nextDailyRun(time.Now(), when.Hour, when.Minute)
	}
	s.schedules[id] = entry
	s.wg.Add(1)
	go s.run(ctx, entry)
	log.Info().
		Str("schedule", id).
		Str("kind", string(kind)).
		Msg("schedule added")
	return nil
}

func (s *scheduler) Remove(id string) bool {
	s.mutex.Lock()
	entry, ok := s.schedules[id]
	if ok {
		delete(s.schedules, id)
	}
	s.mutex.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	log.Info().Str("schedule", id).Msg("schedule removed")
	return true
}

func (s *scheduler) Snapshot() []ScheduleInfo {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	infos := make([]ScheduleInfo, 0, len(s.schedules))
	for _, entry := range s.schedules {
		info := ScheduleInfo{
			ID:      entry.id,
			Kind:    entry.kind,
			Runs:    entry.runs,
			LastRun: entry.lastRun,
			NextRun: entry.nextRun,
		}
		if entry.lastErr != nil {
			info.LastError = entry.lastErr.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (s *scheduler) Stop() {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return
	}
	s.stopped = true
	for id, entry := range s.schedules {
		entry.cancel()
		delete(s.schedules, id)
	}
	s.mutex.Unlock()

	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *scheduler) run(ctx context.Context, entry *schedule) {
	defer s.wg.Done()
	switch entry.kind {
	case KindOnce:
		s.runOnce(ctx, entry)
	case KindInterval:
		s.runInterval(ctx, entry)
	case KindDaily:
		s.runDaily(ctx, entry)
	}
}

func (s *scheduler) runOnce(ctx context.Context, entry *schedule) {
	if !s.sleep(ctx, time.Until(entry.when.At)) {
		return
	}
	s.submit(entry)
	s.Remove(entry.id)
}

func (s *scheduler) runInterval(ctx context.Context, entry *schedule) {
	for {
		delay := entry.when.Every
		if err := s.submit(entry); err != nil {
			delay = s.errorBackoff
		}
		s.setNextRun(entry, time.Now().Add(delay))
		if !s.sleep(ctx, delay) {
			return
		}
	}
}

// runDaily sleeps in recheckInterval slices and recomputes the remaining
// delay each time, so wall-clock changes and process suspension cannot
// strand the schedule.
func (s *scheduler) runDaily(ctx context.Context, entry *schedule) {
	for {
		next := nextDailyRun(time.Now(), entry.when.Hour, entry.when.Minute)
		s.setNextRun(entry, next)
		for {
			remaining := time.Until(next)
			if remaining <= 0 {
				break
			}
			if remaining > s.recheckInterval {
				remaining = s.recheckInterval
			}
			if !s.sleep(ctx, remaining) {
				return
			}
		}
		if err := s.submit(entry); err != nil {
			if !s.sleep(ctx, s.dailyBackoff) {
				return
			}
		}
	}
}

func (s *scheduler) submit(entry *schedule) error {
	workflowID, err := s.submitter.SubmitWorkflow(entry.specs)

	s.mutex.Lock()
	entry.lastRun = time.Now()
	entry.lastErr = err
	if err == nil {
		entry.runs++
	}
	s.mutex.Unlock()

	if err != nil {
		log.Error().Err(err).Str("schedule", entry.id).Msg("scheduled submission failed")
		return err
	}
	if s.prom != nil {
		s.prom.ScheduleRuns.WithLabelValues(entry.id).Inc()
	}
	log.Info().
		Str("schedule", entry.id).
		Str("workflow", workflowID.String()).
		Msg("schedule submitted workflow")
	return nil
}

func (s *scheduler) setNextRun(entry *schedule, at time.Time) {
	s.mutex.Lock()
	entry.nextRun = at
	s.mutex.Unlock()
}

// sleep waits for d, returning false when ctx is cancelled first. A
// non-positive d still observes cancellation.
func (s *scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextDailyRun returns the next wall-clock occurrence of hour:minute
// after now: today if still ahead, otherwise tomorrow.
func nextDailyRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
