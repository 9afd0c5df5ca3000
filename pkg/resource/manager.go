// Package resource gates task admission on a concurrency limit and host
// utilization, and keeps a bounded history of task runtimes.
package resource

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/osprey-intel/taskflow/pkg/task"
)

// Defaults used when an option or config value is unset.
const (
	DefaultMaxConcurrent        = 8
	DefaultUtilizationThreshold = 90.0
	DefaultHistorySize          = 1000
)

// UtilizationFunc samples host CPU and memory utilization in percent.
type UtilizationFunc func() (cpuPct, memPct float64, err error)

// Stats summarizes the recorded task runtimes.
type Stats struct {
	Samples        int           `json:"samples"`
	SuccessRate    float64       `json:"success_rate"`
	MeanDuration   time.Duration `json:"mean_duration"`
	MedianDuration time.Duration `json:"median_duration"`
	MinDuration    time.Duration `json:"min_duration"`
	MaxDuration    time.Duration `json:"max_duration"`
}

// Manager decides whether a task may start right now and records how past
// tasks behaved.
type Manager interface {
	// Acquire reserves an execution slot for the task. It refuses when
	// the concurrency limit is reached or the host runs above the
	// utilization threshold.
	Acquire(t *task.Task) bool
	// Release frees the slot held by taskID.
	Release(taskID string)
	// RecordPerformance appends one runtime sample, evicting the oldest
	// once the history is full.
	RecordPerformance(taskID string, d time.Duration, success bool)
	// Stats summarizes the recorded samples. Zero value when empty.
	Stats() Stats
	// ActiveCount returns the number of held slots.
	ActiveCount() int
}

// Option adjusts a Manager at construction time.
type Option func(*manager)

// WithUtilizationFunc replaces the host probe, mainly for tests.
func WithUtilizationFunc(fn UtilizationFunc) Option {
	return func(m *manager) { m.utilization = fn }
}

// WithThreshold sets the utilization refusal threshold in percent.
func WithThreshold(pct float64) Option {
	return func(m *manager) { m.threshold = pct }
}

// WithHistorySize bounds the performance sample buffer.
func WithHistorySize(n int) Option {
	return func(m *manager) {
		if n > 0 {
			m.samples = make([]sample, n)
		}
	}
}

type sample struct {
	taskID   string
	duration time.Duration
	success  bool
}

type manager struct {
	mutex       sync.Mutex
	maxActive   int
	threshold   float64
	utilization UtilizationFunc
	active      map[string]time.Time

	// samples is a ring buffer: next points at the slot the following
	// record will overwrite, count saturates at len(samples).
	samples []sample
	next    int
	count   int
}

// New creates a Manager admitting at most maxConcurrent tasks at a time.
func New(maxConcurrent int, opts ...Option) Manager {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	m := &manager{
		maxActive:   maxConcurrent,
		threshold:   DefaultUtilizationThreshold,
		utilization: hostUtilization,
		active:      make(map[string]time.Time),
		samples:     make([]sample, DefaultHistorySize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *manager) Acquire(t *task.Task) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.active) >= m.maxActive {
		log.Debug().
			Str("task", t.ID).
			Int("active", len(m.active)).
			Msg("admission refused, concurrency limit reached")
		return false
	}
	cpuPct, memPct, err := m.utilization()
	if err != nil {
		// treat an unreadable host as admissible rather than stalling
		// the whole queue
		log.Warn().Err(err).Msg("utilization probe failed")
	} else if cpuPct > m.threshold || memPct > m.threshold {
		log.Debug().
			Str("task", t.ID).
			Float64("cpu", cpuPct).
			Float64("mem", memPct).
			Msg("admission refused, host saturated")
		return false
	}
	m.active[t.ID] = time.Now()
	return true
}

func (m *manager) Release(taskID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.active, taskID)
}

func (m *manager) RecordPerformance(taskID string, d time.Duration, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.samples[m.next] = sample{taskID: taskID, duration: d, success: success}
	m.next = (m.next + 1) % len(m.samples)
	if m.count < len(m.samples) {
		m.count++
	}
}

func (m *manager) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.count == 0 {
		return Stats{}
	}

	durations := make([]time.Duration, 0, m.count)
	succeeded := 0
	var total time.Duration
	for i := 0; i < m.count; i++ {
		s := m.samples[i]
		durations = append(durations, s.duration)
		total += s.duration
		if s.success {
			succeeded++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	median := durations[len(durations)/2]
	if len(durations)%2 == 0 {
		median = (durations[len(durations)/2-1] + durations[len(durations)/2]) / 2
	}
	return Stats{
		Samples:        m.count,
		SuccessRate:    float64(succeeded) / float64(m.count),
		MeanDuration:   total / time.Duration(m.count),
		MedianDuration: median,
		MinDuration:    durations[0],
		MaxDuration:    durations[len(durations)-1],
	}
}

func (m *manager) ActiveCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.active)
}

// hostUtilization reads CPU and memory usage via gopsutil. The zero
// interval makes cpu.Percent report usage since its previous call instead
// of blocking.
func hostUtilization() (float64, float64, error) {
	cpuPcts, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(cpuPcts) > 0 {
		cpuPct = cpuPcts[0]
	}
	return cpuPct, vm.UsedPercent, nil
}
