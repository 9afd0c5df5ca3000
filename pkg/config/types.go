package config

import (
	"time"

	"github.com/osprey-intel/taskflow/pkg/task"
)

// Schedule types accepted in the config file.
const (
	TypeOnce     = "once"
	TypeInterval = "interval"
	TypeDaily    = "daily"
)

// Duration accepts "90s" / "15m" style strings in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// TaskConfig describes one task of a workflow template.
type TaskConfig struct {
	ID                string                 `yaml:"id"`
	Kind              string                 `yaml:"kind"`
	Priority          int                    `yaml:"priority"`
	Payload           map[string]interface{} `yaml:"payload"`
	Depends           []string               `yaml:"depends"`
	EstimatedDuration Duration               `yaml:"estimated_duration"`
	Timeout           Duration               `yaml:"timeout"`
	MaxRetries        int                    `yaml:"max_retries"`
	Metadata          map[string]string      `yaml:"metadata"`
}

// Spec converts the config entry into a task spec.
func (t TaskConfig) Spec() task.Spec {
	return task.Spec{
		ID:                t.ID,
		Kind:              t.Kind,
		Priority:          t.Priority,
		Payload:           t.Payload,
		DependsOn:         t.Depends,
		EstimatedDuration: time.Duration(t.EstimatedDuration),
		Timeout:           time.Duration(t.Timeout),
		MaxRetries:        t.MaxRetries,
		Metadata:          t.Metadata,
	}
}

// WorkflowConfig is a named workflow template.
type WorkflowConfig struct {
	Name  string       `yaml:"name"`
	Tasks []TaskConfig `yaml:"tasks"`
}

// Specs returns the template's task specs.
func (w WorkflowConfig) Specs() []task.Spec {
	specs := make([]task.Spec, 0, len(w.Tasks))
	for _, t := range w.Tasks {
		specs = append(specs, t.Spec())
	}
	return specs
}

// ScheduleConfig binds a workflow template to a schedule.
type ScheduleConfig struct {
	ID       string   `yaml:"id"`
	Workflow string   `yaml:"workflow"`
	Type     string   `yaml:"type"`
	At       string   `yaml:"at"`
	Every    Duration `yaml:"every"`
	Hour     *int     `yaml:"hour"`
	Minute   *int     `yaml:"minute"`
}

// ExecuteAt returns the parsed one-shot execution time. Meaningful only
// after the config passed validation.
func (s ScheduleConfig) ExecuteAt() time.Time {
	at, _ := time.Parse(time.RFC3339, s.At)
	return at
}

// Config is the service configuration file.
type Config struct {
	MaxConcurrentTasks   int              `yaml:"max_concurrent_tasks"`
	UtilizationThreshold float64          `yaml:"utilization_threshold"`
	Workflows            []WorkflowConfig `yaml:"workflows"`
	Schedules            []ScheduleConfig `yaml:"schedules"`
}

// WorkflowTemplate returns the named template's task specs.
func (c *Config) WorkflowTemplate(name string) ([]task.Spec, bool) {
	for _, w := range c.Workflows {
		if w.Name == name {
			return w.Specs(), true
		}
	}
	return nil, false
}
