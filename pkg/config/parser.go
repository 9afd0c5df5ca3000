package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/osprey-intel/taskflow/pkg/resource"
)

type configValidator struct {
	namePattern *regexp.Regexp
}

func newConfigValidator() *configValidator {
	return &configValidator{
		namePattern: regexp.MustCompile(`[a-zA-Z][\w\-]*`),
	}
}

func fullMatchString(re *regexp.Regexp, str string) bool {
	locs := re.FindStringIndex(str)
	return reflect.DeepEqual(locs, []int{0, len(str)})
}

func (v *configValidator) validateWorkflow(w *WorkflowConfig) error {
	if !fullMatchString(v.namePattern, w.Name) {
		return fmt.Errorf("invalid workflow name: %s", w.Name)
	}
	if len(w.Tasks) == 0 {
		return fmt.Errorf("workflow %s: no tasks defined", w.Name)
	}

	ids := make(map[string]bool, len(w.Tasks))
	for _, t := range w.Tasks {
		if !fullMatchString(v.namePattern, t.ID) {
			return fmt.Errorf("invalid task id: %s", t.ID)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate task id: %s", t.ID)
		}
		if t.Kind == "" {
			return fmt.Errorf("task %s: executor kind is required", t.ID)
		}
		if t.Priority < 0 {
			return fmt.Errorf("task %s: negative priority", t.ID)
		}
		ids[t.ID] = true
	}
	for _, t := range w.Tasks {
		for _, dep := range t.Depends {
			if !ids[dep] {
				return fmt.Errorf("dependency %s of task %s has not been declared", dep, t.ID)
			}
		}
	}
	return nil
}

func (v *configValidator) validateSchedule(s *ScheduleConfig, workflows map[string]bool) error {
	if !fullMatchString(v.namePattern, s.ID) {
		return fmt.Errorf("invalid schedule id: %s", s.ID)
	}
	if !workflows[s.Workflow] {
		return fmt.Errorf("schedule %s: workflow %s not defined", s.ID, s.Workflow)
	}
	switch s.Type {
	case TypeOnce:
		if s.At == "" {
			return fmt.Errorf("schedule %s: once needs an \"at\" timestamp", s.ID)
		}
		if _, err := time.Parse(time.RFC3339, s.At); err != nil {
			return fmt.Errorf("schedule %s: %w", s.ID, err)
		}
		if s.Every != 0 || s.Hour != nil || s.Minute != nil {
			return fmt.Errorf("schedule %s: once takes only \"at\"", s.ID)
		}
	case TypeInterval:
		if s.Every <= 0 {
			return fmt.Errorf("schedule %s: interval needs a positive \"every\"", s.ID)
		}
		if s.At != "" || s.Hour != nil || s.Minute != nil {
			return fmt.Errorf("schedule %s: interval takes only \"every\"", s.ID)
		}
	case TypeDaily:
		if s.Hour == nil || s.Minute == nil {
			return fmt.Errorf("schedule %s: daily needs \"hour\" and \"minute\"", s.ID)
		}
		if *s.Hour < 0 || *s.Hour > 23 || *s.Minute < 0 || *s.Minute > 59 {
			return fmt.Errorf("schedule %s: hour must be 0-23 and minute 0-59", s.ID)
		}
		if s.At != "" || s.Every != 0 {
			return fmt.Errorf("schedule %s: daily takes only \"hour\" and \"minute\"", s.ID)
		}
	default:
		return fmt.Errorf("schedule %s: unknown type %q", s.ID, s.Type)
	}
	return nil
}

func (v *configValidator) Validate(c *Config) error {
	if c.MaxConcurrentTasks < 0 {
		return fmt.Errorf("max_concurrent_tasks must not be negative")
	}
	if c.UtilizationThreshold < 0 || c.UtilizationThreshold > 100 {
		return fmt.Errorf("utilization_threshold must be between 0 and 100")
	}

	workflows := make(map[string]bool, len(c.Workflows))
	for i := range c.Workflows {
		w := &c.Workflows[i]
		if workflows[w.Name] {
			return fmt.Errorf("duplicate workflow name: %s", w.Name)
		}
		if err := v.validateWorkflow(w); err != nil {
			return err
		}
		workflows[w.Name] = true
	}

	schedules := make(map[string]bool, len(c.Schedules))
	for i := range c.Schedules {
		s := &c.Schedules[i]
		if schedules[s.ID] {
			return fmt.Errorf("duplicate schedule id: %s", s.ID)
		}
		if err := v.validateSchedule(s, workflows); err != nil {
			return err
		}
		schedules[s.ID] = true
	}
	return nil
}

func setDefaults(c *Config) {
	if c.MaxConcurrentTasks == 0 {
		c.MaxConcurrentTasks = resource.DefaultMaxConcurrent
	}
	if c.UtilizationThreshold == 0 {
		c.UtilizationThreshold = resource.DefaultUtilizationThreshold
	}
	for i := range c.Workflows {
		for j := range c.Workflows[i].Tasks {
			t := &c.Workflows[i].Tasks[j]
			t.Payload = normalizeMap(t.Payload)
		}
	}
}

// yaml.v2 decodes nested mappings into map[interface{}]interface{};
// normalize to string keys so payloads survive json encoding.
func normalizeMap(m map[string]interface{}) map[string]interface{} {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	case []interface{}:
		for i := range vv {
			vv[i] = normalizeValue(vv[i])
		}
		return vv
	}
	return v
}

// Parse reads, validates and defaults the service configuration.
func Parse(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading %v: %w", filename, err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	v := newConfigValidator()
	if err := v.Validate(&config); err != nil {
		return nil, err
	}
	setDefaults(&config)
	return &config, nil
}
