package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osprey-intel/taskflow/pkg/resource"
)

func TestConfigSyntax(t *testing.T) {
	cfg, err := Parse("testdata/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxConcurrentTasks)
	assert.Equal(t, 85.0, cfg.UtilizationThreshold)

	require.Len(t, cfg.Workflows, 1)
	workflow := cfg.Workflows[0]
	require.Len(t, workflow.Tasks, 3)

	seed := workflow.Tasks[0].Spec()
	assert.Equal(t, "seed", seed.ID)
	assert.Equal(t, "http", seed.Kind)
	assert.Equal(t, 3, seed.Priority)
	assert.Equal(t, 90*time.Second, seed.Timeout)
	assert.Equal(t, 30*time.Second, seed.EstimatedDuration)

	// nested payload maps must come out with string keys
	options, ok := seed.Payload["options"].(map[string]interface{})
	require.True(t, ok, "payload sub-map type %T", seed.Payload["options"])
	assert.Equal(t, 2, options["depth"])

	assert.Equal(t, []string{"seed"}, workflow.Tasks[1].Depends)
	assert.Equal(t, map[string]string{"channel": "recon"}, workflow.Tasks[2].Metadata)

	require.Len(t, cfg.Schedules, 3)
	nightly := cfg.Schedules[0]
	assert.Equal(t, TypeDaily, nightly.Type)
	assert.Equal(t, 2, *nightly.Hour)
	assert.Equal(t, 30, *nightly.Minute)
	assert.Equal(t, Duration(15*time.Minute), cfg.Schedules[1].Every)
	assert.Equal(t, 2026, cfg.Schedules[2].ExecuteAt().Year())

	specs, ok := cfg.WorkflowTemplate("daily-recon")
	require.True(t, ok)
	assert.Len(t, specs, 3)
	_, ok = cfg.WorkflowTemplate("missing")
	assert.False(t, ok)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := Parse("testdata/minimal.yaml")
	require.NoError(t, err)
	assert.Equal(t, resource.DefaultMaxConcurrent, cfg.MaxConcurrentTasks)
	assert.Equal(t, resource.DefaultUtilizationThreshold, cfg.UtilizationThreshold)
}

func TestErrNamePattern(t *testing.T) {
	_, err := Parse("testdata/errNamePattern.yaml")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid workflow name"), err.Error())
}

func TestErrUnknownDependency(t *testing.T) {
	_, err := Parse("testdata/errUnknownDependency.yaml")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "has not been declared"), err.Error())
}

func TestErrDuplicateTask(t *testing.T) {
	_, err := Parse("testdata/errDuplicateTask.yaml")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "duplicate task id"), err.Error())
}

func TestErrNoKind(t *testing.T) {
	_, err := Parse("testdata/errNoKind.yaml")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "executor kind is required"), err.Error())
}

func TestErrUnknownWorkflow(t *testing.T) {
	_, err := Parse("testdata/errUnknownWorkflow.yaml")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "workflow missing not defined"), err.Error())
}

func TestErrScheduleTiming(t *testing.T) {
	_, err := Parse("testdata/errScheduleTiming.yaml")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "daily takes only"), err.Error())
}

func TestErrScheduleType(t *testing.T) {
	_, err := Parse("testdata/errScheduleType.yaml")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown type"), err.Error())
}
