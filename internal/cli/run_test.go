package cli

import (
	"encoding/json"
	"testing"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScriptTask(t *testing.T) {
	// when
	out, err := execute(t, "run", "--format", "json", "--var", "name=john", "--var", "amount=21", "../../pkg/bpmn/test-cases/script-task.yaml")

	// then
	require.NoError(t, err)
	var result RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "script-task", result.ProcessId)
	assert.Equal(t, runtime.ProcessInstanceCompleted, result.State)
	assert.Equal(t, "Hello john!", result.Variables["greeting"])
	assert.EqualValues(t, 42, result.Variables["doubled"])
	assert.Equal(t, []string{"start", "greet", "end"}, result.Completed)
}

func TestRunCompletesWorkItems(t *testing.T) {
	out, err := execute(t, "run", "../../pkg/bpmn/test-cases/boundary-timer.yaml")

	require.NoError(t, err)
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "completed: start review done")
}

func TestRunWithCalledProcess(t *testing.T) {
	out, err := execute(t, "run", "--format", "json", "--var", "x=oldValue",
		"../../pkg/bpmn/test-cases/call-activity-parent.yaml", "../../pkg/bpmn/test-cases/call-activity-child.yaml")

	require.NoError(t, err)
	var result RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, runtime.ProcessInstanceCompleted, result.State)
	assert.Equal(t, "new value", result.Variables["y"])
}

func TestParseVariables(t *testing.T) {
	variables, err := parseVariables([]string{"count=3", "name=ann", `items=["a","b"]`, "flag=true", "empty="})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"count": float64(3),
		"name":  "ann",
		"items": []any{"a", "b"},
		"flag":  true,
		"empty": "",
	}, variables)

	_, err = parseVariables([]string{"novalue"})
	assert.Error(t, err)
}
