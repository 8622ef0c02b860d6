package js

import (
	"errors"
	"testing"
	"time"

	"github.com/pbinitiative/zenflow/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScriptReadsAndSetsVariables(t *testing.T) {
	// given
	runtime := NewJsRuntime(t.Context(), 2, 1, time.Second)

	// when
	result, err := runtime.RunScript(`execution.setVariable("greeting", "Hello " + name + "!"); 1 + 1`, map[string]any{"name": "john"})

	// then
	require.NoError(t, err)
	assert.Equal(t, "Hello john!", result.Variables["greeting"])
	assert.Equal(t, int64(2), result.Value)
}

func TestRunScriptThrowError(t *testing.T) {
	// given
	runtime := NewJsRuntime(t.Context(), 1, 1, time.Second)

	// when
	_, err := runtime.RunScript(`if (amount > 10) { execution.throwError("TooMuch", "limit exceeded") }`, map[string]any{"amount": 20})

	// then
	var thrown *script.ThrownError
	require.True(t, errors.As(err, &thrown))
	assert.Equal(t, "TooMuch", thrown.Code)
	assert.Equal(t, "limit exceeded", thrown.Message)
}

func TestRunScriptDoesNotLeakBetweenRuns(t *testing.T) {
	// given
	runtime := NewJsRuntime(t.Context(), 1, 1, time.Second)
	_, err := runtime.RunScript(`execution.setVariable("x", 1)`, map[string]any{"secret": "a"})
	require.NoError(t, err)

	// when
	_, err = runtime.RunScript(`secret`, nil)

	// then
	assert.Error(t, err)
}

func TestRunScriptInterruptsLongRunningScripts(t *testing.T) {
	runtime := NewJsRuntime(t.Context(), 1, 1, 20*time.Millisecond)
	_, err := runtime.RunScript(`while (true) {}`, nil)
	assert.Error(t, err)

	// the runner stays usable after an interrupt
	result, err := runtime.RunScript(`"ok"`, nil)
	assert.NoError(t, err)
	assert.Equal(t, "ok", result.Value)
}
