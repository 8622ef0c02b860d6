package bpmn

import (
	"testing"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoredInstanceContinuesOnAnotherEngine(t *testing.T) {
	// given
	source := newTestEngine(t)
	source.load(t, "boundary-timer.yaml")
	instance := source.start(t, "boundary-timer", map[string]any{"count": 7, "ratio": 1.5})
	item := source.onlyWorkItem(t, instance.Key)
	data, err := source.Serialize(t.Context(), instance.Key)
	require.NoError(t, err)

	target := newTestEngine(t)
	target.load(t, "boundary-timer.yaml")

	// when
	restored, err := target.Restore(t.Context(), data)

	// then
	require.NoError(t, err)
	assert.Equal(t, instance.Key, restored.Key)
	assert.Equal(t, int64(7), restored.Variables["count"])
	assert.Equal(t, 1.5, restored.Variables["ratio"])
	restoredItem := target.onlyWorkItem(t, instance.Key)
	assert.Equal(t, item.Key, restoredItem.Key)

	// when
	require.NoError(t, target.CompleteWorkItem(t.Context(), item.Key, nil))

	// then
	assert.Equal(t, runtime.ProcessInstanceCompleted, target.get(t, instance.Key).State)
	assert.Contains(t, target.completed(instance.Key), "done")
	fired, err := target.AdvanceClock(t.Context(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestRestoredTimerFiresOnAnotherEngine(t *testing.T) {
	// given
	source := newTestEngine(t)
	source.load(t, "boundary-timer.yaml")
	instance := source.start(t, "boundary-timer", nil)
	item := source.onlyWorkItem(t, instance.Key)
	data, err := source.Serialize(t.Context(), instance.Key)
	require.NoError(t, err)

	target := newTestEngine(t)
	target.load(t, "boundary-timer.yaml")
	_, err = target.Restore(t.Context(), data)
	require.NoError(t, err)

	// when
	fired, err := target.AdvanceClock(t.Context(), 30*time.Minute)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, runtime.ProcessInstanceCompleted, target.get(t, instance.Key).State)
	assert.Contains(t, target.completed(instance.Key), "timedOut")
	assert.Equal(t, []int64{item.Key}, target.tasks.Aborted())
}

func TestRestoreRequiresDeployedDefinition(t *testing.T) {
	// given
	source := newTestEngine(t)
	source.load(t, "boundary-timer.yaml")
	instance := source.start(t, "boundary-timer", nil)
	data, err := source.Serialize(t.Context(), instance.Key)
	require.NoError(t, err)
	target := newTestEngine(t)

	// when
	_, err = target.Restore(t.Context(), data)

	// then
	var engineErr *BpmnEngineError
	assert.ErrorAs(t, err, &engineErr)
	assert.Empty(t, target.ProcessInstances())
}

func TestRestoreRejectsGarbage(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Restore(t.Context(), []byte(`{"version": 99, "instances": []}`))

	assert.Error(t, err)
}

func TestSerializeEndedInstance(t *testing.T) {
	engine := newTestEngine(t)
	engine.load(t, "implicit-end.yaml")
	instance := engine.start(t, "implicit-end", nil)

	_, err := engine.Serialize(t.Context(), instance.Key)

	assert.ErrorIs(t, err, ErrProcessInstanceNotFound)
}

func TestSerializeIncludesCalledInstances(t *testing.T) {
	// given
	source := newTestEngine(t)
	source.load(t, "signal-catch.yaml")
	parent := []byte(`
id: waiting-parent
nodes:
  - id: start
    type: startEvent
  - id: call
    type: callActivity
    calledElement: signal-catch
  - id: end
    type: endEvent
flows:
  - {id: f0, source: start, target: call}
  - {id: f1, source: call, target: end}
`)
	_, err := source.LoadFromBytes(t.Context(), parent)
	require.NoError(t, err)
	instance := source.start(t, "waiting-parent", nil)
	require.Len(t, source.ProcessInstances(), 2)
	data, err := source.Serialize(t.Context(), instance.Key)
	require.NoError(t, err)

	target := newTestEngine(t)
	target.load(t, "signal-catch.yaml")
	_, err = target.LoadFromBytes(t.Context(), parent)
	require.NoError(t, err)
	_, err = target.Restore(t.Context(), data)
	require.NoError(t, err)
	require.Len(t, target.ProcessInstances(), 2)

	// when
	delivered, err := target.SignalEvent(t.Context(), "wake", "now")

	// then
	require.NoError(t, err)
	assert.True(t, delivered)
	done := target.get(t, instance.Key)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
	assert.Equal(t, "now", done.Variables["wakeUp"])
}

func TestRecoverFromStorage(t *testing.T) {
	// given
	store := inmemory.NewStorage()
	first := newTestEngine(t, WithStorage(store))
	first.load(t, "boundary-timer.yaml")
	instance := first.start(t, "boundary-timer", map[string]any{"count": 3})
	first.Dispose()

	second := newTestEngine(t, WithStorage(store))

	// when
	err := second.Recover(t.Context())

	// then
	require.NoError(t, err)
	definition, ok := second.GetDefinition("boundary-timer")
	require.True(t, ok)
	assert.Equal(t, int32(1), definition.Version)
	recovered := second.get(t, instance.Key)
	assert.Equal(t, runtime.ProcessInstanceActive, recovered.State)
	assert.Equal(t, int64(3), recovered.Variables["count"])
	item := second.onlyWorkItem(t, instance.Key)

	// when
	require.NoError(t, second.CompleteWorkItem(t.Context(), item.Key, nil))

	// then
	assert.Equal(t, runtime.ProcessInstanceCompleted, second.get(t, instance.Key).State)
	record, err := store.FindProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, string(runtime.ProcessInstanceCompleted), record.State)
}

func TestRecoverWithoutStorage(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.Recover(t.Context())

	var engineErr *BpmnEngineError
	assert.ErrorAs(t, err, &engineErr)
}
