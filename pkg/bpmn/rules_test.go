package bpmn

import (
	"testing"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approvalRule = rules.Rule{
	Name:  "approve",
	Group: "approval",
	When:  `amount > 100`,
	Then:  map[string]string{"decision": `"approved"`},
}

func TestRuleTaskWaitsForItsGroup(t *testing.T) {
	// given
	engine := newTestEngine(t, WithRules(approvalRule))
	engine.load(t, "rule-task.yaml")
	instance := engine.start(t, "rule-task", nil)
	require.NoError(t, engine.InsertFact(t.Context(), "amount", 50))

	// when
	completed, err := engine.FireAllRules(t.Context())

	// then
	require.NoError(t, err)
	assert.Zero(t, completed)
	assert.Equal(t, runtime.ProcessInstanceActive, engine.get(t, instance.Key).State)

	// when
	require.NoError(t, engine.UpdateFact(t.Context(), "amount", 150))
	completed, err = engine.FireAllRules(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, runtime.ProcessInstanceCompleted, engine.get(t, instance.Key).State)
	assert.Equal(t, "approved", engine.Facts()["decision"])
}

func TestRuleTaskActivationSurvivesRestore(t *testing.T) {
	// given
	source := newTestEngine(t, WithRules(approvalRule))
	source.load(t, "rule-task.yaml")
	instance := source.start(t, "rule-task", nil)
	data, err := source.Serialize(t.Context(), instance.Key)
	require.NoError(t, err)

	target := newTestEngine(t, WithRules(approvalRule))
	target.load(t, "rule-task.yaml")
	_, err = target.Restore(t.Context(), data)
	require.NoError(t, err)

	// when
	require.NoError(t, target.InsertFact(t.Context(), "amount", 150))
	completed, err := target.FireAllRules(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, runtime.ProcessInstanceCompleted, target.get(t, instance.Key).State)
}

func TestAbortedRuleTaskLeavesAgenda(t *testing.T) {
	// given
	engine := newTestEngine(t, WithRules(approvalRule))
	engine.load(t, "rule-task.yaml")
	instance := engine.start(t, "rule-task", nil)
	require.NoError(t, engine.AbortProcessInstance(t.Context(), instance.Key))
	require.NoError(t, engine.InsertFact(t.Context(), "amount", 150))

	// when
	completed, err := engine.FireAllRules(t.Context())

	// then
	require.NoError(t, err)
	assert.Zero(t, completed)
	assert.Equal(t, runtime.ProcessInstanceAborted, engine.get(t, instance.Key).State)
}

func TestUpdateUnknownFact(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.UpdateFact(t.Context(), "missing", 1)

	assert.ErrorIs(t, err, rules.ErrFactNotFound)
}
