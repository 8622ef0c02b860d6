package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inclusiveSplitYaml = `
id: inclusive
variables:
  - name: x
    type: integer
nodes:
  - id: start
    type: startEvent
  - id: split
    type: inclusiveGateway
  - id: a
    type: userTask
  - id: b
    type: userTask
  - id: c
    type: userTask
  - id: join
    type: inclusiveGateway
  - id: end
    type: endEvent
flows:
  - {id: f0, source: start, target: split}
  - {id: f1, source: split, target: a, condition: "= x > 0"}
  - {id: f2, source: split, target: b, condition: "= x > 1", priority: 1}
  - {id: f3, source: split, target: c, condition: "= x > 5"}
  - {id: f4, source: a, target: join}
  - {id: f5, source: b, target: join}
  - {id: f6, source: c, target: join}
  - {id: f7, source: join, target: end}
`

func TestParseBuildsIndexes(t *testing.T) {
	// when
	definition, err := Parse([]byte(inclusiveSplitYaml))

	// then
	require.NoError(t, err)
	join, ok := definition.InclusiveJoin("split")
	assert.True(t, ok)
	assert.Equal(t, "join", join)
	assert.Len(t, definition.Outgoing("split"), 3)
	assert.Equal(t, "f2", definition.Outgoing("split")[2].Id)
	node, ok := definition.FindNode("a")
	assert.True(t, ok)
	assert.Equal(t, TaskTypeHuman, node.(*Task).TaskType)
	assert.Equal(t, "Human Task", node.(*Task).HandlerType())
	assert.True(t, definition.IsJoin(mustNode(t, definition, "join")))
	assert.False(t, definition.IsJoin(mustNode(t, definition, "split")))
}

func TestParseRejectsDanglingFlow(t *testing.T) {
	// given
	source := `
id: broken
nodes:
  - id: start
    type: startEvent
flows:
  - {id: f0, source: start, target: nowhere}
`
	// when
	_, err := Parse([]byte(source))

	// then
	var definitionError *DefinitionError
	assert.True(t, errors.As(err, &definitionError))
	assert.Equal(t, "f0", definitionError.ElementId)
}

func TestParseRejectsBadBoundaryAndDefaultFlow(t *testing.T) {
	// given
	source := `
id: broken
nodes:
  - id: start
    type: startEvent
  - id: gw
    type: exclusiveGateway
    default: f0
  - id: boundary
    type: boundaryEvent
    attachedTo: gw
    event: {trigger: signal, ref: stop}
flows:
  - {id: f0, source: start, target: gw}
`
	// when
	_, err := Parse([]byte(source))

	// then
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "default flow")
	assert.Contains(t, err.Error(), "not an activity")
}

func TestParseRejectsUnknownNodeType(t *testing.T) {
	_, err := Parse([]byte("id: x\nnodes:\n  - id: a\n    type: lane\n"))
	assert.ErrorContains(t, err, "unknown node type")
}

func TestMarshalProducesParsableDocument(t *testing.T) {
	// given
	definition, err := Parse([]byte(inclusiveSplitYaml))
	require.NoError(t, err)

	// when
	data, err := Marshal(definition)
	require.NoError(t, err)
	reparsed, err := Parse(data)

	// then
	require.NoError(t, err)
	assert.Equal(t, definition.Id, reparsed.Id)
	assert.Len(t, reparsed.FlowNodes, len(definition.FlowNodes))
	assert.Equal(t, "= x > 1", reparsed.SequenceFlows[2].Condition)
}

func TestCoerceVariable(t *testing.T) {
	testCases := []struct {
		variable Variable
		input    any
		expected any
	}{
		{Variable{Name: "approved", Type: VariableTypeBoolean}, "true", true},
		{Variable{Name: "count", Type: VariableTypeInteger}, "42", int64(42)},
		{Variable{Name: "count", Type: VariableTypeInteger}, 7, int64(7)},
		{Variable{Name: "price", Type: VariableTypeFloat}, "1.5", 1.5},
		{Variable{Name: "name", Type: VariableTypeString}, 12, "12"},
		{Variable{Name: "any"}, []string{"a"}, []string{"a"}},
	}
	for _, tc := range testCases {
		t.Run(tc.variable.Name, func(t *testing.T) {
			result, err := tc.variable.Coerce(tc.input)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}

	_, err := Variable{Name: "approved", Type: VariableTypeBoolean}.Coerce("maybe")
	assert.Error(t, err)
}

func mustNode(t *testing.T, definition *ProcessDefinition, id string) FlowNode {
	node, ok := definition.FindNode(id)
	require.True(t, ok)
	return node
}
