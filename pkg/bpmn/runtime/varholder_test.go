package runtime

import (
	"testing"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/stretchr/testify/assert"
)

func TestVariableHolderWritesToDeclaringLevel(t *testing.T) {
	// given
	root := NewVariableHolder(nil, map[string]any{"x": "root"})
	middle := NewVariableHolder(root, map[string]any{"local": nil})
	leaf := NewVariableHolder(middle, nil)

	// when
	leaf.SetVariable("local", 1)
	leaf.SetVariable("x", "changed")
	leaf.SetVariable("fresh", true)

	// then
	assert.Equal(t, 1, middle.GetLocalVariable("local"))
	assert.Equal(t, "changed", root.GetLocalVariable("x"))
	assert.Equal(t, true, root.GetLocalVariable("fresh"))
	assert.Empty(t, leaf.LocalVariables())
}

func TestVariableHolderInnerLevelsShadowOuter(t *testing.T) {
	// given
	root := NewVariableHolder(nil, map[string]any{"x": "root", "y": "y"})
	leaf := NewVariableHolder(root, map[string]any{"x": "leaf"})

	// when
	variables := leaf.Variables()
	v, ok := leaf.GetVariable("y")

	// then
	assert.Equal(t, map[string]any{"x": "leaf", "y": "y"}, variables)
	assert.True(t, ok)
	assert.Equal(t, "y", v)
}

func TestPropagateOutputVariablesToParent(t *testing.T) {
	// given
	root := NewVariableHolder(nil, map[string]any{})
	child := NewVariableHolder(root, nil)
	eval := func(expression string, variables map[string]any) (any, error) {
		return variables[expression], nil
	}

	// when
	outputs, err := child.PropagateOutputVariablesToParent(
		[]model.Mapping{{Source: "result", Target: "y"}},
		map[string]any{"result": "new value", "ignored": 1},
		eval,
	)

	// then
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{"y": "new value"}, outputs)
	assert.Equal(t, map[string]any{"y": "new value"}, root.LocalVariables())
}
