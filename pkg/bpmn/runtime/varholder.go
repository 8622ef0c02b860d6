package runtime

import (
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
)

// VariableHolder is one level of a variable scope chain.
// Reads fall through to the parent, writes land on the nearest level that already holds the variable.
type VariableHolder struct {
	parent         *VariableHolder
	localVariables map[string]any
}

// NewVariableHolder creates a new VariableHolder with a given parent and localVariables map.
// The map is used directly so writes are visible to its owner.
func NewVariableHolder(parent *VariableHolder, localVariables map[string]any) *VariableHolder {
	if localVariables == nil {
		localVariables = make(map[string]any)
	}
	return &VariableHolder{
		parent:         parent,
		localVariables: localVariables,
	}
}

func (vh *VariableHolder) Parent() *VariableHolder {
	return vh.parent
}

func (vh *VariableHolder) LocalVariables() map[string]any {
	return vh.localVariables
}

func (vh *VariableHolder) GetLocalVariable(key string) any {
	if v, ok := vh.localVariables[key]; ok {
		return v
	}
	return nil
}

func (vh *VariableHolder) SetLocalVariable(key string, val any) {
	vh.localVariables[key] = val
}

func (vh *VariableHolder) DeleteLocalVariable(key string) {
	delete(vh.localVariables, key)
}

func (vh *VariableHolder) SetLocalVariables(variables map[string]any) {
	for k, v := range variables {
		vh.localVariables[k] = v
	}
}

// GetVariable walks up the chain until a level holding the variable is found.
func (vh *VariableHolder) GetVariable(key string) (any, bool) {
	for h := vh; h != nil; h = h.parent {
		if v, ok := h.localVariables[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// SetVariable writes into the nearest level declaring the variable, or the root level.
func (vh *VariableHolder) SetVariable(key string, val any) {
	h := vh
	for {
		if _, ok := h.localVariables[key]; ok || h.parent == nil {
			h.localVariables[key] = val
			return
		}
		h = h.parent
	}
}

// Variables flattens the chain, inner levels shadow outer ones.
func (vh *VariableHolder) Variables() map[string]any {
	var chain []*VariableHolder
	for h := vh; h != nil; h = h.parent {
		chain = append(chain, h)
	}
	result := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].localVariables {
			result[k] = v
		}
	}
	return result
}

// EvaluateAndSetMappingsToLocalVariables sets local variables according to mappings
// evaluated against the variables visible from the parent.
func (vh *VariableHolder) EvaluateAndSetMappingsToLocalVariables(mappings []model.Mapping, evaluateExpression func(expression string, variableContext map[string]any) (any, error)) error {
	var scope map[string]any
	if vh.parent != nil {
		scope = vh.parent.Variables()
	} else {
		scope = map[string]any{}
	}
	for _, mapping := range mappings {
		evalResult, err := evaluateExpression(mapping.Source, scope)
		if err != nil {
			return err
		}
		vh.SetLocalVariable(mapping.Target, evalResult)
	}
	return nil
}

// PropagateVariable set a value with given key to the parent VariableHolder
func (vh *VariableHolder) PropagateVariable(key string, value any) {
	if vh.parent != nil {
		vh.parent.SetVariable(key, value)
	}
}

// PropagateVariables set a values with given keys to the parent VariableHolder
func (vh *VariableHolder) PropagateVariables(variables map[string]any) {
	if vh.parent != nil {
		for k, v := range variables {
			vh.parent.SetVariable(k, v)
		}
	}
}

// PropagateOutputVariablesToParent propagates output variables to the parent VariableHolder according to mappings.
// Without mappings every output variable is propagated.
func (vh *VariableHolder) PropagateOutputVariablesToParent(mappings []model.Mapping, outputVariables map[string]any, evaluateExpression func(expression string, variableContext map[string]any) (any, error)) (map[string]any, error) {
	if vh.parent == nil {
		return nil, nil
	}

	if len(mappings) == 0 {
		vh.PropagateVariables(outputVariables)
		return outputVariables, nil
	}

	localScope := mergeLocalVariablesWithOutputVariables(vh.Variables(), outputVariables)
	outputVariablesWithOutputMappings := make(map[string]any)

	for _, mapping := range mappings {
		evalResult, err := evaluateExpression(mapping.Source, localScope)
		if err != nil {
			return nil, err
		}
		outputVariablesWithOutputMappings[mapping.Target] = evalResult
		vh.parent.SetVariable(mapping.Target, evalResult)
	}
	return outputVariablesWithOutputMappings, nil
}

func mergeLocalVariablesWithOutputVariables(localVariables map[string]any, outputVariables map[string]any) map[string]any {
	localScope := make(map[string]any)
	for k, v := range localVariables {
		localScope[k] = v
	}
	for k, v := range outputVariables {
		localScope[k] = v
	}
	return localScope
}
