package bpmn

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// evaluateExpression evaluates expressions starting with "=" as FEEL. Anything else is a variable
// name when the context holds it and a string constant otherwise.
func (engine *Engine) evaluateExpression(expression string, variableContext map[string]any) (any, error) {
	trimmed := strings.TrimSpace(expression)
	if !strings.HasPrefix(trimmed, "=") {
		if value, ok := variableContext[trimmed]; ok {
			return value, nil
		}
		return expression, nil
	}
	result, err := engine.feel.Evaluate(strings.TrimPrefix(trimmed, "="), variableContext)
	if err != nil {
		return nil, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("failed to evaluate expression '%s'", expression),
			Err: err,
		}
	}
	return result, nil
}

// evaluateCondition evaluates a sequence flow or event condition, the leading "=" is optional.
func (engine *Engine) evaluateCondition(condition string, variableContext map[string]any) (bool, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(condition), "=")
	result, err := engine.feel.UnaryTest(trimmed, variableContext)
	if err != nil {
		return false, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("failed to evaluate condition '%s'", condition),
			Err: err,
		}
	}
	return result, nil
}

// evaluateCollection resolves the input collection of a multi-instance activity.
func (engine *Engine) evaluateCollection(collection string, variableContext map[string]any) ([]any, error) {
	value, err := engine.evaluateExpression(collection, variableContext)
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		return slices.Clone(v), nil
	case []string:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = item
		}
		return items, nil
	case string:
		if v == collection {
			return nil, &ExpressionEvaluationError{Msg: fmt.Sprintf("collection '%s' does not resolve to a list", collection)}
		}
	}
	return nil, &ExpressionEvaluationError{Msg: fmt.Sprintf("collection '%s' evaluated to %T instead of a list", collection, value)}
}

// scopeChain returns the scope node instances enclosing scopeKey, outermost first.
func scopeChain(instance *runtime.ProcessInstance, scopeKey int64) []*runtime.NodeInstance {
	var chain []*runtime.NodeInstance
	for scopeKey != 0 {
		scope := instance.FindNodeInstance(scopeKey)
		if scope == nil {
			break
		}
		chain = append(chain, scope)
		scopeKey = scope.ScopeKey
	}
	slices.Reverse(chain)
	return chain
}

func localsOf(ni *runtime.NodeInstance) map[string]any {
	if ni.Variables == nil {
		ni.Variables = map[string]any{}
	}
	return ni.Variables
}

// scopeHolder builds the variable chain from the process variables down to the given scope.
func scopeHolder(instance *runtime.ProcessInstance, scopeKey int64) *runtime.VariableHolder {
	if instance.Variables == nil {
		instance.Variables = map[string]any{}
	}
	holder := runtime.NewVariableHolder(nil, instance.Variables)
	for _, scope := range scopeChain(instance, scopeKey) {
		holder = runtime.NewVariableHolder(holder, localsOf(scope))
	}
	return holder
}

// holderOf builds the variable chain ending with the locals of the node instance.
func holderOf(instance *runtime.ProcessInstance, ni *runtime.NodeInstance) *runtime.VariableHolder {
	return runtime.NewVariableHolder(scopeHolder(instance, ni.ScopeKey), localsOf(ni))
}

// coerce converts a value to the declared type of the variable visible from the container.
func (engine *Engine) coerce(definition *model.ProcessDefinition, containerId string, name string, value any) any {
	declaration, ok := definition.DeclaredVariable(containerId, name)
	if !ok {
		return value
	}
	coerced, err := declaration.Coerce(value)
	if err != nil {
		engine.logger.Warn("variable keeps its original type", "variable", name, "type", declaration.Type, "err", err)
		return value
	}
	return coerced
}

// setVariable writes a variable as seen from the element, coercing it to its declared type.
func (engine *Engine) setVariable(definition *model.ProcessDefinition, holder *runtime.VariableHolder, elementId string, name string, value any) {
	holder.SetVariable(name, engine.coerce(definition, definition.ContainerOf(elementId), name, value))
}

// declareVariables initializes the variables declared by a sub process so writes from inside stay local.
func declareVariables(ni *runtime.NodeInstance, declarations []model.Variable) {
	locals := localsOf(ni)
	for _, declaration := range declarations {
		if _, ok := locals[declaration.Name]; !ok {
			locals[declaration.Name] = nil
		}
	}
}
