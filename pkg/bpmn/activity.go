// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pbinitiative/zenflow/pkg/bpmn/correlation"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/script"
	"github.com/pbinitiative/zenflow/pkg/script/feel"
)

// activateActivity handles what every activity kind shares: the multi-instance body,
// input mappings and boundary events. Children of a multi-instance body skip the latter.
func (engine *Engine) activateActivity(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, activity model.Activity, ni *runtime.NodeInstance) error {
	if activity.GetMultiInstance() != nil && !ni.IsMultiInstanceChild() {
		return engine.activateMultiInstanceBody(ctx, instance, definition, activity, ni)
	}
	if inputs := activity.GetInputs(); len(inputs) > 0 {
		if err := holderOf(instance, ni).EvaluateAndSetMappingsToLocalVariables(inputs, engine.evaluateExpression); err != nil {
			return err
		}
		for _, input := range inputs {
			ni.Variables[input.Target] = engine.coerce(definition, definition.ContainerOf(ni.ElementId), input.Target, ni.Variables[input.Target])
		}
	}
	if !ni.IsMultiInstanceChild() {
		if err := engine.registerBoundaryEvents(instance, definition, activity.GetId(), ni); err != nil {
			return err
		}
	}

	switch a := activity.(type) {
	case *model.Task:
		return engine.activateTask(ctx, instance, definition, a, ni)
	case *model.SubProcess:
		switch a.SubProcessType {
		case model.SubProcessTypeCallActivity:
			return engine.activateCallActivity(ctx, instance, definition, a, ni)
		case model.SubProcessTypeAdHoc:
			return engine.activateAdHocSubProcess(instance, definition, a, ni)
		}
		return engine.activateEmbeddedSubProcess(instance, definition, a, ni)
	}
	return newEngineErrorf("unsupported activity %s of type %T", activity.GetId(), activity)
}

func (engine *Engine) activateTask(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, task *model.Task, ni *runtime.NodeInstance) error {
	switch {
	case task.TaskType == model.TaskTypeScript:
		return engine.runScriptTask(ctx, instance, definition, task, ni)
	case task.TaskType == model.TaskTypeRule:
		engine.rules.ActivateGroup(task.RuleGroup, ni.Key)
		return nil
	case task.WaitsForMessage():
		engine.bus.Register(correlation.Registration{
			Key:                model.MessageEventKey(task.MessageRef),
			Role:               correlation.RoleCatch,
			ProcessInstanceKey: instance.Key,
			NodeInstanceKey:    ni.Key,
			DefinitionId:       instance.DefinitionId,
			ElementId:          task.Id,
			ScopeKey:           ni.ScopeKey,
		})
		return nil
	case task.HandlerType() == "":
		return engine.leave(ctx, instance, ni)
	}
	return engine.createWorkItem(ctx, instance, definition, task, ni)
}

// runScriptTask evaluates the script synchronously. Javascript may set variables through
// execution.setVariable and raise a BPMN error through execution.throwError.
func (engine *Engine) runScriptTask(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, task *model.Task, ni *runtime.NodeInstance) error {
	holder := holderOf(instance, ni)
	var value any
	switch task.ScriptLanguage {
	case model.ScriptLanguageFeel:
		result, err := engine.feel.Evaluate(strings.TrimPrefix(strings.TrimSpace(task.Script), "="), holder.Variables())
		if err != nil {
			return &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate script of %s", task.Id), Err: err}
		}
		value = result
	default:
		result, err := engine.js.RunScript(task.Script, holder.Variables())
		var thrown *script.ThrownError
		if errors.As(err, &thrown) {
			return engine.propagate(ctx, instance, ni, task.Id, model.TriggerError, thrown.Code, thrown.Message)
		}
		if err != nil {
			return fmt.Errorf("failed to run script of %s: %w", task.Id, err)
		}
		for _, name := range slices.Sorted(maps.Keys(result.Variables)) {
			engine.setVariable(definition, holder, task.Id, name, feel.Normalize(result.Variables[name]))
		}
		value = feel.Normalize(result.Value)
	}
	if task.ResultVariable != "" {
		engine.setVariable(definition, holder, task.Id, task.ResultVariable, value)
	}
	return engine.leave(ctx, instance, ni)
}

// applyOutputs merges activity results into the enclosing scope, through the output mappings when there are any.
func (engine *Engine) applyOutputs(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, activity model.Activity, ni *runtime.NodeInstance, results map[string]any) error {
	containerId := definition.ContainerOf(ni.ElementId)
	coerced := make(map[string]any, len(results))
	for name, value := range results {
		coerced[name] = engine.coerce(definition, containerId, name, value)
	}
	if ni.IsMultiInstanceChild() {
		maps.Copy(localsOf(ni), coerced)
	}
	holder := holderOf(instance, ni)
	mapped, err := holder.PropagateOutputVariablesToParent(activity.GetOutputs(), coerced, engine.evaluateExpression)
	if err != nil {
		return err
	}
	if len(activity.GetOutputs()) > 0 {
		for target, value := range mapped {
			holder.Parent().SetVariable(target, engine.coerce(definition, containerId, target, value))
		}
	}
	engine.touch(instance)
	return nil
}

// activateEmbeddedSubProcess starts the none start events of the sub process, the node instance is their scope.
func (engine *Engine) activateEmbeddedSubProcess(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, sub *model.SubProcess, ni *runtime.NodeInstance) error {
	declareVariables(ni, sub.Variables)
	started := 0
	for _, start := range definition.StartEvents(sub) {
		if start.Event.Trigger != model.TriggerNone {
			continue
		}
		child := engine.newNodeInstance(instance, ni.Key, start.Id, "")
		engine.queue = append(engine.queue, activateCommand{instance: instance, nodeInstance: child})
		started++
	}
	if started == 0 {
		return model.NewDefinitionError(definition.Id, sub.Id, "sub process has no none start event")
	}
	return nil
}

// activateAdHocSubProcess arms every ad-hoc child for activation by name, nothing runs until one is triggered.
func (engine *Engine) activateAdHocSubProcess(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, sub *model.SubProcess, ni *runtime.NodeInstance) error {
	declareVariables(ni, sub.Variables)
	engine.registerAdHocChildren(instance, definition, sub, ni)
	return nil
}

// registerAdHocChildren registers the children of an ad-hoc container under their name, and their id
// when it differs. A nil owner means the process itself is ad-hoc.
// The keys are kept apart from signal names, SignalProcessInstance is the only way to reach them.
func (engine *Engine) registerAdHocChildren(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, container model.Container, owner *runtime.NodeInstance) {
	var ownerKey int64
	if owner != nil {
		ownerKey = owner.Key
	}
	for _, child := range definition.AdHocChildren(container) {
		names := []string{child.GetId()}
		if child.GetName() != "" && child.GetName() != child.GetId() {
			names = append([]string{child.GetName()}, names...)
		}
		for _, name := range names {
			engine.bus.Register(correlation.Registration{
				Key:                model.AdHocEventKey(name),
				Role:               correlation.RoleAdHoc,
				ProcessInstanceKey: instance.Key,
				NodeInstanceKey:    ownerKey,
				DefinitionId:       instance.DefinitionId,
				ElementId:          child.GetId(),
				ScopeKey:           ownerKey,
			})
		}
	}
}

// adHocDone decides whether an ad-hoc container is finished: its completion condition holds,
// or it auto completes and no child is running anymore.
func (engine *Engine) adHocDone(instance *runtime.ProcessInstance, scopeKey int64, condition string, autoComplete bool, live int) (bool, error) {
	if condition != "" {
		satisfied, err := engine.evaluateCondition(condition, scopeHolder(instance, scopeKey).Variables())
		if err != nil || satisfied {
			return satisfied, err
		}
	}
	return autoComplete && live == 0, nil
}

// completeSubProcess applies the output mappings of an embedded or ad-hoc sub process and leaves it.
func (engine *Engine) completeSubProcess(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, sub *model.SubProcess, scope *runtime.NodeInstance) error {
	if len(sub.Outputs) > 0 {
		holder := holderOf(instance, scope)
		variables := holder.Variables()
		for _, output := range sub.Outputs {
			value, err := engine.evaluateExpression(output.Source, variables)
			if err != nil {
				return err
			}
			engine.setVariable(definition, holder.Parent(), sub.Id, output.Target, value)
		}
	}
	return engine.leave(ctx, instance, scope)
}
