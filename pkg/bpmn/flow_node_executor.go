// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"fmt"
	"slices"

	"github.com/pbinitiative/zenflow/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// newNodeInstance creates a READY node instance in the scope and adds it to the live set.
func (engine *Engine) newNodeInstance(instance *runtime.ProcessInstance, scopeKey int64, elementId string, flowId string) *runtime.NodeInstance {
	ni := &runtime.NodeInstance{
		Key:          engine.generateKey(),
		ElementId:    elementId,
		ScopeKey:     scopeKey,
		State:        runtime.NodeReady,
		Variables:    map[string]any{},
		IncomingFlow: flowId,
		CreatedAt:    engine.clock.Now(),
	}
	instance.AddNodeInstance(ni)
	engine.touch(instance)
	return ni
}

// enter moves a token into an element. Joining gateways collect tokens in a shared node instance,
// every other element gets a new one.
func (engine *Engine) enter(ctx context.Context, instance *runtime.ProcessInstance, scopeKey int64, elementId string, flowId string) error {
	definition, err := engine.definitionOf(instance)
	if err != nil {
		return err
	}
	node, ok := definition.FindNode(elementId)
	if !ok {
		return model.NewDefinitionError(definition.Id, elementId, "element does not exist")
	}
	if definition.IsJoin(node) {
		return engine.arriveAtJoin(ctx, instance, definition, node.(*model.Gateway), scopeKey, flowId)
	}
	ni := engine.newNodeInstance(instance, scopeKey, elementId, flowId)
	return engine.activate(ctx, instance, ni)
}

// activate runs the behavior of the element the node instance belongs to.
func (engine *Engine) activate(ctx context.Context, instance *runtime.ProcessInstance, ni *runtime.NodeInstance) (retErr error) {
	definition, err := engine.definitionOf(instance)
	if err != nil {
		return err
	}
	node, ok := definition.FindNode(ni.ElementId)
	if !ok {
		return model.NewDefinitionError(definition.Id, ni.ElementId, "element does not exist")
	}

	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("%s:%s", node.GetType(), node.GetId()), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, instance.Key),
		attribute.String(otelPkg.AttributeElementId, ni.ElementId),
		attribute.Int64(otelPkg.AttributeElementKey, ni.Key),
		attribute.String(otelPkg.AttributeElementType, string(node.GetType())),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	ni.State = runtime.NodeActive
	engine.touch(instance)
	engine.exportElementEvent(instance, node, ni, exporter.ElementActivated)

	switch n := node.(type) {
	case *model.StartEvent:
		return engine.leave(ctx, instance, ni)
	case *model.EndEvent:
		return engine.activateEndEvent(ctx, instance, definition, n, ni)
	case *model.IntermediateCatchEvent:
		return engine.activateCatchEvent(ctx, instance, definition, n, ni)
	case *model.IntermediateThrowEvent:
		return engine.activateThrowEvent(ctx, instance, definition, n, ni)
	case *model.BoundaryEvent:
		return engine.leave(ctx, instance, ni)
	case *model.Gateway:
		return engine.activateGateway(ctx, instance, definition, n, ni)
	case model.Activity:
		return engine.activateActivity(ctx, instance, definition, n, ni)
	}
	return newEngineErrorf("unsupported element %s of type %T", ni.ElementId, node)
}

// leave completes the node instance and takes its outgoing flows.
func (engine *Engine) leave(ctx context.Context, instance *runtime.ProcessInstance, ni *runtime.NodeInstance) error {
	definition, err := engine.definitionOf(instance)
	if err != nil {
		return err
	}
	node, ok := definition.FindNode(ni.ElementId)
	if !ok {
		return model.NewDefinitionError(definition.Id, ni.ElementId, "element does not exist")
	}
	var flows []*model.SequenceFlow
	if !ni.IsMultiInstanceChild() {
		flows, err = engine.selectOutgoing(instance, definition, node, ni)
		if err != nil {
			return err
		}
	}
	return engine.leaveVia(ctx, instance, definition, node, ni, flows)
}

func (engine *Engine) leaveVia(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, node model.FlowNode, ni *runtime.NodeInstance, flows []*model.SequenceFlow) error {
	engine.completeNode(ctx, instance, definition, ni)
	if ni.IsMultiInstanceChild() {
		return engine.multiInstanceChildDone(ctx, instance, definition, ni, true)
	}
	if len(flows) == 0 && ni.ScopeKey == 0 && !isForCompensation(node) {
		instance.EndReached = true
	}
	engine.takeFlows(instance, ni, flows)
	engine.queue = append(engine.queue, checkScopeCommand{instance: instance, scopeKey: ni.ScopeKey})
	return nil
}

func isForCompensation(node model.FlowNode) bool {
	activity, ok := node.(model.Activity)
	return ok && activity.ForCompensation()
}

func (engine *Engine) takeFlows(instance *runtime.ProcessInstance, ni *runtime.NodeInstance, flows []*model.SequenceFlow) {
	for _, flow := range flows {
		engine.exportFlowEvent(instance, flow)
		engine.queue = append(engine.queue, enterCommand{
			instance:  instance,
			scopeKey:  ni.ScopeKey,
			elementId: flow.TargetRef,
			flowId:    flow.Id,
		})
	}
}

// selectOutgoing picks the flows a token leaves the node through.
func (engine *Engine) selectOutgoing(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, node model.FlowNode, ni *runtime.NodeInstance) ([]*model.SequenceFlow, error) {
	if gw, ok := node.(*model.Gateway); ok {
		switch gw.GatewayType {
		case model.GatewayTypeExclusive:
			return engine.exclusiveFlows(instance, definition, gw, ni)
		case model.GatewayTypeInclusive:
			return engine.inclusiveFlows(instance, definition, gw, ni)
		case model.GatewayTypeEventBased:
			return nil, nil
		}
		return definition.Outgoing(gw.Id), nil
	}
	outgoing := definition.Outgoing(node.GetId())
	var variables map[string]any
	var result []*model.SequenceFlow
	for _, flow := range outgoing {
		if flow.Condition == "" {
			result = append(result, flow)
			continue
		}
		if variables == nil {
			variables = holderOf(instance, ni).Variables()
		}
		taken, err := engine.evaluateCondition(flow.Condition, variables)
		if err != nil {
			return nil, err
		}
		if taken {
			result = append(result, flow)
		}
	}
	return result, nil
}

// completeNode moves the node instance to COMPLETED and releases everything it owns.
func (engine *Engine) completeNode(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, ni *runtime.NodeInstance) {
	engine.releaseNode(ni)
	ni.State = runtime.NodeCompleted
	instance.RemoveNodeInstance(ni.Key)
	engine.touch(instance)
	if node, ok := definition.FindNode(ni.ElementId); ok {
		engine.exportElementEvent(instance, node, ni, exporter.ElementCompleted)
	}
	if !ni.IsMultiInstanceChild() {
		engine.logCompensable(instance, definition, ni)
	}
	engine.compensationHandlerDone(instance, ni.Key)
}

// cancelNode aborts the node instance together with everything running inside of it.
func (engine *Engine) cancelNode(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, ni *runtime.NodeInstance) {
	if !ni.IsLive() {
		return
	}
	for _, child := range slices.Clone(instance.NodeInstancesIn(ni.Key)) {
		engine.cancelNode(ctx, instance, definition, child)
	}
	engine.releaseNode(ni)
	ni.State = runtime.NodeAborted
	instance.RemoveNodeInstance(ni.Key)
	engine.touch(instance)

	if ni.WorkItemKey != 0 {
		engine.abortWorkItemOf(ctx, ni.WorkItemKey)
	}
	if ni.CalledInstanceKey != 0 {
		if called, ok := engine.instances[ni.CalledInstanceKey]; ok && !called.IsTerminal() {
			engine.abortInstance(ctx, called)
		}
	}
	node, ok := definition.FindNode(ni.ElementId)
	if !ok {
		return
	}
	if task, isTask := node.(*model.Task); isTask && task.TaskType == model.TaskTypeRule {
		engine.rules.DeactivateGroup(ni.Key)
	}
	engine.exportElementEvent(instance, node, ni, exporter.ElementAborted)
	engine.compensationHandlerDone(instance, ni.Key)
}

// releaseNode drops the correlation registrations and timers owned by the node instance.
func (engine *Engine) releaseNode(ni *runtime.NodeInstance) {
	engine.bus.Unregister(ni.Key)
	engine.timers.CancelOwnedBy(ni.Key)
}

// checkScope completes the scope once nothing runs inside of it anymore.
// Scope zero is the process instance itself.
func (engine *Engine) checkScope(ctx context.Context, instance *runtime.ProcessInstance, scopeKey int64) error {
	definition, err := engine.definitionOf(instance)
	if err != nil {
		return err
	}
	if !engine.scopeIsLive(instance, scopeKey) {
		return nil
	}
	if err := engine.fireReadyInclusiveJoins(ctx, instance, definition, scopeKey); err != nil {
		return err
	}
	if engine.pendingEnter(instance, scopeKey) {
		return nil
	}

	var scope *runtime.NodeInstance
	var sub *model.SubProcess
	if scopeKey != 0 {
		scope = instance.FindNodeInstance(scopeKey)
		node, _ := definition.FindNode(scope.ElementId)
		var ok bool
		sub, ok = node.(*model.SubProcess)
		if !ok || scope.MultiInstance != nil {
			// multi-instance bodies complete through their children
			return nil
		}
	}

	live := instance.NodeInstancesIn(scopeKey)
	adHoc, condition, autoComplete := definition.AdHoc, definition.CompletionCondition, definition.AutoComplete
	if sub != nil {
		adHoc, condition, autoComplete = sub.SubProcessType == model.SubProcessTypeAdHoc, sub.CompletionCondition, sub.AutoComplete
	}
	if adHoc {
		done, err := engine.adHocDone(instance, scopeKey, condition, autoComplete, len(live))
		if err != nil || !done {
			return err
		}
		for _, ni := range slices.Clone(live) {
			engine.cancelNode(ctx, instance, definition, ni)
		}
	} else if len(live) > 0 {
		return nil
	}

	if scope == nil {
		engine.completeInstance(ctx, instance)
		return nil
	}
	return engine.completeSubProcess(ctx, instance, definition, sub, scope)
}

// completeInstance ends the instance successfully and resumes a waiting call activity.
func (engine *Engine) completeInstance(ctx context.Context, instance *runtime.ProcessInstance) {
	if instance.IsTerminal() {
		return
	}
	if definition, err := engine.definitionOf(instance); err == nil {
		for _, ni := range slices.Clone(instance.NodeInstancesIn(0)) {
			engine.cancelNode(ctx, instance, definition, ni)
		}
	}
	instance.State = runtime.ProcessInstanceCompleted
	instance.EndedAt = engine.clock.Now()
	engine.endInstance(ctx, instance, exporter.Completed)
	engine.metrics.ProcessesEnded.Add(ctx, 1, otelMetricAttributes(instance))
	engine.logger.Debug("process instance completed", "key", instance.Key, "process", instance.DefinitionId)
}

// abortInstance cancels every live node instance and ends the instance as ABORTED.
func (engine *Engine) abortInstance(ctx context.Context, instance *runtime.ProcessInstance) {
	if instance.IsTerminal() {
		return
	}
	definition, err := engine.definitionOf(instance)
	if err == nil {
		for _, ni := range slices.Clone(instance.NodeInstancesIn(0)) {
			engine.cancelNode(ctx, instance, definition, ni)
		}
		for _, ni := range slices.Clone(instance.NodeInstances) {
			engine.cancelNode(ctx, instance, definition, ni)
		}
	}
	instance.NodeInstances = nil
	instance.State = runtime.ProcessInstanceAborted
	instance.EndedAt = engine.clock.Now()
	engine.endInstance(ctx, instance, exporter.Aborted)
	engine.metrics.ProcessesAborted.Add(ctx, 1, otelMetricAttributes(instance))
	engine.logger.Debug("process instance aborted", "key", instance.Key, "process", instance.DefinitionId)
}

func (engine *Engine) endInstance(ctx context.Context, instance *runtime.ProcessInstance, intent exporter.Intent) {
	engine.bus.UnregisterProcessInstance(instance.Key)
	engine.timers.CancelProcessInstance(instance.Key)
	engine.touch(instance)
	engine.exportEndProcessEvent(instance, intent)
	engine.metrics.ProcessesRunning.Add(ctx, -1, otelMetricAttributes(instance))
	if instance.ParentInstanceKey != 0 {
		engine.queue = append(engine.queue, childEndedCommand{child: instance})
	}
}
