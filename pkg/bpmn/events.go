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
	"maps"
	"slices"
	"strings"

	"github.com/pbinitiative/zenflow/pkg/bpmn/correlation"
	"github.com/pbinitiative/zenflow/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func (engine *Engine) activateCatchEvent(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, event *model.IntermediateCatchEvent, ni *runtime.NodeInstance) error {
	switch event.Event.Trigger {
	case model.TriggerNone, model.TriggerLink:
		return engine.leave(ctx, instance, ni)
	case model.TriggerTimer:
		return engine.scheduleTimer(instance, ni, event.Id, correlation.RoleCatch, event.Event.Timer)
	}
	reg, err := engine.eventRegistration(instance, ni, event.Id, event.Event, correlation.RoleCatch)
	if err != nil {
		return err
	}
	engine.bus.Register(reg)
	return nil
}

func (engine *Engine) activateThrowEvent(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, event *model.IntermediateThrowEvent, ni *runtime.NodeInstance) error {
	switch event.Event.Trigger {
	case model.TriggerLink:
		target, ok := definition.LinkTarget(event.Id, event.Event.Ref)
		if !ok {
			return model.NewDefinitionError(definition.Id, event.Id, fmt.Sprintf("no link catch event named %s", event.Event.Ref))
		}
		engine.completeNode(ctx, instance, definition, ni)
		engine.queue = append(engine.queue, enterCommand{instance: instance, scopeKey: ni.ScopeKey, elementId: target.Id})
		return nil
	case model.TriggerSignal:
		engine.throwSignal(ctx, instance, ni, event.Event)
	case model.TriggerMessage:
		if err := engine.throwMessage(ctx, instance, ni, event.Event); err != nil {
			return err
		}
	case model.TriggerEscalation, model.TriggerError:
		scope := instance.FindNodeInstance(ni.ScopeKey)
		if err := engine.propagate(ctx, instance, scope, ni.ElementId, event.Event.Trigger, event.Event.Ref, engine.eventPayload(instance, ni, event.Event)); err != nil {
			return err
		}
		if instance.IsTerminal() || !ni.IsLive() {
			return nil
		}
	case model.TriggerCompensation:
		return engine.throwCompensation(ctx, instance, definition, ni, event.Event.Ref)
	}
	return engine.leave(ctx, instance, ni)
}

func (engine *Engine) activateEndEvent(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, end *model.EndEvent, ni *runtime.NodeInstance) error {
	if end.Terminate {
		return engine.terminate(ctx, instance, definition, end, ni)
	}
	switch end.Event.Trigger {
	case model.TriggerSignal:
		engine.throwSignal(ctx, instance, ni, end.Event)
	case model.TriggerMessage:
		if err := engine.throwMessage(ctx, instance, ni, end.Event); err != nil {
			return err
		}
	case model.TriggerError, model.TriggerEscalation:
		payload := engine.eventPayload(instance, ni, end.Event)
		engine.completeNode(ctx, instance, definition, ni)
		scope := instance.FindNodeInstance(ni.ScopeKey)
		if err := engine.propagate(ctx, instance, scope, ni.ElementId, end.Event.Trigger, end.Event.Ref, payload); err != nil {
			return err
		}
		engine.queue = append(engine.queue, checkScopeCommand{instance: instance, scopeKey: ni.ScopeKey})
		return nil
	case model.TriggerCompensation:
		return engine.throwCompensation(ctx, instance, definition, ni, end.Event.Ref)
	}
	return engine.leave(ctx, instance, ni)
}

// terminate ends the whole process instance, or only the enclosing sub process for a local terminate end event.
func (engine *Engine) terminate(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, end *model.EndEvent, ni *runtime.NodeInstance) error {
	engine.completeNode(ctx, instance, definition, ni)
	if end.TerminateScope == model.TerminateScopeLocal && ni.ScopeKey != 0 {
		for _, sibling := range slices.Clone(instance.NodeInstancesIn(ni.ScopeKey)) {
			engine.cancelNode(ctx, instance, definition, sibling)
		}
		engine.dropPendingEnters(instance, ni.ScopeKey)
		engine.queue = append(engine.queue, checkScopeCommand{instance: instance, scopeKey: ni.ScopeKey})
		return nil
	}
	for _, live := range slices.Clone(instance.NodeInstancesIn(0)) {
		engine.cancelNode(ctx, instance, definition, live)
	}
	instance.EndReached = true
	engine.completeInstance(ctx, instance)
	return nil
}

// eventPayload returns the value a throw event sends along, the variable named by the event.
func (engine *Engine) eventPayload(instance *runtime.ProcessInstance, ni *runtime.NodeInstance, event model.EventDefinition) any {
	if event.Variable == "" {
		return nil
	}
	value, _ := holderOf(instance, ni).GetVariable(event.Variable)
	return value
}

func (engine *Engine) throwSignal(ctx context.Context, instance *runtime.ProcessInstance, ni *runtime.NodeInstance, event model.EventDefinition) {
	scope := correlation.Global()
	if event.Scope == model.SignalScopeProcessInstance {
		scope = correlation.ForProcessInstances(engine.familyOf(instance)...)
	}
	engine.bus.Fire(event.Ref, scope, correlation.Payload{Data: engine.eventPayload(instance, ni, event)}, engine.deliverFunc(ctx))
}

func (engine *Engine) throwMessage(ctx context.Context, instance *runtime.ProcessInstance, ni *runtime.NodeInstance, event model.EventDefinition) error {
	correlationValue, err := engine.correlationValue(holderOf(instance, ni).Variables(), event)
	if err != nil {
		return err
	}
	engine.publishMessage(ctx, event.Ref, correlationValue, engine.eventPayload(instance, ni, event))
	return nil
}

// publishMessage delivers a message to exactly one waiting registration. Running instances are
// preferred over message start events.
func (engine *Engine) publishMessage(ctx context.Context, name string, correlationValue string, data any) bool {
	key := model.MessageEventKey(name)
	matches := func(instances bool) func(reg correlation.Registration) bool {
		return func(reg correlation.Registration) bool {
			if (reg.Role != correlation.RoleStart) != instances {
				return false
			}
			return reg.CorrelationValue == "" || reg.CorrelationValue == correlationValue
		}
	}
	deliver := engine.deliverFunc(ctx)
	if engine.bus.Fire(key, correlation.Global(), correlation.Payload{Data: data, Filter: matches(true), Single: true}, deliver) {
		return true
	}
	return engine.bus.Fire(key, correlation.Global(), correlation.Payload{Data: data, Filter: matches(false), Single: true}, deliver)
}

func (engine *Engine) correlationValue(variables map[string]any, event model.EventDefinition) (string, error) {
	if event.Trigger != model.TriggerMessage || event.CorrelationKey == "" {
		return "", nil
	}
	value, err := engine.evaluateExpression(event.CorrelationKey, variables)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return fmt.Sprint(value), nil
}

// eventRegistration builds the bus registration a node instance waits on.
func (engine *Engine) eventRegistration(instance *runtime.ProcessInstance, owner *runtime.NodeInstance, elementId string, event model.EventDefinition, role correlation.Role) (correlation.Registration, error) {
	correlationValue, err := engine.correlationValue(holderOf(instance, owner).Variables(), event)
	if err != nil {
		return correlation.Registration{}, err
	}
	return correlation.Registration{
		Key:                event.EventKey(),
		Role:               role,
		ProcessInstanceKey: instance.Key,
		NodeInstanceKey:    owner.Key,
		DefinitionId:       instance.DefinitionId,
		ElementId:          elementId,
		ScopeKey:           owner.ScopeKey,
		CorrelationValue:   correlationValue,
		Condition:          event.Condition,
	}, nil
}

// scheduleTimer starts a timer owned by the node instance and registers the owner for its firing.
func (engine *Engine) scheduleTimer(instance *runtime.ProcessInstance, owner *runtime.NodeInstance, elementId string, role correlation.Role, definition *model.TimerDefinition) error {
	if definition == nil {
		return newEngineErrorf("timer event %s has no timer definition", elementId)
	}
	expression := definition.Value
	if strings.HasPrefix(strings.TrimSpace(expression), "=") {
		value, err := engine.evaluateExpression(expression, holderOf(instance, owner).Variables())
		if err != nil {
			return err
		}
		expression = fmt.Sprint(value)
	}
	t, err := engine.timers.Schedule(runtime.TimerInstance{
		Key:                engine.generateKey(),
		ProcessInstanceKey: instance.Key,
		NodeInstanceKey:    owner.Key,
		DefinitionId:       instance.DefinitionId,
		ElementId:          elementId,
		Kind:               string(definition.Kind),
		Expression:         expression,
		BusinessCalendar:   definition.BusinessCalendar,
	})
	if err != nil {
		return err
	}
	owner.TimerKeys = append(owner.TimerKeys, t.Key)
	engine.bus.Register(correlation.Registration{
		Key:                model.TimerEventKey(t.Key),
		Role:               role,
		ProcessInstanceKey: instance.Key,
		NodeInstanceKey:    owner.Key,
		DefinitionId:       instance.DefinitionId,
		ElementId:          elementId,
		ScopeKey:           owner.ScopeKey,
	})
	return nil
}

// registerBoundaryEvents arms the event triggered boundary events of an activity.
// Error, escalation and compensation boundaries are looked up when those are thrown.
func (engine *Engine) registerBoundaryEvents(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, activityId string, owner *runtime.NodeInstance) error {
	for _, boundary := range definition.BoundaryEvents(activityId) {
		switch boundary.Event.Trigger {
		case model.TriggerTimer:
			if err := engine.scheduleTimer(instance, owner, boundary.Id, correlation.RoleBoundary, boundary.Event.Timer); err != nil {
				return err
			}
		case model.TriggerSignal, model.TriggerMessage, model.TriggerCondition:
			reg, err := engine.eventRegistration(instance, owner, boundary.Id, boundary.Event, correlation.RoleBoundary)
			if err != nil {
				return err
			}
			engine.bus.Register(reg)
		}
	}
	return nil
}

// triggerBoundary starts the path of a boundary event, interrupting boundaries cancel the activity first.
func (engine *Engine) triggerBoundary(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, activity *runtime.NodeInstance, boundary *model.BoundaryEvent, data any) error {
	if boundary.CancelActivity {
		engine.cancelNode(ctx, instance, definition, activity)
	}
	ni := engine.newNodeInstance(instance, activity.ScopeKey, boundary.Id, "")
	ni.State = runtime.NodeActive
	engine.exportElementEvent(instance, boundary, ni, exporter.ElementActivated)
	if err := engine.assignPayload(instance, definition, boundary, ni, data); err != nil {
		return err
	}
	return engine.leave(ctx, instance, ni)
}

// assignPayload stores the data of a delivered event. Events write it into their variable,
// tasks receiving a message treat a map payload as results.
func (engine *Engine) assignPayload(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, node model.FlowNode, ni *runtime.NodeInstance, data any) error {
	if data == nil {
		return nil
	}
	var event model.EventDefinition
	switch n := node.(type) {
	case *model.Task:
		results, ok := data.(map[string]any)
		if !ok {
			return nil
		}
		return engine.applyOutputs(instance, definition, n, ni, results)
	case *model.IntermediateCatchEvent:
		event = n.Event
	case *model.BoundaryEvent:
		event = n.Event
	case *model.StartEvent:
		event = n.Event
	}
	if event.Variable == "" {
		return nil
	}
	engine.setVariable(definition, holderOf(instance, ni), ni.ElementId, event.Variable, data)
	return nil
}

func (engine *Engine) deliverFunc(ctx context.Context) correlation.DeliverFunc {
	return func(reg correlation.Registration, data any) bool {
		instance, delivered, err := engine.deliver(ctx, reg, data)
		if err != nil && instance != nil {
			engine.fail(ctx, instance, reg.ElementId, err)
		} else if err != nil {
			engine.errs = append(engine.errs, err)
		}
		if delivered {
			engine.metrics.EventsDelivered.Add(ctx, 1, metric.WithAttributes(
				attribute.String(otelPkg.AttributeEventKey, reg.Key),
				attribute.String(otelPkg.AttributeProcessId, reg.DefinitionId),
			))
		}
		return delivered
	}
}

// deliver hands an event to the owner of the registration.
func (engine *Engine) deliver(ctx context.Context, reg correlation.Registration, data any) (*runtime.ProcessInstance, bool, error) {
	if reg.Role == correlation.RoleStart {
		return engine.startFromEvent(ctx, reg, data)
	}
	instance, ok := engine.instances[reg.ProcessInstanceKey]
	if !ok || instance.IsTerminal() || instance.Suspended {
		return instance, false, nil
	}
	definition, err := engine.definitionOf(instance)
	if err != nil {
		return instance, false, err
	}

	switch reg.Role {
	case correlation.RoleCatch:
		ni := instance.FindNodeInstance(reg.NodeInstanceKey)
		if ni == nil || ni.State != runtime.NodeActive {
			return instance, false, nil
		}
		node, ok := definition.FindNode(ni.ElementId)
		if !ok {
			return instance, false, model.NewDefinitionError(definition.Id, ni.ElementId, "element does not exist")
		}
		if err := engine.assignPayload(instance, definition, node, ni, data); err != nil {
			return instance, true, err
		}
		return instance, true, engine.leave(ctx, instance, ni)
	case correlation.RoleBoundary:
		activity := instance.FindNodeInstance(reg.NodeInstanceKey)
		if activity == nil || activity.State != runtime.NodeActive {
			return instance, false, nil
		}
		node, _ := definition.FindNode(reg.ElementId)
		boundary, ok := node.(*model.BoundaryEvent)
		if !ok {
			return instance, false, model.NewDefinitionError(definition.Id, reg.ElementId, "not a boundary event")
		}
		return instance, true, engine.triggerBoundary(ctx, instance, definition, activity, boundary, data)
	case correlation.RoleGateway:
		gateway := instance.FindNodeInstance(reg.NodeInstanceKey)
		if gateway == nil || gateway.State != runtime.NodeActive {
			return instance, false, nil
		}
		return instance, true, engine.completeEventGateway(ctx, instance, definition, gateway, reg.ElementId, data)
	case correlation.RoleAdHoc:
		if !engine.scopeIsLive(instance, reg.ScopeKey) {
			return instance, false, nil
		}
		ni := engine.newNodeInstance(instance, reg.ScopeKey, reg.ElementId, "")
		if variables, ok := data.(map[string]any); ok {
			maps.Copy(ni.Variables, variables)
		}
		engine.queue = append(engine.queue, activateCommand{instance: instance, nodeInstance: ni})
		return instance, true, nil
	}
	return instance, false, newEngineErrorf("unknown registration role %s", reg.Role)
}

// startFromEvent creates an instance of the latest version of the definition owning a start registration.
func (engine *Engine) startFromEvent(ctx context.Context, reg correlation.Registration, data any) (*runtime.ProcessInstance, bool, error) {
	definition, ok := engine.latestDefinition(reg.DefinitionId)
	if !ok {
		return nil, false, nil
	}
	node, ok := definition.FindNode(reg.ElementId)
	if !ok {
		return nil, false, model.NewDefinitionError(definition.Id, reg.ElementId, "element does not exist")
	}
	start, ok := node.(*model.StartEvent)
	if !ok {
		return nil, false, model.NewDefinitionError(definition.Id, reg.ElementId, "not a start event")
	}
	variables := map[string]any{}
	if start.Event.Variable != "" && data != nil {
		variables[start.Event.Variable] = data
	} else if m, ok := data.(map[string]any); ok {
		maps.Copy(variables, m)
	}
	instance := engine.createInstance(ctx, definition, variables, nil, nil)
	ni := engine.newNodeInstance(instance, 0, start.Id, "")
	engine.queue = append(engine.queue, activateCommand{instance: instance, nodeInstance: ni})
	return instance, true, nil
}

// registerStartEvents arms the signal, message, timer and conditional start events of a definition.
func (engine *Engine) registerStartEvents(definition *model.ProcessDefinition) error {
	for _, start := range definition.EventStartEvents() {
		reg := correlation.Registration{
			Key:          start.Event.EventKey(),
			Role:         correlation.RoleStart,
			DefinitionId: definition.Id,
			ElementId:    start.Id,
			Condition:    start.Event.Condition,
		}
		if start.Event.Trigger == model.TriggerTimer {
			if start.Event.Timer == nil {
				return model.NewDefinitionError(definition.Id, start.Id, "timer start event has no timer definition")
			}
			t, err := engine.timers.Schedule(runtime.TimerInstance{
				Key:              engine.generateKey(),
				DefinitionId:     definition.Id,
				ElementId:        start.Id,
				Kind:             string(start.Event.Timer.Kind),
				Expression:       start.Event.Timer.Value,
				BusinessCalendar: start.Event.Timer.BusinessCalendar,
			})
			if err != nil {
				return err
			}
			reg.Key = model.TimerEventKey(t.Key)
		}
		if reg.Key == "" {
			continue
		}
		engine.bus.Register(reg)
	}
	return nil
}
