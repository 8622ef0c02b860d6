package bpmn

import (
	"context"

	"github.com/pbinitiative/zenflow/pkg/bpmn/correlation"
	"github.com/pbinitiative/zenflow/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

func (engine *Engine) activateGateway(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, gw *model.Gateway, ni *runtime.NodeInstance) error {
	if gw.GatewayType == model.GatewayTypeEventBased {
		return engine.activateEventGateway(instance, definition, gw, ni)
	}
	return engine.leave(ctx, instance, ni)
}

// exclusiveFlows takes the first flow whose condition holds, falling back to the default flow.
func (engine *Engine) exclusiveFlows(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, gw *model.Gateway, ni *runtime.NodeInstance) ([]*model.SequenceFlow, error) {
	outgoing := definition.Outgoing(gw.Id)
	variables := holderOf(instance, ni).Variables()
	for _, flow := range outgoing {
		if flow.Id == gw.Default {
			continue
		}
		if flow.Condition == "" {
			return []*model.SequenceFlow{flow}, nil
		}
		taken, err := engine.evaluateCondition(flow.Condition, variables)
		if err != nil {
			return nil, err
		}
		if taken {
			return []*model.SequenceFlow{flow}, nil
		}
	}
	if flow, ok := definition.FindFlow(gw.Default); ok {
		return []*model.SequenceFlow{flow}, nil
	}
	if len(outgoing) == 0 {
		return nil, nil
	}
	return nil, model.NewDefinitionError(definition.Id, gw.Id, "no outgoing flow condition holds and there is no default flow")
}

// inclusiveFlows takes every flow whose condition holds. The default flow is taken only when none does.
// The paired join learns how many branches it has to wait for.
func (engine *Engine) inclusiveFlows(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, gw *model.Gateway, ni *runtime.NodeInstance) ([]*model.SequenceFlow, error) {
	outgoing := definition.Outgoing(gw.Id)
	variables := holderOf(instance, ni).Variables()
	var flows []*model.SequenceFlow
	for _, flow := range outgoing {
		if flow.Id == gw.Default {
			continue
		}
		if flow.Condition == "" {
			flows = append(flows, flow)
			continue
		}
		taken, err := engine.evaluateCondition(flow.Condition, variables)
		if err != nil {
			return nil, err
		}
		if taken {
			flows = append(flows, flow)
		}
	}
	if len(flows) == 0 {
		if flow, ok := definition.FindFlow(gw.Default); ok {
			flows = append(flows, flow)
		} else if len(outgoing) > 0 {
			return nil, model.NewDefinitionError(definition.Id, gw.Id, "no outgoing flow condition holds and there is no default flow")
		}
	}
	if joinId, ok := definition.InclusiveJoin(gw.Id); ok && len(flows) > 0 {
		engine.prepareInclusiveJoin(instance, definition, ni.ScopeKey, joinId, len(flows))
	}
	return flows, nil
}

func (engine *Engine) prepareInclusiveJoin(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, scopeKey int64, joinId string, expected int) {
	join := engine.newNodeInstance(instance, scopeKey, joinId, "")
	join.State = runtime.NodeActive
	join.Join = &runtime.JoinState{Arrived: map[string]int{}, Expected: expected}
	if node, ok := definition.FindNode(joinId); ok {
		engine.exportElementEvent(instance, node, join, exporter.ElementActivated)
	}
}

// arriveAtJoin counts a token in the first join node instance still missing a token on the flow.
func (engine *Engine) arriveAtJoin(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, gw *model.Gateway, scopeKey int64, flowId string) error {
	var join *runtime.NodeInstance
	for _, candidate := range instance.FindNodeInstancesByElementId(gw.Id) {
		if candidate.ScopeKey == scopeKey && candidate.Join != nil && candidate.Join.Arrived[flowId] == 0 {
			join = candidate
			break
		}
	}
	if join == nil {
		join = engine.newNodeInstance(instance, scopeKey, gw.Id, flowId)
		join.State = runtime.NodeActive
		join.Join = &runtime.JoinState{Arrived: map[string]int{}}
		engine.exportElementEvent(instance, gw, join, exporter.ElementActivated)
	}
	join.Join.Arrived[flowId]++
	engine.touch(instance)

	if !engine.joinReady(instance, definition, gw, join) {
		return nil
	}
	return engine.leave(ctx, instance, join)
}

func (engine *Engine) joinReady(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, gw *model.Gateway, join *runtime.NodeInstance) bool {
	if gw.GatewayType == model.GatewayTypeParallel {
		for _, flow := range definition.Incoming(gw.Id) {
			if join.Join.Arrived[flow.Id] == 0 {
				return false
			}
		}
		return true
	}
	if join.Join.Expected > 0 {
		return join.Join.Total() >= join.Join.Expected
	}
	return join.Join.Total() > 0 && !engine.tokenCanReach(instance, definition, join)
}

// tokenCanReach reports whether any other token of the scope, live or in flight, may still arrive at the join.
func (engine *Engine) tokenCanReach(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, join *runtime.NodeInstance) bool {
	for _, ni := range instance.NodeInstancesIn(join.ScopeKey) {
		if ni.ElementId != join.ElementId && definition.CanReach(ni.ElementId, join.ElementId) {
			return true
		}
	}
	for _, cmd := range engine.queue {
		enter, ok := cmd.(enterCommand)
		if !ok || enter.instance != instance || enter.scopeKey != join.ScopeKey {
			continue
		}
		if enter.elementId == join.ElementId || definition.CanReach(enter.elementId, join.ElementId) {
			return true
		}
	}
	return false
}

// fireReadyInclusiveJoins releases unpaired inclusive joins no token can reach anymore.
func (engine *Engine) fireReadyInclusiveJoins(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, scopeKey int64) error {
	for _, ni := range instance.NodeInstancesIn(scopeKey) {
		if ni.Join == nil || ni.Join.Expected > 0 || !ni.IsLive() {
			continue
		}
		node, ok := definition.FindNode(ni.ElementId)
		if !ok {
			continue
		}
		gw, ok := node.(*model.Gateway)
		if !ok || gw.GatewayType != model.GatewayTypeInclusive {
			continue
		}
		if engine.joinReady(instance, definition, gw, ni) {
			return engine.leave(ctx, instance, ni)
		}
	}
	return nil
}

// activateEventGateway registers one correlation per branch, the first delivery decides the path.
func (engine *Engine) activateEventGateway(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, gw *model.Gateway, ni *runtime.NodeInstance) error {
	for _, flow := range definition.Outgoing(gw.Id) {
		target, ok := definition.FindNode(flow.TargetRef)
		if !ok {
			return model.NewDefinitionError(definition.Id, flow.TargetRef, "element does not exist")
		}
		switch t := target.(type) {
		case *model.IntermediateCatchEvent:
			if t.Event.Trigger == model.TriggerTimer {
				if err := engine.scheduleTimer(instance, ni, t.Id, correlation.RoleGateway, t.Event.Timer); err != nil {
					return err
				}
				continue
			}
			reg, err := engine.eventRegistration(instance, ni, t.Id, t.Event, correlation.RoleGateway)
			if err != nil {
				return err
			}
			engine.bus.Register(reg)
		case *model.Task:
			engine.bus.Register(correlation.Registration{
				Key:                model.MessageEventKey(t.MessageRef),
				Role:               correlation.RoleGateway,
				ProcessInstanceKey: instance.Key,
				NodeInstanceKey:    ni.Key,
				ElementId:          t.Id,
				ScopeKey:           ni.ScopeKey,
			})
		}
	}
	return nil
}

// completeEventGateway follows the branch that received an event and drops the other ones.
func (engine *Engine) completeEventGateway(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, gateway *runtime.NodeInstance, targetId string, data any) error {
	engine.completeNode(ctx, instance, definition, gateway)
	flowId := ""
	for _, flow := range definition.Outgoing(gateway.ElementId) {
		if flow.TargetRef == targetId {
			engine.exportFlowEvent(instance, flow)
			flowId = flow.Id
			break
		}
	}
	target := engine.newNodeInstance(instance, gateway.ScopeKey, targetId, flowId)
	target.State = runtime.NodeActive
	node, ok := definition.FindNode(targetId)
	if !ok {
		return model.NewDefinitionError(definition.Id, targetId, "element does not exist")
	}
	engine.exportElementEvent(instance, node, target, exporter.ElementActivated)
	if err := engine.assignPayload(instance, definition, node, target, data); err != nil {
		return err
	}
	return engine.leave(ctx, instance, target)
}
