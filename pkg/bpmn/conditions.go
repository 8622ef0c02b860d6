package bpmn

import (
	"context"
	"maps"

	"github.com/pbinitiative/zenflow/pkg/bpmn/correlation"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
)

const maxConditionRounds = 100

// evaluateConditions fires conditional events whose condition turned true since the last evaluation.
// Deliveries change variables, so evaluation repeats until a round delivers nothing.
func (engine *Engine) evaluateConditions(ctx context.Context) {
	engine.pruneConditionState()
	for round := 0; round < maxConditionRounds; round++ {
		delivered := engine.bus.Fire(model.ConditionEventKey, correlation.Global(), correlation.Payload{
			Filter: engine.conditionBecameTrue,
		}, engine.deliverFunc(ctx))
		engine.drain(ctx)
		if !delivered {
			return
		}
	}
	engine.logger.Warn("conditional events did not settle", "rounds", maxConditionRounds)
}

// conditionBecameTrue evaluates the condition of a registration and remembers the result.
// Start registrations see the facts only, instance registrations see the facts overridden by their variables.
func (engine *Engine) conditionBecameTrue(reg correlation.Registration) bool {
	variables := engine.rules.Facts()
	if reg.ProcessInstanceKey != 0 {
		instance, ok := engine.instances[reg.ProcessInstanceKey]
		if !ok || instance.IsTerminal() || instance.Suspended {
			return false
		}
		scoped := scopeHolder(instance, reg.ScopeKey).Variables()
		if owner := instance.FindNodeInstance(reg.NodeInstanceKey); owner != nil {
			scoped = holderOf(instance, owner).Variables()
		}
		variables = maps.Clone(variables)
		maps.Copy(variables, scoped)
	}
	holds, err := engine.evaluateCondition(reg.Condition, variables)
	if err != nil {
		engine.logger.Debug("condition not evaluable", "element", reg.ElementId, "err", err)
		holds = false
	}
	previous := engine.condState[reg.Seq]
	engine.condState[reg.Seq] = holds
	return holds && !previous
}

func (engine *Engine) pruneConditionState() {
	if len(engine.condState) == 0 {
		return
	}
	live := map[uint64]bool{}
	for _, reg := range engine.bus.Registrations(model.ConditionEventKey) {
		live[reg.Seq] = true
	}
	for seq := range engine.condState {
		if !live[seq] {
			delete(engine.condState, seq)
		}
	}
}
