package bpmn

import (
	"context"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/rules"
)

// RuleEvaluator is the fact store rule tasks and conditional events work against.
// A rule task activates its rule group and waits until FireAllRules reports the group satisfied.
type RuleEvaluator interface {
	Insert(name string, value any)
	Update(name string, value any) error
	Retract(name string)
	Facts() map[string]any
	ActivateGroup(group string, activationKey int64)
	DeactivateGroup(activationKey int64)
	Activations() []rules.Activation
	Restore(activations []rules.Activation)
	// FireAllRules returns the activation keys of the satisfied groups
	FireAllRules() ([]int64, error)
}

var _ RuleEvaluator = (*rules.Agenda)(nil)

// InsertFact adds or replaces a fact, conditional events are re-evaluated afterwards.
func (engine *Engine) InsertFact(ctx context.Context, name string, value any) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		engine.rules.Insert(name, value)
		return nil
	})
}

func (engine *Engine) UpdateFact(ctx context.Context, name string, value any) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		return engine.rules.Update(name, value)
	})
}

func (engine *Engine) RetractFact(ctx context.Context, name string) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		engine.rules.Retract(name)
		return nil
	})
}

func (engine *Engine) Facts() map[string]any {
	return engine.rules.Facts()
}

// FireAllRules fires the rules of the evaluator and completes the rule tasks whose group got satisfied.
// It returns the number of rule tasks completed.
func (engine *Engine) FireAllRules(ctx context.Context) (int, error) {
	completed := 0
	err := engine.exec(ctx, func(ctx context.Context) error {
		keys, err := engine.rules.FireAllRules()
		if err != nil {
			return err
		}
		for _, key := range keys {
			instance, ni := engine.findNodeInstance(key)
			if ni == nil {
				continue
			}
			if instance.Suspended {
				engine.reactivateRuleGroup(instance, ni)
				continue
			}
			if ni.State != runtime.NodeActive {
				continue
			}
			if err := engine.leave(ctx, instance, ni); err != nil {
				engine.fail(ctx, instance, ni.ElementId, err)
				continue
			}
			completed++
		}
		return nil
	})
	return completed, err
}

// reactivateRuleGroup puts the activation of a suspended rule task back so a later firing completes it.
func (engine *Engine) reactivateRuleGroup(instance *runtime.ProcessInstance, ni *runtime.NodeInstance) {
	definition, err := engine.definitionOf(instance)
	if err != nil {
		return
	}
	node, _ := definition.FindNode(ni.ElementId)
	if task, ok := node.(*model.Task); ok {
		engine.rules.ActivateGroup(task.RuleGroup, ni.Key)
	}
}
