package bpmn

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/correlation"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/bpmn/timer"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// maxTimerFires bounds a single FireDueTimers call, a cycle with a zero period would never end otherwise.
const maxTimerFires = 10_000

// FireDueTimers fires every timer that is due against the engine clock, earliest first,
// and returns how many were fired.
func (engine *Engine) FireDueTimers(ctx context.Context) (int, error) {
	fired := 0
	err := engine.exec(ctx, func(ctx context.Context) error {
		for fired < maxTimerFires {
			due := engine.timers.Due(engine.clock.Now())
			if len(due) == 0 {
				return nil
			}
			for _, t := range due {
				if engine.fireTimer(ctx, t.Key) {
					fired++
				}
			}
		}
		engine.logger.Warn("timer firing stopped early", "fired", fired)
		return nil
	})
	return fired, err
}

// AdvanceClock moves the pseudo clock of the engine and fires the timers that became due.
func (engine *Engine) AdvanceClock(ctx context.Context, d time.Duration) (int, error) {
	clock, ok := engine.clock.(*timer.PseudoClock)
	if !ok {
		return 0, newEngineErrorf("engine %s does not run on a pseudo clock", engine.name)
	}
	clock.Advance(d)
	return engine.FireDueTimers(ctx)
}

// fireTimer records the firing and delivers it. Firings for a suspended instance are held
// by the owning node instance until the instance is resumed.
func (engine *Engine) fireTimer(ctx context.Context, timerKey int64) bool {
	t, ok := engine.timers.Fired(timerKey)
	if !ok {
		return false
	}
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("timer:%d", t.Key), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeTimerKey, t.Key),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, t.ProcessInstanceKey),
		attribute.String(otelPkg.AttributeElementId, t.ElementId),
	))
	defer span.End()
	engine.metrics.TimersFired.Add(ctx, 1, metric.WithAttributes(attribute.String(otelPkg.AttributeProcessId, t.DefinitionId)))

	if instance, ok := engine.instances[t.ProcessInstanceKey]; ok && instance.Suspended {
		if owner := instance.FindNodeInstance(t.NodeInstanceKey); owner != nil {
			owner.HeldTimers = append(owner.HeldTimers, t.Key)
			engine.touch(instance)
			return true
		}
	}
	engine.deliverTimer(ctx, t.Key, t.ProcessInstanceKey, t.State == runtime.TimerFired)
	return true
}

func (engine *Engine) deliverTimer(ctx context.Context, timerKey int64, processInstanceKey int64, last bool) {
	scope := correlation.Global()
	if processInstanceKey != 0 {
		scope = correlation.ForProcessInstances(processInstanceKey)
	}
	key := model.TimerEventKey(timerKey)
	engine.bus.Fire(key, scope, correlation.Payload{}, engine.deliverFunc(ctx))
	if last {
		engine.bus.UnregisterKey(key)
	}
	engine.drain(ctx)
}

// replayHeldTimers delivers the firings a node instance missed while its instance was suspended.
func (engine *Engine) replayHeldTimers(ctx context.Context, instance *runtime.ProcessInstance) {
	for _, ni := range slices.Clone(instance.NodeInstances) {
		if len(ni.HeldTimers) == 0 {
			continue
		}
		held := ni.HeldTimers
		ni.HeldTimers = nil
		for _, timerKey := range held {
			_, scheduled := engine.timers.Get(timerKey)
			engine.deliverTimer(ctx, timerKey, instance.Key, !scheduled)
		}
	}
}
