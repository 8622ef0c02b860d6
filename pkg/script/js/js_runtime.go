package js

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/dop251/goja"
	"github.com/pbinitiative/zenflow/pkg/script"
)

// scripts run inside a with block over the variables so they can be referenced by name,
// direct eval keeps the completion value of the last statement
const wrapperSource = `(function(execution, vars, source) { with (vars) { return eval(source); } })`

type JsRunnerFactory struct {
}

func (JsRunnerFactory) NewRunner() script.Runner {
	return newJsRunner()
}

type JsRuntime struct {
	pool    *script.RunnerPool
	timeout time.Duration
}

var _ script.JsRuntime = (*JsRuntime)(nil)

// NewJsRuntime creates a pooled JavaScript runtime, scripts running longer than timeout are interrupted.
// A zero timeout disables interruption.
func NewJsRuntime(ctx context.Context, maxVmPoolSize int, minVmPoolSize int, timeout time.Duration) *JsRuntime {
	return &JsRuntime{
		pool:    script.NewRunnerPool(ctx, JsRunnerFactory{}, maxVmPoolSize, minVmPoolSize),
		timeout: timeout,
	}
}

func (r *JsRuntime) RunScript(source string, variableContext map[string]any) (script.Result, error) {
	var runner = r.pool.GetRunnerFromPool()
	defer r.pool.ReturnRunnerToPool(runner)

	return runner.(*JsRunner).runScript(source, variableContext, r.timeout)
}

type JsRunner struct {
	vm  *goja.Runtime
	run goja.Callable
}

func (r *JsRunner) Runner() {}

func newJsRunner() *JsRunner {
	vm := goja.New()
	wrapper, err := vm.RunString(wrapperSource)
	if err != nil {
		panic(err)
	}
	run, ok := goja.AssertFunction(wrapper)
	if !ok {
		panic("script wrapper is not a function")
	}
	return &JsRunner{vm: vm, run: run}
}

func (r *JsRunner) runScript(source string, variableContext map[string]any, timeout time.Duration) (script.Result, error) {
	result := script.Result{Variables: map[string]any{}}
	vars := maps.Clone(variableContext)
	if vars == nil {
		vars = map[string]any{}
	}
	var thrown *script.ThrownError

	execution := r.vm.NewObject()
	_ = execution.Set("getVariable", func(name string) any {
		return vars[name]
	})
	_ = execution.Set("setVariable", func(name string, value any) {
		vars[name] = value
		result.Variables[name] = value
	})
	_ = execution.Set("throwError", func(call goja.FunctionCall) goja.Value {
		thrown = &script.ThrownError{Code: call.Argument(0).String()}
		if msg := call.Argument(1); !goja.IsUndefined(msg) {
			thrown.Message = msg.String()
		}
		panic(r.vm.NewGoError(thrown))
	})

	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			r.vm.Interrupt("script timeout")
		})
		defer func() {
			timer.Stop()
			r.vm.ClearInterrupt()
		}()
	}

	value, err := r.run(goja.Undefined(), execution, r.vm.ToValue(vars), r.vm.ToValue(source))
	if thrown != nil {
		return result, thrown
	}
	if err != nil {
		return result, fmt.Errorf("error running script %q: %w", source, err)
	}
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		result.Value = value.Export()
	}
	return result, nil
}
