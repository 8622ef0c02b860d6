// Package workitems holds ready made work item handlers for the engine.
package workitems

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// Error is returned by service functions to throw a BPMN error with Code from the task
// instead of failing the process instance.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("work item failed with code %s", e.Code)
	}
	return fmt.Sprintf("work item failed with code %s: %s", e.Code, e.Message)
}

// NewError creates an Error with given code.
func NewError(code string, format string, a ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Logging completes every work item right away after logging it.
type Logging struct {
	logger hclog.Logger
}

var _ bpmn.WorkItemHandler = (*Logging)(nil)

func NewLogging(logger hclog.Logger) *Logging {
	if logger == nil {
		logger = hclog.Default()
	}
	return &Logging{logger: logger.Named("work-items")}
}

func (h *Logging) Execute(ctx context.Context, item runtime.WorkItem, manager bpmn.WorkItemManager) error {
	h.logger.Info("work item executed", "key", item.Key, "type", item.Type, "element", item.ElementId, "parameters", item.Parameters)
	return manager.CompleteWorkItem(ctx, item.Key, nil)
}

func (h *Logging) Abort(ctx context.Context, item runtime.WorkItem, manager bpmn.WorkItemManager) {
	h.logger.Info("work item aborted", "key", item.Key, "type", item.Type, "element", item.ElementId)
}

// DoNothing leaves work items open, they are completed through the engine by someone else.
type DoNothing struct{}

var _ bpmn.WorkItemHandler = DoNothing{}

func (DoNothing) Execute(context.Context, runtime.WorkItem, bpmn.WorkItemManager) error {
	return nil
}

func (DoNothing) Abort(context.Context, runtime.WorkItem, bpmn.WorkItemManager) {}

// ServiceFunc computes the results of a work item from its parameters.
type ServiceFunc func(ctx context.Context, parameters map[string]any) (map[string]any, error)

// Service runs a function synchronously and completes the work item with its results.
// An *Error returned by the function fails the work item with its code, any other error
// fails the process instance.
func Service(fn ServiceFunc) bpmn.WorkItemHandler {
	return bpmn.WorkItemHandlerFunc(func(ctx context.Context, item runtime.WorkItem, manager bpmn.WorkItemManager) error {
		results, err := fn(ctx, maps.Clone(item.Parameters))
		var bpmnErr *Error
		if errors.As(err, &bpmnErr) {
			return manager.FailWorkItem(ctx, item.Key, bpmnErr.Code, bpmnErr.Message)
		}
		if err != nil {
			return err
		}
		return manager.CompleteWorkItem(ctx, item.Key, results)
	})
}
