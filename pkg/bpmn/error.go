// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"fmt"
)

var (
	ErrProcessInstanceNotFound = errors.New("process instance not found")
	ErrWorkItemNotFound        = errors.New("work item not found")
	ErrNodeInstanceSuspended   = errors.New("node instance is suspended")
	ErrEngineDisposed          = errors.New("engine is disposed")
)

type BpmnEngineError struct {
	Msg string
}

func (e *BpmnEngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &BpmnEngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

type ExpressionEvaluationError struct {
	Msg string
	Err error
}

func (e *ExpressionEvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + "\nerror: " + e.Err.Error()
	}
	return e.Msg
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}

// RuntimeError is a failure that stopped a process instance.
type RuntimeError struct {
	ProcessInstanceKey int64
	ElementId          string
	Code               string
	Err                error
}

func (e *RuntimeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("process instance %d failed in %s with code %s: %s", e.ProcessInstanceKey, e.ElementId, e.Code, e.Err)
	}
	return fmt.Sprintf("process instance %d failed in %s: %s", e.ProcessInstanceKey, e.ElementId, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

type WorkItemHandlerMissingError struct {
	WorkItemType string
}

func (e *WorkItemHandlerMissingError) Error() string {
	return fmt.Sprintf("no work item handler registered for type %q", e.WorkItemType)
}
