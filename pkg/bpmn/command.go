package bpmn

import (
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// command is one unit of the traversal work-list, commands run in FIFO order until the list is empty.
type command interface {
}

// ---------------------------------------------------------------------

// enterCommand moves a token along flowId into elementId, creating or joining a node instance.
type enterCommand struct {
	instance  *runtime.ProcessInstance
	scopeKey  int64
	elementId string
	flowId    string
}

// ---------------------------------------------------------------------

// activateCommand runs the behavior of a node instance created ahead of time.
type activateCommand struct {
	instance     *runtime.ProcessInstance
	nodeInstance *runtime.NodeInstance
}

// ---------------------------------------------------------------------

// checkScopeCommand completes a scope once it has no live node instances left.
type checkScopeCommand struct {
	instance *runtime.ProcessInstance
	scopeKey int64
}

// ---------------------------------------------------------------------

type completeWorkItemCommand struct {
	workItemKey int64
	results     map[string]any
}

// ---------------------------------------------------------------------

type abortWorkItemCommand struct {
	workItemKey int64
}

// ---------------------------------------------------------------------

type failWorkItemCommand struct {
	workItemKey int64
	errorCode   string
	message     string
}

// ---------------------------------------------------------------------

// childEndedCommand resumes the call activity waiting for a called instance.
type childEndedCommand struct {
	child *runtime.ProcessInstance
}

// ---------------------------------------------------------------------

// compensationDoneCommand continues a compensation throw event once all its handlers finished.
type compensationDoneCommand struct {
	instance     *runtime.ProcessInstance
	nodeInstance *runtime.NodeInstance
}
