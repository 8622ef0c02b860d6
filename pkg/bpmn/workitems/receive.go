package workitems

import (
	"context"
	"sync"

	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// Receive parks work items of receive tasks until a message with the name of the task arrives.
type Receive struct {
	mu      sync.Mutex
	waiting map[string][]int64
	manager bpmn.WorkItemManager
}

var _ bpmn.WorkItemHandler = (*Receive)(nil)

// NewReceive creates the handler, manager completes the items once a message is delivered,
// pass the engine the handler is registered with.
func NewReceive(manager bpmn.WorkItemManager) *Receive {
	return &Receive{waiting: map[string][]int64{}, manager: manager}
}

func (r *Receive) Execute(ctx context.Context, item runtime.WorkItem, manager bpmn.WorkItemManager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := nameOf(item)
	r.waiting[name] = append(r.waiting[name], item.Key)
	return nil
}

func (r *Receive) Abort(ctx context.Context, item runtime.WorkItem, manager bpmn.WorkItemManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := nameOf(item)
	keys := r.waiting[name]
	for i, key := range keys {
		if key == item.Key {
			r.waiting[name] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
}

// MessageReceived completes the oldest work item waiting for the message, the payload becomes its results.
func (r *Receive) MessageReceived(ctx context.Context, name string, payload map[string]any) (bool, error) {
	r.mu.Lock()
	keys := r.waiting[name]
	if len(keys) == 0 {
		r.mu.Unlock()
		return false, nil
	}
	key := keys[0]
	r.waiting[name] = keys[1:]
	r.mu.Unlock()

	if err := r.manager.CompleteWorkItem(ctx, key, payload); err != nil {
		return false, err
	}
	return true, nil
}

func nameOf(item runtime.WorkItem) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ElementId
}
