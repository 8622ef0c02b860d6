package workitems

import (
	"context"
	"slices"
	"sync"

	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// Queue collects work items for a worker to pick up later, typically human tasks.
// Aborted items are removed from the queue.
type Queue struct {
	mu      sync.Mutex
	items   []runtime.WorkItem
	aborted []int64
	notify  chan struct{}
}

var _ bpmn.WorkItemHandler = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) Execute(ctx context.Context, item runtime.WorkItem, manager bpmn.WorkItemManager) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) Abort(ctx context.Context, item runtime.WorkItem, manager bpmn.WorkItemManager) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = slices.DeleteFunc(q.items, func(i runtime.WorkItem) bool { return i.Key == item.Key })
	q.aborted = append(q.aborted, item.Key)
}

// Items returns the queued work items in arrival order.
func (q *Queue) Items() []runtime.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Aborted returns the keys of the work items the engine aborted while they were queued.
func (q *Queue) Aborted() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.aborted)
}

// Poll removes and returns the oldest queued work item.
func (q *Queue) Poll() (runtime.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return runtime.WorkItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Next waits until a work item is queued or ctx is done.
func (q *Queue) Next(ctx context.Context) (runtime.WorkItem, error) {
	for {
		if item, ok := q.Poll(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return runtime.WorkItem{}, ctx.Err()
		case <-q.notify:
		}
	}
}
