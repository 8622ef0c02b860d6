package runtime

import (
	"maps"
	"slices"
	"time"
)

type ProcessInstanceState string

const (
	ProcessInstanceActive    ProcessInstanceState = "ACTIVE"
	ProcessInstanceCompleted ProcessInstanceState = "COMPLETED"
	ProcessInstanceAborted   ProcessInstanceState = "ABORTED"
)

type NodeState string

const (
	NodeReady     NodeState = "READY"
	NodeActive    NodeState = "ACTIVE"
	NodeSuspended NodeState = "SUSPENDED"
	NodeCompleted NodeState = "COMPLETED"
	NodeAborted   NodeState = "ABORTED"
)

type ProcessInstance struct {
	Key                   int64                `json:"key"`
	DefinitionId          string               `json:"definitionId"`
	DefinitionVersion     int32                `json:"definitionVersion"`
	State                 ProcessInstanceState `json:"state"`
	Suspended             bool                 `json:"suspended,omitempty"`
	Variables             map[string]any       `json:"variables"`
	NodeInstances         []*NodeInstance      `json:"nodeInstances,omitempty"`
	ParentInstanceKey     int64                `json:"parentInstanceKey,omitempty"`
	ParentNodeInstanceKey int64                `json:"parentNodeInstanceKey,omitempty"`
	EndReached            bool                 `json:"endReached,omitempty"`
	CompletedActivities   []CompletedActivity  `json:"completedActivities,omitempty"`
	Incidents             []Incident           `json:"incidents,omitempty"`
	CreatedAt             time.Time            `json:"createdAt"`
	EndedAt               time.Time            `json:"endedAt,omitzero"`
}

func (pi *ProcessInstance) IsTerminal() bool {
	return pi.State == ProcessInstanceCompleted || pi.State == ProcessInstanceAborted
}

func (pi *ProcessInstance) GetVariable(name string) any {
	return pi.Variables[name]
}

// FindNodeInstance returns the live node instance with given key.
func (pi *ProcessInstance) FindNodeInstance(key int64) *NodeInstance {
	for _, ni := range pi.NodeInstances {
		if ni.Key == key {
			return ni
		}
	}
	return nil
}

// NodeInstancesIn returns the live node instances directly inside the scope.
func (pi *ProcessInstance) NodeInstancesIn(scopeKey int64) []*NodeInstance {
	var result []*NodeInstance
	for _, ni := range pi.NodeInstances {
		if ni.ScopeKey == scopeKey {
			result = append(result, ni)
		}
	}
	return result
}

// FindNodeInstancesByElementId returns the live node instances positioned on the element.
func (pi *ProcessInstance) FindNodeInstancesByElementId(elementId string) []*NodeInstance {
	var result []*NodeInstance
	for _, ni := range pi.NodeInstances {
		if ni.ElementId == elementId {
			result = append(result, ni)
		}
	}
	return result
}

func (pi *ProcessInstance) AddNodeInstance(ni *NodeInstance) {
	pi.NodeInstances = append(pi.NodeInstances, ni)
}

// RemoveNodeInstance drops a node instance that reached a terminal state from the live set.
func (pi *ProcessInstance) RemoveNodeInstance(key int64) {
	pi.NodeInstances = slices.DeleteFunc(pi.NodeInstances, func(ni *NodeInstance) bool {
		return ni.Key == key
	})
}

// Clone returns a copy detached from the engine owned instance.
// Variable values themselves are shared.
func (pi *ProcessInstance) Clone() *ProcessInstance {
	cp := *pi
	cp.Variables = maps.Clone(pi.Variables)
	cp.NodeInstances = make([]*NodeInstance, 0, len(pi.NodeInstances))
	for _, ni := range pi.NodeInstances {
		cp.NodeInstances = append(cp.NodeInstances, ni.Clone())
	}
	cp.CompletedActivities = slices.Clone(pi.CompletedActivities)
	cp.Incidents = slices.Clone(pi.Incidents)
	return &cp
}

type NodeInstance struct {
	Key       int64          `json:"key"`
	ElementId string         `json:"elementId"`
	ScopeKey  int64          `json:"scopeKey,omitempty"`
	State     NodeState      `json:"state"`
	Variables map[string]any `json:"variables,omitempty"`
	// IncomingFlow is the flow the token arrived through
	IncomingFlow      string              `json:"incomingFlow,omitempty"`
	WorkItemKey       int64               `json:"workItemKey,omitempty"`
	TimerKeys         []int64             `json:"timerKeys,omitempty"`
	CalledInstanceKey int64               `json:"calledInstanceKey,omitempty"`
	Join              *JoinState          `json:"join,omitempty"`
	MultiInstance     *MultiInstanceState `json:"multiInstance,omitempty"`
	// LoopIndex is the position of a multi-instance child in the input collection, starting with 1
	LoopIndex    int                `json:"loopIndex,omitempty"`
	Compensation *CompensationState `json:"compensation,omitempty"`
	HeldTimers   []int64            `json:"heldTimers,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

func (ni *NodeInstance) Clone() *NodeInstance {
	cp := *ni
	cp.Variables = maps.Clone(ni.Variables)
	cp.TimerKeys = slices.Clone(ni.TimerKeys)
	cp.HeldTimers = slices.Clone(ni.HeldTimers)
	if ni.Join != nil {
		cp.Join = &JoinState{Arrived: maps.Clone(ni.Join.Arrived), Expected: ni.Join.Expected}
	}
	if ni.MultiInstance != nil {
		mi := *ni.MultiInstance
		mi.Items = slices.Clone(ni.MultiInstance.Items)
		mi.Outputs = slices.Clone(ni.MultiInstance.Outputs)
		cp.MultiInstance = &mi
	}
	if ni.Compensation != nil {
		cp.Compensation = &CompensationState{Waiting: slices.Clone(ni.Compensation.Waiting)}
	}
	return &cp
}

func (ni *NodeInstance) IsMultiInstanceChild() bool {
	return ni.LoopIndex > 0
}

func (ni *NodeInstance) IsLive() bool {
	return ni.State == NodeReady || ni.State == NodeActive || ni.State == NodeSuspended
}

type JoinState struct {
	// Arrived counts the tokens waiting on each incoming flow
	Arrived map[string]int `json:"arrived"`
	// Expected is the number of branches a paired inclusive split activated
	Expected int `json:"expected,omitempty"`
}

func (j *JoinState) Total() int {
	total := 0
	for _, count := range j.Arrived {
		total += count
	}
	return total
}

type MultiInstanceState struct {
	Items     []any `json:"items"`
	Next      int   `json:"next"`
	Completed int   `json:"completed"`
	Active    int   `json:"active"`
	Outputs   []any `json:"outputs,omitempty"`
}

type CompensationState struct {
	// Waiting holds the node instance keys of the compensation handlers still running
	Waiting []int64 `json:"waiting"`
}

// CompletedActivity is logged when an activity with a compensation handler completes.
type CompletedActivity struct {
	ElementId  string         `json:"elementId"`
	ScopeKey   int64          `json:"scopeKey,omitempty"`
	ScopeChain []int64        `json:"scopeChain,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}

type Incident struct {
	Key         int64     `json:"key"`
	ElementId   string    `json:"elementId,omitempty"`
	Message     string    `json:"message"`
	Code        string    `json:"code,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	InstanceKey int64     `json:"instanceKey"`
}

type WorkItemState string

const (
	WorkItemActive    WorkItemState = "ACTIVE"
	WorkItemCompleted WorkItemState = "COMPLETED"
	WorkItemAborted   WorkItemState = "ABORTED"
)

type WorkItem struct {
	Key                int64          `json:"key"`
	ProcessInstanceKey int64          `json:"processInstanceKey"`
	NodeInstanceKey    int64          `json:"nodeInstanceKey"`
	ElementId          string         `json:"elementId"`
	Name               string         `json:"name,omitempty"`
	Type               string         `json:"type"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	State              WorkItemState  `json:"state"`
	Results            map[string]any `json:"results,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
}

type TimerState string

const (
	TimerScheduled TimerState = "SCHEDULED"
	TimerFired     TimerState = "FIRED"
	TimerCanceled  TimerState = "CANCELED"
)

type TimerInstance struct {
	Key                int64  `json:"key"`
	ProcessInstanceKey int64  `json:"processInstanceKey,omitempty"`
	NodeInstanceKey    int64  `json:"nodeInstanceKey,omitempty"`
	DefinitionId       string `json:"definitionId,omitempty"`
	ElementId          string `json:"elementId"`
	// Kind is one of duration, cycle, cron or date
	Kind             string     `json:"kind"`
	Expression       string     `json:"expression"`
	BusinessCalendar bool       `json:"businessCalendar,omitempty"`
	FireCount        int        `json:"fireCount"`
	NextFireAt       time.Time  `json:"nextFireAt"`
	State            TimerState `json:"state"`
	CreatedAt        time.Time  `json:"createdAt"`
}
