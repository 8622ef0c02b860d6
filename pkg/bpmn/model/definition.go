package model

import (
	"slices"
	"sort"
)

// ProcessDefinition is the immutable graph shared by all instances of one process version.
// Finalize must be called before the definition is handed to an engine.
type ProcessDefinition struct {
	Id                  string
	Name                string
	Version             int32
	FlowNodes           []FlowNode
	SequenceFlows       []SequenceFlow
	Variables           []Variable
	AdHoc               bool
	CompletionCondition string
	AutoComplete        bool

	nodes         map[string]FlowNode
	containers    map[string]string
	flows         map[string]*SequenceFlow
	incoming      map[string][]*SequenceFlow
	outgoing      map[string][]*SequenceFlow
	boundaries    map[string][]*BoundaryEvent
	inclusiveJoin map[string]string
	finalized     bool
}

func (d *ProcessDefinition) GetId() string         { return d.Id }
func (d *ProcessDefinition) Nodes() []FlowNode     { return d.FlowNodes }
func (d *ProcessDefinition) Flows() []SequenceFlow { return d.SequenceFlows }

// Finalize validates the graph and builds the lookup indexes used at runtime.
func (d *ProcessDefinition) Finalize() error {
	d.nodes = map[string]FlowNode{}
	d.containers = map[string]string{}
	d.flows = map[string]*SequenceFlow{}
	d.incoming = map[string][]*SequenceFlow{}
	d.outgoing = map[string][]*SequenceFlow{}
	d.boundaries = map[string][]*BoundaryEvent{}
	d.inclusiveJoin = map[string]string{}

	if err := d.index(d, ""); err != nil {
		return err
	}
	for _, out := range d.outgoing {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Priority < out[j].Priority
		})
	}
	if err := d.validate(); err != nil {
		return err
	}
	d.pairInclusiveGateways()
	d.finalized = true
	return nil
}

func (d *ProcessDefinition) index(container Container, containerId string) error {
	for _, node := range container.Nodes() {
		if node.GetId() == "" {
			return newDefinitionErrorf(d.Id, "", "node without id in container %q", container.GetId())
		}
		if _, ok := d.nodes[node.GetId()]; ok {
			return newDefinitionErrorf(d.Id, node.GetId(), "duplicate node id")
		}
		d.nodes[node.GetId()] = node
		d.containers[node.GetId()] = containerId
		if boundary, ok := node.(*BoundaryEvent); ok {
			d.boundaries[boundary.AttachedTo] = append(d.boundaries[boundary.AttachedTo], boundary)
		}
		if sub, ok := node.(*SubProcess); ok {
			if err := d.index(sub, sub.Id); err != nil {
				return err
			}
		}
	}
	flows := container.Flows()
	for i := range flows {
		flow := &flows[i]
		if _, ok := d.flows[flow.Id]; ok || flow.Id == "" {
			return newDefinitionErrorf(d.Id, flow.Id, "sequence flow id missing or duplicate")
		}
		d.flows[flow.Id] = flow
		d.outgoing[flow.SourceRef] = append(d.outgoing[flow.SourceRef], flow)
		d.incoming[flow.TargetRef] = append(d.incoming[flow.TargetRef], flow)
	}
	return nil
}

// pairInclusiveGateways finds for every diverging inclusive gateway the converging one that merges its branches.
func (d *ProcessDefinition) pairInclusiveGateways() {
	for id, node := range d.nodes {
		gw, ok := node.(*Gateway)
		if !ok || gw.GatewayType != GatewayTypeInclusive || len(d.outgoing[id]) < 2 {
			continue
		}
		if gw.Join != "" {
			d.inclusiveJoin[id] = gw.Join
			continue
		}
		if join := d.findConvergingInclusive(id); join != "" {
			d.inclusiveJoin[id] = join
		}
	}
}

// findConvergingInclusive walks the branches of a split and counts the inclusive splits and joins
// passed on the way. The nearest join reached at depth zero closes the split, joins of nested
// splits are skipped.
func (d *ProcessDefinition) findConvergingInclusive(splitId string) string {
	type step struct {
		id    string
		depth int
	}
	visited := map[step]bool{}
	var queue []step
	for _, flow := range d.outgoing[splitId] {
		queue = append(queue, step{id: flow.TargetRef})
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] || current.depth > len(d.nodes) {
			continue
		}
		visited[current] = true
		depth := current.depth
		if gw, ok := d.nodes[current.id].(*Gateway); ok && gw.GatewayType == GatewayTypeInclusive {
			if len(d.incoming[current.id]) > 1 {
				if depth == 0 {
					return current.id
				}
				depth--
			}
			if len(d.outgoing[current.id]) > 1 {
				depth++
			}
		}
		for _, flow := range d.outgoing[current.id] {
			queue = append(queue, step{id: flow.TargetRef, depth: depth})
		}
	}
	return ""
}

func (d *ProcessDefinition) FindNode(id string) (FlowNode, bool) {
	node, ok := d.nodes[id]
	return node, ok
}

func (d *ProcessDefinition) FindFlow(id string) (*SequenceFlow, bool) {
	flow, ok := d.flows[id]
	return flow, ok
}

// ContainerOf returns the id of the sub process owning the node, or an empty string for process level nodes.
func (d *ProcessDefinition) ContainerOf(nodeId string) string {
	return d.containers[nodeId]
}

// Container returns the graph level with given id, the process itself for an empty id.
func (d *ProcessDefinition) Container(id string) Container {
	if id == "" {
		return d
	}
	if sub, ok := d.nodes[id].(*SubProcess); ok {
		return sub
	}
	return nil
}

// Outgoing returns the outgoing flows of a node ordered by priority and declaration order.
func (d *ProcessDefinition) Outgoing(nodeId string) []*SequenceFlow {
	return d.outgoing[nodeId]
}

func (d *ProcessDefinition) Incoming(nodeId string) []*SequenceFlow {
	return d.incoming[nodeId]
}

func (d *ProcessDefinition) BoundaryEvents(activityId string) []*BoundaryEvent {
	return d.boundaries[activityId]
}

// InclusiveJoin returns the converging inclusive gateway paired with the diverging one.
func (d *ProcessDefinition) InclusiveJoin(splitId string) (string, bool) {
	join, ok := d.inclusiveJoin[splitId]
	return join, ok
}

func (d *ProcessDefinition) IsJoin(node FlowNode) bool {
	gw, ok := node.(*Gateway)
	if !ok || len(d.incoming[gw.Id]) < 2 {
		return false
	}
	return gw.GatewayType == GatewayTypeParallel || gw.GatewayType == GatewayTypeInclusive
}

// StartEvents returns the start events of the given container.
func (d *ProcessDefinition) StartEvents(container Container) []*StartEvent {
	var result []*StartEvent
	for _, node := range container.Nodes() {
		if start, ok := node.(*StartEvent); ok {
			result = append(result, start)
		}
	}
	return result
}

// AdHocChildren returns nodes of an ad-hoc container that are activated by name instead of by a flow.
func (d *ProcessDefinition) AdHocChildren(container Container) []FlowNode {
	var result []FlowNode
	for _, node := range container.Nodes() {
		if len(d.incoming[node.GetId()]) > 0 {
			continue
		}
		switch n := node.(type) {
		case *BoundaryEvent, *StartEvent:
			continue
		case Activity:
			if n.ForCompensation() {
				continue
			}
		}
		result = append(result, node)
	}
	return result
}

// LinkTarget finds the link catch event with given name in the container of the throwing node.
func (d *ProcessDefinition) LinkTarget(throwId string, name string) (*IntermediateCatchEvent, bool) {
	container := d.Container(d.ContainerOf(throwId))
	if container == nil {
		return nil, false
	}
	for _, node := range container.Nodes() {
		if catch, ok := node.(*IntermediateCatchEvent); ok && catch.Event.Trigger == TriggerLink && catch.Event.Ref == name {
			return catch, true
		}
	}
	return nil, false
}

// DeclaredVariable returns the declaration of a variable in the container or any enclosing one.
func (d *ProcessDefinition) DeclaredVariable(containerId string, name string) (Variable, bool) {
	for {
		var declarations []Variable
		if containerId == "" {
			declarations = d.Variables
		} else if sub, ok := d.nodes[containerId].(*SubProcess); ok {
			declarations = sub.Variables
		}
		idx := slices.IndexFunc(declarations, func(v Variable) bool { return v.Name == name })
		if idx >= 0 {
			return declarations[idx], true
		}
		if containerId == "" {
			return Variable{}, false
		}
		containerId = d.containers[containerId]
	}
}

// EventStartEvents returns the process level start events triggered by a signal, message, timer or condition.
func (d *ProcessDefinition) EventStartEvents() []*StartEvent {
	var result []*StartEvent
	for _, start := range d.StartEvents(d) {
		if start.Event.Trigger != TriggerNone {
			result = append(result, start)
		}
	}
	return result
}

// CanReach reports whether a token at from may arrive at to following sequence flows and
// the flows leaving boundary events, within the container of from.
func (d *ProcessDefinition) CanReach(from string, to string) bool {
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		next := make([]string, 0, len(d.outgoing[id]))
		for _, flow := range d.outgoing[id] {
			next = append(next, flow.TargetRef)
		}
		for _, boundary := range d.boundaries[id] {
			next = append(next, boundary.Id)
		}
		for _, target := range next {
			if target == to {
				return true
			}
			if !visited[target] {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}
	return false
}
