package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type processDocument struct {
	Id                  string         `yaml:"id"`
	Name                string         `yaml:"name,omitempty"`
	Version             int32          `yaml:"version,omitempty"`
	AdHoc               bool           `yaml:"adHoc,omitempty"`
	CompletionCondition string         `yaml:"completionCondition,omitempty"`
	AutoComplete        bool           `yaml:"autoComplete,omitempty"`
	Variables           []Variable     `yaml:"variables,omitempty"`
	Nodes               []nodeDocument `yaml:"nodes"`
	Flows               []SequenceFlow `yaml:"flows,omitempty"`
}

type nodeDocument struct {
	Id                  string           `yaml:"id"`
	Name                string           `yaml:"name,omitempty"`
	Type                string           `yaml:"type"`
	Event               *EventDefinition `yaml:"event,omitempty"`
	Terminate           bool             `yaml:"terminate,omitempty"`
	TerminateScope      TerminateScope   `yaml:"terminateScope,omitempty"`
	WorkItem            string           `yaml:"workItem,omitempty"`
	Script              string           `yaml:"script,omitempty"`
	Language            string           `yaml:"language,omitempty"`
	ResultVariable      string           `yaml:"resultVariable,omitempty"`
	RuleGroup           string           `yaml:"ruleGroup,omitempty"`
	Message             string           `yaml:"message,omitempty"`
	Inputs              []Mapping        `yaml:"inputs,omitempty"`
	Outputs             []Mapping        `yaml:"outputs,omitempty"`
	MultiInstance       *MultiInstance   `yaml:"multiInstance,omitempty"`
	IsForCompensation   bool             `yaml:"isForCompensation,omitempty"`
	Default             string           `yaml:"default,omitempty"`
	Join                string           `yaml:"join,omitempty"`
	CalledElement       string           `yaml:"calledElement,omitempty"`
	CompletionCondition string           `yaml:"completionCondition,omitempty"`
	AutoComplete        bool             `yaml:"autoComplete,omitempty"`
	AttachedTo          string           `yaml:"attachedTo,omitempty"`
	CancelActivity      *bool            `yaml:"cancelActivity,omitempty"`
	Handler             string           `yaml:"handler,omitempty"`
	Variables           []Variable       `yaml:"variables,omitempty"`
	Nodes               []nodeDocument   `yaml:"nodes,omitempty"`
	Flows               []SequenceFlow   `yaml:"flows,omitempty"`
}

var taskTypes = map[string]TaskType{
	"task":             TaskTypeNone,
	"userTask":         TaskTypeHuman,
	"serviceTask":      TaskTypeService,
	"sendTask":         TaskTypeSend,
	"receiveTask":      TaskTypeReceive,
	"businessRuleTask": TaskTypeRule,
	"scriptTask":       TaskTypeScript,
	"manualTask":       TaskTypeManual,
}

var gatewayTypes = map[string]GatewayType{
	"exclusiveGateway":  GatewayTypeExclusive,
	"inclusiveGateway":  GatewayTypeInclusive,
	"parallelGateway":   GatewayTypeParallel,
	"eventBasedGateway": GatewayTypeEventBased,
}

var subProcessTypes = map[string]SubProcessType{
	"subProcess":      SubProcessTypeEmbedded,
	"adHocSubProcess": SubProcessTypeAdHoc,
	"callActivity":    SubProcessTypeCallActivity,
}

// LoadFromFile reads and finalizes a process definition stored as YAML.
func LoadFromFile(filename string) (*ProcessDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read process definition %s: %w", filename, err)
	}
	return Parse(data)
}

// Parse decodes a YAML process definition and finalizes it.
func Parse(data []byte) (*ProcessDefinition, error) {
	var doc processDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal process definition: %w", err)
	}
	definition := &ProcessDefinition{
		Id:                  doc.Id,
		Name:                doc.Name,
		Version:             doc.Version,
		AdHoc:               doc.AdHoc,
		CompletionCondition: doc.CompletionCondition,
		AutoComplete:        doc.AutoComplete,
		Variables:           doc.Variables,
		SequenceFlows:       doc.Flows,
	}
	nodes, err := decodeNodes(doc.Id, doc.Nodes)
	if err != nil {
		return nil, err
	}
	definition.FlowNodes = nodes
	if err := definition.Finalize(); err != nil {
		return nil, err
	}
	return definition, nil
}

func decodeNodes(definitionId string, docs []nodeDocument) ([]FlowNode, error) {
	nodes := make([]FlowNode, 0, len(docs))
	for _, doc := range docs {
		node, err := decodeNode(definitionId, doc)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func decodeNode(definitionId string, doc nodeDocument) (FlowNode, error) {
	event := EventDefinition{}
	if doc.Event != nil {
		event = *doc.Event
	}
	if taskType, ok := taskTypes[doc.Type]; ok {
		return &Task{
			Id:                doc.Id,
			Name:              doc.Name,
			TaskType:          taskType,
			WorkItemType:      doc.WorkItem,
			Script:            doc.Script,
			ScriptLanguage:    doc.Language,
			ResultVariable:    doc.ResultVariable,
			RuleGroup:         doc.RuleGroup,
			MessageRef:        doc.Message,
			Inputs:            doc.Inputs,
			Outputs:           doc.Outputs,
			MultiInstance:     doc.MultiInstance,
			IsForCompensation: doc.IsForCompensation,
		}, nil
	}
	if gatewayType, ok := gatewayTypes[doc.Type]; ok {
		return &Gateway{
			Id:          doc.Id,
			Name:        doc.Name,
			GatewayType: gatewayType,
			Default:     doc.Default,
			Join:        doc.Join,
		}, nil
	}
	if subProcessType, ok := subProcessTypes[doc.Type]; ok {
		children, err := decodeNodes(definitionId, doc.Nodes)
		if err != nil {
			return nil, err
		}
		return &SubProcess{
			Id:                  doc.Id,
			Name:                doc.Name,
			SubProcessType:      subProcessType,
			FlowNodes:           children,
			SequenceFlows:       doc.Flows,
			Variables:           doc.Variables,
			CalledElement:       doc.CalledElement,
			Inputs:              doc.Inputs,
			Outputs:             doc.Outputs,
			MultiInstance:       doc.MultiInstance,
			CompletionCondition: doc.CompletionCondition,
			AutoComplete:        doc.AutoComplete,
			IsForCompensation:   doc.IsForCompensation,
		}, nil
	}
	switch doc.Type {
	case "startEvent":
		return &StartEvent{Id: doc.Id, Name: doc.Name, Event: event}, nil
	case "endEvent":
		return &EndEvent{Id: doc.Id, Name: doc.Name, Terminate: doc.Terminate, TerminateScope: doc.TerminateScope, Event: event}, nil
	case "intermediateCatchEvent":
		return &IntermediateCatchEvent{Id: doc.Id, Name: doc.Name, Event: event}, nil
	case "intermediateThrowEvent":
		return &IntermediateThrowEvent{Id: doc.Id, Name: doc.Name, Event: event}, nil
	case "boundaryEvent":
		cancelActivity := true
		if doc.CancelActivity != nil {
			cancelActivity = *doc.CancelActivity
		}
		return &BoundaryEvent{
			Id:                  doc.Id,
			Name:                doc.Name,
			AttachedTo:          doc.AttachedTo,
			CancelActivity:      cancelActivity,
			Event:               event,
			CompensationHandler: doc.Handler,
		}, nil
	}
	return nil, newDefinitionErrorf(definitionId, doc.Id, "unknown node type %q", doc.Type)
}

// Marshal encodes a process definition into the YAML format read by Parse.
func Marshal(definition *ProcessDefinition) ([]byte, error) {
	doc := processDocument{
		Id:                  definition.Id,
		Name:                definition.Name,
		Version:             definition.Version,
		AdHoc:               definition.AdHoc,
		CompletionCondition: definition.CompletionCondition,
		AutoComplete:        definition.AutoComplete,
		Variables:           definition.Variables,
		Nodes:               encodeNodes(definition.FlowNodes),
		Flows:               definition.SequenceFlows,
	}
	return yaml.Marshal(doc)
}

func encodeNodes(nodes []FlowNode) []nodeDocument {
	docs := make([]nodeDocument, 0, len(nodes))
	for _, node := range nodes {
		docs = append(docs, encodeNode(node))
	}
	return docs
}

func encodeNode(node FlowNode) nodeDocument {
	doc := nodeDocument{Id: node.GetId(), Name: node.GetName()}
	eventPtr := func(event EventDefinition) *EventDefinition {
		if event == (EventDefinition{}) {
			return nil
		}
		return &event
	}
	switch n := node.(type) {
	case *StartEvent:
		doc.Type = "startEvent"
		doc.Event = eventPtr(n.Event)
	case *EndEvent:
		doc.Type = "endEvent"
		doc.Terminate = n.Terminate
		doc.TerminateScope = n.TerminateScope
		doc.Event = eventPtr(n.Event)
	case *IntermediateCatchEvent:
		doc.Type = "intermediateCatchEvent"
		doc.Event = eventPtr(n.Event)
	case *IntermediateThrowEvent:
		doc.Type = "intermediateThrowEvent"
		doc.Event = eventPtr(n.Event)
	case *BoundaryEvent:
		doc.Type = "boundaryEvent"
		doc.AttachedTo = n.AttachedTo
		cancelActivity := n.CancelActivity
		doc.CancelActivity = &cancelActivity
		doc.Event = eventPtr(n.Event)
		doc.Handler = n.CompensationHandler
	case *Task:
		for name, taskType := range taskTypes {
			if taskType == n.TaskType {
				doc.Type = name
			}
		}
		if doc.Type == "" {
			doc.Type = "task"
		}
		doc.WorkItem = n.WorkItemType
		doc.Script = n.Script
		doc.Language = n.ScriptLanguage
		doc.ResultVariable = n.ResultVariable
		doc.RuleGroup = n.RuleGroup
		doc.Message = n.MessageRef
		doc.Inputs = n.Inputs
		doc.Outputs = n.Outputs
		doc.MultiInstance = n.MultiInstance
		doc.IsForCompensation = n.IsForCompensation
	case *Gateway:
		for name, gatewayType := range gatewayTypes {
			if gatewayType == n.GatewayType {
				doc.Type = name
			}
		}
		doc.Default = n.Default
		doc.Join = n.Join
	case *SubProcess:
		doc.Type = "subProcess"
		for name, subProcessType := range subProcessTypes {
			if subProcessType == n.SubProcessType {
				doc.Type = name
			}
		}
		doc.Nodes = encodeNodes(n.FlowNodes)
		doc.Flows = n.SequenceFlows
		doc.Variables = n.Variables
		doc.CalledElement = n.CalledElement
		doc.Inputs = n.Inputs
		doc.Outputs = n.Outputs
		doc.MultiInstance = n.MultiInstance
		doc.CompletionCondition = n.CompletionCondition
		doc.AutoComplete = n.AutoComplete
		doc.IsForCompensation = n.IsForCompensation
	}
	return doc
}
