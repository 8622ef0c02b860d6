package model

type ElementType string

const (
	ElementTypeStartEvent             ElementType = "START_EVENT"
	ElementTypeEndEvent               ElementType = "END_EVENT"
	ElementTypeTask                   ElementType = "TASK"
	ElementTypeGateway                ElementType = "GATEWAY"
	ElementTypeSubProcess             ElementType = "SUB_PROCESS"
	ElementTypeIntermediateCatchEvent ElementType = "INTERMEDIATE_CATCH_EVENT"
	ElementTypeIntermediateThrowEvent ElementType = "INTERMEDIATE_THROW_EVENT"
	ElementTypeBoundaryEvent          ElementType = "BOUNDARY_EVENT"
)

// FlowNode is implemented by every node kind a process graph can contain.
type FlowNode interface {
	GetId() string
	GetName() string
	GetType() ElementType
}

// Activity is a FlowNode that can carry boundary events and multi-instance loop characteristics.
type Activity interface {
	FlowNode
	GetMultiInstance() *MultiInstance
	GetInputs() []Mapping
	GetOutputs() []Mapping
	ForCompensation() bool
}

type TaskType string

const (
	TaskTypeNone    TaskType = "none"
	TaskTypeHuman   TaskType = "human"
	TaskTypeService TaskType = "service"
	TaskTypeSend    TaskType = "send"
	TaskTypeReceive TaskType = "receive"
	TaskTypeRule    TaskType = "rule"
	TaskTypeScript  TaskType = "script"
	TaskTypeManual  TaskType = "manual"
)

type GatewayType string

const (
	GatewayTypeExclusive  GatewayType = "exclusive"
	GatewayTypeInclusive  GatewayType = "inclusive"
	GatewayTypeParallel   GatewayType = "parallel"
	GatewayTypeEventBased GatewayType = "eventBased"
)

type SubProcessType string

const (
	SubProcessTypeEmbedded     SubProcessType = "embedded"
	SubProcessTypeCallActivity SubProcessType = "callActivity"
	SubProcessTypeAdHoc        SubProcessType = "adHoc"
)

type TerminateScope string

const (
	TerminateScopeProcess TerminateScope = "process"
	TerminateScopeLocal   TerminateScope = "local"
)

const (
	ScriptLanguageJavascript = "javascript"
	ScriptLanguageFeel       = "feel"
)

// Mapping copies the result of Source (a FEEL expression, or a variable name) into Target.
type Mapping struct {
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

type MultiInstance struct {
	Sequential bool `yaml:"sequential,omitempty" json:"sequential,omitempty"`
	// Collection is either a variable name or a FEEL expression returning a list
	Collection          string `yaml:"collection" json:"collection"`
	ElementVariable     string `yaml:"elementVariable,omitempty" json:"elementVariable,omitempty"`
	OutputCollection    string `yaml:"outputCollection,omitempty" json:"outputCollection,omitempty"`
	OutputElement       string `yaml:"outputElement,omitempty" json:"outputElement,omitempty"`
	CompletionCondition string `yaml:"completionCondition,omitempty" json:"completionCondition,omitempty"`
	AbortOnChildFailure bool   `yaml:"abortOnChildFailure,omitempty" json:"abortOnChildFailure,omitempty"`
}

type StartEvent struct {
	Id    string
	Name  string
	Event EventDefinition
}

func (e *StartEvent) GetId() string        { return e.Id }
func (e *StartEvent) GetName() string      { return e.Name }
func (e *StartEvent) GetType() ElementType { return ElementTypeStartEvent }

type EndEvent struct {
	Id             string
	Name           string
	Terminate      bool
	TerminateScope TerminateScope
	Event          EventDefinition
}

func (e *EndEvent) GetId() string        { return e.Id }
func (e *EndEvent) GetName() string      { return e.Name }
func (e *EndEvent) GetType() ElementType { return ElementTypeEndEvent }

type Task struct {
	Id       string
	Name     string
	TaskType TaskType
	// WorkItemType selects the handler, defaults to a name derived from TaskType
	WorkItemType      string
	Script            string
	ScriptLanguage    string
	ResultVariable    string
	RuleGroup         string
	MessageRef        string
	Inputs            []Mapping
	Outputs           []Mapping
	MultiInstance     *MultiInstance
	IsForCompensation bool
}

func (t *Task) GetId() string                    { return t.Id }
func (t *Task) GetName() string                  { return t.Name }
func (t *Task) GetType() ElementType             { return ElementTypeTask }
func (t *Task) GetMultiInstance() *MultiInstance { return t.MultiInstance }
func (t *Task) GetInputs() []Mapping             { return t.Inputs }
func (t *Task) GetOutputs() []Mapping            { return t.Outputs }
func (t *Task) ForCompensation() bool            { return t.IsForCompensation }

// HandlerType returns the work item type used to look up the handler of the task.
func (t *Task) HandlerType() string {
	if t.WorkItemType != "" {
		return t.WorkItemType
	}
	switch t.TaskType {
	case TaskTypeHuman:
		return "Human Task"
	case TaskTypeService:
		return "Service Task"
	case TaskTypeSend:
		return "Send Task"
	case TaskTypeReceive:
		return "Receive Task"
	case TaskTypeManual:
		return "Manual Task"
	}
	return ""
}

// WaitsForMessage is true for receive tasks bound to a message instead of a handler.
func (t *Task) WaitsForMessage() bool {
	return t.TaskType == TaskTypeReceive && t.MessageRef != "" && t.WorkItemType == ""
}

type Gateway struct {
	Id          string
	Name        string
	GatewayType GatewayType
	Default     string
	// Join names the inclusive gateway that merges the branches of this split,
	// when empty the nearest downstream inclusive join is used
	Join string
}

func (g *Gateway) GetId() string        { return g.Id }
func (g *Gateway) GetName() string      { return g.Name }
func (g *Gateway) GetType() ElementType { return ElementTypeGateway }

type SubProcess struct {
	Id                  string
	Name                string
	SubProcessType      SubProcessType
	FlowNodes           []FlowNode
	SequenceFlows       []SequenceFlow
	Variables           []Variable
	CalledElement       string
	Inputs              []Mapping
	Outputs             []Mapping
	MultiInstance       *MultiInstance
	CompletionCondition string
	AutoComplete        bool
	IsForCompensation   bool
}

func (s *SubProcess) GetId() string                    { return s.Id }
func (s *SubProcess) GetName() string                  { return s.Name }
func (s *SubProcess) GetType() ElementType             { return ElementTypeSubProcess }
func (s *SubProcess) GetMultiInstance() *MultiInstance { return s.MultiInstance }
func (s *SubProcess) GetInputs() []Mapping             { return s.Inputs }
func (s *SubProcess) GetOutputs() []Mapping            { return s.Outputs }
func (s *SubProcess) ForCompensation() bool            { return s.IsForCompensation }
func (s *SubProcess) Nodes() []FlowNode                { return s.FlowNodes }
func (s *SubProcess) Flows() []SequenceFlow            { return s.SequenceFlows }

type IntermediateCatchEvent struct {
	Id    string
	Name  string
	Event EventDefinition
}

func (e *IntermediateCatchEvent) GetId() string        { return e.Id }
func (e *IntermediateCatchEvent) GetName() string      { return e.Name }
func (e *IntermediateCatchEvent) GetType() ElementType { return ElementTypeIntermediateCatchEvent }

type IntermediateThrowEvent struct {
	Id    string
	Name  string
	Event EventDefinition
}

func (e *IntermediateThrowEvent) GetId() string        { return e.Id }
func (e *IntermediateThrowEvent) GetName() string      { return e.Name }
func (e *IntermediateThrowEvent) GetType() ElementType { return ElementTypeIntermediateThrowEvent }

type BoundaryEvent struct {
	Id             string
	Name           string
	AttachedTo     string
	CancelActivity bool
	Event          EventDefinition
	// CompensationHandler is the activity run when a compensation boundary is triggered
	CompensationHandler string
}

func (e *BoundaryEvent) GetId() string        { return e.Id }
func (e *BoundaryEvent) GetName() string      { return e.Name }
func (e *BoundaryEvent) GetType() ElementType { return ElementTypeBoundaryEvent }

type SequenceFlow struct {
	Id        string `yaml:"id" json:"id"`
	SourceRef string `yaml:"source" json:"source"`
	TargetRef string `yaml:"target" json:"target"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Priority  int    `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Container is a graph level owning nodes and flows, either the process itself or a sub process.
type Container interface {
	GetId() string
	Nodes() []FlowNode
	Flows() []SequenceFlow
}
