package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/bpmn/timer"
	"github.com/pbinitiative/zenflow/pkg/bpmn/workitems"
	"github.com/spf13/cobra"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	Variables []string
	Advance   time.Duration
	Start     string
}

// RunResult is the state of the started instance after the run.
type RunResult struct {
	ProcessInstanceKey int64                        `json:"processInstanceKey"`
	ProcessId          string                       `json:"processId"`
	State              runtime.ProcessInstanceState `json:"state"`
	Variables          map[string]any               `json:"variables"`
	Completed          []string                     `json:"completed"`
	TimersFired        int                          `json:"timersFired"`
	Incidents          []runtime.Incident           `json:"incidents,omitempty"`
	Error              string                       `json:"error,omitempty"`
}

// NewRunCommand creates the run command. It deploys the given files into an engine driven by a
// pseudo clock, starts the first definition and completes every work item right away.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run <file>...",
		Short: "Run one process instance locally with a pseudo clock",
		Long: `Deploys the given YAML definitions, starts an instance of the first one and
completes every work item as soon as it is created. Timers fire only when the
pseudo clock is advanced with --advance.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: rootOpts.Verbose}
			return runRun(cmd, formatter, opts, args)
		},
	}
	cmd.Flags().StringArrayVar(&opts.Variables, "var", nil, "process variable as name=value, JSON values are decoded")
	cmd.Flags().DurationVar(&opts.Advance, "advance", 0, "advance the pseudo clock by this duration after the start")
	cmd.Flags().StringVar(&opts.Start, "start", "2024-01-01T09:00:00Z", "initial time of the pseudo clock (RFC 3339)")
	return cmd
}

func parseVariables(pairs []string) (map[string]any, error) {
	variables := map[string]any{}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q, expected name=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		variables[name] = value
	}
	return variables, nil
}

// handlerTypes collects the work item types the tasks of the container need, sub-processes included.
func handlerTypes(container model.Container, types map[string]struct{}) {
	for _, node := range container.Nodes() {
		if task, ok := node.(*model.Task); ok && !task.WaitsForMessage() && task.HandlerType() != "" {
			types[task.HandlerType()] = struct{}{}
		}
		if inner, ok := node.(model.Container); ok {
			handlerTypes(inner, types)
		}
	}
}

func runRun(cmd *cobra.Command, formatter *OutputFormatter, opts *RunOptions, files []string) error {
	start, err := time.Parse(time.RFC3339, opts.Start)
	if err != nil {
		return fmt.Errorf("invalid start time: %w", err)
	}
	variables, err := parseVariables(opts.Variables)
	if err != nil {
		return err
	}
	logger := hclog.NewNullLogger()
	if formatter.Verbose {
		logger = hclog.New(&hclog.LoggerOptions{Name: "bpmn-engine", Level: hclog.Debug, Output: formatter.ErrWriter})
	}
	history := exporter.NewHistoryExporter()
	options := []bpmn.EngineOption{
		bpmn.WithClock(timer.NewPseudoClock(start)),
		bpmn.WithLogger(logger),
		bpmn.WithExporter(history),
	}
	if formatter.Verbose {
		options = append(options, bpmn.WithExporter(exporter.NewLoggingExporter(logger)))
	}
	engine, err := bpmn.NewEngine(options...)
	if err != nil {
		return err
	}
	defer engine.Dispose()

	types := map[string]struct{}{}
	var first *model.ProcessDefinition
	for _, file := range files {
		definition, err := engine.LoadFromFile(cmd.Context(), file)
		if err != nil {
			return err
		}
		if first == nil {
			first = definition
		}
		handlerTypes(definition, types)
	}
	autoComplete := workitems.NewLogging(logger)
	for workItemType := range types {
		engine.RegisterWorkItemHandler(workItemType, autoComplete)
	}

	result := RunResult{ProcessId: first.Id}
	instance, runErr := engine.StartProcessInstance(cmd.Context(), first.Id, variables)
	if instance == nil {
		return runErr
	}
	if runErr == nil && opts.Advance > 0 {
		result.TimersFired, runErr = engine.AdvanceClock(cmd.Context(), opts.Advance)
		formatter.VerboseLog("Advanced clock by %s, %d timer(s) fired", opts.Advance, result.TimersFired)
	}
	if current, err := engine.GetProcessInstance(cmd.Context(), instance.Key); err == nil {
		instance = current
	}
	result.ProcessInstanceKey = instance.Key
	result.State = instance.State
	result.Variables = instance.Variables
	result.Incidents = instance.Incidents
	result.Completed = history.Elements(instance.Key, exporter.ElementCompleted)
	if runErr != nil {
		result.Error = runErr.Error()
	}

	text := fmt.Sprintf("process %s instance %d: %s\ncompleted: %s", first.Id, instance.Key, instance.State, strings.Join(result.Completed, " "))
	if result.Error != "" {
		text += "\nerror: " + result.Error
	}
	if err := formatter.Write(result, text); err != nil {
		return err
	}
	return runErr
}
