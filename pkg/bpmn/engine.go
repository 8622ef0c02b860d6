package bpmn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pbinitiative/zenflow/pkg/bpmn/calendar"
	"github.com/pbinitiative/zenflow/pkg/bpmn/correlation"
	"github.com/pbinitiative/zenflow/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/bpmn/timer"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"github.com/pbinitiative/zenflow/pkg/rules"
	"github.com/pbinitiative/zenflow/pkg/script"
	"github.com/pbinitiative/zenflow/pkg/script/feel"
	"github.com/pbinitiative/zenflow/pkg/script/js"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/zenflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultArchiveSize     = 1000
	defaultArchiveTTL      = time.Hour
	defaultTimerPollDelay  = 100 * time.Millisecond
	defaultScriptTimeout   = 10 * time.Second
	defaultMaxScriptRunner = 4
)

// Engine runs process instances of the definitions deployed into it.
// All traversal happens under one mutex and runs until no work is left before a call returns.
type Engine struct {
	name string

	mu        sync.Mutex
	queue     []command
	errs      []error
	dirty     map[int64]*runtime.ProcessInstance
	instances map[int64]*runtime.ProcessInstance
	// condState remembers the last result of every conditional registration, conditions fire on a false to true edge
	condState map[uint64]bool

	definitionsMu sync.RWMutex
	definitions   map[string][]*model.ProcessDefinition

	viewMu  sync.RWMutex
	views   map[int64]*runtime.ProcessInstance
	archive *expirable.LRU[int64, *runtime.ProcessInstance]

	workItemsMu sync.RWMutex
	workItems   map[int64]*runtime.WorkItem

	handlersMu sync.RWMutex
	handlers   map[string]WorkItemHandler

	bus      *correlation.Bus
	timers   *timer.Service
	clock    timer.Clock
	calendar calendar.BusinessCalendar
	rules    RuleEvaluator
	ruleSet  []rules.Rule
	feel     script.FeelRuntime
	js       script.JsRuntime

	snowflake      *snowflake.Node
	nodeId         int64
	exporters      []exporter.EventExporter
	persistence    storage.Storage
	logger         hclog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	metrics        *otelPkg.EngineMetrics

	archiveSize int
	archiveTTL  time.Duration
	pollDelay   time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	disposed atomic.Bool
}

type EngineOption = func(*Engine)

// NewEngine creates a new instance of the BPMN Engine;
func NewEngine(options ...EngineOption) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := &Engine{
		dirty:       map[int64]*runtime.ProcessInstance{},
		instances:   map[int64]*runtime.ProcessInstance{},
		condState:   map[uint64]bool{},
		definitions: map[string][]*model.ProcessDefinition{},
		views:       map[int64]*runtime.ProcessInstance{},
		workItems:   map[int64]*runtime.WorkItem{},
		handlers:    map[string]WorkItemHandler{},
		exporters:   []exporter.EventExporter{},
		nodeId:      -1,
		archiveSize: defaultArchiveSize,
		archiveTTL:  defaultArchiveTTL,
		pollDelay:   defaultTimerPollDelay,
		ctx:         ctx,
		cancel:      cancel,
	}

	for _, option := range options {
		option(engine)
	}

	if engine.logger == nil {
		engine.logger = hclog.Default().Named("bpmn-engine")
	}
	if engine.nodeId < 0 {
		engine.nodeId = zenflake.RandomNodeId()
	}
	node, err := zenflake.NewNode(engine.nodeId)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create key generator: %w", err)
	}
	engine.snowflake = node
	if engine.name == "" {
		engine.name = fmt.Sprintf("Bpmn-Engine-%d", engine.generateKey())
	}
	if engine.clock == nil {
		engine.clock = timer.WallClock{}
	}
	if engine.calendar == nil {
		engine.calendar = calendar.NewWeekly()
	}
	if engine.feel == nil {
		engine.feel = feel.NewFeelRuntime()
	}
	if engine.js == nil {
		engine.js = js.NewJsRuntime(ctx, defaultMaxScriptRunner, 1, defaultScriptTimeout)
	}
	if engine.rules == nil {
		agenda, err := rules.NewAgenda(engine.feel, engine.logger, engine.ruleSet...)
		if err != nil {
			cancel()
			return nil, err
		}
		engine.rules = agenda
	}
	if engine.tracerProvider == nil {
		engine.tracerProvider = otel.GetTracerProvider()
	}
	if engine.meterProvider == nil {
		engine.meterProvider = otel.GetMeterProvider()
	}
	engine.tracer = engine.tracerProvider.Tracer("bpmn-engine")
	metrics, err := otelPkg.NewMetrics(engine.meterProvider.Meter("bpmn-engine"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}
	engine.metrics = metrics
	engine.bus = correlation.NewBus(engine.logger)
	engine.timers = timer.NewService(engine.clock, engine.calendar, engine.logger)
	engine.archive = expirable.NewLRU[int64, *runtime.ProcessInstance](engine.archiveSize, nil, engine.archiveTTL)

	return engine, nil
}

func WithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
	}
}

// WithStorage makes the engine write every instance change through to the storage.
func WithStorage(persistence storage.Storage) EngineOption {
	return func(engine *Engine) {
		engine.persistence = persistence
	}
}

func WithExporter(exporter exporter.EventExporter) EngineOption {
	return func(engine *Engine) { engine.AddEventExporter(exporter) }
}

// WithClock replaces the wall clock, pass a *timer.PseudoClock to drive timers from tests.
func WithClock(clock timer.Clock) EngineOption {
	return func(engine *Engine) {
		engine.clock = clock
	}
}

func WithBusinessCalendar(cal calendar.BusinessCalendar) EngineOption {
	return func(engine *Engine) {
		engine.calendar = cal
	}
}

func WithRuleEvaluator(evaluator RuleEvaluator) EngineOption {
	return func(engine *Engine) {
		engine.rules = evaluator
	}
}

// WithRules loads rules into the default agenda, it has no effect together with WithRuleEvaluator.
func WithRules(ruleSet ...rules.Rule) EngineOption {
	return func(engine *Engine) {
		engine.ruleSet = append(engine.ruleSet, ruleSet...)
	}
}

func WithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger.Named("bpmn-engine")
	}
}

// WithArchive sizes the cache keeping terminated instances readable.
func WithArchive(size int, ttl time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.archiveSize = size
		engine.archiveTTL = ttl
	}
}

// WithNodeId sets the snowflake node used for key generation, engines sharing storage need distinct ids.
func WithNodeId(nodeId int64) EngineOption {
	return func(engine *Engine) {
		engine.nodeId = nodeId
	}
}

func WithTracerProvider(provider trace.TracerProvider) EngineOption {
	return func(engine *Engine) {
		engine.tracerProvider = provider
	}
}

func WithMeterProvider(provider metric.MeterProvider) EngineOption {
	return func(engine *Engine) {
		engine.meterProvider = provider
	}
}

func WithJsRuntime(jsRuntime script.JsRuntime) EngineOption {
	return func(engine *Engine) {
		engine.js = jsRuntime
	}
}

func WithFeelRuntime(feelRuntime script.FeelRuntime) EngineOption {
	return func(engine *Engine) {
		engine.feel = feelRuntime
	}
}

func WithTimerPollDelay(delay time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.pollDelay = delay
	}
}

func WithWorkItemHandler(workItemType string, handler WorkItemHandler) EngineOption {
	return func(engine *Engine) {
		engine.handlers[workItemType] = handler
	}
}

// Name returns the name of the engine, only useful in case you control multiple ones
func (engine *Engine) Name() string {
	return engine.name
}

func (engine *Engine) AddEventExporter(exporter exporter.EventExporter) {
	engine.exporters = append(engine.exporters, exporter)
}

// Clock returns the clock timers are evaluated against.
func (engine *Engine) Clock() timer.Clock {
	return engine.clock
}

// Start launches the background timer polling. Engines driven by a pseudo clock fire timers
// only through AdvanceClock and FireDueTimers and do not need to be started.
func (engine *Engine) Start() {
	if engine.disposed.Load() || !engine.started.CompareAndSwap(false, true) {
		return
	}
	if _, ok := engine.clock.(*timer.PseudoClock); ok {
		return
	}
	go engine.timers.Run(engine.ctx, engine.pollDelay, func(ctx context.Context) {
		if _, err := engine.FireDueTimers(ctx); err != nil {
			engine.logger.Error("failed to fire due timers", "err", err)
		}
	})
}

// Dispose stops background work, subsequent calls return ErrEngineDisposed.
func (engine *Engine) Dispose() {
	if !engine.disposed.CompareAndSwap(false, true) {
		return
	}
	engine.cancel()
	engine.logger.Info("engine disposed", "name", engine.name)
}
