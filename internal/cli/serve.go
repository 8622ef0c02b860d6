package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/pbinitiative/zenflow/internal/log"
	"github.com/pbinitiative/zenflow/internal/otel"
	"github.com/pbinitiative/zenflow/internal/profile"
	"github.com/pbinitiative/zenflow/internal/rest"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/calendar"
	"github.com/pbinitiative/zenflow/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/timer"
	"github.com/pbinitiative/zenflow/pkg/bpmn/workitems"
	"github.com/pbinitiative/zenflow/pkg/script/js"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	"github.com/pbinitiative/zenflow/pkg/storage/sqlite"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command running the engine behind the REST API.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the engine and serve the REST API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
					return err
				}
			}
			profile.InitProfile()
			if rootOpts.Verbose {
				profile.Current = profile.DEV
			}
			log.Init()
			defer log.Sync()
			return runServe(cmd.Context(), config.InitConfig())
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file, defaults to $CONFIG_FILE or ./conf.yaml")
	return cmd
}

func runServe(ctx context.Context, conf config.Config) error {
	appContext, ctxCancel := context.WithCancel(ctx)
	defer ctxCancel()

	openTelemetry, err := otel.SetupOtel(conf.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up OTEL: %w", err)
	}
	defer openTelemetry.Stop(context.Background())

	store, err := openStorage(conf.Persistence)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := NewEngine(appContext, conf, store)
	if err != nil {
		return err
	}
	defer engine.Dispose()
	if err := engine.Recover(appContext); err != nil {
		return fmt.Errorf("failed to recover engine state: %w", err)
	}
	if err := DeployDirectory(appContext, engine, conf.Engine.DefinitionsDir); err != nil {
		return err
	}
	engine.Start()

	svr := rest.NewServer(engine, conf, openTelemetry.Requests)
	if _, err := svr.Start(); err != nil {
		return fmt.Errorf("failed to start REST server: %w", err)
	}

	<-appContext.Done()
	log.Infof(appContext, "Shutting down: %s", context.Cause(appContext))

	svr.Stop(context.Background())
	return nil
}

func openStorage(conf config.Persistence) (storage.Storage, error) {
	switch conf.Driver {
	case config.PersistenceSqlite:
		store, err := sqlite.Open(conf.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage %s: %w", conf.Path, err)
		}
		return store, nil
	default:
		return inmemory.NewStorage(), nil
	}
}

func engineLogger() hclog.Logger {
	level := hclog.Info
	if profile.Verbose() {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "bpmn-engine",
		Level:      level,
		JSONFormat: profile.Current == profile.PROD,
	})
}

// NewEngine builds the engine described by the configuration with the ready made work item
// handlers registered: user and manual tasks wait for the REST API, service tasks are logged,
// receive tasks wait for a message named like the task and "HTTP" tasks call their url parameter.
func NewEngine(ctx context.Context, conf config.Config, store storage.Storage) (*bpmn.Engine, error) {
	holidays, err := conf.Engine.HolidayDates()
	if err != nil {
		return nil, err
	}
	logger := engineLogger()
	options := []bpmn.EngineOption{
		bpmn.WithName(conf.Name),
		bpmn.WithLogger(logger),
		bpmn.WithStorage(store),
		bpmn.WithExporter(exporter.NewLoggingExporter(logger)),
		bpmn.WithBusinessCalendar(calendar.NewWeekly(holidays...)),
		bpmn.WithArchive(conf.Engine.ArchiveSize, conf.Engine.ArchiveTTL),
		bpmn.WithTimerPollDelay(conf.Engine.TimerPollInterval),
		bpmn.WithJsRuntime(js.NewJsRuntime(ctx, conf.Engine.Scripts.MaxVmPoolSize, conf.Engine.Scripts.MinVmPoolSize, conf.Engine.Scripts.Timeout)),
		bpmn.WithWorkItemHandler("Human Task", workitems.DoNothing{}),
		bpmn.WithWorkItemHandler("Manual Task", workitems.DoNothing{}),
		bpmn.WithWorkItemHandler("Service Task", workitems.NewLogging(logger)),
		bpmn.WithWorkItemHandler("Send Task", workitems.NewLogging(logger)),
		bpmn.WithWorkItemHandler("HTTP", workitems.NewHTTP(nil)),
	}
	if conf.Engine.NodeId >= 0 {
		options = append(options, bpmn.WithNodeId(conf.Engine.NodeId))
	}
	if conf.Engine.Clock == config.ClockPseudo {
		options = append(options, bpmn.WithClock(timer.NewPseudoClock(timer.WallClock{}.Now())))
	}
	engine, err := bpmn.NewEngine(options...)
	if err != nil {
		return nil, err
	}
	engine.RegisterWorkItemHandler("Receive Task", workitems.NewReceive(engine))
	return engine, nil
}

// DeployDirectory deploys every YAML definition of dir. A file equal to the latest deployed
// version of its process is skipped so restarts do not pile up versions.
func DeployDirectory(ctx context.Context, engine *bpmn.Engine, dir string) error {
	if dir == "" {
		return nil
	}
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return err
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	for _, file := range files {
		definition, err := model.LoadFromFile(file)
		if err != nil {
			return err
		}
		if latest, ok := engine.GetDefinition(definition.Id); ok && sameDefinition(latest, definition) {
			log.Debug("definition %s from %s is already deployed as version %d", definition.Id, file, latest.Version)
			continue
		}
		if err := engine.Deploy(ctx, definition); err != nil {
			return fmt.Errorf("failed to deploy %s: %w", file, err)
		}
		log.Info("deployed %s version %d from %s", definition.Id, definition.Version, file)
	}
	return nil
}

func sameDefinition(deployed *model.ProcessDefinition, candidate *model.ProcessDefinition) bool {
	if candidate.Version != 0 && candidate.Version != deployed.Version {
		return false
	}
	a, err := model.Marshal(deployed)
	if err != nil {
		return false
	}
	version := candidate.Version
	candidate.Version = deployed.Version
	b, err := model.Marshal(candidate)
	candidate.Version = version
	return err == nil && bytes.Equal(a, b)
}
