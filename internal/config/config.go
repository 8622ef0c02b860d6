package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	ClockWall   = "wall"
	ClockPseudo = "pseudo"

	PersistenceMemory = "memory"
	PersistenceSqlite = "sqlite"

	holidayLayout = "2006-01-02"
)

type Config struct {
	Name        string      `yaml:"name" json:"name" env:"APP_NAME" env-default:"zenflow"` // used for OTEL as an application identifier
	Server      Server      `yaml:"server" json:"server"`                                  // configuration of the public REST server
	Engine      Engine      `yaml:"engine" json:"engine"`
	Persistence Persistence `yaml:"persistence" json:"persistence"`
	Tracing     Tracing     `yaml:"tracing" json:"tracing"`
}

type Server struct {
	Context string `yaml:"context" json:"context" env:"REST_API_CONTEXT" env-default:"/"`
	Addr    string `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
	// AllowedOrigins for CORS requests
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins" env:"REST_API_ALLOWED_ORIGINS" env-default:"*"`
}

type Engine struct {
	// Clock is either wall or pseudo, a pseudo clock only moves through the advance-clock endpoint
	Clock             string        `yaml:"clock" json:"clock" env:"ENGINE_CLOCK" env-default:"wall"`
	NodeId            int64         `yaml:"nodeId" json:"nodeId" env:"ENGINE_NODE_ID" env-default:"-1"`
	TimerPollInterval time.Duration `yaml:"timerPollInterval" json:"timerPollInterval" env:"ENGINE_TIMER_POLL_INTERVAL" env-default:"100ms"`
	ArchiveSize       int           `yaml:"archiveSize" json:"archiveSize" env:"ENGINE_ARCHIVE_SIZE" env-default:"1000"`
	ArchiveTTL        time.Duration `yaml:"archiveTtl" json:"archiveTtl" env:"ENGINE_ARCHIVE_TTL" env-default:"1h"`
	// DefinitionsDir is scanned for *.yaml definitions deployed on startup
	DefinitionsDir string `yaml:"definitionsDir" json:"definitionsDir" env:"ENGINE_DEFINITIONS_DIR"`
	// Holidays are skipped by business calendar timers next to weekends, format 2006-01-02
	Holidays []string `yaml:"holidays" json:"holidays" env:"ENGINE_HOLIDAYS"`
	Scripts  Scripts  `yaml:"scripts" json:"scripts"`
}

type Scripts struct {
	MaxVmPoolSize int           `yaml:"maxVmPoolSize" json:"maxVmPoolSize" env:"SCRIPTS_MAX_VM_POOL_SIZE" env-default:"4"`
	MinVmPoolSize int           `yaml:"minVmPoolSize" json:"minVmPoolSize" env:"SCRIPTS_MIN_VM_POOL_SIZE" env-default:"1"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" env:"SCRIPTS_TIMEOUT" env-default:"10s"`
}

type Persistence struct {
	Driver string `yaml:"driver" json:"driver" env:"PERSISTENCE_DRIVER" env-default:"memory"`
	// Path of the sqlite database file
	Path string `yaml:"path" json:"path" env:"PERSISTENCE_PATH" env-default:"zenflow.db"`
}

type Tracing struct {
	Enabled         bool     `yaml:"enabled" json:"enabled" env:"OTEL_ENABLED"`
	Name            string   `yaml:"name" json:"name" env:"OTEL_NAME"`
	Endpoint        string   `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TransferHeaders []string `yaml:"transferHeaders" json:"transferHeaders" env:"OTEL_TRANSFER_HEADERS"`
}

// HolidayDates parses the configured holidays.
func (e Engine) HolidayDates() ([]time.Time, error) {
	dates := make([]time.Time, 0, len(e.Holidays))
	for _, h := range e.Holidays {
		d, err := time.Parse(holidayLayout, h)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func (c Config) defaults() Config {
	if c.Tracing.Name == "" {
		c.Tracing.Name = c.Name
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.Engine.Clock != ClockWall && c.Engine.Clock != ClockPseudo {
		errs = append(errs, fmt.Errorf("unknown engine clock %q", c.Engine.Clock))
	}
	if c.Persistence.Driver != PersistenceMemory && c.Persistence.Driver != PersistenceSqlite {
		errs = append(errs, fmt.Errorf("unknown persistence driver %q", c.Persistence.Driver))
	}
	if _, err := c.Engine.HolidayDates(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Load reads fileName when it exists and the environment otherwise, environment variables
// override values from the file.
func Load(fileName string) (Config, error) {
	c := Config{}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return Config{}, err
	}
	c = c.defaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func InitConfig() Config {
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	if _, err := os.Stat(fileName); errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	}
	c, err := Load(fileName)
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}
