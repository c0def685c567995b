package config

import (
	"time"
)

// Phase selects which half of the harness a process run executes.
type Phase int

const (
	PhaseLoad Phase = iota
	PhaseRun
)

// MaxShards mirrors model.MaxShards; duplicated here (rather than
// importing internal/model) to keep config dependency-free for callers
// that only need flag validation.
const MaxShards = 127

// DefaultNumShards is -shards' default (spec.md §6).
const DefaultNumShards = 50

// DefaultWarmupPeriod is the run phase's default warmup window before
// Measurements is reset a second time.
const DefaultWarmupPeriod = 60 * time.Second

// DefaultStatusInterval is the default status-thread print interval.
const DefaultStatusInterval = 5 * time.Second

// DefaultPreRunQuiesce is the fixed sleep between reload completing and
// the first experiment starting.
const DefaultPreRunQuiesce = 240 * time.Second

// DefaultInterExperimentSleep is the fixed gap between experiments.
const DefaultInterExperimentSleep = 30 * time.Second

// Run is the harness's resolved command-line configuration (spec.md §6).
type Run struct {
	Phase Phase

	Threads int
	DBName  string

	PropertiesPath   string
	Overrides        []string
	WorkloadSpecPath string
	ExperimentPath   string

	NumShards int
	TotalOps  int64
	Rows      int64

	StatusEnabled bool
	Spin          bool

	EdgeTable   string
	ObjectTable string

	OutputDir string

	// PreRunQuiesce/InterExperimentSleep default to
	// DefaultPreRunQuiesce/DefaultInterExperimentSleep when zero; a test
	// harness can shrink them to exercise RunPhase without waiting on the
	// production pacing.
	PreRunQuiesce        time.Duration
	InterExperimentSleep time.Duration
}

// DatabaseConfig configures a pgxpool-backed driver connection. Loaded from
// a properties file via LoadDatabaseConfig.
type DatabaseConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Database          string        `mapstructure:"database"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	SSLMode           string        `mapstructure:"sslmode"`
	MaxConnections    int           `mapstructure:"max_connections"`
	MinConnections    int           `mapstructure:"min_connections"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

// DefaultDatabaseConfig returns sane pool sizing defaults, overridden by
// whatever the properties file actually specifies.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:              "localhost",
		Port:              5432,
		Database:          "tracebench",
		SSLMode:           "disable",
		MaxConnections:    10,
		MinConnections:    2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
	}
}

// LoadDatabaseConfig builds a DatabaseConfig from Properties, falling back
// to DefaultDatabaseConfig for anything unset. Properties keys mirror the
// mapstructure tags above (db.host, db.port, ...).
func LoadDatabaseConfig(props Properties) DatabaseConfig {
	cfg := DefaultDatabaseConfig()
	cfg.Host = props.GetString("db.host", cfg.Host)
	cfg.Port = props.GetInt("db.port", cfg.Port)
	cfg.Database = props.GetString("db.database", cfg.Database)
	cfg.Username = props.GetString("db.username", cfg.Username)
	cfg.Password = props.GetString("db.password", cfg.Password)
	cfg.SSLMode = props.GetString("db.sslmode", cfg.SSLMode)
	cfg.MaxConnections = props.GetInt("db.max_connections", cfg.MaxConnections)
	cfg.MinConnections = props.GetInt("db.min_connections", cfg.MinConnections)
	return cfg
}
