package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider represents an LLM backend endpoint serving one or more
// worker roles.
type Provider struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // "openai", "temporal", "stub"
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Model    string   `yaml:"model"`
	Roles    []string `yaml:"roles"` // worker roles served by this provider
	Enabled  bool     `yaml:"enabled"`
}

// Config is the main configuration for the spindle system
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Queue     QueueConfig     `yaml:"queue"`
	Gate      GateConfig      `yaml:"gate"`
	Flows     FlowsConfig     `yaml:"flows"`
	Lessons   LessonsConfig   `yaml:"lessons"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Temporal  TemporalConfig  `yaml:"temporal"`
	HotReload HotReloadConfig `yaml:"hot_reload"`
	Providers []Provider      `yaml:"providers"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// QueueConfig controls admission and execution slots
type QueueConfig struct {
	ConcurrencyLimit int           `yaml:"concurrency_limit"`
	BacklogCeiling   int           `yaml:"backlog_ceiling"`
	AbortTimeout     time.Duration `yaml:"abort_timeout"`   // per-task wait during emergency stop
	DispatchPoll     time.Duration `yaml:"dispatch_poll"`   // dispatcher wakeup interval
	BackendTimeout   time.Duration `yaml:"backend_timeout"` // default timeout per backend call
}

// GateConfig controls decision gate behavior
type GateConfig struct {
	// StrictTools returns a "capability unavailable" result instead of
	// falling back to free-form generation when a required tool mapping
	// is missing.
	StrictTools bool `yaml:"strict_tools"`
	// MinConfirmations is the repeat-confirmation threshold (beyond
	// pinning) that makes a lesson eligible for cache reuse.
	MinConfirmations int `yaml:"min_confirmations"`
}

// FlowsConfig bounds the iterative flows
type FlowsConfig struct {
	MaxReviewAttempts   int  `yaml:"max_review_attempts"`
	MaxRepairCycles     int  `yaml:"max_repair_cycles"`
	MaxCampaignRounds   int  `yaml:"max_campaign_rounds"`
	ConsensusCandidates int  `yaml:"consensus_candidates"`
	ConsensusEnabled    bool `yaml:"consensus_enabled"`
	BackendRetries      int  `yaml:"backend_retries"`
}

// LessonsConfig controls the lessons store
type LessonsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	PruneInterval time.Duration `yaml:"prune_interval"`
	MaxEntries    int           `yaml:"max_entries"`
}

// CacheConfig configures the approved-answer cache
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"` // "memory" or "redis"
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxSize    int           `yaml:"max_size"`
	RedisURL   string        `yaml:"redis_url"`
}

// StorageConfig configures the Postgres archive
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// EventsConfig configures the event fan-out
type EventsConfig struct {
	NATSEnabled bool   `yaml:"nats_enabled"`
	NATSURL     string `yaml:"nats_url"`
	Subject     string `yaml:"subject"` // subject prefix, default "spindle"
}

// SecurityConfig configures API authentication
type SecurityConfig struct {
	EnableAuth bool   `yaml:"enable_auth"`
	JWTSecret  string `yaml:"jwt_secret"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// TemporalConfig configures the optional Temporal execution backend
type TemporalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Host      string        `yaml:"host"`
	Namespace string        `yaml:"namespace"`
	TaskQueue string        `yaml:"task_queue"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HotReloadConfig configures config file watching
type HotReloadConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadFromFile loads configuration from a YAML file. Environment
// variables (e.g. ${SPINDLE_API_KEY}) are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Queue: QueueConfig{
			ConcurrencyLimit: 4,
			BacklogCeiling:   256,
			AbortTimeout:     10 * time.Second,
			DispatchPoll:     100 * time.Millisecond,
			BackendTimeout:   2 * time.Minute,
		},
		Gate: GateConfig{
			StrictTools:      false,
			MinConfirmations: 1,
		},
		Flows: FlowsConfig{
			MaxReviewAttempts:   2,
			MaxRepairCycles:     3,
			MaxCampaignRounds:   3,
			ConsensusCandidates: 3,
			ConsensusEnabled:    true,
			BackendRetries:      2,
		},
		Lessons: LessonsConfig{
			TTL:           30 * 24 * time.Hour,
			PruneInterval: 1 * time.Hour,
			MaxEntries:    10000,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			DefaultTTL: 1 * time.Hour,
			MaxSize:    10000,
		},
		Events: EventsConfig{
			Subject: "spindle",
		},
		Security: SecurityConfig{
			EnableAuth: false,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "spindle",
		},
		Temporal: TemporalConfig{
			Host:      "localhost:7233",
			Namespace: "spindle-default",
			TaskQueue: "spindle-tasks",
			Timeout:   5 * time.Minute,
		},
	}
}
