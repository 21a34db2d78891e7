// Package config loads runtime settings from CHATPDT_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Local cache drivers.
const (
	LocalSQLite = "sqlite"
	LocalPebble = "pebble"
	LocalMemory = "memory"
)

// Cloud store drivers. CloudNone runs the gateway in LocalOnly mode from
// the start.
const (
	CloudNone     = "none"
	CloudMongo    = "mongo"
	CloudPostgres = "postgres"
	CloudRedis    = "redis"
)

// DefaultStreamErrorSuffix is appended to a reply whose stream failed.
const DefaultStreamErrorSuffix = "\n\n[FATAL: Neural transmission interrupted]"

// Config holds every runtime setting. Environment variables are parsed
// from the CHATPDT_ prefix, e.g. CHATPDT_CLOUD_DRIVER.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// Drivers
	LocalDriver string `envconfig:"LOCAL_DRIVER" default:"sqlite"`
	CloudDriver string `envconfig:"CLOUD_DRIVER" default:"none"`

	// Local cache
	SQLitePath string `envconfig:"SQLITE_PATH" default:"./data/chatpdt.db"`
	PebbleDir  string `envconfig:"PEBBLE_DIR" default:"./data/pebble"`

	// Cloud store
	MongoURI      string `envconfig:"MONGO_URI" default:""`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"chatpdt"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN" default:""`
	RedisURL      string `envconfig:"REDIS_URL" default:""`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"chatpdt"`

	// Startup probe of the cloud store
	ProbeTimeout    time.Duration `envconfig:"PROBE_TIMEOUT" default:"5s"`
	ProbeMaxElapsed time.Duration `envconfig:"PROBE_MAX_ELAPSED" default:"15s"`
	HealthInterval  time.Duration `envconfig:"HEALTH_INTERVAL" default:"30s"`

	// Polling intervals used in LocalOnly mode
	OverridesPollInterval time.Duration `envconfig:"OVERRIDES_POLL_INTERVAL" default:"2s"`
	ChatsPollInterval     time.Duration `envconfig:"CHATS_POLL_INTERVAL" default:"10s"`
	CommunityPollInterval time.Duration `envconfig:"COMMUNITY_POLL_INTERVAL" default:"15s"`

	// Override display durations
	BroadcastDuration time.Duration `envconfig:"BROADCAST_DURATION" default:"10s"`
	TakeoverDuration  time.Duration `envconfig:"TAKEOVER_DURATION" default:"8s"`

	// Completion engine
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiTitleModel  string `envconfig:"GEMINI_TITLE_MODEL" default:"gemini-3-flash-preview"`
	StreamErrorSuffix string `envconfig:"STREAM_ERROR_SUFFIX" default:"\n\n[FATAL: Neural transmission interrupted]"`

	// Title job queue
	QueueShards int `envconfig:"QUEUE_SHARDS" default:"4"`
	QueueSize   int `envconfig:"QUEUE_SIZE" default:"64"`

	// Admin broadcast fan-out
	BroadcastConcurrency int `envconfig:"BROADCAST_CONCURRENCY" default:"8"`
}

// Validate checks driver names and durations.
func (c *Config) Validate() error {
	switch c.LocalDriver {
	case LocalSQLite, LocalPebble, LocalMemory:
	default:
		return fmt.Errorf("unsupported LOCAL_DRIVER: %s", c.LocalDriver)
	}
	switch c.CloudDriver {
	case CloudNone:
	case CloudMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("CLOUD_DRIVER=mongo requires MONGO_URI")
		}
	case CloudPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("CLOUD_DRIVER=postgres requires POSTGRES_DSN")
		}
	case CloudRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("CLOUD_DRIVER=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unsupported CLOUD_DRIVER: %s", c.CloudDriver)
	}
	for name, d := range map[string]time.Duration{
		"OVERRIDES_POLL_INTERVAL": c.OverridesPollInterval,
		"CHATS_POLL_INTERVAL":     c.ChatsPollInterval,
		"COMMUNITY_POLL_INTERVAL": c.CommunityPollInterval,
		"BROADCAST_DURATION":      c.BroadcastDuration,
		"TAKEOVER_DURATION":       c.TakeoverDuration,
		"HEALTH_INTERVAL":         c.HealthInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.BroadcastConcurrency <= 0 {
		c.BroadcastConcurrency = 1
	}
	return nil
}

// New creates a Config from the environment and validates it.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("CHATPDT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("local_driver", cfg.LocalDriver).
		Str("cloud_driver", cfg.CloudDriver).
		Bool("gemini_key_present", cfg.GeminiAPIKey != "").
		Dur("overrides_poll", cfg.OverridesPollInterval).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting returns an in-memory configuration with short intervals.
func NewForTesting() *Config {
	return &Config{
		Environment:           EnvTesting,
		LogLevel:              "debug",
		LocalDriver:           LocalMemory,
		CloudDriver:           CloudNone,
		MongoDatabase:         "chatpdt_test",
		RedisPrefix:           "chatpdt_test",
		ProbeTimeout:          time.Second,
		ProbeMaxElapsed:       time.Second,
		HealthInterval:        50 * time.Millisecond,
		OverridesPollInterval: 20 * time.Millisecond,
		ChatsPollInterval:     50 * time.Millisecond,
		CommunityPollInterval: 50 * time.Millisecond,
		BroadcastDuration:     50 * time.Millisecond,
		TakeoverDuration:      40 * time.Millisecond,
		GeminiTitleModel:      model.DefaultModel,
		StreamErrorSuffix:     DefaultStreamErrorSuffix,
		QueueShards:           1,
		QueueSize:             16,
		BroadcastConcurrency:  4,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}
