package shardqueue

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config controls sharding, buffering and retry. Zero values fall back to
// the defaults applied by NewShardExecutor.
type Config struct {
	Shards         int           `envconfig:"SHARDS" default:"4"`
	QueueSize      int           `envconfig:"QUEUE_SIZE" default:"64"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`
	// MaxAttempts counts the first run. 1 disables retries.
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"1"`
	BaseBackoff    time.Duration `envconfig:"BASE_BACKOFF" default:"100ms"`
	MaxInterval    time.Duration `envconfig:"MAX_INTERVAL" default:"5s"`

	// ErrorHandler receives the final error of every job that did not
	// succeed. It must not block.
	ErrorHandler func(error)    `ignored:"true"`
	Logger       zerolog.Logger `ignored:"true"`
}

// LoadConfig reads CHATPDT_QUEUE_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("CHATPDT_QUEUE", &cfg); err != nil {
		return Config{}, err
	}
	cfg.Logger = zerolog.Nop()
	return cfg, nil
}
