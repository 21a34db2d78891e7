package shardqueue

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CHATPDT_QUEUE_SHARDS", "8")
	t.Setenv("CHATPDT_QUEUE_QUEUE_SIZE", "256")
	t.Setenv("CHATPDT_QUEUE_ENQUEUE_TIMEOUT", "250ms")
	t.Setenv("CHATPDT_QUEUE_MAX_ATTEMPTS", "2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Shards != 8 || cfg.QueueSize != 256 {
		t.Fatalf("unexpected Shards/QueueSize: %+v", cfg)
	}
	if cfg.EnqueueTimeout != 250*time.Millisecond || cfg.MaxAttempts != 2 {
		t.Fatalf("unexpected timeout/attempts: %+v", cfg)
	}
	if cfg.BaseBackoff != 100*time.Millisecond || cfg.MaxInterval != 5*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestQueueFullError_ErrorAndIs(t *testing.T) {
	e := &QueueFullError{Shard: 3, Length: 10, Capacity: 16}
	if e.Error() == "" {
		t.Fatal("empty error string")
	}
	if !errors.Is(e, ErrQueueFull) || errors.Is(e, ErrExecutorClosed) {
		t.Fatal("unexpected errors.Is result")
	}
}
