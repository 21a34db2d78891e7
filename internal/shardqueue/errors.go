package shardqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutorClosed is returned by Submit after Stop.
	ErrExecutorClosed = errors.New("shardqueue: executor closed")
	// ErrQueueFull is matched by *QueueFullError.
	ErrQueueFull = errors.New("shardqueue: queue full")
)

// QueueFullError reports a shard that stayed full for EnqueueTimeout.
type QueueFullError struct {
	Shard    int
	Length   int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("shardqueue: shard %d full (%d/%d)", e.Shard, e.Length, e.Capacity)
}

// Is lets errors.Is(err, ErrQueueFull) match.
func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }
