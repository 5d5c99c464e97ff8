// Package lock provides the cluster-wide task lock guarding background
// sweeps, so each sweep runs at most once per interval across service
// instances.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds our token,
// so an instance cannot release a lock that expired and was re-acquired
// elsewhere.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TaskLock is a TTL-bound distributed lock keyed by task name.
type TaskLock struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	tokens map[string]string
}

// NewTaskLock creates a lock manager over the given Redis client.
func NewTaskLock(client *redis.Client, logger *slog.Logger) *TaskLock {
	return &TaskLock{
		client: client,
		logger: logger,
		tokens: make(map[string]string),
	}
}

func lockKey(task string) string {
	return "lock:task:" + task
}

// TryAcquire attempts to take the lock for task without blocking. The lock
// expires after ttl even if never released, so a crashed holder cannot
// wedge the sweeps.
func (l *TaskLock) TryAcquire(ctx context.Context, task string, ttl time.Duration) (bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, lockKey(task), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", task, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[task] = token
	l.mu.Unlock()

	l.logger.Debug("Acquired task lock",
		slog.String("task", task),
		slog.Duration("ttl", ttl),
	)
	return true, nil
}

// Release drops the lock for task if this instance still holds it.
func (l *TaskLock) Release(ctx context.Context, task string) error {
	l.mu.Lock()
	token, ok := l.tokens[task]
	delete(l.tokens, task)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{lockKey(task)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", task, err)
	}
	return nil
}
