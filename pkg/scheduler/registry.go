package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// handleKeyPrefix namespaces worker handles in the shared key-value index.
const handleKeyPrefix = "agent_handle:"

// HandleRegistry publishes worker handles into a shared key-value index so
// session controllers (and operators) can observe the fleet. Entries are
// advisory: stale ones are tolerated and recreated on demand.
type HandleRegistry interface {
	Register(ctx context.Context, toolID, blockID string) error
	Deregister(ctx context.Context, toolID string) error
	Count(ctx context.Context) (int64, error)
}

// RedisRegistry stores handles under agent_handle:{run_id}-{tool_id} keys.
type RedisRegistry struct {
	rdb   *redis.Client
	runID string
}

// NewRedisRegistry connects the registry at addr for the given run.
func NewRedisRegistry(addr, runID string) *RedisRegistry {
	return &RedisRegistry{
		rdb:   redis.NewClient(&redis.Options{Addr: addr}),
		runID: runID,
	}
}

func (r *RedisRegistry) key(toolID string) string {
	return fmt.Sprintf("%s%s-%s", handleKeyPrefix, r.runID, toolID)
}

// Register publishes the block hosting a tool's worker.
func (r *RedisRegistry) Register(ctx context.Context, toolID, blockID string) error {
	return r.rdb.Set(ctx, r.key(toolID), blockID, 0).Err()
}

// Deregister removes a tool's handle.
func (r *RedisRegistry) Deregister(ctx context.Context, toolID string) error {
	return r.rdb.Del(ctx, r.key(toolID)).Err()
}

// Count reports the number of registered handles across all runs.
func (r *RedisRegistry) Count(ctx context.Context) (int64, error) {
	var count int64
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, handleKeyPrefix+"*", 256).Result()
		if err != nil {
			return 0, err
		}
		count += int64(len(keys))
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

// Close releases the redis connection.
func (r *RedisRegistry) Close() error {
	return r.rdb.Close()
}

// NoopRegistry is used when no key-value index is deployed (tests, local
// single-node runs).
type NoopRegistry struct{}

func (NoopRegistry) Register(ctx context.Context, toolID, blockID string) error { return nil }
func (NoopRegistry) Deregister(ctx context.Context, toolID string) error        { return nil }
func (NoopRegistry) Count(ctx context.Context) (int64, error)                   { return 0, nil }

// logRegistryErr downgrades registry faults to warnings; the registry is
// observability surface, not a correctness dependency.
func logRegistryErr(op string, err error) {
	if err != nil {
		slog.Warn("handle registry operation failed", "op", op, "error", err)
	}
}

var (
	_ HandleRegistry = (*RedisRegistry)(nil)
	_ HandleRegistry = NoopRegistry{}
)
