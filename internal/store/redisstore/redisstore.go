// Package redisstore implements store.SnapshotStore and
// store.IdempotencyStore over Redis, grounded in control_plane/store/
// redis.go's client wrapper and redis_idempotency.go's SETNX-with-TTL
// pattern for claiming a key exactly once.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

const (
	taskKeyPrefix     = "fluxsched:task:"
	resultKeyPrefix   = "fluxsched:result:"
	pendingSetKey     = "fluxsched:pending"
	idempotencyPrefix = "fluxsched:idempotency:"
)

// Store implements store.SnapshotStore and store.IdempotencyStore using a
// single Redis client.
type Store struct {
	client *redis.Client
}

// New dials addr and verifies connectivity, mirroring NewRedisStore's
// ping-on-construct check.
func New(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// SaveTask stores the task payload and adds it to the pending set.
func (s *Store) SaveTask(ctx context.Context, task *taskmodel.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+task.ID, data, 0)
	pipe.SAdd(ctx, pendingSetKey, task.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// SaveResult stores the result and removes the task from the pending set,
// per spec.md §6: a completed task is no longer pending on reload.
func (s *Store) SaveResult(ctx context.Context, result *taskmodel.TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, resultKeyPrefix+result.TaskID, data, 0)
	pipe.SRem(ctx, pendingSetKey, result.TaskID)
	_, err = pipe.Exec(ctx)
	return err
}

// LoadPending returns every task still in the pending set.
func (s *Store) LoadPending(ctx context.Context) ([]*taskmodel.Task, error) {
	ids, err := s.client.SMembers(ctx, pendingSetKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKeyPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*taskmodel.Task, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue // task key expired or was never written; skip it
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t taskmodel.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// Reserve implements store.IdempotencyStore via SET key value NX EX ttl,
// the same primitive as the teacher's RedisStore.AcquireLock.
func (s *Store) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, idempotencyPrefix+key, "1", ttl).Result()
}
