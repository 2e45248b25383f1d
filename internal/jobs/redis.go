package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "facre:job:"

// RedisStore is the durable Store. Each job is a JSON document under
// facre:job:<id>; retention is delegated to Redis key expiry.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func jobKey(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("reading job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return job, nil
}

// Set writes the record and keeps any expiry already set on the key.
func (s *RedisStore) Set(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("writing job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Expire(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		if err := s.rdb.Persist(ctx, jobKey(id)).Err(); err != nil {
			return fmt.Errorf("persisting job %s: %w", id, err)
		}
		return nil
	}
	ok, err := s.rdb.Expire(ctx, jobKey(id), ttl).Result()
	if err != nil {
		return fmt.Errorf("expiring job %s: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
