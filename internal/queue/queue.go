// Package queue is the durable work queue used in queued mode: a Redis list
// of JSON task descriptions plus a polling worker pool that drains it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultKey is the Redis list that holds pending tasks.
const DefaultKey = "facre:tasks"

// Task describes one submitted job: where its transient input lives.
type Task struct {
	ID         string    `json:"id"`
	FilePath   string    `json:"file_path"`
	Filename   string    `json:"filename"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DecodeError reports a popped payload that is not a valid task. Path is the
// transient file it referenced, when that much could be recovered.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string { return "decoding task: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// Queue is a FIFO of tasks: LPUSH on enqueue, RPOP on dequeue.
type Queue struct {
	rdb *redis.Client
	key string
}

// New returns a Queue on the given list key. An empty key uses DefaultKey.
func New(rdb *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{rdb: rdb, key: key}
}

// Enqueue pushes t and returns its id. The queue assigns an id when t has none.
func (q *Queue) Enqueue(ctx context.Context, t Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encoding task: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return "", fmt.Errorf("pushing task: %w", err)
	}
	return t.ID, nil
}

// Dequeue pops the oldest task. It returns (nil, nil) when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	data, err := q.rdb.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("popping task: %w", err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		de := &DecodeError{Err: err}
		var loose map[string]any
		if json.Unmarshal(data, &loose) == nil {
			de.Path, _ = loose["file_path"].(string)
		}
		return nil, de
	}
	return &t, nil
}

// Len returns the number of tasks waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue length: %w", err)
	}
	return n, nil
}
