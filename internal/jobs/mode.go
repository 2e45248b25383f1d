package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultProbeTimeout bounds the startup liveness probe.
const DefaultProbeTimeout = 2 * time.Second

// Mode is the execution mode chosen once per process.
type Mode int

const (
	ModeInline Mode = iota
	ModeQueued
)

func (m Mode) String() string {
	if m == ModeQueued {
		return "queued"
	}
	return "inline"
}

// ProcessingMode is the label written into job results.
func (m Mode) ProcessingMode() string {
	if m == ModeQueued {
		return "async"
	}
	return "sync"
}

// Pinger is a liveness probe against the durable backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger probes a go-redis client.
func RedisPinger(rdb *redis.Client) Pinger {
	return PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}

// SelectMode returns ModeQueued only if p answers within timeout. Errors,
// panics and timeouts all select ModeInline. The call never blocks longer
// than timeout, even if p ignores its context.
func SelectMode(ctx context.Context, p Pinger, timeout time.Duration) Mode {
	if p == nil {
		return ModeInline
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		errCh <- p.Ping(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Warn("durable backend unavailable, using inline mode", "error", err)
			return ModeInline
		}
		slog.Info("durable backend reachable, using queued mode")
		return ModeQueued
	case <-ctx.Done():
		slog.Warn("durable backend probe timed out, using inline mode", "timeout", timeout)
		return ModeInline
	}
}

// OpenRedis parses url and returns a client whose dial timeout matches the
// probe timeout. It does not contact the server.
func OpenRedis(url string, dialTimeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
	}
	return redis.NewClient(opts), nil
}
