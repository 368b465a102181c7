// Package redislock implements creatorauth.Locker on Redis so token refreshes
// are serialized across server instances.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultPrefix        = "creatorauth:lock:"
)

// Only the holder's token may release the key.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var unlockLua = redis.NewScript(unlockScript)

// Locker is a lease-based distributed mutex. A holder that dies releases the
// key once TTL elapses.
type Locker struct {
	Client        *redis.Client
	TTL           time.Duration
	RetryInterval time.Duration
	Prefix        string
	Logger        *slog.Logger
}

func New(client *redis.Client) *Locker {
	return &Locker{
		Client:        client,
		TTL:           DefaultTTL,
		RetryInterval: DefaultRetryInterval,
		Prefix:        DefaultPrefix,
	}
}

func (l *Locker) ttl() time.Duration {
	if l.TTL <= 0 {
		return DefaultTTL
	}
	return l.TTL
}

func (l *Locker) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Locker) retryInterval() time.Duration {
	if l.RetryInterval <= 0 {
		return DefaultRetryInterval
	}
	return l.RetryInterval
}

// Lock blocks until the key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval())
	defer ticker.Stop()
	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, l.ttl()).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Release even if the caller's context was cancelled meanwhile.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockLua.Run(unlockCtx, l.Client, []string{redisKey}, token).Err(); err != nil {
			// the lease still lapses after TTL
			l.logger().Warn("failed to release lock", "key", redisKey, "error", err)
		}
	}, nil
}
