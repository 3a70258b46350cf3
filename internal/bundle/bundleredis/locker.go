// Package bundleredis claims bundle jobs in Redis so a job runs on one worker instance at a time.
package bundleredis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/k11v/airgap/internal/bundle"
)

// DefaultTTL is how long a claim outlives its last refresh.
const DefaultTTL = time.Minute

// releaseScript deletes the claim only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the claim only if it still belongs to the caller.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ bundle.Locker = (*Locker)(nil)

type Locker struct {
	client redis.Cmdable // required
	ttl    time.Duration
}

// NewLocker creates a Locker whose claims expire after ttl, or DefaultTTL if ttl isn't positive.
// A held claim is kept alive until released, so the expiry only bounds how long a crashed
// worker blocks a job.
func NewLocker(client redis.Cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{client: client, ttl: ttl}
}

func Key(jobID uuid.UUID) string {
	return "airgap:job:" + jobID.String()
}

// Acquire implements bundle.Locker.
func (l *Locker) Acquire(ctx context.Context, jobID uuid.UUID) (func(context.Context) error, error) {
	key := Key(jobID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, bundle.ErrLocked
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.heartbeat(heartbeatCtx, key, token)
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			stopHeartbeat()
			<-done
			if runErr := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); runErr != nil {
				err = fmt.Errorf("release %s: %w", key, runErr)
			}
		})
		return err
	}
	return release, nil
}

// heartbeat refreshes the claim until ctx is done or the claim is lost.
func (l *Locker) heartbeat(ctx context.Context, key, token string) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		refreshed, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, redis.ErrClosed) {
			return
		}
		if err != nil {
			slog.Default().Warn("didn't refresh job claim", "key", key, "error", err)
			continue
		}
		if refreshed == 0 {
			slog.Default().Warn("lost job claim", "key", key)
			return
		}
	}
}
