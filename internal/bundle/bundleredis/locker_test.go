package bundleredis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/k11v/airgap/internal/bundle"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, ttl), mr
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	jobID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")

	t.Run("claims a job once", func(t *testing.T) {
		locker, _ := newTestLocker(t, time.Minute)

		release, err := locker.Acquire(ctx, jobID)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if _, err = locker.Acquire(ctx, jobID); !errors.Is(err, bundle.ErrLocked) {
			t.Fatalf("got %v, want %v", err, bundle.ErrLocked)
		}

		if err = release(ctx); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if _, err = locker.Acquire(ctx, jobID); err != nil {
			t.Fatalf("didn't want %q", err)
		}
	})

	t.Run("sets the claim expiry", func(t *testing.T) {
		locker, mr := newTestLocker(t, time.Minute)

		if _, err := locker.Acquire(ctx, jobID); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := mr.TTL(Key(jobID)), time.Minute; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	})

	t.Run("frees an expired claim", func(t *testing.T) {
		locker, mr := newTestLocker(t, time.Minute)

		if _, err := locker.Acquire(ctx, jobID); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		mr.FastForward(2 * time.Minute)
		if _, err := locker.Acquire(ctx, jobID); err != nil {
			t.Fatalf("didn't want %q", err)
		}
	})

	t.Run("doesn't release a claim taken over after expiry", func(t *testing.T) {
		locker, mr := newTestLocker(t, time.Minute)

		staleRelease, err := locker.Acquire(ctx, jobID)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		mr.FastForward(2 * time.Minute)
		if _, err = locker.Acquire(ctx, jobID); err != nil {
			t.Fatalf("didn't want %q", err)
		}

		if err = staleRelease(ctx); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if !mr.Exists(Key(jobID)) {
			t.Fatalf("got released claim, want it kept")
		}
	})

	t.Run("uses the default expiry", func(t *testing.T) {
		locker, mr := newTestLocker(t, 0)

		if _, err := locker.Acquire(ctx, jobID); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := mr.TTL(Key(jobID)), DefaultTTL; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	})

	t.Run("keeps a held claim alive", func(t *testing.T) {
		ttl := 150 * time.Millisecond
		locker, mr := newTestLocker(t, ttl)

		release, err := locker.Acquire(ctx, jobID)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		mr.FastForward(120 * time.Millisecond)
		time.Sleep(3 * ttl / 2)

		if !mr.Exists(Key(jobID)) {
			t.Fatalf("got expired claim, want it refreshed")
		}
		if got := mr.TTL(Key(jobID)); got <= 30*time.Millisecond {
			t.Fatalf("got ttl %v, want it refreshed to about %v", got, ttl)
		}

		if err = release(ctx); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if mr.Exists(Key(jobID)) {
			t.Fatalf("got claim after release, want none")
		}
	})

	t.Run("releases once", func(t *testing.T) {
		locker, _ := newTestLocker(t, time.Minute)

		release, err := locker.Acquire(ctx, jobID)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if err = release(ctx); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if err = release(ctx); err != nil {
			t.Fatalf("didn't want %q", err)
		}
	})
}
