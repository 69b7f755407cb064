package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func redisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client, _ := redisClient(t)
	ctx := context.Background()

	first := NewRedisLock(client, "perform", time.Minute)
	second := NewRedisLock(client, "perform", time.Minute)

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second holder acquired a held lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatal(err)
	}
	ok, _ = second.Acquire(ctx)
	if !ok {
		t.Error("lock not acquirable after release")
	}
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	client, mr := redisClient(t)
	ctx := context.Background()

	holder := NewRedisLock(client, "perform", time.Minute)
	if ok, _ := holder.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	// A stale instance whose lock already expired and was re-taken must
	// not release the current holder's lock.
	stale := NewRedisLock(client, "perform", time.Minute)
	if err := stale.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("lock:perform") {
		t.Error("non-owner release deleted the lock")
	}
}

func TestRedisLockExpires(t *testing.T) {
	client, mr := redisClient(t)
	ctx := context.Background()

	first := NewRedisLock(client, "perform", time.Second)
	if ok, _ := first.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	mr.FastForward(2 * time.Second)

	second := NewRedisLock(client, "perform", time.Second)
	ok, err := second.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expired lock not acquirable")
	}
}

func TestNewPicksBackend(t *testing.T) {
	client, _ := redisClient(t)

	if _, ok := New(client, nil, "k", time.Minute).(*RedisLock); !ok {
		t.Error("Redis client available, expected RedisLock")
	}
	if _, ok := New(nil, nil, "k", time.Minute).(*PGAdvisoryLock); !ok {
		t.Error("no Redis client, expected PGAdvisoryLock")
	}
}
