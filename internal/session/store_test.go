package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedisStore creates a RedisStore connected to a local Redis instance
// and removes all test keys before and after the test. Tests that call this
// helper require a running Redis on localhost:6379.
func newTestRedisStore(t *testing.T, ttl time.Duration) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, SessionPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewRedisStoreWithClient(client, "test-server", ttl)
}

func TestRedisStore_TouchCreatesThenUpdates(t *testing.T) {
	store := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	s, created, err := store.Touch(ctx, "test_touch", Meta{Path: "/first", UserAgent: "ua-1"})
	if err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first touch")
	}
	if s.ID != "test_touch" || s.Server != "test-server" || s.FirstPath != "/first" || s.Hits != 1 {
		t.Fatalf("unexpected record after first touch: %+v", s)
	}

	s, created, err = store.Touch(ctx, "test_touch", Meta{Path: "/second", UserAgent: "ua-2"})
	if err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	if created {
		t.Error("expected created=false on second touch")
	}
	if s.FirstPath != "/first" || s.UserAgent != "ua-1" {
		t.Errorf("first-seen fields must not change, got %+v", s)
	}
	if s.Hits != 2 {
		t.Errorf("expected hits=2, got %d", s.Hits)
	}

	ttl, err := store.Client().TTL(ctx, SessionPrefix+"test_touch").Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl in (0,1m], got %s", ttl)
	}
}

func TestRedisStore_GetMissing(t *testing.T) {
	store := newTestRedisStore(t, 0)
	if _, err := store.Get(context.Background(), "test_missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStore_Delete(t *testing.T) {
	store := newTestRedisStore(t, 0)
	ctx := context.Background()

	if _, _, err := store.Touch(ctx, "test_delete", Meta{}); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	if err := store.Delete(ctx, "test_delete"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, "test_delete"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_TouchGetDelete(t *testing.T) {
	store := NewMemoryStore("mem", 0)
	ctx := context.Background()

	s, created, err := store.Touch(ctx, "a", Meta{Path: "/x", UserAgent: "ua"})
	if err != nil || !created {
		t.Fatalf("first Touch: created=%v err=%v", created, err)
	}
	if s.Server != "mem" || s.FirstPath != "/x" || s.Hits != 1 {
		t.Fatalf("unexpected record: %+v", s)
	}

	if _, created, _ = store.Touch(ctx, "a", Meta{Path: "/y"}); created {
		t.Error("second Touch must not create")
	}
	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Hits != 2 || got.FirstPath != "/x" {
		t.Errorf("unexpected record: %+v", got)
	}

	// Returned records are copies.
	got.Hits = 100
	again, _ := store.Get(ctx, "a")
	if again.Hits != 2 {
		t.Errorf("store leaked internal pointer, hits=%d", again.Hits)
	}

	_ = store.Delete(ctx, "a")
	if _, err := store.Get(ctx, "a"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_IdleRecordsLapse(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	store := newMemoryStore("mem", time.Hour, 0, func() time.Time { return clock })
	ctx := context.Background()

	if _, _, err := store.Touch(ctx, "a", Meta{}); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 live record, got %d", store.Len())
	}

	clock = clock.Add(2 * time.Hour)
	if _, err := store.Get(ctx, "a"); err != ErrNotFound {
		t.Fatalf("expected lapsed record, got %v", err)
	}

	// The same sid is simply recreated.
	s, created, _ := store.Touch(ctx, "a", Meta{})
	if !created || s.Hits != 1 {
		t.Errorf("expected fresh record, got created=%v %+v", created, s)
	}
}

func TestMemoryStore_SweepDropsLapsedRecords(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	store := newMemoryStore("mem", time.Hour, 0, func() time.Time { return clock })
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if _, _, err := store.Touch(ctx, fmt.Sprintf("old-%d", i), Meta{}); err != nil {
			t.Fatal(err)
		}
	}

	clock = clock.Add(2 * time.Hour)
	if _, _, err := store.Touch(ctx, "fresh", Meta{}); err != nil {
		t.Fatal(err)
	}

	if removed := store.sweep(); removed != 50 {
		t.Errorf("expected 50 records swept, got %d", removed)
	}
	if n := len(store.sessions); n != 1 {
		t.Fatalf("expected only the fresh record to remain, got %d", n)
	}
	if _, ok := store.sessions["fresh"]; !ok {
		t.Error("fresh record was swept")
	}
}

func TestMemoryStore_JanitorSweepsUntilClosed(t *testing.T) {
	var clock atomic.Int64
	clock.Store(time.Unix(1_700_000_000, 0).UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()) }

	store := newMemoryStore("mem", time.Minute, 5*time.Millisecond, now)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, _, err := store.Touch(ctx, fmt.Sprintf("s-%d", i), Meta{}); err != nil {
			t.Fatal(err)
		}
	}
	clock.Add(int64(2 * time.Minute))

	size := func() int {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.sessions)
	}
	deadline := time.Now().Add(2 * time.Second)
	for size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not sweep, %d records left", size())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestSweepInterval(t *testing.T) {
	cases := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{0, 0},
		{time.Second, minSweepInterval},
		{30 * time.Second, 15 * time.Second},
		{24 * time.Hour, maxSweepInterval},
	}
	for _, c := range cases {
		if got := sweepInterval(c.ttl); got != c.want {
			t.Errorf("sweepInterval(%v) = %v, want %v", c.ttl, got, c.want)
		}
	}
}
