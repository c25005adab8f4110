package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

var testRule = Rule{Key: "sessiontag:rl:test:", Limit: 3, Window: 5 * time.Second}

// newTestLimiter requires a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, testRule.Key+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_BlocksAfterLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= testRule.Limit; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1", testRule)
		if err != nil {
			t.Fatalf("Allow() #%d error: %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow() #%d: expected allowed", i)
		}
	}

	ok, err := l.Allow(ctx, "10.0.0.1", testRule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ok {
		t.Fatal("expected request over the limit to be blocked")
	}

	if d := l.RetryAfter(ctx, "10.0.0.1", testRule); d <= 0 || d > testRule.Window {
		t.Errorf("expected RetryAfter in (0,%s], got %s", testRule.Window, d)
	}

	// Other identifiers are unaffected.
	if ok, _ := l.Allow(ctx, "10.0.0.2", testRule); !ok {
		t.Error("expected a different identifier to be allowed")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if n, _ := l.Remaining(ctx, "fresh", testRule); n != testRule.Limit {
		t.Fatalf("expected full limit for unseen identifier, got %d", n)
	}
	l.Allow(ctx, "fresh", testRule)
	if n, _ := l.Remaining(ctx, "fresh", testRule); n != testRule.Limit-1 {
		t.Fatalf("expected %d remaining, got %d", testRule.Limit-1, n)
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	ctx := context.Background()

	ok, err := l.Allow(ctx, "anyone", testRule)
	if !ok || err != nil {
		t.Fatalf("nil limiter: ok=%v err=%v", ok, err)
	}
	if n, _ := l.Remaining(ctx, "anyone", testRule); n != testRule.Limit {
		t.Errorf("expected full limit, got %d", n)
	}
	if d := l.RetryAfter(ctx, "anyone", testRule); d != 0 {
		t.Errorf("expected zero RetryAfter, got %s", d)
	}
}

func TestAllow_FailsOpenWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	l := NewLimiter(client)

	ok, err := l.Allow(context.Background(), "x", testRule)
	if !ok {
		t.Fatal("expected fail-open when redis is unreachable")
	}
	if err == nil {
		t.Error("expected the redis error to be reported")
	}
}
