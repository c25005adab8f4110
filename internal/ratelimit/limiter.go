// Package ratelimit provides Redis-backed rate limiting using INCR + EXPIRE
// fixed windows. The tagging middleware uses it to throttle how many new
// session markers a single client may mint.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/logging"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "sessiontag:rl:mint:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMint allows 30 new markers per minute per client IP.
var RuleMint = Rule{Key: "sessiontag:rl:mint:", Limit: 30, Window: time.Minute}

// Limiter performs rate limiting checks against Redis. A nil *Limiter allows
// everything.
type Limiter struct {
	client *redis.Client
	lp     *logging.LogProvider
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, lp: &logging.LogProvider{}}
}

// Allow checks whether identifier is within the limit defined by rule. It
// increments the counter and sets the expiry on first access.
//
// On Redis errors the method fails open (returns true) so that a Redis outage
// does not block page loads.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if l == nil {
		return true, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.lp.LogStoreEvent("", "ratelimit INCR failed for "+key+", failing open: "+err.Error(), log.WarnLevel)
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.lp.LogStoreEvent("", "ratelimit EXPIRE failed for "+key+", failing open: "+err.Error(), log.WarnLevel)
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many requests identifier has left in the current
// window. Returns the full limit if the key does not exist or Redis fails.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil {
		return rule.Limit, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RetryAfter returns how long until the identifier's window resets. Zero
// means unknown or already reset.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	if l == nil {
		return 0
	}
	ttl, err := l.client.TTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}
