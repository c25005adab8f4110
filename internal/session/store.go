package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "sessiontag:session:"

	// DefaultSessionTTL is the idle time after which a record is dropped. The
	// marker in the tab stays valid; the next request recreates the record.
	DefaultSessionTTL = 24 * time.Hour
)

// ErrNotFound is returned when no record exists for a sid.
var ErrNotFound = errors.New("session: not found")

// Session is the server-side record of a tab's session marker.
type Session struct {
	ID         string `redis:"id" json:"id"`
	Server     string `redis:"server" json:"server"`          // instance that first saw the sid
	FirstPath  string `redis:"first_path" json:"first_path"`  // path of the first tagged request
	UserAgent  string `redis:"user_agent" json:"user_agent"`  // user agent of the first request
	CreatedAt  int64  `redis:"created_at" json:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active" json:"last_active"` // unix timestamp
	Hits       int64  `redis:"hits" json:"hits"`
}

// Meta describes the request that touched a session.
type Meta struct {
	Path      string
	UserAgent string
}

// Store persists session records.
type Store interface {
	// Touch records a request for sid, creating the record on first sight.
	// created reports whether this call created it.
	Touch(ctx context.Context, sid string, meta Meta) (s *Session, created bool, err error)
	Get(ctx context.Context, sid string) (*Session, error)
	Delete(ctx context.Context, sid string) error
	Close() error
}

// RedisStore keeps session records as Redis hashes.
type RedisStore struct {
	client     *redis.Client
	serverName string
	ttl        time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisAddr, serverName string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewRedisStoreWithClient(client, serverName, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client. A ttl of zero keeps
// records until deleted.
func NewRedisStoreWithClient(client *redis.Client, serverName string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, serverName: serverName, ttl: ttl}
}

// Touch creates the record if missing, bumps hits and last_active, and
// refreshes the TTL, all in one MULTI/EXEC.
func (s *RedisStore) Touch(ctx context.Context, sid string, meta Meta) (*Session, bool, error) {
	key := SessionPrefix + sid
	now := time.Now().Unix()

	var (
		createdCmd *redis.BoolCmd
		getCmd     *redis.MapStringStringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		createdCmd = pipe.HSetNX(ctx, key, "id", sid)
		pipe.HSetNX(ctx, key, "server", s.serverName)
		pipe.HSetNX(ctx, key, "first_path", meta.Path)
		pipe.HSetNX(ctx, key, "user_agent", meta.UserAgent)
		pipe.HSetNX(ctx, key, "created_at", now)
		pipe.HSet(ctx, key, "last_active", now)
		pipe.HIncrBy(ctx, key, "hits", 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		getCmd = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("session: touch %s: %w", sid, err)
	}

	var session Session
	if err := getCmd.Scan(&session); err != nil {
		return nil, false, fmt.Errorf("session: scan %s: %w", sid, err)
	}
	return &session, createdCmd.Val(), nil
}

// Get retrieves a session record. Returns ErrNotFound if absent.
func (s *RedisStore) Get(ctx context.Context, sid string) (*Session, error) {
	key := SessionPrefix + sid
	var session Session
	if err := s.client.HGetAll(ctx, key).Scan(&session); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sid, err)
	}
	if session.ID == "" {
		return nil, ErrNotFound
	}
	return &session, nil
}

// Delete removes a session record.
func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	return s.client.Del(ctx, SessionPrefix+sid).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
