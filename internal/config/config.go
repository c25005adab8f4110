// Package config loads sessiontag settings from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/archdash/sessiontag/internal/tagger"
)

// Config is the full set of tunables for both binaries.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Marker    MarkerConfig    `yaml:"marker"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	NATS      NATSConfig      `yaml:"nats"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Websocket WebsocketConfig `yaml:"websocket"`
}

type ServerConfig struct {
	ListenAddr        string        `yaml:"listenAddr"`
	Name              string        `yaml:"name"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

type MarkerConfig struct {
	Key             string   `yaml:"key"`
	ExcludePrefixes []string `yaml:"excludePrefixes"`
}

type RedisConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	SessionTTL time.Duration `yaml:"sessionTTL"` // idle housekeeping TTL for session records
}

type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

// NATSConfig leaves URL empty to disable event publishing.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type WebsocketConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeatTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
}

// Default returns a Config with production defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:        ":8050",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Marker: MarkerConfig{
			Key:             tagger.DefaultKey,
			ExcludePrefixes: []string{"/assets/", "/api/", "/ws", "/metrics", "/health", "/favicon.ico"},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			SessionTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Limit:   30,
			Window:  time.Minute,
		},
		NATS: NATSConfig{
			Name: "sessiontag",
		},
		Websocket: WebsocketConfig{
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
	}
}

// Load starts from Default, overlays the YAML file at path (skipped when path
// is empty), applies environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production and a map in tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("SERVER_NAME", &c.Server.Name)
	str("SID_KEY", &c.Marker.Key)
	boolean("REDIS_ENABLED", &c.Redis.Enabled)
	str("REDIS_ADDR", &c.Redis.Addr)
	duration("SESSION_TTL", &c.Redis.SessionTTL)
	boolean("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	integer("RATE_LIMIT", &c.RateLimit.Limit)
	duration("RATE_LIMIT_WINDOW", &c.RateLimit.Window)
	str("NATS_URL", &c.NATS.URL)
	str("POSTGRES_DSN", &c.Postgres.DSN)

	return errors.Join(errs...)
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("config: server.listenAddr must not be empty")
	}
	if c.Marker.Key == "" {
		return errors.New("config: marker.key must not be empty")
	}
	if strings.ContainsAny(c.Marker.Key, "&=#? ") {
		return fmt.Errorf("config: marker.key %q contains reserved characters", c.Marker.Key)
	}
	if len(c.Marker.ExcludePrefixes) == 0 {
		return errors.New("config: marker.excludePrefixes must not be empty")
	}
	for _, p := range c.Marker.ExcludePrefixes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("config: marker.excludePrefixes entry %q must start with /", p)
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("config: redis.addr is required when redis is enabled")
	}
	if c.RateLimit.Enabled {
		if !c.Redis.Enabled {
			return errors.New("config: rateLimit requires redis")
		}
		if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
			return errors.New("config: rateLimit.limit and rateLimit.window must be positive")
		}
	}
	if c.Redis.SessionTTL < 0 {
		return errors.New("config: redis.sessionTTL must not be negative")
	}
	return nil
}
