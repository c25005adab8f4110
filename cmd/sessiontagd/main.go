package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/config"
	"github.com/archdash/sessiontag/internal/httpserver"
	"github.com/archdash/sessiontag/internal/logging"
	"github.com/archdash/sessiontag/internal/messaging"
	"github.com/archdash/sessiontag/internal/ratelimit"
	"github.com/archdash/sessiontag/internal/session"
	"github.com/archdash/sessiontag/internal/tagger"
	"github.com/archdash/sessiontag/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("SESSIONTAG_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	serverName := cfg.Server.Name
	if serverName == "" {
		serverName, _ = os.Hostname()
	}
	if serverName == "" {
		serverName = "sessiontag-1"
	}
	lp := &logging.LogProvider{Server: serverName}

	// --- Session store ---
	var store session.Store
	var limiter *ratelimit.Limiter
	if cfg.Redis.Enabled {
		redisStore, err := session.NewRedisStore(cfg.Redis.Addr, serverName, cfg.Redis.SessionTTL)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		store = redisStore
		if cfg.RateLimit.Enabled {
			limiter = ratelimit.NewLimiter(redisStore.Client())
		}
	} else {
		store = session.NewMemoryStore(serverName, cfg.Redis.SessionTTL)
	}

	// --- NATS ---
	var events httpserver.EventPublisher
	var natsClient *messaging.NATSClient
	if cfg.NATS.URL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATS.URL
		natsConfig.Name = cfg.NATS.Name
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		events = natsClient
	}

	wsConfig := ws.DefaultConfig()
	wsConfig.WriteTimeout = cfg.Websocket.WriteTimeout
	wsConfig.Heartbeat.Interval = cfg.Websocket.HeartbeatInterval
	wsConfig.Heartbeat.Timeout = cfg.Websocket.HeartbeatTimeout

	server := httpserver.New(httpserver.Config{
		ListenAddr:        cfg.Server.ListenAddr,
		ServerName:        serverName,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ExcludePrefixes:   cfg.Marker.ExcludePrefixes,
		Tagger:            tagger.New(tagger.WithKey(cfg.Marker.Key)),
		Store:             store,
		Limiter:           limiter,
		MintRule: ratelimit.Rule{
			Key:    ratelimit.RuleMint.Key,
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window,
		},
		Events:    events,
		Websocket: wsConfig,
	})

	lp.LogConfigEvent("sessiontagd starting", log.InfoLevel)
	lp.LogConfigEvent("  listen_addr:  "+cfg.Server.ListenAddr, log.InfoLevel)
	lp.LogConfigEvent("  marker_key:   "+cfg.Marker.Key, log.InfoLevel)
	lp.LogConfigEvent("  redis:        "+enabled(cfg.Redis.Enabled, cfg.Redis.Addr), log.InfoLevel)
	lp.LogConfigEvent("  rate_limit:   "+enabled(limiter != nil, ""), log.InfoLevel)
	lp.LogConfigEvent("  nats_url:     "+enabled(natsClient != nil, cfg.NATS.URL), log.InfoLevel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lp.LogHttpEvent("received "+sig.String()+", shutting down", log.InfoLevel)
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		lp.LogHttpEvent("shutdown: "+err.Error(), log.WarnLevel)
	}
	if natsClient != nil {
		natsClient.Close()
	}
	lp.LogHttpEvent("shutdown complete", log.InfoLevel)
}

func enabled(on bool, detail string) string {
	if !on {
		return "disabled"
	}
	if detail == "" {
		return "enabled"
	}
	return detail
}
