package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/audit"
	"github.com/archdash/sessiontag/internal/config"
	"github.com/archdash/sessiontag/internal/logging"
	"github.com/archdash/sessiontag/internal/messaging"
)

const statsInterval = time.Minute

func main() {
	configPath := flag.String("config", os.Getenv("SESSIONTAG_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Postgres.DSN == "" {
		log.Fatalf("auditor requires postgres.dsn (POSTGRES_DSN)")
	}
	if cfg.NATS.URL == "" {
		log.Fatalf("auditor requires nats.url (NATS_URL)")
	}
	lp := &logging.LogProvider{Server: cfg.Server.Name}

	// --- PostgreSQL ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := audit.Open(ctx, cfg.Postgres.DSN)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	if err := audit.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	lp.LogAuditEvent("migrations applied", log.InfoLevel)

	store := audit.NewStore(db)
	consumer := audit.NewConsumer(store)

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = cfg.NATS.Name + "-auditor"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	if err := natsClient.SubscribeTagged(consumer.Handle); err != nil {
		log.Fatalf("failed to subscribe to %s: %v", messaging.SubjectTagged, err)
	}
	lp.LogAuditEvent("auditor listening on "+messaging.SubjectTagged, log.InfoLevel)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			lp.LogAuditEvent("received "+sig.String()+", shutting down", log.InfoLevel)
			natsClient.Close()
			return
		case <-ticker.C:
			recorded, duplicates, failed := consumer.Stats()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			lastHour, err := store.CountSince(ctx, time.Hour)
			cancel()
			if err != nil {
				lp.LogAuditEvent("count failed: "+err.Error(), log.WarnLevel)
				continue
			}
			lp.LogAuditEvent(fmt.Sprintf("recorded=%d duplicates=%d failed=%d last_hour=%d",
				recorded, duplicates, failed, lastHour), log.InfoLevel)
		}
	}
}
