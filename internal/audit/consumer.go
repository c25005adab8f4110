package audit

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/logging"
	"github.com/archdash/sessiontag/internal/messaging"
)

type recorder interface {
	Record(ctx context.Context, ev messaging.TaggedEvent) (bool, error)
}

// Consumer writes tagged events delivered by the message bus into the store.
// Redelivered events for a known sid are counted as duplicates.
type Consumer struct {
	rec     recorder
	lp      *logging.LogProvider
	timeout time.Duration

	recorded   atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// NewConsumer returns a Consumer recording into store.
func NewConsumer(store *Store) *Consumer {
	return newConsumer(store)
}

func newConsumer(rec recorder) *Consumer {
	return &Consumer{
		rec:     rec,
		lp:      &logging.LogProvider{},
		timeout: 5 * time.Second,
	}
}

// Handle records one event. It matches the messaging.SubscribeTagged handler
// signature.
func (c *Consumer) Handle(ev messaging.TaggedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	inserted, err := c.rec.Record(ctx, ev)
	switch {
	case err != nil:
		c.failed.Add(1)
		c.lp.LogAuditEvent("record sid="+ev.SID+" failed: "+err.Error(), log.WarnLevel)
	case inserted:
		c.recorded.Add(1)
		c.lp.LogAuditEvent("recorded sid="+ev.SID+" path="+ev.Path, log.DebugLevel)
	default:
		c.duplicates.Add(1)
		c.lp.LogAuditEvent("duplicate sid="+ev.SID, log.DebugLevel)
	}
}

// Stats returns counters since the consumer was created.
func (c *Consumer) Stats() (recorded, duplicates, failed int64) {
	return c.recorded.Load(), c.duplicates.Load(), c.failed.Load()
}
