// Package messaging provides a NATS client wrapper for announcing session
// markers minted by sessiontag servers. It handles connection lifecycle,
// subscriptions, and the JSON encoding of tagged events.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/logging"
)

// SubjectTagged carries a TaggedEvent for every newly minted marker.
const SubjectTagged = "session.tagged"

// TaggedEvent describes one minted session marker.
type TaggedEvent struct {
	SID       string `json:"sid"`
	Path      string `json:"path"`
	Server    string `json:"server"`
	RemoteIP  string `json:"remote_ip"`
	UserAgent string `json:"user_agent"`
	Ts        int64  `json:"ts"` // unix milliseconds
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	lp   *logging.LogProvider
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "sessiontag",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	lp := &logging.LogProvider{}
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				lp.LogMessagingEvent(fmt.Sprintf("disconnected: %v", err), log.WarnLevel)
			} else {
				lp.LogMessagingEvent("disconnected", log.InfoLevel)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			lp.LogMessagingEvent("reconnected to "+nc.ConnectedUrl(), log.InfoLevel)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			lp.LogMessagingEvent("connection closed", log.InfoLevel)
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	lp.LogMessagingEvent("connected to "+nc.ConnectedUrl(), log.InfoLevel)

	return &NATSClient{
		conn: nc,
		lp:   lp,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishTagged encodes ev and publishes it on SubjectTagged.
func (c *NATSClient) PublishTagged(ev TaggedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal tagged event: %w", err)
	}
	return c.Publish(SubjectTagged, data)
}

// SubscribeTagged decodes every event on SubjectTagged and passes it to
// handler. Undecodable payloads are logged and dropped.
func (c *NATSClient) SubscribeTagged(handler func(ev TaggedEvent)) error {
	return c.Subscribe(SubjectTagged, func(msg *nats.Msg) {
		ev, err := DecodeTagged(msg.Data)
		if err != nil {
			c.lp.LogMessagingEvent(err.Error(), log.WarnLevel)
			return
		}
		handler(ev)
	})
}

// UnsubscribeTagged removes the SubjectTagged subscription.
func (c *NATSClient) UnsubscribeTagged() error {
	return c.unsubscribe(SubjectTagged)
}

// DecodeTagged parses a TaggedEvent payload. Events without a sid are rejected.
func DecodeTagged(data []byte) (TaggedEvent, error) {
	var ev TaggedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return TaggedEvent{}, fmt.Errorf("nats: decode tagged event: %w", err)
	}
	if ev.SID == "" {
		return TaggedEvent{}, fmt.Errorf("nats: tagged event without sid")
	}
	return ev, nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.lp.LogMessagingEvent(fmt.Sprintf("drain %s: %v", subject, err), log.WarnLevel)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.lp.LogMessagingEvent(fmt.Sprintf("connection drain: %v", err), log.WarnLevel)
	}

	c.lp.LogMessagingEvent("client closed", log.InfoLevel)
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
