package ws

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat pings every connection each Interval and drops connections
// with no frame received within Interval + Timeout. It exits when the hub
// shuts down.
func startHeartbeat(h *Hub, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				checkConnections(h, config, time.Now())
			}
		}
	}()
}

func checkConnections(h *Hub, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range h.conns.All() {
		if idle := now.Sub(c.LastActive()); idle > deadline {
			h.lp.LogWsEvent(c.SessionID, fmt.Sprintf("heartbeat timeout conn=%s idle=%s", c.ID, idle.Round(time.Second)), log.InfoLevel)
			h.remove(c)
			continue
		}
		if err := c.WritePing(); err != nil {
			h.lp.LogWsEvent(c.SessionID, fmt.Sprintf("heartbeat ping failed conn=%s: %v", c.ID, err), log.DebugLevel)
			h.remove(c)
		}
	}
}
