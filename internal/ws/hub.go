// Package ws serves WebSocket connections bound to a tab's session marker.
// A connection never mints an identifier of its own: it joins the session
// named by the marker in its URL, can read and write that tab's workspace,
// and receives a fresh snapshot whenever the workspace changes.
package ws

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/logging"
	"github.com/archdash/sessiontag/internal/metrics"
	"github.com/archdash/sessiontag/internal/protocol"
	"github.com/archdash/sessiontag/internal/session"
	"github.com/archdash/sessiontag/internal/tagger"
)

// SessionHeader is an alternative to the marker query parameter for clients
// that cannot put it in the URL.
const SessionHeader = "X-Session-ID"

const maxMessageBytes = 64 * 1024

// WorkspaceProvider returns the workspace of a tab, creating it if needed.
type WorkspaceProvider interface {
	Get(sid string) *session.Workspace
}

// Config holds tunable parameters for the hub.
type Config struct {
	Key          string         // marker query parameter, used when Tagger is nil
	Tagger       *tagger.Tagger // reads the marker the same way page requests do
	WriteTimeout time.Duration // per-frame write deadline
	Heartbeat    HeartbeatConfig
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Key:          tagger.DefaultKey,
		WriteTimeout: 10 * time.Second,
		Heartbeat:    DefaultHeartbeatConfig(),
	}
}

// Hub accepts WebSocket upgrades and tracks the resulting connections.
type Hub struct {
	config     Config
	conns      *ConnectionManager
	dispatcher *MessageDispatcher
	workspaces WorkspaceProvider
	lp         *logging.LogProvider

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub and starts its heartbeat.
func NewHub(config Config, workspaces WorkspaceProvider) *Hub {
	if config.Tagger == nil {
		config.Tagger = tagger.New(tagger.WithKey(config.Key))
	}
	config.Key = config.Tagger.Key()
	h := &Hub{
		config:     config,
		conns:      NewConnectionManager(),
		dispatcher: NewMessageDispatcher(),
		workspaces: workspaces,
		lp:         &logging.LogProvider{},
		done:       make(chan struct{}),
	}

	h.dispatcher.Register(protocol.TypeGetState, func(conn *Connection, _ interface{}) {
		h.sendState(conn, h.workspaces.Get(conn.SessionID).Snapshot())
	})
	h.dispatcher.Register(protocol.TypeSetState, func(conn *Connection, msg interface{}) {
		m, ok := msg.(protocol.SetStateMsg)
		if !ok {
			return
		}
		// The workspace change hook pushes the new snapshot to every
		// connection of this tab, this one included.
		h.workspaces.Get(conn.SessionID).Set(m.Key, m.Value)
	})

	startHeartbeat(h, config.Heartbeat)
	return h
}

// ServeHTTP upgrades the request. The marker is required.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sid, _ := h.config.Tagger.Lookup(r.URL)
	sid = strings.TrimSpace(sid)
	if sid == "" {
		sid = strings.TrimSpace(r.Header.Get(SessionHeader))
	}
	if sid == "" {
		http.Error(w, "missing session marker", http.StatusBadRequest)
		return
	}

	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.lp.LogWsEvent(sid, "upgrade failed: "+err.Error(), log.DebugLevel)
		return
	}

	c := newConnection(uuid.NewString(), sid, netConn, h.config.WriteTimeout)
	h.conns.Add(c)
	metrics.WebsocketConnections.Inc()

	bound, err := protocol.NewServerMessage(protocol.TypeSessionBound, protocol.SessionBoundMsg{SessionID: sid})
	if err == nil {
		err = c.WriteMessage(bound)
	}
	if err != nil {
		h.lp.LogWsEvent(sid, "failed to send session_bound: "+err.Error(), log.DebugLevel)
		h.remove(c)
		return
	}

	h.lp.LogWsEvent(sid, fmt.Sprintf("connection opened conn=%s (total=%d)", c.ID, h.conns.Count()), log.DebugLevel)
	go h.serve(c)
}

// serve reads frames until the connection fails or closes.
func (h *Hub) serve(c *Connection) {
	defer h.remove(c)

	controlHandler := wsutil.ControlFrameHandler(c, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.Conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: controlHandler,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		c.touch()

		if hdr.OpCode.IsControl() {
			if err := controlHandler(hdr, rd); err != nil {
				return
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}
		if hdr.Length > maxMessageBytes {
			return
		}

		data, err := io.ReadAll(io.LimitReader(rd, maxMessageBytes))
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		h.dispatcher.Dispatch(c, data)
	}
}

// PushState sends a state snapshot to every connection of sid and returns
// how many connections received it.
func (h *Hub) PushState(sid string, values map[string]string) int {
	data, err := protocol.NewServerMessage(protocol.TypeState, protocol.StateMsg{Values: values})
	if err != nil {
		h.lp.LogWsEvent(sid, "failed to build state: "+err.Error(), log.WarnLevel)
		return 0
	}
	sent := 0
	for _, c := range h.conns.ForSession(sid) {
		if err := c.WriteMessage(data); err != nil {
			h.remove(c)
			continue
		}
		sent++
	}
	return sent
}

// CloseSession closes every connection bound to sid and returns how many
// were closed.
func (h *Hub) CloseSession(sid string) int {
	n := 0
	for _, c := range h.conns.ForSession(sid) {
		if h.remove(c) {
			n++
		}
	}
	return n
}

// Connections exposes the connection registry.
func (h *Hub) Connections() *ConnectionManager {
	return h.conns
}

// Shutdown stops the heartbeat and closes every connection.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.done)
		for _, c := range h.conns.All() {
			h.remove(c)
		}
	})
}

func (h *Hub) sendState(c *Connection, values map[string]string) {
	data, err := protocol.NewServerMessage(protocol.TypeState, protocol.StateMsg{Values: values})
	if err != nil {
		return
	}
	if err := c.WriteMessage(data); err != nil {
		h.remove(c)
	}
}

func (h *Hub) remove(c *Connection) bool {
	if !h.conns.Remove(c.ID) {
		return false
	}
	metrics.WebsocketConnections.Dec()
	h.lp.LogWsEvent(c.SessionID, fmt.Sprintf("connection closed conn=%s (total=%d)", c.ID, h.conns.Count()), log.DebugLevel)
	return true
}
