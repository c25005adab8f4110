package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one WebSocket connection opened by a tab. Several connections
// may share a SessionID (reconnects, iframes of the same tab).
type Connection struct {
	ID        string    // connection ID (UUID), unique per socket
	SessionID string    // the tab's session marker
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	lastActive   atomic.Int64  // unix nanos of the last frame received
	writeMu      sync.Mutex    // serializes writes to this connection
	writeTimeout time.Duration // per-write deadline, zero for none
}

func newConnection(id, sid string, conn net.Conn, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		SessionID:    sid,
		Conn:         conn,
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
	}
	c.touch()
	return c
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	return c.locked(func() error {
		return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
	})
}

// WritePing sends a protocol-level ping frame.
func (c *Connection) WritePing() error {
	return c.locked(func() error {
		return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
	})
}

// Write sends raw frame bytes under the write mutex and deadline. wsutil's
// control frame handler writes its replies through it.
func (c *Connection) Write(p []byte) (int, error) {
	var n int
	err := c.locked(func() error {
		var err error
		n, err = c.Conn.Write(p)
		return err
	})
	return n, err
}

// locked runs fn holding the write mutex. The deadline is armed and cleared
// inside the critical section so one writer never clears another's.
func (c *Connection) locked(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return fn()
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// LastActive returns when the last frame was received.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// ConnectionManager is a thread-safe registry of connections indexed by
// connection ID and by session marker.
type ConnectionManager struct {
	mu        sync.RWMutex
	byID      map[string]*Connection            // conn_id -> Connection
	bySession map[string]map[string]*Connection // sid -> conn_id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:      make(map[string]*Connection),
		bySession: make(map[string]map[string]*Connection),
	}
}

// Add registers a connection under both indexes.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	set := cm.bySession[conn.SessionID]
	if set == nil {
		set = make(map[string]*Connection)
		cm.bySession[conn.SessionID] = set
	}
	set[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters a connection by ID and closes it. It returns false if
// the connection was already gone, so concurrent removals clean up once.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if set := cm.bySession[conn.SessionID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(cm.bySession, conn.SessionID)
			}
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// ForSession returns a snapshot of the connections bound to sid.
func (cm *ConnectionManager) ForSession(sid string) []*Connection {
	cm.mu.RLock()
	set := cm.bySession[sid]
	conns := make([]*Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()
	return conns
}

// Count returns the current number of connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
