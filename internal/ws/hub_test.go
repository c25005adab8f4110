package ws

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archdash/sessiontag/internal/protocol"
	"github.com/archdash/sessiontag/internal/session"
	"github.com/archdash/sessiontag/internal/tagger"
)

// bufferedConn drains bytes the dialer buffered past the handshake before
// reading from the socket.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

type testHub struct {
	hub      *Hub
	registry *session.Registry[*session.Workspace]
	server   *httptest.Server
	wsURL    string
}

func newTestHub(t *testing.T, cfg Config) *testHub {
	t.Helper()
	th := &testHub{}
	th.registry = session.NewRegistry(func(sid string) *session.Workspace {
		return session.NewWorkspace(sid, func(sid string, snap map[string]string) {
			th.hub.PushState(sid, snap)
		})
	})
	th.hub = NewHub(cfg, th.registry)
	th.server = httptest.NewServer(th.hub)
	th.wsURL = "ws" + strings.TrimPrefix(th.server.URL, "http")
	t.Cleanup(func() {
		th.hub.Shutdown()
		th.server.Close()
	})
	return th
}

func dial(t *testing.T, url string) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if br != nil {
		return bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}
	return conn
}

func readMsg(t *testing.T, conn net.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func send(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteClientText(conn, data))
}

func TestHub_RequiresSessionMarker(t *testing.T) {
	th := newTestHub(t, DefaultConfig())
	resp, err := http.Get(th.server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_BindsConnectionToMarker(t *testing.T) {
	th := newTestHub(t, DefaultConfig())
	conn := dial(t, th.wsURL+"/ws?_sid=tab-1")

	msg := readMsg(t, conn)
	assert.Equal(t, protocol.TypeSessionBound, msg["type"])
	assert.Equal(t, "tab-1", msg["session_id"])

	require.Eventually(t, func() bool {
		return len(th.hub.Connections().ForSession("tab-1")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHub_PingPong(t *testing.T) {
	th := newTestHub(t, DefaultConfig())
	conn := dial(t, th.wsURL+"/ws?_sid=tab-1")
	readMsg(t, conn)

	send(t, conn, map[string]string{"type": "ping"})
	assert.Equal(t, protocol.TypePong, readMsg(t, conn)["type"])
}

func TestHub_SetStatePushesToSameTabOnly(t *testing.T) {
	th := newTestHub(t, DefaultConfig())
	a1 := dial(t, th.wsURL+"/ws?_sid=A")
	readMsg(t, a1)
	a2 := dial(t, th.wsURL+"/ws?_sid=A")
	readMsg(t, a2)
	b := dial(t, th.wsURL+"/ws?_sid=B")
	readMsg(t, b)

	send(t, a1, map[string]string{"type": "set_state", "key": "graph", "value": "graph_A"})

	for _, c := range []net.Conn{a1, a2} {
		msg := readMsg(t, c)
		assert.Equal(t, protocol.TypeState, msg["type"])
		assert.Equal(t, map[string]any{"graph": "graph_A"}, msg["values"])
	}

	// Tab B sees its own, empty, workspace.
	send(t, b, map[string]string{"type": "get_state"})
	msg := readMsg(t, b)
	assert.Equal(t, protocol.TypeState, msg["type"])
	assert.Empty(t, msg["values"])
}

func TestHub_UnsupportedMessage(t *testing.T) {
	th := newTestHub(t, DefaultConfig())
	conn := dial(t, th.wsURL+"/ws?_sid=tab-1")
	readMsg(t, conn)

	send(t, conn, map[string]string{"type": "session_bound"})
	msg := readMsg(t, conn)
	assert.Equal(t, protocol.TypeError, msg["type"])
	assert.Equal(t, "parse_error", msg["code"])
}

// The marker is read the way page requests read it, so an escaped key
// still binds.
func TestHub_EscapedMarkerKey(t *testing.T) {
	th := newTestHub(t, DefaultConfig())
	conn := dial(t, th.wsURL+"/ws?%5Fsid=x")
	assert.Equal(t, "x", readMsg(t, conn)["session_id"])
}

func TestHub_UsesConfiguredTagger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tagger = tagger.New(tagger.WithKey("tab"))
	th := newTestHub(t, cfg)

	conn := dial(t, th.wsURL+"/ws?_sid=other&tab=t-1")
	assert.Equal(t, "t-1", readMsg(t, conn)["session_id"])

	resp, err := http.Get(th.server.URL + "/ws?_sid=other")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_HeaderMarker(t *testing.T) {
	th := newTestHub(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(http.Header{SessionHeader: []string{"tab-h"}})}
	conn, br, _, err := dialer.Dial(ctx, th.wsURL+"/ws")
	require.NoError(t, err)
	defer conn.Close()
	var c net.Conn = conn
	if br != nil {
		c = bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}
	assert.Equal(t, "tab-h", readMsg(t, c)["session_id"])
}

func TestCheckConnections_DropsIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Heartbeat.Interval = 0 // drive checks by hand
	th := newTestHub(t, cfg)
	conn := dial(t, th.wsURL+"/ws?_sid=idle")
	readMsg(t, conn)

	require.Eventually(t, func() bool { return th.hub.Connections().Count() == 1 }, time.Second, 10*time.Millisecond)

	hb := DefaultHeartbeatConfig()
	checkConnections(th.hub, hb, time.Now())
	assert.Equal(t, 1, th.hub.Connections().Count(), "fresh connection must survive")

	checkConnections(th.hub, hb, time.Now().Add(hb.Interval+hb.Timeout+time.Second))
	assert.Equal(t, 0, th.hub.Connections().Count())
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	th := newTestHub(t, DefaultConfig())
	conn := dial(t, th.wsURL+"/ws?_sid=tab-1")
	readMsg(t, conn)

	th.hub.Shutdown()
	assert.Equal(t, 0, th.hub.Connections().Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := wsutil.ReadServerText(conn)
	assert.Error(t, err)
}

func TestHub_CloseSession(t *testing.T) {
	th := newTestHub(t, DefaultConfig())
	a1 := dial(t, th.wsURL+"/ws?_sid=A")
	readMsg(t, a1)
	a2 := dial(t, th.wsURL+"/ws?_sid=A")
	readMsg(t, a2)
	b := dial(t, th.wsURL+"/ws?_sid=B")
	readMsg(t, b)

	assert.Equal(t, 2, th.hub.CloseSession("A"))
	assert.Equal(t, 0, th.hub.CloseSession("A"))
	assert.Len(t, th.hub.Connections().ForSession("B"), 1)
}
