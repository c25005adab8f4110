// Package client simulates browser tabs against a sessiontag server. A tab
// loads the index page, follows the single tagging redirect, then opens a
// WebSocket bound to the marker it was given, the same way a real page does.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// DefaultKey is the marker query parameter.
const DefaultKey = "_sid"

// Client -> Server message types.
const (
	TypePing     = "ping"
	TypeGetState = "get_state"
	TypeSetState = "set_state"
)

// Server -> Client message types.
const (
	TypeSessionBound = "session_bound"
	TypeState        = "state"
	TypePong         = "pong"
	TypeError        = "error"
)

// Metrics tracks per-tab performance data.
type Metrics struct {
	TagLatency       time.Duration // untagged GET until the tagged page loaded
	ConnectLatency   time.Duration // WebSocket dial until session_bound
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Tab is one simulated browser tab.
type Tab struct {
	key       string
	sid       string
	conn      net.Conn
	rd        io.Reader
	writeMu   sync.Mutex
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	bound     chan struct{}
	boundOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

var httpClient = &http.Client{
	Timeout: 10 * time.Second,
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// Open loads baseURL the way a new tab would and connects its WebSocket.
// Handlers registered with On before the first message are not guaranteed to
// run; use WaitBound to synchronise.
func Open(ctx context.Context, baseURL, key string) (*Tab, error) {
	if key == "" {
		key = DefaultKey
	}
	baseURL = strings.TrimRight(baseURL, "/")

	start := time.Now()
	sid, err := tag(ctx, baseURL, key)
	if err != nil {
		return nil, err
	}
	tagLatency := time.Since(start)

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?" + url.QueryEscape(key) + "=" + url.QueryEscape(sid)
	start = time.Now()
	conn, br, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	t := &Tab{
		key:      key,
		sid:      sid,
		conn:     conn,
		rd:       conn,
		handlers: make(map[string]func(json.RawMessage)),
		bound:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	if br != nil {
		t.rd = io.MultiReader(br, conn)
	}
	t.metrics.TagLatency = tagLatency

	go t.readLoop(start)
	return t, nil
}

// tag requests the index page without a marker, checks that the server
// answers with exactly one redirect carrying a fresh marker, and loads the
// tagged page.
func tag(ctx context.Context, baseURL, key string) (string, error) {
	resp, err := get(ctx, baseURL+"/")
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("untagged load: expected 302, got %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	u, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("bad Location %q: %w", loc, err)
	}
	sid := u.Query().Get(key)
	if sid == "" {
		return "", fmt.Errorf("redirect %q carries no %s", loc, key)
	}

	resp, err = get(ctx, baseURL+u.RequestURI())
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tagged load: expected 200, got %d", resp.StatusCode)
	}
	return sid, nil
}

func get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Sec-Fetch-Dest", "document")
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (t *Tab) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.mu.Lock()
	t.metrics.MessagesSent++
	t.mu.Unlock()
	return wsutil.WriteClientMessage(t.conn, ws.OpText, data)
}

// SetState writes one value into this tab's server-side workspace.
func (t *Tab) SetState(key, value string) error {
	return t.Send(map[string]string{"type": TypeSetState, "key": key, "value": value})
}

// On registers a handler for a server message type, replacing any previous
// one. Handlers run on the read loop goroutine.
func (t *Tab) On(msgType string, handler func(json.RawMessage)) {
	t.mu.Lock()
	t.handlers[msgType] = handler
	t.mu.Unlock()
}

// WaitBound blocks until the server has confirmed the WebSocket binding.
func (t *Tab) WaitBound(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return fmt.Errorf("connection closed before session_bound")
	case <-t.bound:
		return nil
	}
}

// Close closes the connection. It is safe to call multiple times.
func (t *Tab) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// SID returns the marker the server assigned to this tab.
func (t *Tab) SID() string {
	return t.sid
}

// GetMetrics returns a copy of the tab's metrics.
func (t *Tab) GetMetrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

func (t *Tab) readLoop(dialStart time.Time) {
	rw := struct {
		io.Reader
		io.Writer
	}{bufio.NewReader(t.rd), &lockedWriter{t}}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-t.done:
				// Closed on purpose.
			default:
				t.mu.Lock()
				t.metrics.Errors++
				t.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		t.mu.Lock()
		t.metrics.MessagesReceived++
		if envelope.Type == TypeSessionBound {
			t.metrics.ConnectLatency = time.Since(dialStart)
			if envelope.SessionID != t.sid {
				t.metrics.Errors++
			}
		}
		handler := t.handlers[envelope.Type]
		t.mu.Unlock()

		if envelope.Type == TypeSessionBound {
			t.boundOnce.Do(func() { close(t.bound) })
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

// lockedWriter lets wsutil answer server pings without interleaving frames
// with Send.
type lockedWriter struct {
	t *Tab
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.t.writeMu.Lock()
	defer w.t.writeMu.Unlock()
	return w.t.conn.Write(p)
}
