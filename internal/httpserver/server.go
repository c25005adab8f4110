// Package httpserver serves pages behind the tab tagging middleware, the
// embedded client script, the per-tab session and workspace API, the
// websocket hub, health and metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/logging"
	"github.com/archdash/sessiontag/internal/messaging"
	"github.com/archdash/sessiontag/internal/metrics"
	"github.com/archdash/sessiontag/internal/ratelimit"
	"github.com/archdash/sessiontag/internal/session"
	"github.com/archdash/sessiontag/internal/tagger"
	"github.com/archdash/sessiontag/internal/ws"
)

const maxJSONBodyBytes = int64(1 << 20) // 1 MiB

// DefaultExcludePrefixes are paths the middleware never tags. A prefix ending
// in "/" matches anything below it; any other prefix matches the exact path
// and its subtree.
var DefaultExcludePrefixes = []string{"/assets/", "/api/", "/ws", "/metrics", "/health", "/favicon.ico"}

// EventPublisher receives an event for every minted marker.
type EventPublisher interface {
	PublishTagged(ev messaging.TaggedEvent) error
}

type Config struct {
	ListenAddr        string
	ServerName        string
	ReadHeaderTimeout time.Duration

	// ExcludePrefixes defaults to DefaultExcludePrefixes when empty.
	ExcludePrefixes []string

	// Tagger defaults to tagger.New().
	Tagger *tagger.Tagger
	// Store defaults to an in-memory store.
	Store session.Store
	// Limiter may be nil to disable mint throttling.
	Limiter  *ratelimit.Limiter
	MintRule ratelimit.Rule
	// Events may be nil.
	Events EventPublisher

	Websocket ws.Config
}

// Server is the sessiontag HTTP front end.
type Server struct {
	cfg        Config
	tagger     *tagger.Tagger
	store      session.Store
	limiter    *ratelimit.Limiter
	events     EventPublisher
	workspaces *session.Registry[*session.Workspace]
	hub        *ws.Hub
	lp         *logging.LogProvider

	httpServer *http.Server
}

func New(cfg Config) *Server {
	if cfg.Tagger == nil {
		cfg.Tagger = tagger.New()
	}
	if cfg.Store == nil {
		cfg.Store = session.NewMemoryStore(cfg.ServerName, session.DefaultSessionTTL)
	}
	if len(cfg.ExcludePrefixes) == 0 {
		cfg.ExcludePrefixes = DefaultExcludePrefixes
	}
	if cfg.MintRule.Limit <= 0 || cfg.MintRule.Window <= 0 {
		cfg.MintRule = ratelimit.RuleMint
	}
	if cfg.Websocket == (ws.Config{}) {
		cfg.Websocket = ws.DefaultConfig()
	}
	cfg.Websocket.Key = cfg.Tagger.Key()
	cfg.Websocket.Tagger = cfg.Tagger

	s := &Server{
		cfg:     cfg,
		tagger:  cfg.Tagger,
		store:   cfg.Store,
		limiter: cfg.Limiter,
		events:  cfg.Events,
		lp:      &logging.LogProvider{Server: cfg.ServerName},
	}
	s.workspaces = session.NewRegistry(func(sid string) *session.Workspace {
		metrics.Workspaces.Inc()
		return session.NewWorkspace(sid, func(sid string, snapshot map[string]string) {
			s.hub.PushState(sid, snapshot)
		})
	})
	s.hub = ws.NewHub(cfg.Websocket, s.workspaces)
	return s
}

// Handler returns the full route tree wrapped in the tagging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /assets/tab-sid.js", s.handleScript)
	mux.HandleFunc("GET /api/session", s.handleGetSession)
	mux.HandleFunc("DELETE /api/session", s.handleDeleteSession)
	mux.HandleFunc("GET /api/state", s.handleGetState)
	mux.HandleFunc("PUT /api/state/{key}", s.handlePutState)
	mux.HandleFunc("DELETE /api/state/{key}", s.handleDeleteState)
	mux.Handle("/ws", s.hub)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("GET /{$}", s.handleIndex)

	return s.Middleware(mux)
}

// Hub exposes the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Workspaces exposes the per-tab workspace registry.
func (s *Server) Workspaces() *session.Registry[*session.Workspace] {
	return s.workspaces
}

// Start listens on the configured address and blocks until the server stops.
// It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.lp.LogHttpEvent(fmt.Sprintf("listening on %s (marker key %q)", s.cfg.ListenAddr, s.tagger.Key()), log.InfoLevel)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes websocket connections, drains HTTP requests and closes the
// session store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session store close: %w", err))
	}
	return errors.Join(errs...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func remoteIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
