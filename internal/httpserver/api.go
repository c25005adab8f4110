package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/metrics"
	"github.com/archdash/sessiontag/internal/session"
	"github.com/archdash/sessiontag/internal/ws"
)

type stateResponse struct {
	SID    string            `json:"sid"`
	Values map[string]string `json:"values"`
}

type putStateRequest struct {
	Value string `json:"value"`
}

// requestSID reads the marker from the query string, falling back to the
// session header used by clients that keep it out of the URL.
func (s *Server) requestSID(r *http.Request) (string, bool) {
	if sid, ok := s.tagger.Lookup(r.URL); ok && strings.TrimSpace(sid) != "" {
		return strings.TrimSpace(sid), true
	}
	if sid := strings.TrimSpace(r.Header.Get(ws.SessionHeader)); sid != "" {
		return sid, true
	}
	return "", false
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.requestSID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing session marker")
		return
	}

	start := time.Now()
	rec, err := s.store.Get(r.Context(), sid)
	metrics.StoreLatency.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.lp.LogStoreEvent(sid, "session get failed: "+err.Error(), log.WarnLevel)
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteSession forgets the tab: its record, its workspace and its
// websocket connections.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.requestSID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing session marker")
		return
	}

	start := time.Now()
	err := s.store.Delete(r.Context(), sid)
	metrics.StoreLatency.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	if err != nil {
		s.lp.LogStoreEvent(sid, "session delete failed: "+err.Error(), log.WarnLevel)
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	if s.workspaces.Delete(sid) {
		metrics.Workspaces.Dec()
	}
	s.hub.CloseSession(sid)
	s.lp.LogStoreEvent(sid, "session deleted", log.InfoLevel)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.requestSID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing session marker")
		return
	}
	values := map[string]string{}
	if wsp, ok := s.workspaces.Lookup(sid); ok {
		values = wsp.Snapshot()
	}
	writeJSON(w, http.StatusOK, stateResponse{SID: sid, Values: values})
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.requestSID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing session marker")
		return
	}
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing state key")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var req putStateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	wsp := s.workspaces.Get(sid)
	wsp.Set(key, req.Value)
	writeJSON(w, http.StatusOK, stateResponse{SID: sid, Values: wsp.Snapshot()})
}

func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.requestSID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing session marker")
		return
	}
	wsp, ok := s.workspaces.Lookup(sid)
	if !ok || !wsp.Delete(r.PathValue("key")) {
		writeError(w, http.StatusNotFound, "state key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"workspaces":  s.workspaces.Len(),
		"connections": s.hub.Connections().Count(),
	})
}
