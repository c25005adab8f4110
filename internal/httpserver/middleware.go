package httpserver

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/messaging"
	"github.com/archdash/sessiontag/internal/metrics"
	"github.com/archdash/sessiontag/internal/session"
)

type ctxKey struct{}

// SessionID returns the tab marker the middleware found on the request.
func SessionID(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(ctxKey{}).(string)
	return sid, ok
}

func withSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, ctxKey{}, sid)
}

// Middleware makes sure every page navigation carries the marker. A request
// without it is answered with a redirect to the same URL plus a fresh marker,
// so the untagged URL never becomes a history entry of its own. Requests that
// already carry it pass through with the marker in their context.
func (s *Server) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.taggable(r) {
			next.ServeHTTP(w, r)
			return
		}

		if sid, ok := s.tagger.Lookup(r.URL); ok {
			metrics.TagDecisions.WithLabelValues("present").Inc()
			if sid != "" {
				s.touch(r, sid)
			}
			next.ServeHTTP(w, r.WithContext(withSessionID(r.Context(), sid)))
			return
		}

		ip := remoteIP(r)
		if s.limiter != nil {
			allowed, _ := s.limiter.Allow(r.Context(), ip, s.cfg.MintRule)
			if !allowed {
				metrics.TagDecisions.WithLabelValues("rate_limited").Inc()
				retry := s.limiter.RetryAfter(r.Context(), ip, s.cfg.MintRule)
				if retry <= 0 {
					retry = s.cfg.MintRule.Window
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				http.Error(w, "too many new tabs", http.StatusTooManyRequests)
				return
			}
		}

		d, err := s.tagger.Tag(r.URL)
		if err != nil {
			metrics.TagDecisions.WithLabelValues("error").Inc()
			s.lp.LogTagEvent("", "could not mint marker for "+r.URL.Path+", serving untagged: "+err.Error(), log.WarnLevel)
			next.ServeHTTP(w, r)
			return
		}
		if !d.Tagged() {
			next.ServeHTTP(w, r)
			return
		}

		metrics.TagDecisions.WithLabelValues("tagged").Inc()
		s.lp.LogTagEvent(d.Token, "minted marker for "+r.URL.Path, log.DebugLevel)
		s.publish(r, d.Token, ip)

		loc := d.URL.RequestURI()
		// A path starting with "//" would read as a network-path reference.
		if strings.HasPrefix(loc, "//") {
			loc = "/." + loc
		}
		w.Header().Set("Location", loc)
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusFound)
	})
}

// taggable reports whether r is a top-level or framed document navigation
// outside the excluded prefixes.
func (s *Server) taggable(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	switch r.Header.Get("Sec-Fetch-Dest") {
	case "", "document", "iframe":
	default:
		metrics.TagDecisions.WithLabelValues("skipped").Inc()
		return false
	}
	return !excluded(r.URL.Path, s.cfg.ExcludePrefixes)
}

// excluded reports whether path falls under one of prefixes. "/ws" covers
// "/ws" and "/ws/echo" but not "/wsguide".
func excluded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func (s *Server) touch(r *http.Request, sid string) {
	start := time.Now()
	_, created, err := s.store.Touch(r.Context(), sid, session.Meta{
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
	})
	metrics.StoreLatency.WithLabelValues("touch").Observe(time.Since(start).Seconds())
	if err != nil {
		s.lp.LogStoreEvent(sid, "session touch failed: "+err.Error(), log.WarnLevel)
		return
	}
	if created {
		metrics.SessionsCreated.Inc()
		s.lp.LogStoreEvent(sid, "session record created", log.DebugLevel)
	}
}

func (s *Server) publish(r *http.Request, sid, ip string) {
	if s.events == nil {
		return
	}
	err := s.events.PublishTagged(messaging.TaggedEvent{
		SID:       sid,
		Path:      r.URL.Path,
		Server:    s.cfg.ServerName,
		RemoteIP:  ip,
		UserAgent: r.UserAgent(),
		Ts:        time.Now().UnixMilli(),
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		s.lp.LogMessagingEvent("publish tagged event failed: "+err.Error(), log.WarnLevel)
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}
