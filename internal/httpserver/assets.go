package httpserver

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"net/http"
	texttemplate "text/template"

	log "github.com/sirupsen/logrus"
)

//go:embed assets/tab-sid.js assets/index.html
var assetFS embed.FS

var (
	scriptTmpl = texttemplate.Must(texttemplate.ParseFS(assetFS, "assets/tab-sid.js"))
	indexTmpl  = htmltemplate.Must(htmltemplate.ParseFS(assetFS, "assets/index.html"))
)

// RenderScript returns the client tagging script for the given marker key.
func RenderScript(key string) ([]byte, error) {
	var buf bytes.Buffer
	if err := scriptTmpl.Execute(&buf, struct{ Key string }{Key: key}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleScript(w http.ResponseWriter, _ *http.Request) {
	body, err := RenderScript(s.tagger.Key())
	if err != nil {
		s.lp.LogHttpEvent("render tab script: "+err.Error(), log.ErrorLevel)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(body)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sid, _ := SessionID(r.Context())
	var buf bytes.Buffer
	err := indexTmpl.Execute(&buf, struct {
		Key string
		SID string
	}{Key: s.tagger.Key(), SID: sid})
	if err != nil {
		s.lp.LogHttpEvent("render index: "+err.Error(), log.ErrorLevel)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
