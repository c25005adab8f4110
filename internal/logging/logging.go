// Package logging configures logrus for all sessiontag binaries and offers a
// LogProvider that stamps every entry with the kind of event it describes.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	TagEvent       = "tag event"
	HttpEvent      = "http event"
	StoreEvent     = "store event"
	MessagingEvent = "messaging event"
	ConfigEvent    = "configuration event"
	AuditEvent     = "audit event"
	WsEvent        = "websocket event"
)

// LogProvider carries fields shared by every entry of one component.
type LogProvider struct {
	Server string
}

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	Configure(os.Getenv("LOG_LEVEL"))
}

// Configure sets the global level. Warn and error levels log to stderr, the
// rest to stdout. Unknown values fall back to info.
func Configure(level string) {
	var (
		logLevel log.Level
		out      io.Writer
	)

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		logLevel, out = log.TraceLevel, os.Stdout
	case "debug":
		logLevel, out = log.DebugLevel, os.Stdout
	case "warn", "warning":
		logLevel, out = log.WarnLevel, os.Stderr
	case "error":
		logLevel, out = log.ErrorLevel, os.Stderr
	default:
		logLevel, out = log.InfoLevel, os.Stdout
	}

	log.SetLevel(logLevel)
	log.SetOutput(out)
	log.SetReportCaller(false)
}

func (lp *LogProvider) LogTagEvent(sid, msg string, level log.Level) {
	lp.doLog(msg, log.Fields{"kind": TagEvent, "sid": sid}, level)
}

func (lp *LogProvider) LogHttpEvent(msg string, level log.Level) {
	lp.doLog(msg, log.Fields{"kind": HttpEvent}, level)
}

func (lp *LogProvider) LogStoreEvent(sid, msg string, level log.Level) {
	lp.doLog(msg, log.Fields{"kind": StoreEvent, "sid": sid}, level)
}

func (lp *LogProvider) LogMessagingEvent(msg string, level log.Level) {
	lp.doLog(msg, log.Fields{"kind": MessagingEvent}, level)
}

func (lp *LogProvider) LogConfigEvent(msg string, level log.Level) {
	lp.doLog(msg, log.Fields{"kind": ConfigEvent}, level)
}

func (lp *LogProvider) LogAuditEvent(msg string, level log.Level) {
	lp.doLog(msg, log.Fields{"kind": AuditEvent}, level)
}

func (lp *LogProvider) LogWsEvent(sid, msg string, level log.Level) {
	lp.doLog(msg, log.Fields{"kind": WsEvent, "sid": sid}, level)
}

func (lp *LogProvider) doLog(msg string, fields log.Fields, level log.Level) {
	if lp != nil && lp.Server != "" {
		fields["server"] = lp.Server
	}
	if sid, ok := fields["sid"]; ok && sid == "" {
		delete(fields, "sid")
	}

	entry := log.WithFields(fields)
	switch level {
	case log.FatalLevel:
		entry.Fatal(msg)
	case log.ErrorLevel:
		entry.Error(msg)
	case log.WarnLevel:
		entry.Warn(msg)
	case log.DebugLevel:
		entry.Debug(msg)
	case log.TraceLevel:
		entry.Trace(msg)
	default:
		entry.Info(msg)
	}
}
