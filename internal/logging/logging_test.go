package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevLevel := log.StandardLogger().Out, log.GetLevel()
	log.SetOutput(&buf)
	log.SetLevel(log.TraceLevel)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetLevel(prevLevel)
	})
	return &buf
}

func TestConfigure_Levels(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	cases := map[string]log.Level{
		"trace":   log.TraceLevel,
		"DEBUG":   log.DebugLevel,
		"warn":    log.WarnLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
		"":        log.InfoLevel,
		"bogus":   log.InfoLevel,
	}
	for in, want := range cases {
		Configure(in)
		assert.Equal(t, want, log.GetLevel(), in)
	}
}

func TestLogTagEvent_Fields(t *testing.T) {
	buf := captureOutput(t)
	lp := &LogProvider{Server: "node-1"}

	lp.LogTagEvent("abc", "minted session marker", log.InfoLevel)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, TagEvent, entry["kind"])
	assert.Equal(t, "abc", entry["sid"])
	assert.Equal(t, "node-1", entry["server"])
	assert.Equal(t, "minted session marker", entry["msg"])
	assert.Equal(t, "info", entry["level"])
}

func TestLogStoreEvent_OmitsEmptySid(t *testing.T) {
	buf := captureOutput(t)
	var lp LogProvider

	lp.LogStoreEvent("", "store closed", log.WarnLevel)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasSid := entry["sid"]
	assert.False(t, hasSid)
	_, hasServer := entry["server"]
	assert.False(t, hasServer)
	assert.Equal(t, "warning", entry["level"])
}
