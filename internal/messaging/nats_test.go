package messaging

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTagged(t *testing.T) {
	ev, err := DecodeTagged([]byte(`{"sid":"abc","path":"/page","server":"n1","remote_ip":"10.0.0.1","user_agent":"ua","ts":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, TaggedEvent{
		SID: "abc", Path: "/page", Server: "n1", RemoteIP: "10.0.0.1", UserAgent: "ua", Ts: 1700000000000,
	}, ev)

	_, err = DecodeTagged([]byte(`{"path":"/page"}`))
	require.Error(t, err)

	_, err = DecodeTagged([]byte(`not json`))
	require.Error(t, err)
}

// Requires a NATS server on the default URL.
func TestPublishSubscribeTagged(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	nc, err := nats.Connect(cfg.URL, nats.Timeout(300*time.Millisecond))
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	nc.Close()

	client, err := NewNATSClient(cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	got := make(chan TaggedEvent, 1)
	require.NoError(t, client.SubscribeTagged(func(ev TaggedEvent) { got <- ev }))

	want := TaggedEvent{SID: "sid-1", Path: "/", Server: "test", Ts: time.Now().UnixMilli()}
	require.NoError(t, client.PublishTagged(want))

	select {
	case ev := <-got:
		assert.Equal(t, want, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("tagged event not delivered")
	}

	require.NoError(t, client.UnsubscribeTagged())
	require.Error(t, client.UnsubscribeTagged())
}
