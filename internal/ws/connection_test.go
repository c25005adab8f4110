package ws

import (
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A peer that never reads must not block writers past the write timeout.
func TestConnection_WritesTimeOutOnStalledPeer(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newConnection("c1", "tab-1", server, 50*time.Millisecond)
	defer c.Close()

	err := c.WriteMessage([]byte(`{"type":"pong"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded), err)

	err = c.WritePing()
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded), err)

	_, err = c.Write([]byte{0x8a, 0x00})
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded), err)
}

// Each writer gets its own deadline, so concurrent writers all give up
// instead of one clearing the deadline another is blocked on.
func TestConnection_ConcurrentWritersAllReturn(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newConnection("c1", "tab-1", server, 30*time.Millisecond)
	defer c.Close()

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs <- c.WritePing()
				return
			}
			errs <- c.WriteMessage([]byte("state"))
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writers blocked on a stalled peer")
	}
	close(errs)
	for err := range errs {
		assert.True(t, errors.Is(err, os.ErrDeadlineExceeded), err)
	}
}

// The deadline is cleared after each write, so a later write is not cut
// short by an earlier one's deadline.
func TestConnection_DeadlineClearedAfterWrite(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newConnection("c1", "tab-1", server, 50*time.Millisecond)
	defer c.Close()

	read := func() <-chan []byte {
		out := make(chan []byte, 1)
		go func() {
			data, err := wsutil.ReadServerText(client)
			if err != nil {
				out <- nil
				return
			}
			out <- data
		}()
		return out
	}

	got := read()
	require.NoError(t, c.WriteMessage([]byte("one")))
	assert.Equal(t, []byte("one"), <-got)

	time.Sleep(80 * time.Millisecond)

	got = read()
	require.NoError(t, c.WriteMessage([]byte("two")))
	assert.Equal(t, []byte("two"), <-got)
}
