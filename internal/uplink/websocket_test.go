package uplink_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/uplink"
)

type backend struct {
	server   *httptest.Server
	messages chan []byte
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{messages: make(chan []byte, 8)}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				b.messages <- data
			}
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func fastOptions() uplink.Options {
	return uplink.Options{Attempts: 2, Delay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond, WriteTimeout: time.Second}
}

func TestSendDeliversBatches(t *testing.T) {
	b := newBackend(t)
	tr := uplink.NewWebSocketTransport(b.url(), fastOptions(), zap.NewNop())
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, []byte{0xAA, 0xBB, 0xCC, 0xDD, 70}))
	require.NoError(t, tr.Send(ctx, []byte{1, 2, 3}))

	for _, want := range [][]byte{{0xAA, 0xBB, 0xCC, 0xDD, 70}, {1, 2, 3}} {
		select {
		case got := <-b.messages:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("batch not received")
		}
	}
}

func TestSendFailsWhenBackendUnreachable(t *testing.T) {
	b := newBackend(t)
	url := b.url()
	b.server.Close()

	tr := uplink.NewWebSocketTransport(url, fastOptions(), zap.NewNop())
	err := tr.Send(context.Background(), []byte{1})
	assert.Error(t, err)
}

func TestSendAfterClose(t *testing.T) {
	b := newBackend(t)
	tr := uplink.NewWebSocketTransport(b.url(), fastOptions(), zap.NewNop())
	require.NoError(t, tr.Close())

	err := tr.Send(context.Background(), []byte{1})
	assert.ErrorIs(t, err, uplink.ErrClosed)
}
