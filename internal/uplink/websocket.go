// Package uplink carries gateway batches to the backend. It stands in for the
// cellular modem: each batch is one opaque binary websocket message.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("uplink: transport closed")

// Options tune delivery retries.
type Options struct {
	Attempts     uint
	Delay        time.Duration
	MaxDelay     time.Duration
	WriteTimeout time.Duration
}

// DefaultOptions mirrors the modem's patience: a few attempts, backing off.
var DefaultOptions = Options{
	Attempts:     3,
	Delay:        time.Second,
	MaxDelay:     30 * time.Second,
	WriteTimeout: 10 * time.Second,
}

// WebSocketTransport implements hal.Transport over a websocket connection
// that is dialed on first use and redialed after a failed write.
type WebSocketTransport struct {
	url    string
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketTransport creates a transport for the backend at url (ws:// or wss://).
func NewWebSocketTransport(url string, opts Options, logger *zap.Logger) *WebSocketTransport {
	if opts.Attempts == 0 {
		opts.Attempts = DefaultOptions.Attempts
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultOptions.WriteTimeout
	}
	return &WebSocketTransport{
		url:    url,
		opts:   opts,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Send delivers blob as a single binary message, retrying with backoff.
func (t *WebSocketTransport) Send(ctx context.Context, blob []byte) error {
	err := retry.Do(func() error {
		return t.sendOnce(ctx, blob)
	},
		retry.Context(ctx),
		retry.Attempts(t.opts.Attempts),
		retry.Delay(t.opts.Delay),
		retry.MaxDelay(t.opts.MaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, ErrClosed) }),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Warn("Uplink retry", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("uplink send: %w", err)
	}
	t.logger.Debug("Batch delivered", zap.Int("bytes", len(blob)))
	return nil
}

func (t *WebSocketTransport) sendOnce(ctx context.Context, blob []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.conn == nil {
		conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", t.url, err)
		}
		t.conn = conn
	}

	_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	if err := t.conn.WriteMessage(websocket.BinaryMessage, blob); err != nil {
		t.conn.Close()
		t.conn = nil
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// Close sends a close frame and releases the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := t.conn.Close()
	t.conn = nil
	return err
}
