package transport

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// wsBackend keeps one connection per session; each message is answered by one
// reply frame. A connection dropped after a failed exchange is redialed on the
// next message while the session stays open.
type wsBackend struct {
	endpoint string
	timeout  time.Duration
	dialer   *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	open bool
}

func newWebSocketBackend(endpoint string, timeout time.Duration) (*wsBackend, error) {
	wsURL, err := websocketURL(endpoint)
	if err != nil {
		return nil, err
	}
	return &wsBackend{
		endpoint: wsURL,
		timeout:  timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
	}, nil
}

// websocketURL maps http(s) endpoints onto ws(s).
func websocketURL(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "parse endpoint %q", endpoint)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported websocket scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}

func (b *wsBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	if err := b.dialLocked(ctx); err != nil {
		return err
	}
	b.open = true
	return nil
}

func (b *wsBackend) dialLocked(ctx context.Context) error {
	conn, _, err := b.dialer.DialContext(ctx, b.endpoint, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", b.endpoint)
	}
	b.conn = conn
	return nil
}

func (b *wsBackend) RoundTrip(ctx context.Context, msg Message) (Reply, error) {
	body, err := encodeMessage(msg)
	if err != nil {
		return Reply{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return Reply{}, ErrNoSession
	}

	deadline := time.Now().Add(b.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if b.conn == nil {
		dialCtx, cancel := context.WithDeadline(ctx, deadline)
		err := b.dialLocked(dialCtx)
		cancel()
		if err != nil {
			return Reply{}, errors.Wrap(err, "redial")
		}
	}
	_ = b.conn.SetWriteDeadline(deadline)
	_ = b.conn.SetReadDeadline(deadline)

	if err := b.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		b.dropLocked()
		return Reply{}, errors.Wrap(err, "write message")
	}
	_, raw, err := b.conn.ReadMessage()
	if err != nil {
		b.dropLocked()
		return Reply{}, errors.Wrap(err, "read reply")
	}
	return decodeReply(raw)
}

func (b *wsBackend) Probe(ctx context.Context) error {
	conn, _, err := b.dialer.DialContext(ctx, b.endpoint, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", b.endpoint)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (b *wsBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	if b.conn == nil {
		return nil
	}
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(time.Second))
	err := b.conn.Close()
	b.conn = nil
	return err
}

// dropLocked discards a connection whose deadline or stream state is now unknown.
func (b *wsBackend) dropLocked() {
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}
