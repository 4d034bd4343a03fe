// Package transport delivers session, frame, and audio messages to the proxy endpoint.
package transport

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rbright/lookout/internal/media"
)

// Backend names accepted by New.
const (
	BackendHTTP      = "http"
	BackendWebSocket = "websocket"
	BackendGRPC      = "grpc"
)

const defaultTimeout = 5 * time.Second

// Config selects and tunes one backend.
type Config struct {
	Backend  string
	Endpoint string
	Timeout  time.Duration
}

// SessionHandle identifies one open remote session.
type SessionHandle struct {
	ID        string
	StartedAt time.Time
	Status    string
	Message   string
}

type backend interface {
	Open(ctx context.Context) error
	RoundTrip(ctx context.Context, msg Message) (Reply, error)
	Probe(ctx context.Context) error
	Close() error
}

// Client is safe for concurrent sends.
type Client struct {
	backend backend
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	session *SessionHandle
}

// New builds a client for cfg.Backend.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{backend: b, timeout: timeoutOrDefault(cfg.Timeout), logger: logger}, nil
}

func newBackend(cfg Config) (backend, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("transport endpoint is empty")
	}
	timeout := timeoutOrDefault(cfg.Timeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendHTTP, "":
		return newHTTPBackend(endpoint, timeout), nil
	case BackendWebSocket:
		return newWebSocketBackend(endpoint, timeout)
	case BackendGRPC:
		return newGRPCBackend(endpoint, timeout), nil
	default:
		return nil, errors.Errorf("unknown transport backend %q", cfg.Backend)
	}
}

func timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultTimeout
	}
	return timeout
}

// Probe checks that the configured endpoint answers.
func Probe(ctx context.Context, cfg Config) error {
	b, err := newBackend(cfg)
	if err != nil {
		return wrapError("probe", err)
	}
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.Timeout))
	defer cancel()
	return wrapError("probe", b.Probe(ctx))
}

// StartSession opens the backend connection and sends start_session.
func (c *Client) StartSession(ctx context.Context) (SessionHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Open(ctx); err != nil {
		return SessionHandle{}, wrapError(TypeStartSession, err)
	}

	reply, err := c.exchange(ctx, StartSessionMessage())
	if err != nil {
		_ = c.backend.Close()
		return SessionHandle{}, err
	}

	handle := SessionHandle{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Status:    reply.Status,
		Message:   reply.Message,
	}
	c.mu.Lock()
	c.session = &handle
	c.mu.Unlock()

	c.logDebug("remote session started", "session_id", handle.ID, "status", reply.Status)
	return handle, nil
}

// SendFrame sends one encoded frame.
func (c *Client) SendFrame(ctx context.Context, frame media.EncodedFrame) error {
	return c.send(ctx, FrameMessage(frame))
}

// SendAudioChunk sends one PCM chunk.
func (c *Client) SendAudioChunk(ctx context.Context, chunk media.AudioChunk) error {
	return c.send(ctx, AudioMessage(chunk))
}

// EndSession forgets the session and releases per-session connections.
// Nothing is sent; the proxy has no end-of-session message.
func (c *Client) EndSession(_ context.Context, handle SessionHandle) error {
	c.mu.Lock()
	current := c.session
	if current != nil && (handle.ID == "" || current.ID == handle.ID) {
		c.session = nil
	}
	c.mu.Unlock()

	if current == nil {
		return nil
	}
	if handle.ID != "" && current.ID != handle.ID {
		return &Error{Op: "end_session", Message: "session id mismatch", Err: ErrNoSession}
	}
	c.logDebug("remote session ended", "session_id", current.ID)
	return wrapError("end_session", c.backend.Close())
}

// Close releases the backend.
func (c *Client) Close() error {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	return wrapError("close", c.backend.Close())
}

func (c *Client) send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	open := c.session != nil
	c.mu.Unlock()
	if !open {
		return &Error{Op: msg.Type, Err: ErrNoSession}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.exchange(ctx, msg)
	return err
}

func (c *Client) exchange(ctx context.Context, msg Message) (Reply, error) {
	reply, err := c.backend.RoundTrip(ctx, msg)
	if err != nil {
		return reply, wrapError(msg.Type, err)
	}
	return checkReply(msg.Type, reply)
}

func (c *Client) logDebug(msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, attrs...)
}
