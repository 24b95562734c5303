package connection

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrHeartbeatTimeout  = errors.New("heartbeat timeout")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrSessionTransport  = errors.New("session transport error")
	ErrSessionStopped    = errors.New("session stopped")
	ErrMaxRetriesReached = errors.New("max reconnect attempts reached")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// HeartbeatConfig describes a venue's keepalive cadence.
type HeartbeatConfig struct {
	Interval  time.Duration // how often a ping is sent and liveness checked
	MaxMissed int           // consecutive silent intervals before the socket is declared dead

	// Ping is an application-level ping payload. Nil sends a websocket ping frame.
	Ping []byte

	// IsPong matches application-level pong frames. Matching frames count as
	// liveness and are not handed to the Handler.
	IsPong func(data []byte) bool
}

// ClientConfig holds single-socket settings.
type ClientConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
	Heartbeat        HeartbeatConfig
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
		Heartbeat: HeartbeatConfig{
			Interval:  10 * time.Second,
			MaxMissed: 3,
		},
	}
}

// SessionConfig holds session settings.
type SessionConfig struct {
	Name   string // venue name, used in logs
	Client ClientConfig

	// Header returns handshake headers for each dial; signed venues sign here.
	Header func(ctx context.Context) (http.Header, error)

	Backoff      BackoffConfig
	StablePeriod time.Duration // time in SUBSCRIBED after which backoff resets
	MaxRetries   int           // consecutive failed attempts before giving up; 0 = never

	// OnStateChange is called synchronously on every transition.
	OnStateChange func(from, to model.SessionState)
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Client:       DefaultClientConfig(),
		Backoff:      DefaultBackoffConfig(),
		StablePeriod: 60 * time.Second,
	}
}

// Conn is the write side of a live socket handed to a Handler.
type Conn interface {
	Send(data []byte) error
}

// Handler is the venue protocol plugged into a Session.
type Handler interface {
	// OnConnect runs in AUTHENTICATING, after the handshake and before
	// subscriptions are re-issued. Returning an error drops the socket.
	OnConnect(ctx context.Context, conn Conn) error

	// SubscribeMessages encodes frames subscribing to topics, in order.
	SubscribeMessages(topics []string) ([][]byte, error)

	// UnsubscribeMessages encodes frames removing topics.
	UnsubscribeMessages(topics []string) ([][]byte, error)

	// HandleMessage receives every inbound frame in arrival order. It runs on
	// the session goroutine and must not block.
	HandleMessage(msg TimestampedMessage)
}
