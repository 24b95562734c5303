package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket connection to a venue.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Messages returns a channel of inbound data frames, pongs excluded.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	lastSeen  time.Time
	closed    bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the venue and starts the read and heartbeat goroutines.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := c.cfg.Header.Clone()
	if header == nil {
		header = make(map[string][]string)
	}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastSeen = time.Now()
	c.mu.Unlock()

	// Server pings count as liveness; answer with a pong.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if c.cfg.Heartbeat.Interval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return conn.Close()
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

func (c *client) Errors() <-chan error {
	return c.errors
}

func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *client) reportError(err error) {
	select {
	case <-c.done:
	case c.errors <- err:
	default:
	}
}

// readLoop forwards frames in order. A full buffer applies backpressure to the
// socket rather than dropping frames.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-c.done:
			default:
				c.reportError(err)
			}
			return
		}

		c.touch()

		if c.cfg.Heartbeat.IsPong != nil && c.cfg.Heartbeat.IsPong(data) {
			continue
		}

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop pings on the venue cadence and declares the socket dead after
// MaxMissed silent intervals.
func (c *client) heartbeatLoop() {
	hb := c.cfg.Heartbeat
	ticker := time.NewTicker(hb.Interval)
	defer ticker.Stop()

	maxMissed := hb.MaxMissed
	if maxMissed < 1 {
		maxMissed = 1
	}
	deadline := hb.Interval * time.Duration(maxMissed)

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastSeen := c.lastSeen
			c.mu.RUnlock()

			if silent := time.Since(lastSeen); silent > deadline {
				c.logger.Warn("heartbeat missed, connection stale",
					"silent_for", silent,
					"max_missed", maxMissed,
				)
				c.reportError(ErrHeartbeatTimeout)
				return
			}
		}
	}
}

func (c *client) ping() error {
	if c.cfg.Heartbeat.Ping != nil {
		return c.Send(c.cfg.Heartbeat.Ping)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
}
