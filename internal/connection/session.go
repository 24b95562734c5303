package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/auth"
	"github.com/rickgao/marketsync/internal/model"
)

// Session keeps one authenticated websocket to one venue alive.
type Session struct {
	cfg     SessionConfig
	handler Handler
	logger  *slog.Logger

	desired *subscriptionSet
	backoff *Backoff

	// subMu orders desired-set changes against the switch to SUBSCRIBED:
	// a topic is either in the going-live diff or sent on the live socket.
	subMu sync.Mutex

	mu      sync.RWMutex
	state   model.SessionState
	client  Client
	started bool
	stopped bool
	lastErr error

	cancel context.CancelFunc
	done   chan struct{}

	// newClient is swapped in tests.
	newClient func(ClientConfig, *slog.Logger) Client
}

// NewSession creates a session in DISCONNECTED.
func NewSession(cfg SessionConfig, handler Handler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:       cfg,
		handler:   handler,
		logger:    logger.With("venue", cfg.Name),
		desired:   newSubscriptionSet(),
		backoff:   NewBackoff(cfg.Backoff),
		state:     model.StateDisconnected,
		done:      make(chan struct{}),
		newClient: NewClient,
	}
}

// Start launches the connect loop. It returns immediately.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSessionStopped
	}
	if s.started {
		return nil
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return nil
}

// Stop terminates the session. It is terminal: the session never reconnects
// afterwards and Start fails.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	cancel := s.cancel
	client := s.client
	s.mu.Unlock()

	if !started {
		close(s.done)
		s.setState(model.StateDisconnected)
		return nil
	}

	cancel()
	if client != nil {
		client.Close()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connect loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current session state.
func (s *Session) State() model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Subscribe adds topics to the desired set and, when live, sends the
// subscribe frames immediately. Topics survive reconnects.
func (s *Session) Subscribe(topics ...string) error {
	s.subMu.Lock()
	added := s.desired.add(topics...)
	client := s.liveClient()
	s.subMu.Unlock()

	if len(added) == 0 || client == nil {
		return nil
	}

	frames, err := s.handler.SubscribeMessages(added)
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	return sendAll(client, frames)
}

// Unsubscribe removes topics from the desired set.
func (s *Session) Unsubscribe(topics ...string) error {
	s.subMu.Lock()
	removed := s.desired.remove(topics...)
	client := s.liveClient()
	s.subMu.Unlock()

	if len(removed) == 0 || client == nil {
		return nil
	}

	frames, err := s.handler.UnsubscribeMessages(removed)
	if err != nil {
		return fmt.Errorf("encode unsubscribe: %w", err)
	}
	return sendAll(client, frames)
}

// Desired returns the desired topics in sorted order.
func (s *Session) Desired() []string {
	return s.desired.list()
}

// Send writes a frame on the live socket.
func (s *Session) Send(data []byte) error {
	client := s.liveClient()
	if client == nil {
		return ErrNotConnected
	}
	return client.Send(data)
}

func (s *Session) liveClient() Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != model.StateSubscribed {
		return nil
	}
	return s.client
}

func (s *Session) setState(to model.SessionState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.notify(from, to)
}

func (s *Session) notify(from, to model.SessionState) {
	if from == to {
		return
	}
	s.logger.Debug("session state", "from", from, "to", to)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
}

// run is the reconnect state machine.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	failures := 0
	for {
		if ctx.Err() != nil {
			s.finish(nil)
			return
		}

		err := s.connectAndServe(ctx)

		if ctx.Err() != nil {
			s.finish(nil)
			return
		}

		var keyErr *auth.InvalidKeyFormatError
		if errors.Is(err, auth.ErrAuthConfig) || errors.As(err, &keyErr) {
			s.logger.Error("session cannot authenticate, giving up", "error", err)
			s.finish(err)
			return
		}

		if s.backoff.Attempt() == 0 {
			failures = 0
		}
		failures++
		if s.cfg.MaxRetries > 0 && failures > s.cfg.MaxRetries {
			s.logger.Error("session giving up", "failures", failures, "error", err)
			s.finish(fmt.Errorf("%w: %v", ErrMaxRetriesReached, err))
			return
		}

		s.setState(model.StateDegraded)

		wait := s.backoff.Next()
		s.logger.Warn("session dropped, reconnecting",
			"error", err,
			"attempt", failures,
			"backoff", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.finish(nil)
			return
		case <-timer.C:
		}
	}
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.client = nil
	s.mu.Unlock()
	s.setState(model.StateDisconnected)
}

// connectAndServe runs one socket lifetime. The returned error says why it ended.
func (s *Session) connectAndServe(ctx context.Context) error {
	s.setState(model.StateConnecting)

	clientCfg := s.cfg.Client
	if s.cfg.Header != nil {
		h, err := s.cfg.Header(ctx)
		if err != nil {
			return fmt.Errorf("sign handshake: %w", err)
		}
		clientCfg.Header = h
	} else if clientCfg.Header == nil {
		clientCfg.Header = http.Header{}
	}

	client := s.newClient(clientCfg, s.logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("%w: dial: %v", ErrSessionTransport, err)
	}
	defer client.Close()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	s.client = client
	s.mu.Unlock()

	s.setState(model.StateAuthenticating)
	if err := s.handler.OnConnect(ctx, client); err != nil {
		return fmt.Errorf("on connect: %w", err)
	}

	topics := s.desired.list()
	if len(topics) > 0 {
		frames, err := s.handler.SubscribeMessages(topics)
		if err != nil {
			return fmt.Errorf("encode subscribe: %w", err)
		}
		if err := sendAll(client, frames); err != nil {
			return fmt.Errorf("%w: resubscribe: %v", ErrSessionTransport, err)
		}
	}

	subscribedAt := time.Now()
	added, removed := s.goLive(topics)
	if err := s.sendChanges(client, added, removed); err != nil {
		return fmt.Errorf("%w: resubscribe: %v", ErrSessionTransport, err)
	}
	s.logger.Info("session subscribed", "topics", len(topics)+len(added)-len(removed))

	err := s.serve(ctx, client)

	if up := time.Since(subscribedAt); up >= s.cfg.StablePeriod {
		s.backoff.Reset()
	}
	return err
}

// goLive switches to SUBSCRIBED and returns how the desired set moved since
// sent was encoded. Subscribe calls that land after the switch send their own
// frames.
func (s *Session) goLive(sent []string) (added, removed []string) {
	s.subMu.Lock()
	added, removed = diffTopics(sent, s.desired.list())
	s.mu.Lock()
	from := s.state
	s.state = model.StateSubscribed
	s.mu.Unlock()
	s.subMu.Unlock()

	s.notify(from, model.StateSubscribed)
	return added, removed
}

func (s *Session) sendChanges(client Client, added, removed []string) error {
	if len(added) > 0 {
		frames, err := s.handler.SubscribeMessages(added)
		if err != nil {
			return fmt.Errorf("encode subscribe: %w", err)
		}
		if err := sendAll(client, frames); err != nil {
			return err
		}
	}
	if len(removed) > 0 {
		frames, err := s.handler.UnsubscribeMessages(removed)
		if err != nil {
			return fmt.Errorf("encode unsubscribe: %w", err)
		}
		if err := sendAll(client, frames); err != nil {
			return err
		}
	}
	return nil
}

// diffTopics compares two sorted topic lists.
func diffTopics(old, cur []string) (added, removed []string) {
	i, j := 0, 0
	for i < len(old) || j < len(cur) {
		switch {
		case j == len(cur) || (i < len(old) && old[i] < cur[j]):
			removed = append(removed, old[i])
			i++
		case i == len(old) || cur[j] < old[i]:
			added = append(added, cur[j])
			j++
		default:
			i++
			j++
		}
	}
	return added, removed
}

// serve pumps frames into the handler until the socket fails.
func (s *Session) serve(ctx context.Context, client Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-client.Errors():
			return fmt.Errorf("%w: %v", ErrSessionTransport, err)
		case msg := <-client.Messages():
			s.handler.HandleMessage(msg)
		}
	}
}

func sendAll(client Client, frames [][]byte) error {
	for _, f := range frames {
		if err := client.Send(f); err != nil {
			return err
		}
	}
	return nil
}
