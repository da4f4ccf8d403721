// Package stream manages the push channel: a single WebSocket connection to
// the console backend that is re-established with backoff whenever it drops.
//
// A frame's timestamp field is kept as the backend sent it, so push updates
// are ordered by the backend's clock. Frames without one are stamped on
// receipt. Polls are stamped with the local issue time, so skew between the
// backend and this host shifts the comparison: with the backend ahead by d, a
// poll only replaces a pushed snapshot when issued more than d after it was
// sent. Init frames are accepted regardless of timestamp, which resets the
// baseline on every reconnect.
package stream

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/agentstation/utc"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/opsync/pkg/constants"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/logging"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Config configures the push channel.
type Config struct {
	URL string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         float64

	DialTimeout time.Duration
	PongWait    time.Duration
	PingPeriod  time.Duration
	WriteWait   time.Duration

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
}

func (c *Config) setDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = constants.DialTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = constants.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = constants.WriteWait
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// StateHook is called after every connection state transition.
type StateHook func(telemetry.ConnectionState)

// Manager owns the push channel connection and its state.
type Manager struct {
	cfg     Config
	out     chan<- telemetry.Update
	backoff *Backoff
	logger  *zerolog.Logger
	now     func() utc.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	state   telemetry.ConnectionState
	closed  bool
	closeCh chan struct{}

	hooksMu sync.RWMutex
	hooks   []StateHook
}

// New creates a push channel manager that forwards updates to out.
func New(cfg Config, out chan<- telemetry.Update, logger *zerolog.Logger) (*Manager, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, errors.NewValidationError("stream_url", cfg.URL, "must be a ws:// or wss:// URL")
	}
	cfg.setDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		cfg:     cfg,
		out:     out,
		backoff: NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff, cfg.Jitter),
		logger:  logger,
		now:     utc.Now,
		state:   telemetry.ConnectionState{Phase: telemetry.Closed},
		closeCh: make(chan struct{}),
	}, nil
}

// URL returns the push channel address.
func (m *Manager) URL() string {
	return m.cfg.URL
}

// OnStateChange registers a hook for connection state transitions.
func (m *Manager) OnStateChange(fn StateHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// State returns the current connection state.
func (m *Manager) State() telemetry.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connectivity returns live only while the connection is open.
func (m *Manager) Connectivity() telemetry.Connectivity {
	return m.State().Connectivity()
}

func (m *Manager) setState(s telemetry.ConnectionState) {
	m.mu.Lock()
	if m.closed && s.Phase != telemetry.Closed {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.logger.Debug().
		Str("phase", string(s.Phase)).
		Int("attempt", s.Attempt).
		Str("last_error", s.LastError).
		Msg("Push channel state changed")

	m.hooksMu.RLock()
	hooks := make([]StateHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(s)
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Run keeps the push channel open until ctx ends or Close is called.
// Retries are unbounded.
func (m *Manager) Run(ctx context.Context) error {
	ctx = m.logContext(ctx)
	logger := logging.FromContext(ctx)

	attempt := 0
	for {
		if ctx.Err() != nil || m.isClosed() {
			m.shutdown()
			return nil
		}

		m.setState(telemetry.ConnectionState{Phase: telemetry.Connecting, Attempt: attempt})

		conn, err := m.Open(ctx)
		if err == nil {
			attempt = 0
			err = m.readLoop(ctx, conn)
		}

		if ctx.Err() != nil || m.isClosed() {
			m.shutdown()
			return nil
		}

		attempt++
		delay := m.backoff.Delay(attempt)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Push channel dropped, reconnecting")

		m.setState(telemetry.ConnectionState{
			Phase:       telemetry.Reconnecting,
			Attempt:     attempt,
			NextRetryAt: m.now().Add(delay),
			LastError:   errString(err),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-m.closeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Open tears down any existing connection and dials a new one. At most one
// connection is live at a time.
func (m *Manager) Open(ctx context.Context) (*websocket.Conn, error) {
	m.teardown()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := m.cfg.Dialer.DialContext(dialCtx, m.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.WrapTransport("dial", m.cfg.URL, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, errors.ErrClosed
	}
	if m.conn != nil {
		// a concurrent Open won the race
		_ = m.conn.Close()
	}
	m.conn = conn
	m.mu.Unlock()

	logging.FromContextOr(ctx, m.logger).Info().Str("url", m.cfg.URL).Msg("Push channel connected")
	m.setState(telemetry.ConnectionState{Phase: telemetry.Open})
	return conn, nil
}

// readLoop reads frames until the connection fails. Liveness is enforced with
// read deadlines refreshed by pongs and frames.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(constants.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go m.pingLoop(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.release(conn)
			return errors.WrapTransport("read", m.cfg.URL, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))

		u, ok, err := ParseFrame(raw, m.now())
		if err != nil {
			logging.FromContextOr(ctx, m.logger).Warn().Err(err).Int("bytes", len(raw)).Msg("Discarding malformed frame")
			continue
		}
		if !ok {
			continue
		}

		select {
		case m.out <- u:
		case <-ctx.Done():
			m.release(conn)
			return ctx.Err()
		}
	}
}

// logContext carries the session logger, or the manager's own, tagged with
// the push source.
func (m *Manager) logContext(ctx context.Context) context.Context {
	ctx = logging.WithLogger(ctx, logging.FromContextOr(ctx, m.logger))
	return logging.WithSource(ctx, telemetry.Push.String())
}

// pingLoop sends pings and closes the connection when ctx ends or the
// manager is closed, which unblocks the reader.
func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-m.closeCh:
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// release forgets conn if it is still the current connection.
func (m *Manager) release(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *Manager) teardown() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(m.cfg.WriteWait))
		_ = conn.Close()
	}
}

func (m *Manager) shutdown() {
	m.teardown()
	m.setState(telemetry.ConnectionState{Phase: telemetry.Closed})
}

// Close closes the connection and cancels any pending reconnect. The
// manager cannot be reopened.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.closeCh)
	m.mu.Unlock()

	m.shutdown()
	m.logger.Info().Msg("Push channel closed")
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
