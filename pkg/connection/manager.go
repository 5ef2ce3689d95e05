package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Manager errors.
var (
	ErrConnectionClosed = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// Default timeouts.
const (
	DefaultDiscoveryTimeout = 30 * time.Second
	DefaultConnectTimeout   = 20 * time.Second
)

// Transport is one way of reaching the device.
//
// The Manager drives it through discover, dial, prepare and authenticate.
// Invalidate runs under the session state lock and must not block or call
// back into the session.
type Transport interface {
	Discover(ctx context.Context) (session.Identity, error)
	Dial(ctx context.Context, id session.Identity) error
	Prepare(ctx context.Context) error
	Authenticate(ctx context.Context) (token string, err error)
	Invalidate()
	Close() error
}

// Describer is implemented by transports that learn the device identity
// while preparing the link. Empty identity fields are filled from it.
type Describer interface {
	Described() session.Identity
}

// Config configures a Manager.
type Config struct {
	// AutoConnect lets EnsureReady connect on demand and enables Start.
	AutoConnect bool

	DiscoveryTimeout time.Duration
	ConnectTimeout   time.Duration

	// Backoff is the cadence between failed attempts.
	Backoff BackoffConfig

	// MaxAttempts bounds the attempts of one Connect call. Zero means until
	// ready or cancelled.
	MaxAttempts int

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger

	// Protocol receives state change events. May be nil.
	Protocol *log.Scope
}

// DefaultConfig returns auto-connect on with a fixed 2s cadence.
func DefaultConfig() Config {
	return Config{
		AutoConnect:      true,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		ConnectTimeout:   DefaultConnectTimeout,
		Backoff:          FixedBackoff(DefaultInterval),
	}
}

// Manager owns the session state machine.
type Manager struct {
	session   *session.Session
	transport Transport
	config    Config
	backoff   *Backoff

	// connectMu serializes connect attempts.
	connectMu sync.Mutex

	mu       sync.RWMutex
	closed   bool
	loopStop context.CancelFunc
	wg       sync.WaitGroup

	reconnectCh chan struct{}

	onStateChange  func(from, to session.State)
	onReady        func(ctx context.Context)
	onDisconnected func(reason error)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a Manager for s reached through t.
func NewManager(s *session.Session, t Transport, config Config) *Manager {
	if config.DiscoveryTimeout <= 0 {
		config.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	return &Manager{
		session:     s,
		transport:   t,
		config:      config,
		backoff:     NewBackoffWithConfig(config.Backoff),
		reconnectCh: make(chan struct{}, 1),
	}
}

// Session returns the managed session.
func (m *Manager) Session() *session.Session { return m.session }

// OnStateChange sets a callback for state transitions.
func (m *Manager) OnStateChange(fn func(from, to session.State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnReady sets a callback run after each successful connect, outside all
// locks. It may issue calls through the executor.
func (m *Manager) OnReady(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReady = fn
}

// OnDisconnected sets a callback for teardowns of a live session.
func (m *Manager) OnDisconnected(fn func(reason error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for each wait between failed attempts.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// State returns the session state.
func (m *Manager) State() session.State { return m.session.State() }

// SetAutoConnect toggles on-demand connecting.
func (m *Manager) SetAutoConnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.AutoConnect = enabled
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// EnsureReady returns once the session is Ready. With auto-connect off a
// session that is not Ready fails fast with wire.ErrNotConnected.
func (m *Manager) EnsureReady(ctx context.Context) error {
	if m.session.State() == session.StateReady {
		return nil
	}
	m.mu.RLock()
	auto, closed := m.config.AutoConnect, m.closed
	m.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: %w", wire.ErrNotConnected, ErrConnectionClosed)
	}
	if !auto {
		return wire.ErrNotConnected
	}
	err := m.Connect(ctx)
	if errors.Is(err, ErrAlreadyConnected) {
		return nil
	}
	return err
}

// Connect runs discovery-to-ready, retrying at the configured cadence until
// the session is Ready, ctx ends, or authentication fails. A caller that
// waited behind another Connect and finds the session Ready gets
// ErrAlreadyConnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	for attempt := 1; ; attempt++ {
		if m.isClosed() {
			return ErrConnectionClosed
		}
		if m.session.State() == session.StateReady {
			return ErrAlreadyConnected
		}

		err := m.attempt(ctx)
		if err == nil {
			m.backoff.Reset()
			m.ready(ctx)
			return nil
		}
		m.debugLog("connect attempt failed", "attempt", attempt, "error", err)

		switch {
		case errors.Is(err, wire.ErrAuthenticationFailed):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("connect: %w (last error: %v)", ctx.Err(), err)
		case m.config.MaxAttempts > 0 && attempt >= m.config.MaxAttempts:
			return err
		}

		delay := m.backoff.Next()
		m.mu.RLock()
		cb := m.onReconnecting
		m.mu.RUnlock()
		if cb != nil {
			cb(attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}
}

// attempt runs one discovery-to-ready cycle.
func (m *Manager) attempt(ctx context.Context) error {
	s := m.session
	epoch := s.Epoch()

	id := s.Identity()
	if !id.Known() {
		m.advance(epoch, session.StateDiscovering)
		dctx, cancel := context.WithTimeout(ctx, m.config.DiscoveryTimeout)
		found, err := m.transport.Discover(dctx)
		cancel()
		if err != nil {
			m.advance(epoch, session.StateDisconnected)
			return err
		}
		s.SetIdentity(found)
		id = s.Identity()
	}

	cctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	m.config.Protocol.BeginConnection(id.Address)
	if id.Serial != "" {
		m.config.Protocol.SetDevice(id.Serial)
	}
	m.debugLog("dialing", "address", id.Address, "transport", s.Transport().String())

	if err := m.transport.Dial(cctx, id); err != nil {
		return m.abort(err)
	}
	if !m.advance(epoch, session.StateTransportConnected) {
		return m.abort(errLostDuringConnect)
	}
	if err := m.transport.Prepare(cctx); err != nil {
		return m.abort(err)
	}
	if d, ok := m.transport.(Describer); ok {
		s.SetIdentity(d.Described())
		if serial := s.Identity().Serial; serial != "" && id.Serial == "" {
			m.config.Protocol.SetDevice(serial)
		}
	}
	if !m.advance(epoch, session.StateAuthenticating) {
		return m.abort(errLostDuringConnect)
	}
	token, err := m.transport.Authenticate(cctx)
	if err != nil {
		return m.abort(err)
	}
	s.SetToken(token)
	if !m.advance(epoch, session.StateReady) {
		return m.abort(errLostDuringConnect)
	}
	return nil
}

var errLostDuringConnect = &wire.TransportError{Op: "connect", Err: errors.New("link lost before ready")}

// abort tears down a half-built connection. Transport failures drop a
// discovered device so the next attempt rediscovers.
func (m *Manager) abort(cause error) error {
	_ = m.transport.Close()
	prev := m.session.Teardown(m.transport.Invalidate)
	m.reportState(prev, session.StateDisconnected, cause.Error())
	if !errors.Is(cause, wire.ErrAuthenticationFailed) {
		m.session.ForgetDevice()
	}
	switch {
	case errors.Is(cause, wire.ErrAuthenticationFailed),
		errors.Is(cause, wire.ErrTransport),
		errors.Is(cause, wire.ErrProtocol):
		return cause
	default:
		return &wire.TransportError{Op: "connect", Err: cause}
	}
}

func (m *Manager) ready(ctx context.Context) {
	m.mu.RLock()
	cb := m.onReady
	m.mu.RUnlock()
	if cb != nil {
		cb(ctx)
	}
}

// NotifyConnectionLost tears the session down: Disconnected, epoch bumped,
// token and per-connection transport state cleared, snapshot marked stale.
// The device identity is kept. It returns after the teardown is complete,
// so a Connect that starts afterwards never sees stale state.
func (m *Manager) NotifyConnectionLost(reason error) {
	prev := m.session.Teardown(m.transport.Invalidate)
	if prev == session.StateClosed || prev == session.StateDisconnected {
		return
	}
	_ = m.transport.Close()

	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	m.reportState(prev, session.StateDisconnected, msg)
	m.config.Protocol.Error(log.LayerSession, "connection lost", reason)
	if m.config.Logger != nil {
		m.config.Logger.Warn("connection lost", "from", prev.String(), "reason", msg)
	}

	m.mu.RLock()
	cb := m.onDisconnected
	m.mu.RUnlock()
	if cb != nil {
		cb(reason)
	}
	m.triggerReconnect()
}

// Start runs the auto-connect loop until Close or ctx ends. It is the only
// component that starts a connect cycle without a caller waiting on it.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.loopStop != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.loopStop = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(loopCtx)
	m.triggerReconnect()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.backoff.Current())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reconnectCh:
		case <-ticker.C:
		}

		m.mu.RLock()
		auto := m.config.AutoConnect
		m.mu.RUnlock()
		if !auto || m.session.State() == session.StateReady {
			continue
		}
		if err := m.EnsureReady(ctx); err != nil && ctx.Err() == nil {
			m.debugLog("auto-connect failed", "error", err)
		}
	}
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}

// Close stops the auto-connect loop, closes the transport and moves the
// session to Closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop := m.loopStop
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.wg.Wait()

	prev := m.session.Teardown(m.transport.Invalidate)
	m.session.SetState(session.StateClosed)
	m.reportState(prev, session.StateClosed, "closed")
	return m.transport.Close()
}

// advance moves to next if no teardown intervened and reports the change.
func (m *Manager) advance(epoch uint64, next session.State) bool {
	prev, ok := m.session.Advance(epoch, next)
	if ok && prev != next {
		m.reportState(prev, next, "")
	}
	return ok
}

func (m *Manager) reportState(from, to session.State, reason string) {
	if from == to {
		return
	}
	m.config.Protocol.State(log.StateEntitySession, from.String(), to.String(), reason)
	m.debugLog("session state", "from", from.String(), "to", to.String())
	m.mu.RLock()
	cb := m.onStateChange
	m.mu.RUnlock()
	if cb != nil {
		cb(from, to)
	}
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Debug(msg, args...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
