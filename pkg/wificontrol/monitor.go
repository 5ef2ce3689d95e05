package wificontrol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/events"
	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/keepalive"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// NoConnection is the cammode value recorded after a failed poll.
const NoConnection = "no connection"

// refreshTimeout bounds a refresh triggered by a pushed event.
const refreshTimeout = 30 * time.Second

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Keepalive keepalive.Config

	// Events enables the GENA subscription and the NOTIFY listener.
	Events     bool
	Listener   events.ListenerConfig
	Subscriber events.SubscriberConfig

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultMonitorConfig polls every 2s and subscribes to pushed events.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Keepalive: keepalive.DefaultConfig(),
		Events:    true,
		Listener:  events.DefaultListenerConfig(),
	}
}

// Monitor keeps a Ready Wi-Fi session alive and current: it polls getstate,
// holds the event subscription and refreshes device information when the
// camera announces changes.
type Monitor struct {
	s       *session.Session
	t       *Transport
	control *Control
	feed    *events.Feed
	config  MonitorConfig
	loss    func(error)

	poller     *keepalive.Poller
	listener   *events.Listener
	subscriber *events.Subscriber
	pollEpoch  atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listening bool
	refreshes sync.WaitGroup
}

// NewMonitor creates a Monitor. loss is called once the poller gives up on
// the camera; connection.Manager.NotifyConnectionLost is the usual target.
func NewMonitor(s *session.Session, t *Transport, control *Control, feed *events.Feed, loss func(error), config MonitorConfig) *Monitor {
	if config.Keepalive.Logger == nil {
		config.Keepalive.Logger = config.Logger
	}
	if config.Listener.Logger == nil {
		config.Listener.Logger = config.Logger
	}
	if config.Subscriber.Logger == nil {
		config.Subscriber.Logger = config.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		s:       s,
		t:       t,
		control: control,
		feed:    feed,
		config:  config,
		loss:    loss,
		ctx:     ctx,
		cancel:  cancel,
	}
	m.poller = keepalive.New(config.Keepalive, m.poll, keepalive.Handlers{
		OnState: m.onState,
		OnMiss:  m.onMiss,
		OnLost:  m.onLost,
	})
	if config.Events {
		m.listener = events.NewListener(s, feed, config.Listener)
		m.listener.OnProperty(m.onProperty)
		m.subscriber = events.NewSubscriber(config.Subscriber)
	}
	return m
}

// Poller returns the keepalive poller.
func (m *Monitor) Poller() *keepalive.Poller { return m.poller }

// Listener returns the NOTIFY listener, or nil with events disabled.
func (m *Monitor) Listener() *events.Listener { return m.listener }

// Start runs after each successful connect. It starts polling and, with
// events enabled, subscribes to the camera. A failed subscription is
// logged; polling alone keeps the session.
func (m *Monitor) Start(ctx context.Context) {
	m.poller.Start(m.ctx)
	if m.listener == nil {
		return
	}
	id := m.s.Identity()
	m.listener.Expect(id.UDN, id.Address)
	if err := m.subscribe(ctx, id.Address); err != nil {
		if m.config.Logger != nil {
			m.config.Logger.Warn("event subscription failed", "host", id.Address, "error", err)
		}
		m.feed.Publish(events.Event{Topic: events.TopicError, Name: "subscribe", Err: err})
	}
}

func (m *Monitor) subscribe(ctx context.Context, host string) error {
	m.mu.Lock()
	if !m.listening {
		if err := m.listener.Start(); err != nil {
			m.mu.Unlock()
			return err
		}
		m.listening = true
	}
	m.mu.Unlock()

	local, err := events.LocalAddrFor(host)
	if err != nil {
		return err
	}
	callback := fmt.Sprintf("http://%s:%d%s", local, m.listener.Port(), m.listener.Path())
	return m.subscriber.Subscribe(ctx, host, callback)
}

// Stop runs after each disconnect. It stops polling and drops the
// subscription. The listener keeps serving for the next connect.
func (m *Monitor) Stop() {
	m.poller.Stop()
	if m.subscriber != nil {
		ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
		_ = m.subscriber.Unsubscribe(ctx)
		cancel()
	}
}

// Close stops everything and waits for running refreshes.
func (m *Monitor) Close(ctx context.Context) error {
	m.Stop()
	m.cancel()
	m.refreshes.Wait()
	m.mu.Lock()
	listening := m.listening
	m.listening = false
	m.mu.Unlock()
	if listening {
		return m.listener.Close(ctx)
	}
	return nil
}

func (m *Monitor) poll(ctx context.Context) (map[string]string, error) {
	ready, epoch := m.s.Ready()
	if !ready {
		return nil, wire.ErrNotConnected
	}
	m.pollEpoch.Store(epoch)
	return m.control.State(ctx, interaction.Quiet(), interaction.NoConnect())
}

func (m *Monitor) onState(state map[string]string) {
	changed, ok := m.s.UpdateSnapshotAt(m.pollEpoch.Load(), state)
	if !ok || len(changed) == 0 {
		return
	}
	m.feed.Publish(events.Event{Topic: events.TopicState, Values: state})
}

func (m *Monitor) onMiss(missed int, err error) {
	m.s.SetStateValue("cammode", NoConnection)
	m.feed.Publish(events.Event{
		Topic:  events.TopicState,
		Values: map[string]string{"cammode": NoConnection},
		Err:    err,
	})
}

func (m *Monitor) onLost(err error) {
	if m.loss == nil {
		return
	}
	// Runs on the poller goroutine; the loss handler stops the poller.
	go m.loss(&wire.TransportError{Op: "keepalive", Err: err})
}

func (m *Monitor) onProperty(p events.Property) {
	if p.Name != events.CamSyncProperty {
		return
	}
	var refresh []func(context.Context) error
	switch events.ClassifySync(p.Value) {
	case events.SyncLens:
		refresh = append(refresh, m.control.RefreshLens)
	case events.SyncUpdate:
		refresh = append(refresh, m.control.RefreshCurrentMenu, m.control.RefreshSettings)
	default:
		return
	}
	if m.ctx.Err() != nil {
		return
	}
	m.refreshes.Add(1)
	go func() {
		defer m.refreshes.Done()
		ctx, cancel := context.WithTimeout(m.ctx, refreshTimeout)
		defer cancel()
		for _, fn := range refresh {
			if err := fn(ctx); err != nil {
				m.debugLog("refresh after event failed", "value", p.Value, "error", err)
				return
			}
		}
	}()
}

func (m *Monitor) debugLog(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Debug(msg, args...)
	}
}
