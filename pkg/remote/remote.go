package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/blecontrol"
	"github.com/lumix-remote/lumix-go/pkg/bluez"
	"github.com/lumix-remote/lumix-go/pkg/catalog"
	"github.com/lumix-remote/lumix-go/pkg/connection"
	"github.com/lumix-remote/lumix-go/pkg/events"
	"github.com/lumix-remote/lumix-go/pkg/hostwifi"
	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/persistence"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wificontrol"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

const (
	closeTimeout   = 5 * time.Second
	refreshTimeout = 60 * time.Second
)

var errRequested = errors.New("requested by client")

// transport is what both link kinds provide to the manager and executor.
type transport interface {
	connection.Transport
	interaction.Dispatcher
}

// Remote owns one camera session and everything built on it.
type Remote struct {
	config Config

	session *session.Session
	feed    *events.Feed
	scope   *log.Scope
	store   *persistence.Store
	exec    *interaction.Executor
	manager *connection.Manager

	// BLE
	bluez *bluez.Client
	ble   *blecontrol.Transport
	bctl  *blecontrol.Control

	// Wi-Fi
	wifi    *wificontrol.Transport
	wctl    *wificontrol.Control
	monitor *wificontrol.Monitor
	browser *catalog.Browser

	joiner *hostwifi.Joiner

	commands map[string]Command

	mu     sync.Mutex
	state  State
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Remote for config.Transport. Nothing talks to the camera
// until Start or Connect.
func New(config Config) (*Remote, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Remote{
		config:   config,
		session:  session.New(config.Transport, config.Address),
		feed:     events.NewFeed(config.FeedCapacity),
		scope:    log.NewScope(config.Protocol, config.Transport.String()),
		commands: map[string]Command{},
		ctx:      ctx,
		cancel:   cancel,
	}

	if config.StateFile != "" {
		r.store = persistence.NewStore(config.StateFile)
		r.recall()
	}

	var t transport
	if config.Transport == session.TransportBLE {
		bt, err := r.buildBLE()
		if err != nil {
			cancel()
			r.feed.Close()
			return nil, err
		}
		t = bt
	} else {
		t = r.buildWiFi()
	}

	ec := config.Executor
	ec.Logger = orLogger(ec.Logger, config.Logger)
	ec.Protocol = r.scope
	r.exec = interaction.NewExecutor(r.session, t, nil, nil, ec)

	cc := config.Connection
	cc.Logger = orLogger(cc.Logger, config.Logger)
	cc.Protocol = r.scope
	r.manager = connection.NewManager(r.session, t, cc)
	r.exec.SetHooks(r.manager, r.manager)

	r.manager.OnStateChange(r.stateChanged)
	r.manager.OnReady(r.ready)
	r.manager.OnDisconnected(r.disconnected)

	if r.wifi != nil {
		r.wifi.SetExecutor(r.exec)
		cfg := config.Control
		cfg.Feed = r.feed
		cfg.Logger = orLogger(cfg.Logger, config.Logger)
		r.wctl = wificontrol.NewControl(r.exec, r.wifi, r.session, cfg)

		mc := config.Monitor
		mc.Logger = orLogger(mc.Logger, config.Logger)
		mc.Listener.Protocol = r.scope
		mc.Subscriber.Protocol = r.scope
		r.monitor = wificontrol.NewMonitor(r.session, r.wifi, r.wctl, r.feed, r.manager.NotifyConnectionLost, mc)
		r.browser = catalog.NewBrowser(r.exec, config.Logger)
		r.registerWiFi()
	} else {
		r.ble.OnLinkLost(r.manager.NotifyConnectionLost)
		r.bctl = blecontrol.NewControl(r.exec, r.ble)
		r.registerBLE()
	}
	r.registerCommon()
	return r, nil
}

// recall seeds an unpinned session with the remembered camera.
func (r *Remote) recall() {
	if r.config.Address != "" {
		return
	}
	cam, ok, err := r.store.Lookup(r.session.Transport().String())
	if err != nil {
		r.warn("cannot read state file", "path", r.store.Path(), "error", err)
		return
	}
	if ok {
		r.debugLog("using remembered camera", "address", cam.Address, "name", cam.Name)
		r.session.SetIdentity(cam.Identity())
	}
}

func (r *Remote) remember() {
	if r.store == nil {
		return
	}
	cam := persistence.CameraFromIdentity(r.session.Identity())
	if err := r.store.Remember(r.session.Transport().String(), cam); err != nil {
		r.warn("cannot write state file", "path", r.store.Path(), "error", err)
	}
}

// Forget drops the remembered camera and, unless the address is pinned,
// the current identity so the next connect discovers again.
func (r *Remote) Forget() error {
	r.session.ForgetDevice()
	if r.store == nil {
		return nil
	}
	return r.store.Forget(r.session.Transport().String())
}

// JoinCameraNetwork joins this host to the camera access point matching
// ssid, by default the camera name when known.
func (r *Remote) JoinCameraNetwork(ctx context.Context, ssid, psk string) (string, error) {
	if ssid == "" && r.ble != nil {
		ssid = r.ble.Info().Name
	}
	r.mu.Lock()
	if r.joiner == nil {
		backend := r.config.HostNetwork
		if backend == nil {
			nm, err := hostwifi.OpenNetworkManager(r.config.HostInterface)
			if err != nil {
				r.mu.Unlock()
				return "", fmt.Errorf("%w: %w", ErrUnsupported, err)
			}
			backend = nm
		}
		hc := r.config.HostWiFi
		hc.Logger = orLogger(hc.Logger, r.config.Logger)
		r.joiner = hostwifi.NewJoiner(backend, hc)
	}
	j := r.joiner
	r.mu.Unlock()
	return j.Join(ctx, ssid, psk)
}

func orLogger(l, fallback *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return fallback
}

func (r *Remote) buildBLE() (*blecontrol.Transport, error) {
	adapter := r.config.BLEAdapter
	if adapter == nil {
		c, err := bluez.Open(bluez.Config{Adapter: r.config.Adapter, Logger: r.config.Logger})
		if err != nil {
			return nil, err
		}
		r.bluez = c
		adapter = blecontrol.NewBlueZAdapter(c)
	}
	bc := r.config.BLE
	bc.Feed = r.feed
	bc.Logger = orLogger(bc.Logger, r.config.Logger)
	bc.Protocol = r.scope
	r.ble = blecontrol.New(adapter, bc)
	return r.ble, nil
}

func (r *Remote) buildWiFi() *wificontrol.Transport {
	wc := r.config.WiFi
	if wc.DeviceName == "" {
		wc.DeviceName = wificontrol.DefaultDeviceName
	}
	wc.Logger = orLogger(wc.Logger, r.config.Logger)
	wc.Protocol = r.scope
	r.wifi = wificontrol.New(wc)
	return r.wifi
}

// Session returns the camera session.
func (r *Remote) Session() *session.Session { return r.session }

// Manager returns the connection manager.
func (r *Remote) Manager() *connection.Manager { return r.manager }

// WiFi returns the Wi-Fi control, or nil on BLE.
func (r *Remote) WiFi() *wificontrol.Control { return r.wctl }

// BLE returns the BLE control, or nil on Wi-Fi.
func (r *Remote) BLE() *blecontrol.Control { return r.bctl }

// State returns the lifecycle state of the Remote.
func (r *Remote) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start runs the auto-connect loop when enabled. Without auto-connect the
// caller drives Connect.
func (r *Remote) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateRunning:
		r.mu.Unlock()
		return ErrAlreadyStarted
	case StateClosed:
		r.mu.Unlock()
		return ErrClosed
	}
	r.state = StateRunning
	r.mu.Unlock()

	if r.config.Connection.AutoConnect {
		r.manager.Start(ctx)
	}
	return nil
}

// Connect connects now and waits until the session is Ready.
func (r *Remote) Connect(ctx context.Context) error {
	if r.State() == StateClosed {
		return ErrClosed
	}
	err := r.manager.Connect(ctx)
	if errors.Is(err, connection.ErrAlreadyConnected) {
		return nil
	}
	return err
}

// Disconnect drops the session. With auto-connect running a new connect
// follows.
func (r *Remote) Disconnect() {
	r.manager.NotifyConnectionLost(&wire.TransportError{Op: "disconnect", Err: errRequested})
}

// Close tears everything down. It is safe to call more than once.
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = StateClosed
	r.mu.Unlock()

	r.cancel()
	err := r.manager.Close()
	if r.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if merr := r.monitor.Close(ctx); err == nil {
			err = merr
		}
		cancel()
	}
	r.wg.Wait()
	if r.bluez != nil {
		if berr := r.bluez.Close(); err == nil {
			err = berr
		}
	}
	r.feed.Close()
	return err
}

// Events subscribes to the event feed. With no topics every topic is
// delivered. Close the subscription when done.
func (r *Remote) Events(topics ...events.Topic) *events.Subscription {
	return r.feed.Subscribe(topics...)
}

// Browse lists the camera content matching filter. Wi-Fi only.
func (r *Remote) Browse(ctx context.Context, filter catalog.Filter) (*catalog.Result, error) {
	if r.browser == nil {
		return nil, fmt.Errorf("browse: %w", ErrUnsupported)
	}
	return r.browser.BrowseAll(ctx, filter)
}

// Invoke runs the named command. Every error surfaces here; nothing is
// shown to the user by the Remote itself.
func (r *Remote) Invoke(ctx context.Context, name string, args ...string) (any, error) {
	if r.State() == StateClosed {
		return nil, ErrClosed
	}
	cmd, ok := r.commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if len(args) < cmd.MinArgs || (cmd.MaxArgs >= 0 && len(args) > cmd.MaxArgs) {
		return nil, fmt.Errorf("%w: usage: %s %s", wire.ErrInvalidParameter, cmd.Name, cmd.Usage)
	}
	return cmd.Run(ctx, args)
}

// Commands lists the command table sorted by name.
func (r *Remote) Commands() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Remote) register(c Command) {
	r.commands[c.Name] = c
}

func (r *Remote) stateChanged(from, to session.State) {
	r.feed.Publish(events.Event{Topic: events.TopicConnection, Name: from.String(), Value: to.String()})
}

// ready runs after every successful connect.
func (r *Remote) ready(ctx context.Context) {
	r.remember()
	if r.monitor != nil {
		r.monitor.Start(r.ctx)
	}
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		rctx, cancel := context.WithTimeout(r.ctx, refreshTimeout)
		defer cancel()
		if err := r.refresh(rctx); err != nil {
			r.debugLog("post-connect refresh failed", "error", err)
			r.feed.Publish(events.Event{Topic: events.TopicError, Name: "refresh", Err: err})
		}
	}()
}

func (r *Remote) refresh(ctx context.Context) error {
	if r.wctl != nil {
		return r.wctl.Refresh(ctx)
	}
	info := r.ble.Info()
	values := map[string]string{
		"name":     info.Name,
		"model":    info.Model,
		"firmware": info.Firmware,
		"lens":     info.Lens,
	}
	for k, v := range info.Cards {
		values[k] = v
	}
	r.feed.Publish(events.Event{Topic: events.TopicInfo, Name: "device", Values: values})
	return nil
}

func (r *Remote) disconnected(reason error) {
	if r.monitor != nil {
		r.monitor.Stop()
	}
	r.feed.Publish(events.Event{Topic: events.TopicConnection, Name: "lost", Err: reason})
}

func (r *Remote) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}

func (r *Remote) warn(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Warn(msg, args...)
	}
}
