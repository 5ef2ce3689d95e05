package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/session"
)

// Listener defaults.
const (
	// DefaultListenAddr is where the camera delivers NOTIFY requests.
	DefaultListenAddr = ":49153"

	// DefaultCallbackPath is the NOTIFY request path.
	DefaultCallbackPath = "/Camera/event"

	// CamSyncProperty is the property that carries busy and change hints.
	CamSyncProperty = "X_Panasonic_Cam_Sync"

	maxNotifyBody = 1 << 20
)

// SyncAction is what a X_Panasonic_Cam_Sync value asks the controller to
// refresh.
type SyncAction uint8

const (
	SyncNone SyncAction = iota
	// SyncLens asks for a lens information refresh.
	SyncLens
	// SyncUpdate asks for a menu and settings refresh.
	SyncUpdate
)

// ClassifySync maps a X_Panasonic_Cam_Sync value to its refresh action.
func ClassifySync(value string) SyncAction {
	switch {
	case strings.HasPrefix(value, "lens_"):
		return SyncLens
	case value == "update":
		return SyncUpdate
	default:
		return SyncNone
	}
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Addr is the listen address.
	Addr string

	// Path is the callback path.
	Path string

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger

	// Protocol receives pushed properties and busy gate changes.
	Protocol *log.Scope
}

// DefaultListenerConfig returns the standard callback address.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{Addr: DefaultListenAddr, Path: DefaultCallbackPath}
}

// Listener accepts NOTIFY requests from one camera, caches the pushed
// properties on the session, drives the busy gate and publishes property
// events.
type Listener struct {
	config  ListenerConfig
	id      string
	session *session.Session
	feed    *Feed

	mu         sync.RWMutex
	expectUDN  string
	expectHost string
	onProperty func(Property)
	server     *http.Server
	listener   net.Listener

	received *xsync.Counter
	rejected *xsync.Counter
}

// NewListener creates a Listener for s. feed may be nil.
func NewListener(s *session.Session, feed *Feed, config ListenerConfig) *Listener {
	if config.Addr == "" {
		config.Addr = DefaultListenAddr
	}
	if config.Path == "" {
		config.Path = DefaultCallbackPath
	}
	return &Listener{
		config:   config,
		id:       uuid.NewString(),
		session:  s,
		feed:     feed,
		received: xsync.NewCounter(),
		rejected: xsync.NewCounter(),
	}
}

// ID identifies this listener instance in logs.
func (l *Listener) ID() string { return l.id }

// Expect restricts accepted NOTIFY requests to the device with the given
// UDN at host. Empty values disable the respective check.
func (l *Listener) Expect(udn, host string) {
	l.mu.Lock()
	l.expectUDN = udn
	l.expectHost = host
	l.mu.Unlock()
}

// OnProperty registers fn to run after each accepted property is applied.
// It runs on the HTTP handler goroutine and must not block.
func (l *Listener) OnProperty(fn func(Property)) {
	l.mu.Lock()
	l.onProperty = fn
	l.mu.Unlock()
}

// Start binds the listen address and serves in the background. It is a
// no-op while already serving.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.server != nil {
		return nil
	}
	ln, err := net.Listen("tcp", l.config.Addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(l.config.Path, l)
	l.listener = ln
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := l.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.config.Protocol.Error(log.LayerSession, "event listener", err)
			if l.config.Logger != nil {
				l.config.Logger.Error("event listener stopped", "error", err)
			}
		}
	}()
	l.debugLog("event listener started", "addr", ln.Addr().String(), "id", l.id)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Port returns the bound TCP port, or 0 before Start.
func (l *Listener) Port() int {
	if a, ok := l.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Path returns the callback path.
func (l *Listener) Path() string { return l.config.Path }

// Close stops serving.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	srv := l.server
	l.server, l.listener = nil, nil
	l.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Stats returns the number of accepted and rejected NOTIFY requests.
func (l *Listener) Stats() (received, rejected int64) {
	return l.received.Value(), l.rejected.Value()
}

// ServeHTTP handles one NOTIFY request.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if r.Header.Get("NT") != "upnp:event" || r.Header.Get("NTS") != "upnp:propchange" {
		l.debugLog("ignoring NOTIFY", "nt", r.Header.Get("NT"), "nts", r.Header.Get("NTS"))
		w.WriteHeader(http.StatusOK)
		return
	}

	l.mu.RLock()
	udn, host, fn := l.expectUDN, l.expectHost, l.onProperty
	l.mu.RUnlock()

	if udn != "" && uuidTail(r.Header.Get("SID")) != uuidTail(udn) {
		l.reject(w, http.StatusPreconditionFailed, "SID does not match device", r)
		return
	}
	if host != "" && !samePeer(r.RemoteAddr, host) {
		l.reject(w, http.StatusForbidden, "NOTIFY from unexpected peer", r)
		return
	}

	props, err := ParsePropertySet(body)
	if err != nil {
		l.config.Protocol.Error(log.LayerSession, "NOTIFY", err)
		l.reject(w, http.StatusBadRequest, "malformed propertyset", r)
		return
	}

	l.received.Inc()
	for _, p := range props {
		l.Apply(p)
		if fn != nil {
			fn(p)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// Apply caches p on the session, updates the busy gate and publishes it.
func (l *Listener) Apply(p Property) {
	l.session.SetProperty(p.Name, p.Value)
	l.config.Protocol.Property(p.Name, p.Value)

	if p.Name == CamSyncProperty {
		busy := p.Value == "busy"
		if l.session.SetBusy(busy) {
			from, to := "open", "closed"
			if !busy {
				from, to = to, from
			}
			l.config.Protocol.State(log.StateEntityBusyGate, from, to, p.Value)
			l.debugLog("busy gate", "state", to)
		}
	}
	l.feed.Publish(Event{Topic: TopicProperty, Name: p.Name, Value: p.Value})
}

func (l *Listener) reject(w http.ResponseWriter, code int, reason string, r *http.Request) {
	l.rejected.Inc()
	l.debugLog("rejected NOTIFY", "reason", reason, "peer", r.RemoteAddr, "sid", r.Header.Get("SID"))
	w.WriteHeader(code)
}

// uuidTail returns the last dash-separated group, which carries the
// device MAC address.
func uuidTail(s string) string {
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		s = s[i+1:]
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func samePeer(remoteAddr, host string) bool {
	peer, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		peer = remoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.Equal(net.ParseIP(peer))
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if net.ParseIP(a).Equal(net.ParseIP(peer)) {
			return true
		}
	}
	return false
}

func (l *Listener) debugLog(msg string, args ...any) {
	if l.config.Logger != nil {
		l.config.Logger.Debug(msg, args...)
	}
}
