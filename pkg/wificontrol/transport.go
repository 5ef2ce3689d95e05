package wificontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/lumix-remote/lumix-go/pkg/camcgi"
	"github.com/lumix-remote/lumix-go/pkg/catalog"
	"github.com/lumix-remote/lumix-go/pkg/connection"
	"github.com/lumix-remote/lumix-go/pkg/discovery"
	"github.com/lumix-remote/lumix-go/pkg/handshake"
	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// DefaultDeviceName is announced to the camera after login.
const DefaultDeviceName = "lumix-go"

// Finder locates a camera on the network. *discovery.Browser implements it.
type Finder interface {
	Find(ctx context.Context) (discovery.Candidate, error)
}

// Doer runs calls without the readiness check. *interaction.Executor
// implements it.
type Doer interface {
	Do(ctx context.Context, call interaction.Call, opts ...interaction.Option) (*interaction.Result, error)
}

// Config configures a Transport.
type Config struct {
	// DeviceName is the client name shown on the camera.
	DeviceName string

	// Finder discovers the camera when no host is pinned. If nil, a host
	// must be pinned on the session.
	Finder Finder

	HTTPClient *http.Client

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger

	// Protocol receives handshake errors. May be nil.
	Protocol *log.Scope
}

// DefaultConfig returns a Transport configuration with the default device
// name and SSDP discovery.
func DefaultConfig() Config {
	return Config{
		DeviceName: DefaultDeviceName,
		Finder:     discovery.NewBrowser(discovery.DefaultBrowserConfig()),
	}
}

// Transport is the Wi-Fi side of a session: cam.cgi calls plus the content
// directory. It implements connection.Transport and interaction.Dispatcher.
type Transport struct {
	config Config
	cgi    *camcgi.Client
	dir    *catalog.Directory

	mu   sync.RWMutex
	exec Doer
	raw  []byte
	desc *discovery.Description
}

// New creates a Transport. SetExecutor must be called before the first
// Authenticate.
func New(config Config) *Transport {
	if config.DeviceName == "" {
		config.DeviceName = DefaultDeviceName
	}
	cgi := camcgi.New("", camcgi.Config{HTTPClient: config.HTTPClient, Logger: config.Logger})
	return &Transport{
		config: config,
		cgi:    cgi,
		dir:    catalog.NewDirectory(cgi.Host, cgi.HTTP(), config.Logger),
	}
}

// SetExecutor installs the executor used for the login calls.
func (t *Transport) SetExecutor(d Doer) {
	t.mu.Lock()
	t.exec = d
	t.mu.Unlock()
}

// CGI returns the cam.cgi client.
func (t *Transport) CGI() *camcgi.Client { return t.cgi }

// Host returns the current camera host.
func (t *Transport) Host() string { return t.cgi.Host() }

// Description returns the device description read at connect, or nil.
func (t *Transport) Description() *discovery.Description {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.desc
}

// Discover finds the camera over SSDP and reads its description.
func (t *Transport) Discover(ctx context.Context) (session.Identity, error) {
	if t.config.Finder == nil {
		return session.Identity{}, fmt.Errorf("%w: no camera host configured", wire.ErrDeviceNotFound)
	}
	c, err := t.config.Finder.Find(ctx)
	if err != nil {
		return session.Identity{}, err
	}
	desc, err := discovery.FetchDescription(ctx, t.cgi, c.Host)
	if err != nil {
		return session.Identity{}, err
	}
	t.debugLog("camera found", "host", c.Host, "name", desc.FriendlyName)
	return identityOf(desc, c.Host), nil
}

func identityOf(d *discovery.Description, host string) session.Identity {
	return session.Identity{
		Name:         d.FriendlyName,
		Model:        d.ModelName,
		Serial:       d.SerialNumber,
		UDN:          d.UDN,
		Manufacturer: d.Manufacturer,
		Address:      host,
	}
}

// Dial points the client at the camera and checks that it answers.
func (t *Transport) Dial(ctx context.Context, id session.Identity) error {
	t.cgi.SetHost(id.Address)
	t.cgi.SetSessionID("")
	body, _, err := t.cgi.Get(ctx, discovery.DescriptionURL(id.Address))
	if err != nil {
		if wire.IsTransport(err) {
			return err
		}
		return &wire.TransportError{Op: "dial " + id.Address, Err: err}
	}
	t.mu.Lock()
	t.raw = body
	t.mu.Unlock()
	return nil
}

// Prepare parses the device description fetched by Dial.
func (t *Transport) Prepare(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	desc, err := discovery.ParseDescription(t.raw)
	if err != nil {
		return err
	}
	t.desc = desc
	return nil
}

// Described returns the identity read from the device description.
func (t *Transport) Described() session.Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.desc == nil {
		return session.Identity{}
	}
	return identityOf(t.desc, t.cgi.Host())
}

// Authenticate runs the accctrl login and announces the client name. The
// token is the session id sent as X-SESSION_ID on every later call.
func (t *Transport) Authenticate(ctx context.Context) (string, error) {
	t.mu.RLock()
	exec, desc := t.exec, t.desc
	t.mu.RUnlock()
	if exec == nil {
		return "", errors.New("wificontrol: no executor installed")
	}

	reply, err := t.login(ctx, exec, camcgi.Request{Mode: "accctrl", Type: "req_acc_g"})
	if err != nil {
		return "", err
	}
	if len(reply.Fields) == 0 {
		return "", fmt.Errorf("%w: req_acc_g without nonce", wire.ErrAuthenticationFailed)
	}
	value, value2, err := handshake.CallResponse(reply.Fields[0])
	if err != nil {
		return "", fmt.Errorf("%w: %w", wire.ErrAuthenticationFailed, err)
	}

	var sid string
	accept := camcgi.Request{Mode: "accctrl", Type: "req_acc_e", Value: value, Value2: value2}
	for i := 0; i < 2 && sid == ""; i++ {
		reply, err := t.login(ctx, exec, accept)
		if err != nil {
			return "", err
		}
		if sid, err = acceptance(reply.Fields, desc); err != nil {
			return "", err
		}
	}
	if sid == "" {
		return "", fmt.Errorf("%w: camera granted no session id", wire.ErrAuthenticationFailed)
	}
	t.cgi.SetSessionID(sid)

	name := camcgi.Request{Mode: "setsetting", Type: "device_name", Value: t.config.DeviceName}
	if _, err := exec.Do(ctx, name); err != nil {
		t.cgi.SetSessionID("")
		return "", err
	}
	t.debugLog("logged in", "host", t.cgi.Host())
	return sid, nil
}

// acceptance checks a req_acc_e answer ("<name>,remote,open[,<sid>]") and
// returns the session id, if any.
func acceptance(fields []string, desc *discovery.Description) (string, error) {
	if len(fields) < 3 || fields[1] != "remote" || fields[2] != "open" {
		return "", fmt.Errorf("%w: access not granted: %v", wire.ErrAuthenticationFailed, fields)
	}
	if desc != nil && desc.FriendlyName != "" && fields[0] != desc.FriendlyName {
		return "", fmt.Errorf("%w: camera %q answered for %q", wire.ErrAuthenticationFailed, desc.FriendlyName, fields[0])
	}
	if len(fields) > 3 {
		return fields[3], nil
	}
	return "", nil
}

func (t *Transport) login(ctx context.Context, exec Doer, r camcgi.Request) (*camcgi.Reply, error) {
	res, err := exec.Do(ctx, r)
	if err != nil {
		var se *wire.StatusError
		if errors.As(err, &se) {
			t.config.Protocol.Error(log.LayerSession, r.Target(), err)
			return nil, fmt.Errorf("%w: %w", wire.ErrAuthenticationFailed, err)
		}
		return nil, err
	}
	reply, ok := res.Payload.(*camcgi.Reply)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", wire.ErrProtocol, r.Target(), res.Payload)
	}
	return reply, nil
}

// Invalidate drops the session header. It runs under the session lock.
func (t *Transport) Invalidate() {
	t.cgi.SetSessionID("")
}

// Close releases idle HTTP connections.
func (t *Transport) Close() error {
	t.cgi.HTTP().CloseIdleConnections()
	return nil
}

// Dispatch routes cam.cgi requests and content directory pages.
func (t *Transport) Dispatch(ctx context.Context, call interaction.Call) (*interaction.Result, error) {
	switch call.(type) {
	case camcgi.Request:
		return t.cgi.Dispatch(ctx, call)
	case catalog.BrowseCall:
		return t.dir.Dispatch(ctx, call)
	default:
		return nil, fmt.Errorf("%w: %T is not a Wi-Fi call", wire.ErrInvalidParameter, call)
	}
}

func (t *Transport) debugLog(msg string, args ...any) {
	if t.config.Logger != nil {
		t.config.Logger.Debug(msg, args...)
	}
}

var (
	_ connection.Transport   = (*Transport)(nil)
	_ interaction.Dispatcher = (*Transport)(nil)
)
