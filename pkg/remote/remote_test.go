package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumix-remote/lumix-go/pkg/blecontrol"
	"github.com/lumix-remote/lumix-go/pkg/bluez"
	"github.com/lumix-remote/lumix-go/pkg/catalog"
	"github.com/lumix-remote/lumix-go/pkg/connection"
	"github.com/lumix-remote/lumix-go/pkg/events"
	"github.com/lumix-remote/lumix-go/pkg/handshake"
	"github.com/lumix-remote/lumix-go/pkg/hostwifi"
	"github.com/lumix-remote/lumix-go/pkg/persistence"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

const ddd = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0"><device>
 <friendlyName>G9M2-0001</friendlyName>
 <manufacturer>Panasonic</manufacturer>
 <modelNumber>DC-G9M2</modelNumber>
 <UDN>uuid:4D454930-0100-1000-8001-000000000001</UDN>
</device></root>`

// camera is a minimal cam.cgi double that accepts any login.
type camera struct {
	mu    sync.Mutex
	calls []string
}

func (c *camera) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *camera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", "Panasonic")
	if r.URL.Path == "/Lumix/Server0/ddd" {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, ddd)
		return
	}
	q := r.URL.Query()
	c.mu.Lock()
	c.calls = append(c.calls, q.Get("mode")+"/"+q.Get("type")+"="+q.Get("value"))
	c.mu.Unlock()

	switch q.Get("mode") + "/" + q.Get("type") {
	case "accctrl/req_acc_g":
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "ok,01020304")
		return
	case "accctrl/req_acc_e":
		value, _, _ := handshake.CallResponse("01020304")
		w.Header().Set("Content-Type", "text/plain")
		if q.Get("value") != value {
			fmt.Fprint(w, "err_param")
			return
		}
		fmt.Fprint(w, "ok,G9M2-0001,remote,open,AB12")
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	switch {
	case r.Header.Get("X-SESSION_ID") != "AB12":
		fmt.Fprint(w, `<?xml version="1.0"?><camrply><result>err_reject</result></camrply>`)
	case q.Get("mode") == "getstate":
		fmt.Fprint(w, `<?xml version="1.0"?><camrply><result>ok</result><state><cammode>rec</cammode></state></camrply>`)
	case q.Get("mode") == "camcmd" && q.Get("value") == "poweroff":
		fmt.Fprint(w, `<?xml version="1.0"?><camrply><result>err_busy</result></camrply>`)
	default:
		fmt.Fprint(w, `<?xml version="1.0"?><camrply><result>ok</result></camrply>`)
	}
}

type rewrite struct{ host string }

func (rw rewrite) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Host = rw.host
	return http.DefaultTransport.RoundTrip(r)
}

func wifiRemote(t *testing.T) (*Remote, *camera) {
	t.Helper()
	cfg, cam := wifiConfig(t)
	r, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, cam
}

func wifiConfig(t *testing.T) (Config, *camera) {
	t.Helper()
	cam := &camera{}
	srv := httptest.NewServer(cam)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Address = "192.168.54.1"
	cfg.Connection.AutoConnect = false
	cfg.Connection.MaxAttempts = 1
	cfg.Executor.MaxRetries = 1
	cfg.Executor.RetryDelay = time.Millisecond
	cfg.WiFi.Finder = nil
	cfg.WiFi.HTTPClient = &http.Client{Transport: rewrite{host: u.Host}, Timeout: 2 * time.Second}
	cfg.Monitor.Events = false
	cfg.Monitor.Keepalive.Interval = time.Hour
	return cfg, cam
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Transport = session.Transport(9)
	assert.ErrorIs(t, cfg.Validate(), wire.ErrInvalidParameter)

	cfg = DefaultConfig()
	cfg.Executor.MaxRetries = -1
	assert.ErrorIs(t, cfg.Validate(), wire.ErrInvalidParameter)

	_, err := New(Config{Transport: session.Transport(9)})
	assert.Error(t, err)
}

func TestWiFiConnectAndInvoke(t *testing.T) {
	r, cam := wifiRemote(t)
	ctx := context.Background()

	sub := r.Events(events.TopicConnection)
	defer sub.Close()

	require.NoError(t, r.Start(ctx))
	assert.ErrorIs(t, r.Start(ctx), ErrAlreadyStarted)
	require.NoError(t, r.Connect(ctx))
	assert.Equal(t, session.StateReady, r.Session().State())

	var reached []string
	timeout := time.After(time.Second)
	for len(reached) == 0 || reached[len(reached)-1] != session.StateReady.String() {
		select {
		case ev := <-sub.C:
			reached = append(reached, ev.Value)
		case <-timeout:
			t.Fatalf("connection events: %v", reached)
		}
	}
	assert.Contains(t, reached, session.StateAuthenticating.String())

	t.Run("typed command", func(t *testing.T) {
		_, err := r.Invoke(ctx, "capture")
		require.NoError(t, err)
		assert.Contains(t, cam.seen(), "camcmd/=capture")
	})

	t.Run("arguments are checked", func(t *testing.T) {
		_, err := r.Invoke(ctx, "touch", "1")
		assert.ErrorIs(t, err, wire.ErrInvalidParameter)
		_, err = r.Invoke(ctx, "touch", "a", "b")
		assert.ErrorIs(t, err, wire.ErrInvalidParameter)
		_, err = r.Invoke(ctx, "capture", "now")
		assert.ErrorIs(t, err, wire.ErrInvalidParameter)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := r.Invoke(ctx, "teleport")
		assert.ErrorIs(t, err, ErrUnknownCommand)
	})

	t.Run("raw", func(t *testing.T) {
		out, err := r.Invoke(ctx, "raw", "setsetting", "iso", "200")
		require.NoError(t, err)
		assert.NotNil(t, out)
		assert.Contains(t, cam.seen(), "setsetting/iso=200")

		_, err = r.RawRegister(ctx, RawRegister{Address: 0x68})
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("busy is retried then reported", func(t *testing.T) {
		_, err := r.Invoke(ctx, "poweroff")
		var se *wire.StatusError
		require.True(t, errors.As(err, &se))
		assert.ErrorIs(t, err, wire.ErrBusy)
		assert.Equal(t, 1, se.Retries)
	})

	t.Run("status", func(t *testing.T) {
		out, err := r.Invoke(ctx, "status")
		require.NoError(t, err)
		st := out.(map[string]string)
		assert.Equal(t, "wifi", st["transport"])
		assert.Equal(t, "Ready", st["state"])
	})
}

func TestWiFiDisconnect(t *testing.T) {
	r, _ := wifiRemote(t)
	ctx := context.Background()
	require.NoError(t, r.Connect(ctx))

	sub := r.Events(events.TopicConnection)
	defer sub.Close()

	_, err := r.Invoke(ctx, "disconnect")
	require.NoError(t, err)
	assert.Equal(t, session.StateDisconnected, r.Session().State())
	assert.Empty(t, r.Session().Token())

	// Without auto-connect commands fail fast.
	_, err = r.Invoke(ctx, "capture")
	assert.ErrorIs(t, err, wire.ErrNotConnected)

	require.Eventually(t, func() bool {
		select {
		case ev := <-sub.C:
			return ev.Name == "lost"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestCommandTable(t *testing.T) {
	r, _ := wifiRemote(t)
	names := map[string]bool{}
	for _, c := range r.Commands() {
		names[c.Name] = true
		assert.NotNil(t, c.Run, c.Name)
	}
	for _, want := range []string{"capture", "set", "get", "touch", "drag", "browse", "raw", "status", "connect"} {
		assert.True(t, names[want], want)
	}
	assert.False(t, names["shutter_press"])
}

func TestRememberedCamera(t *testing.T) {
	cfg, _ := wifiConfig(t)
	cfg.Address = ""
	cfg.StateFile = filepath.Join(t.TempDir(), "cameras.json")

	store := persistence.NewStore(cfg.StateFile)
	require.NoError(t, store.Remember("wifi", persistence.Camera{Address: "192.168.54.1"}))

	r, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	assert.Equal(t, "192.168.54.1", r.Session().Identity().Address)
	assert.False(t, r.Session().Pinned())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))

	cam, ok, err := store.Lookup("wifi")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "192.168.54.1", cam.Address)

	_, err = r.Invoke(ctx, "forget")
	require.NoError(t, err)
	_, ok, err = store.Lookup("wifi")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, r.Session().Identity().Address)
}

type joinBackend struct{ ssid, psk string }

func (b *joinBackend) Scan(context.Context) ([]hostwifi.AccessPoint, error) {
	return []hostwifi.AccessPoint{{SSID: "G9M2-0001", Strength: 80}, {SSID: "Office"}}, nil
}

func (b *joinBackend) Activate(_ context.Context, ap hostwifi.AccessPoint, psk string) (hostwifi.Activation, error) {
	b.ssid, b.psk = ap.SSID, psk
	return activated{}, nil
}

type activated struct{}

func (activated) State() (hostwifi.State, error) { return hostwifi.StateActivated, nil }

func TestHostJoin(t *testing.T) {
	cfg, _ := wifiConfig(t)
	backend := &joinBackend{}
	cfg.HostNetwork = backend
	r, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	out, err := r.Invoke(context.Background(), "host_join", "", "pw123456")
	require.NoError(t, err)
	assert.Equal(t, "G9M2-0001", out)
	assert.Equal(t, "pw123456", backend.psk)

	_, err = r.Invoke(context.Background(), "host_join", "GH7")
	assert.ErrorIs(t, err, wire.ErrDeviceNotFound)
}

func TestClose(t *testing.T) {
	r, _ := wifiRemote(t)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, StateClosed, r.State())

	_, err := r.Invoke(context.Background(), "capture")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, r.Connect(context.Background()), ErrClosed)
}

type mockAdapter struct{ mock.Mock }

func (m *mockAdapter) Scan(ctx context.Context, prefix string) (bluez.Device, error) {
	args := m.Called(ctx, prefix)
	return args.Get(0).(bluez.Device), args.Error(1)
}

func (m *mockAdapter) Connect(ctx context.Context, address string, h bluez.LinkHandlers) (blecontrol.Link, error) {
	args := m.Called(ctx, address, h)
	link, _ := args.Get(0).(blecontrol.Link)
	return link, args.Error(1)
}

func TestBLERemote(t *testing.T) {
	adapter := &mockAdapter{}
	adapter.On("Connect", mock.Anything, "AA:BB:CC:DD:EE:FF", mock.Anything).
		Return(nil, &wire.TransportError{Op: "connect", Err: errors.New("no route")})

	cfg := DefaultConfig()
	cfg.Transport = session.TransportBLE
	cfg.Address = "AA:BB:CC:DD:EE:FF"
	cfg.BLEAdapter = adapter
	cfg.Connection = connection.Config{MaxAttempts: 1, ConnectTimeout: time.Second}

	r, err := New(cfg)
	require.NoError(t, err)
	defer r.Close()

	assert.Nil(t, r.WiFi())
	assert.NotNil(t, r.BLE())

	names := map[string]bool{}
	for _, c := range r.Commands() {
		names[c.Name] = true
	}
	for _, want := range []string{"shutter_press", "shutter_release", "ap_join", "gps", "position", "raw"} {
		assert.True(t, names[want], want)
	}
	assert.False(t, names["browse"])

	ctx := context.Background()
	_, err = r.Browse(ctx, catalog.Filter{})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = r.RawCGI(ctx, RawCommand{Mode: "getstate"})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = r.Invoke(ctx, "raw", "zz")
	assert.ErrorIs(t, err, wire.ErrInvalidParameter)
	_, err = r.Invoke(ctx, "position", "north", "1")
	assert.ErrorIs(t, err, wire.ErrInvalidParameter)

	err = r.Connect(ctx)
	assert.ErrorIs(t, err, wire.ErrTransport)
	assert.Equal(t, session.StateDisconnected, r.Session().State())
	adapter.AssertExpectations(t)
}
