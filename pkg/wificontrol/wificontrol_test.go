package wificontrol

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumix-remote/lumix-go/pkg/camcgi"
	"github.com/lumix-remote/lumix-go/pkg/connection"
	"github.com/lumix-remote/lumix-go/pkg/events"
	"github.com/lumix-remote/lumix-go/pkg/handshake"
	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/keepalive"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

const (
	cameraHost = "192.168.54.1"
	cameraName = "G9M2-1234"
	cameraSID  = "4D454930"
	cameraUDN  = "uuid:4D454930-0100-1000-8001-A0CDF3D7C5C8"
)

const description = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
 <device>
  <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
  <friendlyName>` + cameraName + `</friendlyName>
  <manufacturer>Panasonic</manufacturer>
  <modelName>LUMIX</modelName>
  <modelNumber>DC-G9M2</modelNumber>
  <serialNumber>XS2AA001234</serialNumber>
  <UDN>` + cameraUDN + `</UDN>
 </device>
</root>`

const allmenu = `<?xml version="1.0" encoding="UTF-8"?>
<camrply><result>ok</result>
<menuset version="1">
 <titlelist>
  <language code="en" default="yes">
   <title id="title_iso">ISO</title>
   <title id="title_iso_auto">Auto</title>
   <title id="title_iso_200">200</title>
  </language>
  <language code="de">
   <title id="title_iso">ISO-Empfindlichkeit</title>
  </language>
 </titlelist>
 <photosettings><menu>
  <item id="menu_item_id_iso" title_id="title_iso" func_type="select">
   <group>
    <item id="menu_item_id_iso_auto" title_id="title_iso_auto" cmd_mode="setsetting" cmd_type="iso" cmd_value="auto"/>
    <item id="menu_item_id_iso_200" title_id="title_iso_200" cmd_mode="setsetting" cmd_type="iso" cmd_value="200"/>
   </group>
  </item>
  <item id="menu_item_id_photostyle" title_id="title_photostyle" func_type="select">
   <group>
    <item id="menu_item_id_ps_std" title_id="title_std" cmd_mode="setsetting" cmd_type="photostyle" cmd_value="standard"/>
   </group>
  </item>
 </menu></photosettings>
</menuset>
</camrply>`

const lensReply = "ok,f/1.7,4000/1,60/1,x,x,x,25,25,x,x,x,x,MFT,LUMIX G 25/F1.7,Panasonic,SN123"

// fakeCamera answers cam.cgi like the camera does.
type fakeCamera struct {
	t *testing.T

	mu        sync.Mutex
	requests  []url.Values
	acceptErr string
	nameReply string
	statusFor map[string]string
	accepts   int

	abortState atomic.Bool
}

func newFakeCamera(t *testing.T) *fakeCamera {
	return &fakeCamera{t: t, nameReply: cameraName, statusFor: map[string]string{}}
}

func (c *fakeCamera) targets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.requests))
	for _, q := range c.requests {
		out = append(out, camcgi.Request{Mode: q.Get("mode"), Type: q.Get("type"), Value: q.Get("value"), Value2: q.Get("value2")}.Target())
	}
	return out
}

func xmlOK(w http.ResponseWriter, inner string) {
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><camrply><result>ok</result>%s</camrply>`, inner)
}

func plain(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, body)
}

func (c *fakeCamera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", "Panasonic")
	if r.URL.Path == "/Lumix/Server0/ddd" {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, description)
		return
	}
	q := r.URL.Query()
	mode, typ := q.Get("mode"), q.Get("type")
	if mode == "getstate" && c.abortState.Load() {
		panic(http.ErrAbortHandler)
	}

	c.mu.Lock()
	c.requests = append(c.requests, q)
	status := c.statusFor[mode+"/"+typ]
	c.mu.Unlock()
	if status != "" {
		xmlStatus(w, status)
		return
	}

	if mode != "accctrl" && r.Header.Get("X-SESSION_ID") != cameraSID {
		xmlStatus(w, "err_reject")
		return
	}

	switch {
	case mode == "accctrl" && typ == "req_acc_g":
		plain(w, "ok,28c4e909")
	case mode == "accctrl" && typ == "req_acc_e":
		value, value2, _ := handshake.CallResponse("28c4e909")
		if q.Get("value") != value || q.Get("value2") != value2 {
			plain(w, "err_param")
			return
		}
		c.mu.Lock()
		c.accepts++
		first := c.accepts == 1
		c.mu.Unlock()
		if first {
			plain(w, "ok,"+c.nameReply+",remote,open")
			return
		}
		plain(w, "ok,"+c.nameReply+",remote,open,"+cameraSID)
	case mode == "getstate":
		xmlOK(w, "<state><batt>3/3</batt><cammode>rec</cammode><sd_memory>set</sd_memory></state>")
	case mode == "getinfo" && typ == "lens":
		plain(w, lensReply)
	case mode == "getinfo" && typ == "allmenu":
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, allmenu)
	case mode == "getinfo" && typ == "curmenu":
		xmlOK(w, `<menuinfo><item id="menu_item_id_iso" enable="yes"/><item id="menu_item_id_qmenu" enable="no"/></menuinfo>`)
	case mode == "getsetting" && typ == "touch_type":
		plain(w, "ok,touch_ae,touch_af")
	case mode == "getsetting":
		xmlOK(w, fmt.Sprintf(`<settingvalue %s="512/256"></settingvalue>`, typ))
	default:
		xmlOK(w, "")
	}
}

func xmlStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, `<?xml version="1.0"?><camrply><result>%s</result></camrply>`, status)
}

type rewrite struct{ host string }

func (rw rewrite) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Host = rw.host
	return http.DefaultTransport.RoundTrip(r)
}

type stack struct {
	camera  *fakeCamera
	session *session.Session
	t       *Transport
	exec    *interaction.Executor
	manager *connection.Manager
	control *Control
	feed    *events.Feed
}

func newStack(t *testing.T, camera *fakeCamera) *stack {
	t.Helper()
	srv := httptest.NewServer(camera)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	hc := &http.Client{Transport: rewrite{host: u.Host}, Timeout: 2 * time.Second}
	s := session.New(session.TransportWiFi, cameraHost)
	tr := New(Config{HTTPClient: hc})
	exec := interaction.NewExecutor(s, tr, nil, nil, interaction.Config{MaxRetries: 2, RetryDelay: time.Millisecond})
	mgr := connection.NewManager(s, tr, connection.Config{AutoConnect: false, MaxAttempts: 1})
	exec.SetHooks(mgr, mgr)
	tr.SetExecutor(exec)

	feed := events.NewFeed(16)
	t.Cleanup(feed.Close)
	return &stack{
		camera:  camera,
		session: s,
		t:       tr,
		exec:    exec,
		manager: mgr,
		control: NewControl(exec, tr, s, ControlConfig{Feed: feed, DragInterval: 10 * time.Millisecond}),
		feed:    feed,
	}
}

func connected(t *testing.T) *stack {
	t.Helper()
	st := newStack(t, newFakeCamera(t))
	require.NoError(t, st.manager.Connect(context.Background()))
	return st
}

func TestConnectLogsIn(t *testing.T) {
	st := connected(t)

	assert.Equal(t, session.StateReady, st.session.State())
	assert.Equal(t, cameraSID, st.session.Token())
	assert.Equal(t, cameraSID, st.t.CGI().SessionID())
	require.NotNil(t, st.t.Description())
	assert.Equal(t, cameraName, st.t.Description().FriendlyName)

	value, value2, err := handshake.CallResponse("28c4e909")
	require.NoError(t, err)
	accept := "accctrl/req_acc_e=" + value + "," + value2
	assert.Equal(t, []string{
		"accctrl/req_acc_g",
		accept,
		accept,
		"setsetting/device_name=" + DefaultDeviceName,
	}, st.camera.targets())
}

func TestConnectRejectsOtherCamera(t *testing.T) {
	camera := newFakeCamera(t)
	camera.nameReply = "G9M2-9999"
	st := newStack(t, camera)

	err := st.manager.Connect(context.Background())
	assert.ErrorIs(t, err, wire.ErrAuthenticationFailed)
	assert.Equal(t, session.StateDisconnected, st.session.State())
	assert.Empty(t, st.t.CGI().SessionID())
}

func TestConnectStatusErrorIsAuthFailure(t *testing.T) {
	camera := newFakeCamera(t)
	camera.statusFor["accctrl/req_acc_g"] = "err_reject"
	st := newStack(t, camera)

	err := st.manager.Connect(context.Background())
	assert.ErrorIs(t, err, wire.ErrAuthenticationFailed)
	assert.ErrorIs(t, err, wire.ErrRejected)
}

func TestConnectWithoutHostOrFinder(t *testing.T) {
	tr := New(Config{})
	_, err := tr.Discover(context.Background())
	assert.ErrorIs(t, err, wire.ErrDeviceNotFound)
}

func TestDispatchRejectsForeignCalls(t *testing.T) {
	tr := New(Config{})
	_, err := tr.Dispatch(context.Background(), foreignCall{})
	assert.ErrorIs(t, err, wire.ErrInvalidParameter)
}

type foreignCall struct{}

func (foreignCall) Target() string { return "foreign" }

func TestCommands(t *testing.T) {
	st := connected(t)
	ctx := context.Background()

	t.Run("capture", func(t *testing.T) {
		require.NoError(t, st.control.Capture(ctx))
		assert.Contains(t, st.camera.targets(), "camcmd=capture")
	})

	t.Run("stream switches to rec mode first", func(t *testing.T) {
		require.NoError(t, st.control.StartStream(ctx, 0))
		got := st.camera.targets()
		require.GreaterOrEqual(t, len(got), 2)
		assert.Equal(t, []string{"camcmd=recmode", "startstream=49152"}, got[len(got)-2:])
	})

	t.Run("gated while operated by hand", func(t *testing.T) {
		st.session.SetBusy(true)
		defer st.session.SetBusy(false)
		err := st.control.VideoRecStart(ctx)
		assert.ErrorIs(t, err, wire.ErrGated)
		require.NoError(t, st.control.Capture(ctx))
	})

	t.Run("touch bounds", func(t *testing.T) {
		assert.ErrorIs(t, st.control.Touch(ctx, 1001, 5), wire.ErrInvalidParameter)
		require.NoError(t, st.control.Touch(ctx, 500, 250))
		assert.Contains(t, st.camera.targets(), "camctrl/touch=500/250,on")
	})

	t.Run("focus step", func(t *testing.T) {
		_, err := st.control.Focus(ctx, "sideways")
		assert.ErrorIs(t, err, wire.ErrInvalidParameter)
		_, err = st.control.Focus(ctx, FocusTeleFast)
		require.NoError(t, err)
	})

	t.Run("sd card", func(t *testing.T) {
		assert.ErrorIs(t, st.control.SelectSDCard(ctx, 3), wire.ErrInvalidParameter)
		require.NoError(t, st.control.SelectSDCard(ctx, 2))
		assert.Contains(t, st.camera.targets(), "setsetting/current_sd=sd2")
	})

	t.Run("rejected command", func(t *testing.T) {
		st.camera.mu.Lock()
		st.camera.statusFor["camcmd/"] = "err_reject"
		st.camera.mu.Unlock()
		err := st.control.PowerOff(ctx)
		assert.ErrorIs(t, err, wire.ErrRejected)
	})
}

func TestTouchDragRateLimit(t *testing.T) {
	st := connected(t)
	ctx := context.Background()
	clock := time.Unix(1000, 0)
	st.control.now = func() time.Time { return clock }

	sent, err := st.control.TouchDrag(ctx, DragStart, 100, 100)
	require.NoError(t, err)
	assert.True(t, sent)

	clock = clock.Add(5 * time.Millisecond)
	sent, err = st.control.TouchDrag(ctx, DragContinue, 110, 100)
	require.NoError(t, err)
	assert.False(t, sent)

	clock = clock.Add(20 * time.Millisecond)
	sent, err = st.control.TouchDrag(ctx, DragContinue, 120, 100)
	require.NoError(t, err)
	assert.True(t, sent)

	clock = clock.Add(time.Millisecond)
	sent, err = st.control.TouchDrag(ctx, DragStop, 120, 100)
	require.NoError(t, err)
	assert.True(t, sent)

	var traces []string
	for _, target := range st.camera.targets() {
		if len(target) > 19 && target[:19] == "camctrl/touch_trace" {
			traces = append(traces, target)
		}
	}
	assert.Equal(t, []string{
		"camctrl/touch_trace=start,100/100",
		"camctrl/touch_trace=continue,120/100",
		"camctrl/touch_trace=stop,120/100",
	}, traces)

	_, err = st.control.TouchDrag(ctx, "hover", 1, 1)
	assert.ErrorIs(t, err, wire.ErrInvalidParameter)
}

func TestSetSettingReadsBack(t *testing.T) {
	st := connected(t)
	got, err := st.control.SetSetting(context.Background(), "focal", "500/256", "")
	require.NoError(t, err)
	assert.Equal(t, Setting{Type: "focal", Value: "512/256"}, got)

	targets := st.camera.targets()
	assert.Equal(t, []string{
		"setsetting/focal=500/256",
		"getinfo/curmenu",
		"getsetting/focal",
	}, targets[len(targets)-3:])
}

func TestRefresh(t *testing.T) {
	st := connected(t)
	st.session.UpdateSnapshot(map[string]string{"sd_memory": "set", "sd2_memory": "unset"})
	sub := st.feed.Subscribe(events.TopicInfo)
	defer sub.Close()

	require.NoError(t, st.control.Refresh(context.Background()))

	lens := st.control.Lens()
	assert.Equal(t, "LUMIX G 25/F1.7", lens.Name)
	assert.Equal(t, "MFT", lens.Mount)
	assert.Equal(t, "25", lens.MaxFocalLength)
	assert.Equal(t, "SN123", lens.SerialNumber)

	cur := st.control.CurrentMenu()
	assert.True(t, cur["menu_item_id_iso"])
	assert.False(t, cur["menu_item_id_qmenu"])
	assert.True(t, cur["menu_item_id_sd_1"])
	assert.False(t, cur["menu_item_id_sd_2"])

	assert.Equal(t, []string{"touch_ae", "touch_af"}, st.control.TouchType())
	assert.NotNil(t, st.control.Capability())

	settings := st.control.Settings()
	var types []string
	for _, s := range settings {
		types = append(types, s.Type)
	}
	assert.Contains(t, types, "iso")
	assert.NotContains(t, types, "photostyle")

	names := map[string]bool{}
	timeout := time.After(time.Second)
	for !names["settings"] {
		select {
		case ev := <-sub.C:
			names[ev.Name] = true
		case <-timeout:
			t.Fatalf("info events: %v", names)
		}
	}
	assert.True(t, names["lens"])
	assert.True(t, names["curmenu"])
}

func TestParseMenu(t *testing.T) {
	doc, err := camcgi.ParseNode([]byte(allmenu))
	require.NoError(t, err)
	m, err := ParseMenu(doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"de", "en"}, m.Languages())
	assert.Equal(t, "en", m.Language())

	iso, ok := m.Command("iso")
	require.True(t, ok)
	assert.Equal(t, "ISO", iso.Name)
	assert.Equal(t, []Option{{Name: "Auto", Value: "auto"}, {Name: "200", Value: "200"}}, iso.Options)

	require.NoError(t, m.SetLanguage("de"))
	iso, _ = m.Command("iso")
	assert.Equal(t, "ISO-Empfindlichkeit", iso.Name)
	assert.Equal(t, "Auto", iso.Options[0].Name)

	assert.ErrorIs(t, m.SetLanguage("fr"), wire.ErrInvalidParameter)

	sd, ok := m.Command("current_sd")
	require.True(t, ok)
	assert.Len(t, sd.Options, 2)
	shutter, ok := m.Command("shtrspeed")
	require.True(t, ok)
	assert.Equal(t, "B", shutter.Options[len(shutter.Options)-1].Name)

	assert.Equal(t, []string{
		"iso", "current_sd", "shtrspeed", "focal",
		"play_sort_mode", "qmenu_disp_style", "photostyle2",
	}, m.Readable())

	_, err = ParseMenu(&camcgi.Node{})
	assert.ErrorIs(t, err, wire.ErrProtocol)
}

func TestParseLensShortReply(t *testing.T) {
	l := ParseLens([]string{"f/2.8"})
	assert.Equal(t, "f/2.8", l.ApertureLimit)
	assert.Empty(t, l.Name)
}

func TestMonitorKeepsStateAndDetectsLoss(t *testing.T) {
	st := connected(t)
	lost := make(chan struct{})
	var once sync.Once
	var mon *Monitor
	st.manager.OnDisconnected(func(error) {
		mon.Stop()
		once.Do(func() { close(lost) })
	})
	mon = NewMonitor(st.session, st.t, st.control, st.feed, st.manager.NotifyConnectionLost, MonitorConfig{
		Keepalive: keepalive.Config{Interval: 10 * time.Millisecond, Timeout: time.Second, MaxMissed: 2},
	})
	t.Cleanup(func() { _ = mon.Close(context.Background()) })

	sub := st.feed.Subscribe(events.TopicState)
	defer sub.Close()
	mon.Start(context.Background())

	select {
	case ev := <-sub.C:
		assert.Equal(t, "rec", ev.Values["cammode"])
	case <-time.After(time.Second):
		t.Fatal("no state event")
	}
	v, ok := st.session.StateValue("batt")
	require.True(t, ok)
	assert.Equal(t, "3/3", v)

	st.camera.abortState.Store(true)
	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("loss not reported")
	}
	assert.Equal(t, session.StateDisconnected, st.session.State())
	assert.Empty(t, st.t.CGI().SessionID())
	mode, _ := st.session.StateValue("cammode")
	assert.Equal(t, NoConnection, mode)
	assert.False(t, mon.Poller().Running())
}

func TestMonitorRefreshesOnEvents(t *testing.T) {
	st := connected(t)
	mon := NewMonitor(st.session, st.t, st.control, st.feed, nil, DefaultMonitorConfig())
	defer func() { _ = mon.Close(context.Background()) }()

	mon.onProperty(events.Property{Name: "X_Panasonic_Cam_VRec", Value: "start"})
	mon.onProperty(events.Property{Name: events.CamSyncProperty, Value: "lens_Atta"})

	require.Eventually(t, func() bool {
		return st.control.Lens().Name == "LUMIX G 25/F1.7"
	}, time.Second, 5*time.Millisecond)
}

func TestMonitorPollNeverReconnects(t *testing.T) {
	st := connected(t)
	mon := NewMonitor(st.session, st.t, st.control, st.feed, nil, DefaultMonitorConfig())
	defer func() { _ = mon.Close(context.Background()) }()

	state, err := mon.poll(context.Background())
	require.NoError(t, err)
	before := len(st.camera.targets())

	// A poll answered just before a teardown must not revive the old
	// snapshot.
	st.manager.NotifyConnectionLost(wire.ErrTransport)
	mon.onState(map[string]string{"cammode": "play"})
	snap, stale := st.session.Snapshot()
	assert.True(t, stale)
	assert.NotEqual(t, "play", snap["cammode"])
	assert.Equal(t, "rec", state["cammode"])

	_, err = mon.poll(context.Background())
	assert.ErrorIs(t, err, wire.ErrNotConnected)
	_, err = st.control.State(context.Background(), interaction.Quiet(), interaction.NoConnect())
	assert.ErrorIs(t, err, wire.ErrNotConnected)
	assert.Len(t, st.camera.targets(), before, "no login traffic from the poller")
	assert.Equal(t, session.StateDisconnected, st.session.State())
}
