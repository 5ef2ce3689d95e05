package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

const vrecBody = `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property>
    <X_Panasonic_Cam_VRec>done</X_Panasonic_Cam_VRec>
  </e:property>
</e:propertyset>`

func syncBody(value string) string {
	return `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0"><e:property><X_Panasonic_Cam_Sync>` +
		value + `</X_Panasonic_Cam_Sync></e:property></e:propertyset>`
}

func TestParsePropertySet(t *testing.T) {
	body := `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property><SourceProtocolInfo>http-get:*:image/jpeg:*</SourceProtocolInfo></e:property>
  <e:property><SinkProtocolInfo></SinkProtocolInfo></e:property>
  <e:property><CurrentConnectionIDs>0</CurrentConnectionIDs></e:property>
</e:propertyset>`
	props, err := ParsePropertySet([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []Property{
		{Name: "SourceProtocolInfo", Value: "http-get:*:image/jpeg:*"},
		{Name: "SinkProtocolInfo", Value: ""},
		{Name: "CurrentConnectionIDs", Value: "0"},
	}, props)

	_, err = ParsePropertySet([]byte(`<propertyset/>`))
	assert.ErrorIs(t, err, wire.ErrProtocol)
}

func TestClassifySync(t *testing.T) {
	assert.Equal(t, SyncLens, ClassifySync("lens_Atta"))
	assert.Equal(t, SyncLens, ClassifySync("lens_Update"))
	assert.Equal(t, SyncUpdate, ClassifySync("update"))
	assert.Equal(t, SyncNone, ClassifySync("busy"))
	assert.Equal(t, SyncNone, ClassifySync("mod_Play"))
}

func TestFeed(t *testing.T) {
	f := NewFeed(4)
	defer f.Close()

	props := f.Subscribe(TopicProperty)
	all := f.Subscribe()

	f.Publish(Event{Topic: TopicState, Values: map[string]string{"cammode": "rec"}})
	f.Publish(Event{Topic: TopicProperty, Name: "X_Panasonic_Cam_VRec", Value: "start"})

	select {
	case ev := <-props.C:
		assert.Equal(t, TopicProperty, ev.Topic)
		assert.Equal(t, "start", ev.Value)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("property event not delivered")
	}

	var topics []Topic
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all.C:
			topics = append(topics, ev.Topic)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
	assert.Equal(t, []Topic{TopicState, TopicProperty}, topics)

	props.Close()
	props.Close()
}

func TestFeedClosed(t *testing.T) {
	f := NewFeed(0)
	f.Close()
	f.Publish(Event{Topic: TopicState})
	sub := f.Subscribe(TopicState)
	_, ok := <-sub.C
	assert.False(t, ok)

	var nilFeed *Feed
	nilFeed.Publish(Event{Topic: TopicError})
}

func notify(t *testing.T, l *Listener, remote, sid, body string) int {
	t.Helper()
	req := httptest.NewRequest("NOTIFY", DefaultCallbackPath, strings.NewReader(body))
	req.RemoteAddr = remote
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sid)
	rec := httptest.NewRecorder()
	l.ServeHTTP(rec, req)
	return rec.Code
}

const (
	udn = "uuid:4D454930-0100-1000-8001-A0CD25E77E48"
	sid = "uuid:DEADBEEF-0000-1000-8000-A0CD25E77E48"
)

func TestListenerAcceptsProperties(t *testing.T) {
	s := session.New(session.TransportWiFi, "")
	feed := NewFeed(8)
	defer feed.Close()
	sub := feed.Subscribe(TopicProperty)

	l := NewListener(s, feed, DefaultListenerConfig())
	l.Expect(udn, "192.168.54.1")

	var seen []Property
	l.OnProperty(func(p Property) { seen = append(seen, p) })

	code := notify(t, l, "192.168.54.1:50000", sid, vrecBody)
	assert.Equal(t, http.StatusOK, code)

	v, ok := s.Property("X_Panasonic_Cam_VRec")
	assert.True(t, ok)
	assert.Equal(t, "done", v)
	assert.Equal(t, []Property{{Name: "X_Panasonic_Cam_VRec", Value: "done"}}, seen)

	select {
	case ev := <-sub.C:
		assert.Equal(t, "X_Panasonic_Cam_VRec", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("property not published")
	}

	received, rejected := l.Stats()
	assert.Equal(t, int64(1), received)
	assert.Equal(t, int64(0), rejected)
}

func TestListenerRejects(t *testing.T) {
	s := session.New(session.TransportWiFi, "")
	l := NewListener(s, nil, ListenerConfig{})
	l.Expect(udn, "192.168.54.1")

	t.Run("foreign SID", func(t *testing.T) {
		code := notify(t, l, "192.168.54.1:50000", "uuid:DEADBEEF-0000-1000-8000-000000000000", vrecBody)
		assert.Equal(t, http.StatusPreconditionFailed, code)
	})
	t.Run("foreign peer", func(t *testing.T) {
		code := notify(t, l, "192.168.54.99:50000", sid, vrecBody)
		assert.Equal(t, http.StatusForbidden, code)
	})
	t.Run("malformed body", func(t *testing.T) {
		code := notify(t, l, "192.168.54.1:50000", sid, "<nope")
		assert.Equal(t, http.StatusBadRequest, code)
	})
	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultCallbackPath, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
	t.Run("other notification type is ignored", func(t *testing.T) {
		req := httptest.NewRequest("NOTIFY", DefaultCallbackPath, strings.NewReader(vrecBody))
		req.Header.Set("NT", "upnp:other")
		rec := httptest.NewRecorder()
		l.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	_, ok := s.Property("X_Panasonic_Cam_VRec")
	assert.False(t, ok)
	_, rejected := l.Stats()
	assert.Equal(t, int64(3), rejected)
}

func TestListenerBusyGate(t *testing.T) {
	s := session.New(session.TransportWiFi, "")
	l := NewListener(s, nil, ListenerConfig{})

	require.Equal(t, http.StatusOK, notify(t, l, "192.168.54.1:1", sid, syncBody("busy")))
	assert.True(t, s.Busy())

	require.Equal(t, http.StatusOK, notify(t, l, "192.168.54.1:1", sid, syncBody("lens_Atta")))
	assert.False(t, s.Busy())

	require.Equal(t, http.StatusOK, notify(t, l, "192.168.54.1:1", sid, syncBody("busy")))
	require.Equal(t, http.StatusOK, notify(t, l, "192.168.54.1:1", sid, syncBody("update")))
	assert.False(t, s.Busy())
}

func TestListenerServes(t *testing.T) {
	s := session.New(session.TransportWiFi, "")
	l := NewListener(s, nil, ListenerConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, l.Start())
	defer l.Close(context.Background())
	require.NotZero(t, l.Port())

	req, err := http.NewRequest("NOTIFY", "http://"+l.Addr().String()+DefaultCallbackPath, strings.NewReader(vrecBody))
	require.NoError(t, err)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	v, _ := s.Property("X_Panasonic_Cam_VRec")
	assert.Equal(t, "done", v)
}

type genaCamera struct {
	mu       sync.Mutex
	requests []*http.Request
}

func (g *genaCamera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.requests = append(g.requests, r.Clone(context.Background()))
	g.mu.Unlock()
	switch r.Method {
	case "SUBSCRIBE":
		w.Header().Set("SID", "uuid:sub-1")
		w.Header().Set("TIMEOUT", "Second-300")
	case "UNSUBSCRIBE":
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (g *genaCamera) methods() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.requests))
	for i, r := range g.requests {
		out[i] = r.Method
	}
	return out
}

// redirect sends every request to the test server regardless of host.
type redirect struct{ target string }

func (rt redirect) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Host = rt.target
	return http.DefaultTransport.RoundTrip(r)
}

func TestSubscriberLifecycle(t *testing.T) {
	cam := &genaCamera{}
	srv := httptest.NewServer(cam)
	defer srv.Close()

	sub := NewSubscriber(SubscriberConfig{
		HTTPClient: &http.Client{Transport: redirect{strings.TrimPrefix(srv.URL, "http://")}},
	})
	ctx := context.Background()

	require.ErrorIs(t, sub.Renew(ctx), ErrNotSubscribed)
	require.NoError(t, sub.Subscribe(ctx, "192.168.54.1", "http://192.168.54.10:49153/Camera/event"))
	assert.Equal(t, "uuid:sub-1", sub.SID())

	cam.mu.Lock()
	first := cam.requests[0]
	cam.mu.Unlock()
	assert.Equal(t, EventPath, first.URL.Path)
	assert.Equal(t, "<http://192.168.54.10:49153/Camera/event>", first.Header.Get("CALLBACK"))
	assert.Equal(t, "upnp:event", first.Header.Get("NT"))
	assert.Equal(t, "Second-300", first.Header.Get("TIMEOUT"))

	require.NoError(t, sub.Renew(ctx))
	require.NoError(t, sub.Unsubscribe(ctx))
	require.NoError(t, sub.Unsubscribe(ctx))
	assert.Empty(t, sub.SID())
	assert.Equal(t, []string{"SUBSCRIBE", "SUBSCRIBE", "UNSUBSCRIBE"}, cam.methods())
}

func TestSubscriberRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	sub := NewSubscriber(SubscriberConfig{
		HTTPClient: &http.Client{Transport: redirect{strings.TrimPrefix(srv.URL, "http://")}},
	})
	err := sub.Subscribe(context.Background(), "192.168.54.1", "http://127.0.0.1:49153/Camera/event")
	assert.ErrorIs(t, err, wire.ErrProtocol)
	assert.Empty(t, sub.SID())
}

func TestParseTimeout(t *testing.T) {
	assert.Equal(t, 1800*time.Second, parseTimeout("Second-1800", time.Minute))
	assert.Equal(t, time.Minute, parseTimeout("infinite", time.Minute))
	assert.Equal(t, "Second-300", formatTimeout(DefaultTimeout))
}
