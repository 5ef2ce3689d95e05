package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// GENA defaults.
const (
	// EventPath is the camera's connection manager event URL path.
	EventPath = "/Server0/CMS_event"

	// EventPort is the camera's UPnP port.
	EventPort = 60606

	// DefaultTimeout is the requested subscription lifetime.
	DefaultTimeout = 300 * time.Second

	// SubscribeUserAgent identifies the subscriber to the camera.
	SubscribeUserAgent = "Panasonic Android/1 DM-CP"

	minRenew = 5 * time.Second
)

// ErrNotSubscribed is returned by Renew without an active subscription.
var ErrNotSubscribed = errors.New("no active event subscription")

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	// HTTPClient sends the GENA requests. Defaults to a 10s client.
	HTTPClient *http.Client

	// Timeout is the requested subscription lifetime.
	Timeout time.Duration

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger

	// Protocol receives subscription state changes.
	Protocol *log.Scope
}

// Subscriber holds a GENA subscription on the camera and renews it until
// Unsubscribe.
type Subscriber struct {
	config SubscriberConfig
	http   *http.Client

	mu       sync.Mutex
	host     string
	callback string
	sid      string
	timeout  time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(config SubscriberConfig) *Subscriber {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	hc := config.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Subscriber{config: config, http: hc}
}

// EventURL returns the GENA URL on host.
func EventURL(host string) string {
	return fmt.Sprintf("http://%s:%d%s", host, EventPort, EventPath)
}

// SID returns the current subscription id.
func (s *Subscriber) SID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

// Subscribe opens a subscription on host delivering to callback (a full
// URL such as http://192.168.54.10:49153/Camera/event) and starts the
// renewal loop. An existing subscription is dropped first.
func (s *Subscriber) Subscribe(ctx context.Context, host, callback string) error {
	_ = s.Unsubscribe(ctx)

	req, err := s.request(ctx, "SUBSCRIBE", host)
	if err != nil {
		return err
	}
	req.Header.Set("CALLBACK", "<"+callback+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", formatTimeout(s.config.Timeout))

	sid, timeout, err := s.send(ctx, req)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.host = host
	s.callback = callback
	s.sid = sid
	s.timeout = timeout
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.renewLoop(s.stop, s.done)
	s.mu.Unlock()

	s.config.Protocol.State(log.StateEntitySubscription, "", "subscribed", sid)
	s.debugLog("subscribed", "host", host, "sid", sid, "timeout", timeout)
	return nil
}

// Renew extends the current subscription.
func (s *Subscriber) Renew(ctx context.Context) error {
	s.mu.Lock()
	host, sid := s.host, s.sid
	s.mu.Unlock()
	if sid == "" {
		return ErrNotSubscribed
	}

	req, err := s.request(ctx, "SUBSCRIBE", host)
	if err != nil {
		return err
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", formatTimeout(s.config.Timeout))

	newSID, timeout, err := s.send(ctx, req)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if newSID != "" {
		s.sid = newSID
	}
	s.timeout = timeout
	s.mu.Unlock()
	return nil
}

// Unsubscribe stops renewal and cancels the subscription on the camera.
// It is a no-op without a subscription.
func (s *Subscriber) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	host, sid := s.host, s.sid
	stop, done := s.stop, s.done
	s.sid = ""
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if sid == "" {
		return nil
	}

	s.config.Protocol.State(log.StateEntitySubscription, "subscribed", "unsubscribed", sid)
	req, err := s.request(ctx, "UNSUBSCRIBE", host)
	if err != nil {
		return err
	}
	req.Header.Set("SID", sid)
	_, _, err = s.send(ctx, req)
	return err
}

func (s *Subscriber) renewLoop(stop, done chan struct{}) {
	defer close(done)
	for {
		s.mu.Lock()
		wait := s.timeout / 2
		s.mu.Unlock()
		if wait < minRenew {
			wait = minRenew
		}

		select {
		case <-stop:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.Renew(ctx)
		cancel()
		if err != nil {
			s.config.Protocol.Error(log.LayerSession, "renew subscription", err)
			if s.config.Logger != nil {
				s.config.Logger.Warn("event subscription renewal failed", "error", err)
			}
		}
	}
}

func (s *Subscriber) request(ctx context.Context, method, host string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, EventURL(host), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrInvalidParameter, err)
	}
	req.Header.Set("User-Agent", SubscribeUserAgent)
	return req, nil
}

func (s *Subscriber) send(ctx context.Context, req *http.Request) (string, time.Duration, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, &wire.TransportError{
			Op: req.Method + " " + EventPath,
			Err: fault.Wrap(err,
				fctx.With(ctx, "error_at", "gena", "method", req.Method),
				ftag.With(ftag.Internal),
				fmsg.With("Camera did not answer the event subscription"),
			),
		}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: %s %s: HTTP %d", wire.ErrProtocol, req.Method, EventPath, resp.StatusCode)
	}
	timeout := parseTimeout(resp.Header.Get("TIMEOUT"), s.config.Timeout)
	return resp.Header.Get("SID"), timeout, nil
}

func formatTimeout(d time.Duration) string {
	return "Second-" + strconv.Itoa(int(d/time.Second))
}

// parseTimeout reads a "Second-N" header; anything else yields def.
func parseTimeout(v string, def time.Duration) time.Duration {
	n, ok := strings.CutPrefix(strings.TrimSpace(v), "Second-")
	if !ok {
		return def
	}
	secs, err := strconv.Atoi(n)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// LocalAddrFor returns the local IP used to reach host, for building the
// callback URL.
func LocalAddrFor(host string) (string, error) {
	conn, err := net.Dial("udp4", net.JoinHostPort(host, strconv.Itoa(EventPort)))
	if err != nil {
		return "", &wire.TransportError{Op: "local address", Err: err}
	}
	defer conn.Close()
	addr, _ := conn.LocalAddr().(*net.UDPAddr)
	if addr == nil {
		return "", fmt.Errorf("%w: no local address towards %s", wire.ErrTransport, host)
	}
	return addr.IP.String(), nil
}

func (s *Subscriber) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
