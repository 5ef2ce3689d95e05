package camcgi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Wire constants.
const (
	UserAgent     = "LUMIX Sync"
	SessionHeader = "X-SESSION_ID"
	ServerVendor  = "Panasonic"
	Path          = "/cam.cgi"
)

// DefaultTimeout bounds a single round trip.
const DefaultTimeout = 10 * time.Second

// Request is one cam.cgi call. Empty fields are omitted from the query.
type Request struct {
	Mode   string
	Type   string
	Value  string
	Value2 string

	// Idle marks requests that must not run while the device is operated
	// by hand.
	Idle bool
}

// Target implements interaction.Call.
func (r Request) Target() string {
	t := r.Mode
	if r.Type != "" {
		t += "/" + r.Type
	}
	if r.Value != "" {
		t += "=" + r.Value
	}
	if r.Value2 != "" {
		t += "," + r.Value2
	}
	return t
}

// RequiresIdle implements interaction.Gated.
func (r Request) RequiresIdle() bool { return r.Idle }

// Query returns the URL query of the request.
func (r Request) Query() url.Values {
	q := url.Values{}
	q.Set("mode", r.Mode)
	if r.Type != "" {
		q.Set("type", r.Type)
	}
	if r.Value != "" {
		q.Set("value", r.Value)
	}
	if r.Value2 != "" {
		q.Set("value2", r.Value2)
	}
	return q
}

// Reply is a decoded cam.cgi response.
type Reply struct {
	Status wire.Status

	// Code is the raw status string, e.g. "err_busy".
	Code string

	// Doc is set for XML replies.
	Doc *Node

	// Fields holds the CSV fields after the status for plain text replies.
	Fields []string

	Body []byte
}

// Config configures a Client.
type Config struct {
	HTTPClient *http.Client

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger
}

// Client issues cam.cgi calls against one host.
type Client struct {
	http   *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	host      string
	sessionID string
}

// New creates a Client. The host can be set later with SetHost.
func New(host string, cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{http: hc, logger: cfg.Logger, host: host}
}

// Host returns the current device host.
func (c *Client) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

// SetHost points the client at host ("ip" or "ip:port").
func (c *Client) SetHost(host string) {
	c.mu.Lock()
	c.host = host
	c.mu.Unlock()
}

// SetSessionID sets the X-SESSION_ID header sent with every call.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// SessionID returns the current session header value.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// HTTP returns the underlying HTTP client.
func (c *Client) HTTP() *http.Client { return c.http }

// URL returns http://host<path>.
func (c *Client) URL(path string) string {
	return "http://" + c.Host() + path
}

// NewRequest builds a request to the device with the standard headers.
func (c *Client) NewRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Connection", "Keep-Alive")
	if id := c.SessionID(); id != "" {
		req.Header.Set(SessionHeader, id)
	}
	return req, nil
}

// Do performs r and decodes the reply. A non-OK device status is not an
// error here; it is reported in Reply.Status.
func (c *Client) Do(ctx context.Context, r Request) (*Reply, error) {
	u := c.URL(Path) + "?" + r.Query().Encode()
	req, err := c.NewRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Target(), err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, r.Target(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, r.Target(), err)
	}
	if c.logger != nil {
		c.logger.Debug("cam.cgi", "target", r.Target(), "http", resp.StatusCode, "bytes", len(body))
	}
	reply, err := ParseReply(resp.StatusCode, resp.Header, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Target(), err)
	}
	return reply, nil
}

// Get fetches an arbitrary device path and returns the body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, transportError(ctx, rawURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, transportError(ctx, rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.Header, fmt.Errorf("%w: GET %s: HTTP %d", wire.ErrProtocol, rawURL, resp.StatusCode)
	}
	return body, resp.Header, nil
}

// Dispatch implements interaction.Dispatcher for Request calls.
func (c *Client) Dispatch(ctx context.Context, call interaction.Call) (*interaction.Result, error) {
	r, ok := call.(Request)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a cam.cgi request", wire.ErrInvalidParameter, call)
	}
	reply, err := c.Do(ctx, r)
	if err != nil {
		return nil, err
	}
	return &interaction.Result{
		Status:  reply.Status,
		Payload: reply,
		Raw:     reply.Body,
		Message: reply.Code,
	}, nil
}

// ParseReply validates the vendor header and decodes the body by content
// type.
func ParseReply(code int, h http.Header, body []byte) (*Reply, error) {
	if code != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", wire.ErrProtocol, code)
	}
	if server := h.Get("Server"); !strings.Contains(server, ServerVendor) {
		return nil, fmt.Errorf("%w: Server header %q, not a %s device", wire.ErrProtocol, server, ServerVendor)
	}

	ct := h.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.TrimSpace(ct)
	}

	reply := &Reply{Body: body}
	switch mt {
	case "text/xml", "xml", "application/xml":
		doc, err := ParseNode(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", wire.ErrProtocol, err)
		}
		reply.Doc = doc
		reply.Code = doc.ChildText("result")
	case "text/plain":
		fields := strings.Split(strings.TrimSpace(string(body)), ",")
		reply.Code = strings.TrimSpace(fields[0])
		reply.Fields = fields[1:]
	default:
		return nil, fmt.Errorf("%w: unexpected content type %q", wire.ErrProtocol, ct)
	}
	reply.Status = wire.ParseStatus(reply.Code)
	return reply, nil
}

func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &wire.TransportError{
		Op: op,
		Err: fault.Wrap(err,
			fctx.With(ctx, "error_at", "cam-cgi", "target", op),
			ftag.With(ftag.Internal),
			fmsg.With("Camera did not answer"),
		),
	}
}
