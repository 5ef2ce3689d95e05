package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"github.com/lumix-remote/lumix-go/pkg/camcgi"
	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// BrowseCall is one Browse page request. It runs through the executor like
// any other device call.
type BrowseCall struct {
	Filter Filter
	Start  int
	Count  int
}

// Target implements interaction.Call.
func (c BrowseCall) Target() string {
	return fmt.Sprintf("cds/browse %s [%d+%d]", c.Filter.container(), c.Start, c.Count)
}

// Directory sends Browse calls to the camera's content directory.
type Directory struct {
	host   func() string
	http   *http.Client
	logger *slog.Logger
}

// NewDirectory creates a Directory. host returns the current camera host.
func NewDirectory(host func() string, hc *http.Client, logger *slog.Logger) *Directory {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Directory{host: host, http: hc, logger: logger}
}

// ControlURL returns the CDS control URL on host.
func ControlURL(host string) string {
	return fmt.Sprintf("http://%s:%d%s", host, ControlPort, ControlPath)
}

// Browse fetches one page.
func (d *Directory) Browse(ctx context.Context, c BrowseCall) (*Page, error) {
	body, err := BuildBrowse(c.Filter, c.Start, c.Count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrInvalidParameter, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ControlURL(d.host()), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrInvalidParameter, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", BrowseAction)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, d.transportError(ctx, c, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, d.transportError(ctx, c, err)
	}
	if d.logger != nil {
		d.logger.Debug("cds browse", "target", c.Target(), "http", resp.StatusCode, "bytes", len(data))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: HTTP %d (camera must be in play mode)", wire.ErrProtocol, c.Target(), resp.StatusCode)
	}
	return ParseBrowseResponse(data, c.Start, c.Count)
}

// Dispatch implements interaction.Dispatcher for BrowseCall.
func (d *Directory) Dispatch(ctx context.Context, call interaction.Call) (*interaction.Result, error) {
	c, ok := call.(BrowseCall)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a browse call", wire.ErrInvalidParameter, call)
	}
	page, err := d.Browse(ctx, c)
	if err != nil {
		return nil, err
	}
	return &interaction.Result{
		Status:  wire.StatusOK,
		Payload: page,
		Message: strconv.Itoa(page.NumberReturned) + "/" + strconv.Itoa(page.TotalMatches),
	}, nil
}

func (d *Directory) transportError(ctx context.Context, c BrowseCall, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &wire.TransportError{
		Op: c.Target(),
		Err: fault.Wrap(err,
			fctx.With(ctx, "error_at", "cds", "start", strconv.Itoa(c.Start)),
			ftag.With(ftag.Internal),
			fmsg.With("Content directory did not answer"),
		),
	}
}

// Executor runs device calls. *interaction.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, call interaction.Call, opts ...interaction.Option) (*interaction.Result, error)
}

// ContentInfo is the get_content_info answer.
type ContentInfo struct {
	CurrentPosition    int
	TotalContentNumber int
	ContentNumber      int

	// Fields holds every numeric child by name.
	Fields map[string]int
}

// Result is a complete browse.
type Result struct {
	Items        []Item
	TotalMatches int
	Pages        int
	Info         ContentInfo
}

// Browser pages through the camera's content directory.
type Browser struct {
	exec     Executor
	pageSize int
	logger   *slog.Logger
}

// NewBrowser creates a Browser running its calls on exec.
func NewBrowser(exec Executor, logger *slog.Logger) *Browser {
	return &Browser{exec: exec, pageSize: DefaultPageSize, logger: logger}
}

// SetPageSize changes the number of objects requested per page.
func (b *Browser) SetPageSize(n int) {
	if n > 0 {
		b.pageSize = n
	}
}

// BrowseAll lists every object matching f. The camera is switched to play
// mode when needed and raw_img_send is enabled for the duration of the
// browse; without both the camera reports one container per image.
func (b *Browser) BrowseAll(ctx context.Context, f Filter) (*Result, error) {
	if err := b.ensurePlayMode(ctx); err != nil {
		return nil, err
	}
	if err := b.rawImgSend(ctx, true); err != nil {
		return nil, err
	}
	defer func() {
		if err := b.rawImgSend(context.WithoutCancel(ctx), false); err != nil {
			b.debugLog("raw_img_send disable failed", "error", err)
		}
	}()

	info, err := b.ContentInfo(ctx)
	if err != nil {
		return nil, err
	}

	res, err := b.pages(ctx, f)
	if err != nil {
		return nil, err
	}
	res.Info = info
	return res, nil
}

func (b *Browser) pages(ctx context.Context, f Filter) (*Result, error) {
	seen := map[int]Item{}
	res := &Result{}
	for start := 0; ; start += b.pageSize {
		r, err := b.exec.Execute(ctx, BrowseCall{Filter: f, Start: start, Count: b.pageSize})
		if err != nil {
			return nil, err
		}
		page, ok := r.Payload.(*Page)
		if !ok {
			return nil, fmt.Errorf("%w: browse returned %T", wire.ErrProtocol, r.Payload)
		}
		res.Pages++
		res.TotalMatches = page.TotalMatches

		for _, it := range page.Items {
			if _, dup := seen[it.Index]; !dup {
				seen[it.Index] = it
			}
		}
		b.debugLog("browse page", "start", start, "returned", len(page.Items), "total", page.TotalMatches, "have", len(seen))

		if len(seen) >= page.TotalMatches {
			break
		}
		if len(page.Items) == 0 {
			return nil, fmt.Errorf("%w: empty page at %d with %d of %d objects", wire.ErrProtocol, start, len(seen), page.TotalMatches)
		}
	}

	res.Items = make([]Item, 0, len(seen))
	for _, it := range seen {
		res.Items = append(res.Items, it)
	}
	slices.SortFunc(res.Items, func(a, b Item) int { return a.Index - b.Index })
	return res, nil
}

// ContentInfo reads get_content_info.
func (b *Browser) ContentInfo(ctx context.Context) (ContentInfo, error) {
	reply, err := b.cgi(ctx, camcgi.Request{Mode: "get_content_info"})
	if err != nil {
		return ContentInfo{}, err
	}
	return ParseContentInfo(reply)
}

// ParseContentInfo reads the numeric children of a get_content_info reply.
func ParseContentInfo(reply *camcgi.Reply) (ContentInfo, error) {
	info := ContentInfo{Fields: map[string]int{}}
	if reply.Doc == nil {
		return info, fmt.Errorf("%w: get_content_info without XML body", wire.ErrProtocol)
	}
	for k, v := range reply.Doc.Map("result") {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		info.Fields[k] = n
	}
	info.CurrentPosition = info.Fields["current_position"]
	info.TotalContentNumber = info.Fields["total_content_number"]
	info.ContentNumber = info.Fields["content_number"]
	return info, nil
}

func (b *Browser) ensurePlayMode(ctx context.Context) error {
	reply, err := b.cgi(ctx, camcgi.Request{Mode: "getstate"})
	if err != nil {
		return err
	}
	if reply.Doc != nil {
		if mode := reply.Doc.Find("state/cammode"); mode != nil && mode.Value() == "play" {
			return nil
		}
	}
	_, err = b.cgi(ctx, camcgi.Request{Mode: "camcmd", Value: "playmode"})
	return err
}

func (b *Browser) rawImgSend(ctx context.Context, enable bool) error {
	v := "disable"
	if enable {
		v = "enable"
	}
	_, err := b.cgi(ctx, camcgi.Request{Mode: "setsetting", Type: "raw_img_send", Value: v})
	return err
}

func (b *Browser) cgi(ctx context.Context, r camcgi.Request) (*camcgi.Reply, error) {
	res, err := b.exec.Execute(ctx, r)
	if err != nil {
		return nil, err
	}
	reply, ok := res.Payload.(*camcgi.Reply)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", wire.ErrProtocol, r.Target(), res.Payload)
	}
	return reply, nil
}

// Content is a downloaded content object.
type Content struct {
	Data        []byte
	ContentType string
	RecDateTime string
	Rotate      string
	FileSize    int64
}

// Getter fetches a URL. camcgi.Client implements it.
type Getter interface {
	Get(ctx context.Context, rawURL string) ([]byte, http.Header, error)
}

// Fetch downloads a content object. locator is a resource URI or a bare
// file name such as "DL01112176.JPG", resolved against host.
func Fetch(ctx context.Context, g Getter, host, locator string) (*Content, error) {
	u := locator
	if !strings.Contains(locator, "://") {
		u = "http://" + host + "/" + strings.TrimPrefix(locator, "/")
	}
	data, h, err := g.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	c := &Content{
		Data:        data,
		ContentType: h.Get("Content-Type"),
		RecDateTime: h.Get("X-REC_DATE_TIME"),
		Rotate:      h.Get("X-ROTATE_INFO"),
	}
	c.FileSize, _ = strconv.ParseInt(h.Get("X-FILE_SIZE"), 10, 64)
	return c, nil
}

func (b *Browser) debugLog(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}
