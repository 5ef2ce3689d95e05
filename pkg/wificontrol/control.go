package wificontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/camcgi"
	"github.com/lumix-remote/lumix-go/pkg/catalog"
	"github.com/lumix-remote/lumix-go/pkg/events"
	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// DefaultDragInterval is the minimum spacing of touch drag "continue"
// calls. The camera cannot keep up with pointer events.
const DefaultDragInterval = 200 * time.Millisecond

// DefaultStreamPort is the UDP port the live view stream is sent to.
const DefaultStreamPort = 49152

// Focus steps for Focus.
const (
	FocusWideFast   = "wide-fast"
	FocusWideNormal = "wide-normal"
	FocusTeleFast   = "tele-fast"
	FocusTeleNormal = "tele-normal"
)

// Touch drag phases.
const (
	DragStart    = "start"
	DragContinue = "continue"
	DragStop     = "stop"
)

// Executor runs device calls. *interaction.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, call interaction.Call, opts ...interaction.Option) (*interaction.Result, error)
}

// Lens is the parsed getinfo/lens answer.
type Lens struct {
	ApertureLimit  string
	MinShutter     string
	MaxShutter     string
	MaxFocalLength string
	MinFocalLength string
	Mount          string
	Name           string
	Manufacturer   string
	SerialNumber   string

	// Fields is the raw field list.
	Fields []string
}

// ParseLens maps the positional lens fields.
func ParseLens(fields []string) Lens {
	at := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	return Lens{
		ApertureLimit:  at(0),
		MinShutter:     at(1),
		MaxShutter:     at(2),
		MaxFocalLength: at(6),
		MinFocalLength: at(7),
		Mount:          at(12),
		Name:           at(13),
		Manufacturer:   at(14),
		SerialNumber:   at(15),
		Fields:         fields,
	}
}

// Setting is a getsetting answer.
type Setting struct {
	Type   string
	Value  string
	Value2 string
}

// ControlConfig configures a Control.
type ControlConfig struct {
	// DragInterval is the minimum spacing of drag "continue" calls.
	DragInterval time.Duration

	// Feed receives info events. May be nil.
	Feed *events.Feed

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger
}

// Control is the Wi-Fi command vocabulary plus the device information read
// after login.
type Control struct {
	exec   Executor
	t      *Transport
	s      *session.Session
	config ControlConfig
	now    func() time.Time

	mu         sync.RWMutex
	capability *camcgi.Node
	menu       *Menu
	curmenu    map[string]bool
	lens       Lens
	teleconv   *camcgi.Node
	touchType  []string
	settings   []Setting

	dragMu   sync.Mutex
	lastDrag time.Time
}

// NewControl creates the command set for t running on exec.
func NewControl(exec Executor, t *Transport, s *session.Session, config ControlConfig) *Control {
	if config.DragInterval <= 0 {
		config.DragInterval = DefaultDragInterval
	}
	return &Control{exec: exec, t: t, s: s, config: config, now: time.Now}
}

// Raw runs an arbitrary cam.cgi request.
func (c *Control) Raw(ctx context.Context, r camcgi.Request) (*camcgi.Reply, error) {
	res, err := c.exec.Execute(ctx, r)
	if err != nil {
		return nil, err
	}
	reply, ok := res.Payload.(*camcgi.Reply)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", wire.ErrProtocol, r.Target(), res.Payload)
	}
	return reply, nil
}

func (c *Control) camcmd(ctx context.Context, value string, idle bool) error {
	_, err := c.Raw(ctx, camcgi.Request{Mode: "camcmd", Value: value, Idle: idle})
	return err
}

// Capture takes a picture.
func (c *Control) Capture(ctx context.Context) error { return c.camcmd(ctx, "capture", false) }

// CaptureCancel aborts a running capture.
func (c *Control) CaptureCancel(ctx context.Context) error {
	return c.camcmd(ctx, "capture_cancel", false)
}

// OneshotAF runs a single autofocus.
func (c *Control) OneshotAF(ctx context.Context) error { return c.camcmd(ctx, "oneshot_af", false) }

// AutoReviewUnlock leaves the review shown after a capture.
func (c *Control) AutoReviewUnlock(ctx context.Context) error {
	return c.camcmd(ctx, "autoreviewunlock", false)
}

// TouchRelease releases a touch.
func (c *Control) TouchRelease(ctx context.Context) error {
	return c.camcmd(ctx, "touchrelease", false)
}

// LCDOn wakes the display.
func (c *Control) LCDOn(ctx context.Context) error { return c.camcmd(ctx, "lcd_on", true) }

// MenuEntry opens the camera menu.
func (c *Control) MenuEntry(ctx context.Context) error { return c.camcmd(ctx, "menu_entry", true) }

// VideoRecStart starts a recording.
func (c *Control) VideoRecStart(ctx context.Context) error {
	return c.camcmd(ctx, "video_recstart", true)
}

// VideoRecStop stops a recording.
func (c *Control) VideoRecStop(ctx context.Context) error {
	return c.camcmd(ctx, "video_recstop", true)
}

// RecMode switches to record mode.
func (c *Control) RecMode(ctx context.Context) error { return c.camcmd(ctx, "recmode", true) }

// PlayMode switches to play mode.
func (c *Control) PlayMode(ctx context.Context) error { return c.camcmd(ctx, "playmode", true) }

// PowerOff switches the camera off.
func (c *Control) PowerOff(ctx context.Context) error { return c.camcmd(ctx, "poweroff", true) }

// StartStream switches to record mode and starts the live view stream to
// port (DefaultStreamPort when zero).
func (c *Control) StartStream(ctx context.Context, port int) error {
	if port <= 0 {
		port = DefaultStreamPort
	}
	if err := c.RecMode(ctx); err != nil {
		return err
	}
	_, err := c.Raw(ctx, camcgi.Request{Mode: "startstream", Value: strconv.Itoa(port), Idle: true})
	return err
}

// StopStream stops the live view stream.
func (c *Control) StopStream(ctx context.Context) error {
	_, err := c.Raw(ctx, camcgi.Request{Mode: "stopstream", Idle: true})
	return err
}

func (c *Control) camctrl(ctx context.Context, typ, value, value2 string, idle bool) (*camcgi.Reply, error) {
	return c.Raw(ctx, camcgi.Request{Mode: "camctrl", Type: typ, Value: value, Value2: value2, Idle: idle})
}

func coord(x, y int) (string, error) {
	if x < 0 || x > 1000 || y < 0 || y > 1000 {
		return "", fmt.Errorf("%w: touch coordinate %d/%d outside 0..1000", wire.ErrInvalidParameter, x, y)
	}
	return fmt.Sprintf("%d/%d", x, y), nil
}

// Touch taps the screen at x/y, both 0 to 1000 from the top left.
func (c *Control) Touch(ctx context.Context, x, y int) error {
	v, err := coord(x, y)
	if err != nil {
		return err
	}
	_, err = c.camctrl(ctx, "touch", v, "on", false)
	return err
}

// TouchDrag sends one drag step. "continue" steps closer than the drag
// interval to the previous one are dropped; the result reports whether the
// step was sent.
func (c *Control) TouchDrag(ctx context.Context, phase string, x, y int) (bool, error) {
	switch phase {
	case DragStart, DragContinue, DragStop:
	default:
		return false, fmt.Errorf("%w: drag phase %q", wire.ErrInvalidParameter, phase)
	}
	v, err := coord(x, y)
	if err != nil {
		return false, err
	}

	c.dragMu.Lock()
	now := c.now()
	if phase == DragContinue && now.Sub(c.lastDrag) < c.config.DragInterval {
		c.dragMu.Unlock()
		return false, nil
	}
	c.lastDrag = now
	c.dragMu.Unlock()

	_, err = c.camctrl(ctx, "touch_trace", phase, v, false)
	return err == nil, err
}

// TouchTrace moves one finger along points, spacing the steps by the drag
// interval.
func (c *Control) TouchTrace(ctx context.Context, points [][2]int) error {
	if len(points) < 2 {
		return fmt.Errorf("%w: a trace needs at least two points", wire.ErrInvalidParameter)
	}
	for i, p := range points {
		phase := DragContinue
		switch i {
		case 0:
			phase = DragStart
		case len(points) - 1:
			phase = DragStop
		}
		v, err := coord(p[0], p[1])
		if err != nil {
			return err
		}
		if _, err := c.camctrl(ctx, "touch_trace", phase, v, false); err != nil {
			return err
		}
		if i < len(points)-1 {
			if err := sleep(ctx, c.config.DragInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

// Focus moves the focus by one step and returns the reported focus fields.
func (c *Control) Focus(ctx context.Context, step string) ([]string, error) {
	switch step {
	case FocusWideFast, FocusWideNormal, FocusTeleFast, FocusTeleNormal:
	default:
		return nil, fmt.Errorf("%w: focus step %q", wire.ErrInvalidParameter, step)
	}
	reply, err := c.camctrl(ctx, "focus", step, "", true)
	if err != nil {
		return nil, err
	}
	return reply.Fields, nil
}

// TouchCaptureCtrl sets touch capture to "enable", "disable" or "off".
func (c *Control) TouchCaptureCtrl(ctx context.Context, value string) error {
	_, err := c.camctrl(ctx, "touchcapt_ctrl", value, "", false)
	return err
}

// TouchAECtrl turns touch exposure metering "on" or "off". A Touch in
// between moves the metering point.
func (c *Control) TouchAECtrl(ctx context.Context, value string) error {
	_, err := c.camctrl(ctx, "touchae_ctrl", value, "", false)
	return err
}

// AssistDisplay sets the manual focus assist display, e.g.
// ("pinp", "mf_asst/0/0").
func (c *Control) AssistDisplay(ctx context.Context, value, value2 string) error {
	_, err := c.camctrl(ctx, "asst_disp", value, value2, false)
	return err
}

// GetSetting reads one setting.
func (c *Control) GetSetting(ctx context.Context, typ string) (Setting, error) {
	reply, err := c.Raw(ctx, camcgi.Request{Mode: "getsetting", Type: typ})
	if err != nil {
		return Setting{}, err
	}
	return parseSetting(reply), nil
}

func parseSetting(reply *camcgi.Reply) Setting {
	if reply.Doc == nil {
		return Setting{}
	}
	for _, n := range reply.Doc.Children {
		if n.Name() == "result" {
			continue
		}
		if len(n.Attrs) != 1 {
			return Setting{}
		}
		return Setting{Type: n.Attrs[0].Name.Local, Value: n.Attrs[0].Value, Value2: n.Value()}
	}
	return Setting{}
}

// SetSetting changes a setting and reads it back. The camera accepts some
// values silently adjusted, so the returned Setting is what it applied.
func (c *Control) SetSetting(ctx context.Context, typ, value, value2 string) (Setting, error) {
	if typ == "" {
		return Setting{}, fmt.Errorf("%w: empty setting type", wire.ErrInvalidParameter)
	}
	if _, err := c.Raw(ctx, camcgi.Request{Mode: "setsetting", Type: typ, Value: value, Value2: value2}); err != nil {
		return Setting{}, err
	}
	if err := c.RefreshCurrentMenu(ctx); err != nil {
		c.debugLog("curmenu refresh failed", "error", err)
	}
	for _, w := range writeOnly {
		if w == typ {
			return Setting{Type: typ, Value: value, Value2: value2}, nil
		}
	}
	return c.GetSetting(ctx, typ)
}

// SelectSDCard selects card slot 1 or 2 for recording and browsing.
func (c *Control) SelectSDCard(ctx context.Context, slot int) error {
	if slot != 1 && slot != 2 {
		return fmt.Errorf("%w: SD slot %d", wire.ErrInvalidParameter, slot)
	}
	_, err := c.Raw(ctx, camcgi.Request{Mode: "setsetting", Type: "current_sd", Value: fmt.Sprintf("sd%d", slot)})
	return err
}

// RawImageSend toggles delivery of RAW files over the content directory.
func (c *Control) RawImageSend(ctx context.Context, enable bool) error {
	v := "disable"
	if enable {
		v = "enable"
	}
	_, err := c.Raw(ctx, camcgi.Request{Mode: "setsetting", Type: "raw_img_send", Value: v})
	return err
}

// ContentInfo reads the play mode content counters.
func (c *Control) ContentInfo(ctx context.Context) (catalog.ContentInfo, error) {
	reply, err := c.Raw(ctx, camcgi.Request{Mode: "get_content_info"})
	if err != nil {
		return catalog.ContentInfo{}, err
	}
	return catalog.ParseContentInfo(reply)
}

// Download fetches a content object by resource URI or file name.
func (c *Control) Download(ctx context.Context, locator string) (*catalog.Content, error) {
	return catalog.Fetch(ctx, c.t.CGI(), c.t.Host(), locator)
}

// State polls getstate and returns the state fields.
func (c *Control) State(ctx context.Context, opts ...interaction.Option) (map[string]string, error) {
	res, err := c.exec.Execute(ctx, camcgi.Request{Mode: "getstate"}, opts...)
	if err != nil {
		return nil, err
	}
	return StateFields(res)
}

// StateFields extracts the <state> children of a getstate result.
func StateFields(res *interaction.Result) (map[string]string, error) {
	reply, ok := res.Payload.(*camcgi.Reply)
	if !ok || reply.Doc == nil {
		return nil, fmt.Errorf("%w: getstate without XML body", wire.ErrProtocol)
	}
	st := reply.Doc.Child("state")
	if st == nil {
		return nil, fmt.Errorf("%w: getstate without state element", wire.ErrProtocol)
	}
	return st.Map(), nil
}

// Refresh reads the device information: capability, menus, lens,
// teleconverter, touch type and current settings. It keeps going after a
// failed read and returns all failures joined.
func (c *Control) Refresh(ctx context.Context) error {
	var errs []error
	for _, step := range []func(context.Context) error{
		c.RefreshCapability,
		c.RefreshMenu,
		c.RefreshLens,
		c.RefreshTeleconverter,
		c.RefreshTouchType,
		c.RefreshCurrentMenu,
		c.RefreshSettings,
	} {
		if err := step(ctx); err != nil {
			if wire.IsTransport(err) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Control) getinfo(ctx context.Context, typ string) (*camcgi.Reply, error) {
	return c.Raw(ctx, camcgi.Request{Mode: "getinfo", Type: typ})
}

// RefreshCapability reads getinfo/capability.
func (c *Control) RefreshCapability(ctx context.Context) error {
	reply, err := c.getinfo(ctx, "capability")
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.capability = reply.Doc
	c.mu.Unlock()
	c.publish("capability", nil)
	return nil
}

// RefreshMenu reads getinfo/allmenu and keeps the selected language.
func (c *Control) RefreshMenu(ctx context.Context) error {
	reply, err := c.getinfo(ctx, "allmenu")
	if err != nil {
		return err
	}
	if reply.Doc == nil {
		return fmt.Errorf("%w: allmenu without XML body", wire.ErrProtocol)
	}
	m, err := ParseMenu(reply.Doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.menu != nil {
		_ = m.SetLanguage(c.menu.Language())
	}
	c.menu = m
	c.mu.Unlock()
	c.publish("allmenu", map[string]string{"language": m.Language()})
	return nil
}

// RefreshCurrentMenu reads getinfo/curmenu: which menu items are enabled
// now. The SD slot items are derived from the polled card state.
func (c *Control) RefreshCurrentMenu(ctx context.Context) error {
	reply, err := c.getinfo(ctx, "curmenu")
	if err != nil {
		return err
	}
	cur := map[string]bool{}
	if reply.Doc != nil {
		if info := reply.Doc.Child("menuinfo"); info != nil {
			for _, it := range info.Children {
				cur[it.Attr("id")] = it.Attr("enable") == "yes"
			}
		}
	}
	for slot, key := range map[int]string{1: "sd_memory", 2: "sd2_memory"} {
		if v, ok := c.s.StateValue(key); ok && (v == "set" || v == "unset") {
			cur[fmt.Sprintf("menu_item_id_sd_%d", slot)] = v == "set"
		}
	}
	c.mu.Lock()
	c.curmenu = cur
	c.mu.Unlock()

	values := make(map[string]string, len(cur))
	for k, v := range cur {
		values[k] = strconv.FormatBool(v)
	}
	c.publish("curmenu", values)
	return nil
}

// RefreshLens reads getinfo/lens.
func (c *Control) RefreshLens(ctx context.Context) error {
	reply, err := c.getinfo(ctx, "lens")
	if err != nil {
		return err
	}
	lens := ParseLens(reply.Fields)
	c.mu.Lock()
	c.lens = lens
	c.mu.Unlock()
	c.publish("lens", map[string]string{
		"name":         lens.Name,
		"mount":        lens.Mount,
		"manufacturer": lens.Manufacturer,
		"focal_min":    lens.MinFocalLength,
		"focal_max":    lens.MaxFocalLength,
	})
	return nil
}

// RefreshTeleconverter reads the external teleconverter setting.
func (c *Control) RefreshTeleconverter(ctx context.Context) error {
	reply, err := c.Raw(ctx, camcgi.Request{Mode: "getsetting", Type: "ex_tele_conv"})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.teleconv = reply.Doc
	c.mu.Unlock()
	return nil
}

// RefreshTouchType reads the touch panel type.
func (c *Control) RefreshTouchType(ctx context.Context) error {
	reply, err := c.Raw(ctx, camcgi.Request{Mode: "getsetting", Type: "touch_type"})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.touchType = reply.Fields
	c.mu.Unlock()
	return nil
}

// RefreshSettings reads back every readable setting of the menu. Settings
// the camera refuses in its current state are skipped.
func (c *Control) RefreshSettings(ctx context.Context) error {
	c.mu.RLock()
	m := c.menu
	c.mu.RUnlock()
	if m == nil {
		return nil
	}
	var out []Setting
	for _, typ := range m.Readable() {
		s, err := c.GetSetting(ctx, typ)
		if err != nil {
			if wire.IsTransport(err) {
				return err
			}
			c.debugLog("setting not readable", "type", typ, "error", err)
			continue
		}
		out = append(out, s)
	}
	c.mu.Lock()
	c.settings = out
	c.mu.Unlock()

	values := make(map[string]string, len(out))
	for _, s := range out {
		values[s.Type] = s.Value
	}
	c.publish("settings", values)
	return nil
}

// Menu returns the parsed allmenu, or nil before the first refresh.
func (c *Control) Menu() *Menu {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.menu
}

// SetLanguage selects the language of menu titles.
func (c *Control) SetLanguage(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.menu == nil {
		return fmt.Errorf("%w: menu not loaded", wire.ErrNotConnected)
	}
	return c.menu.SetLanguage(code)
}

// Commands lists the setsetting commands with localized names.
func (c *Control) Commands() []Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.menu == nil {
		return nil
	}
	return c.menu.Commands()
}

// Lens returns the last lens information.
func (c *Control) Lens() Lens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lens
}

// Settings returns the last read settings.
func (c *Control) Settings() []Setting {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Setting(nil), c.settings...)
}

// CurrentMenu returns which menu items are enabled.
func (c *Control) CurrentMenu() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.curmenu))
	for k, v := range c.curmenu {
		out[k] = v
	}
	return out
}

// TouchType returns the touch panel type fields.
func (c *Control) TouchType() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.touchType
}

// Capability returns the capability document, or nil.
func (c *Control) Capability() *camcgi.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capability
}

// Teleconverter returns the teleconverter document, or nil.
func (c *Control) Teleconverter() *camcgi.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.teleconv
}

func (c *Control) publish(name string, values map[string]string) {
	c.config.Feed.Publish(events.Event{Topic: events.TopicInfo, Name: name, Values: values})
}

func (c *Control) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
