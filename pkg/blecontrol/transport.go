package blecontrol

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/bluez"
	"github.com/lumix-remote/lumix-go/pkg/connection"
	"github.com/lumix-remote/lumix-go/pkg/discovery"
	"github.com/lumix-remote/lumix-go/pkg/events"
	"github.com/lumix-remote/lumix-go/pkg/handshake"
	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/register"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Link is a connected device.
type Link interface {
	register.Link
	Close() error
}

// Adapter finds and connects devices.
type Adapter interface {
	Scan(ctx context.Context, prefix string) (bluez.Device, error)
	Connect(ctx context.Context, address string, h bluez.LinkHandlers) (Link, error)
}

type bluezAdapter struct{ c *bluez.Client }

// NewBlueZAdapter adapts a BlueZ client.
func NewBlueZAdapter(c *bluez.Client) Adapter { return bluezAdapter{c} }

func (a bluezAdapter) Scan(ctx context.Context, prefix string) (bluez.Device, error) {
	return a.c.Scan(ctx, prefix)
}

func (a bluezAdapter) Connect(ctx context.Context, address string, h bluez.LinkHandlers) (Link, error) {
	l, err := a.c.Connect(ctx, address, h)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Config configures a Transport.
type Config struct {
	Flavor Flavor

	// AppIdentity is written during the Lab login.
	AppIdentity string

	// Skip lists registers never subscribed. Defaults to register.DefaultSkip.
	Skip []uint16

	// SyncClockOnLogin writes the host clock after a Sync login.
	SyncClockOnLogin bool

	// GPS is the GPS forwarding state asserted after login.
	GPS bool

	// Feed receives register notifications. May be nil.
	Feed *events.Feed

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger

	// Protocol receives register events. May be nil.
	Protocol *log.Scope
}

// DefaultConfig returns a Sync login that sets the clock.
func DefaultConfig() Config {
	return Config{Flavor: FlavorSync, AppIdentity: DefaultAppIdentity, SyncClockOnLogin: true}
}

// Info is the device information read at login.
type Info struct {
	Name     string
	Model    string
	Firmware string
	Lens     string
	Cards    map[string]string
}

// Transport is the BLE side of a session. It implements
// connection.Transport and interaction.Dispatcher.
type Transport struct {
	adapter Adapter
	config  Config
	now     func() time.Time

	mu     sync.RWMutex
	link   Link
	access *register.Access
	info   Info
	loss   func(error)
}

// New creates a Transport.
func New(adapter Adapter, config Config) *Transport {
	if config.Skip == nil {
		config.Skip = register.DefaultSkip
	}
	if config.AppIdentity == "" {
		config.AppIdentity = DefaultAppIdentity
	}
	return &Transport{adapter: adapter, config: config, now: time.Now}
}

// OnLinkLost registers fn to run when the device drops the link.
// connection.Manager.NotifyConnectionLost is the usual target.
func (t *Transport) OnLinkLost(fn func(error)) {
	t.mu.Lock()
	t.loss = fn
	t.mu.Unlock()
}

// Flavor returns the login flavor.
func (t *Transport) Flavor() Flavor { return t.config.Flavor }

// Info returns the device information read at login.
func (t *Transport) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info
}

// Access returns the register layer of the current link, or nil.
func (t *Transport) Access() *register.Access {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.access
}

// Discover scans for a device advertising the camera name prefix.
func (t *Transport) Discover(ctx context.Context) (session.Identity, error) {
	dev, err := t.adapter.Scan(ctx, discovery.BLENamePrefix)
	if err != nil {
		return session.Identity{}, err
	}
	t.debugLog("camera found", "address", dev.Address, "name", dev.Name)
	return session.Identity{
		Name:         discovery.CleanBLEName(dev.Name),
		Address:      dev.Address,
		Manufacturer: "Panasonic",
	}, nil
}

// Dial opens the link.
func (t *Transport) Dial(ctx context.Context, id session.Identity) error {
	link, err := t.adapter.Connect(ctx, id.Address, bluez.LinkHandlers{
		Notify:     t.notify,
		Disconnect: t.disconnected,
	})
	if err != nil {
		return &wire.TransportError{Op: "dial " + id.Address, Err: err}
	}
	access := register.New(link, register.Config{Logger: t.config.Logger, Protocol: t.config.Protocol})
	access.OnNotify(t.publish)

	t.mu.Lock()
	t.link = link
	t.access = access
	t.mu.Unlock()
	return nil
}

// Prepare loads the register catalog and enables notifications.
func (t *Transport) Prepare(ctx context.Context) error {
	a := t.Access()
	if a == nil {
		return register.ErrLinkDropped
	}
	if err := a.Load(ctx); err != nil {
		return err
	}
	_, err := a.Subscribe(ctx, t.config.Skip)
	return err
}

// Authenticate runs the challenge-response login of the configured flavor
// and reads the device information. The token is the nonce in hex.
func (t *Transport) Authenticate(ctx context.Context) (string, error) {
	a := t.Access()
	if a == nil {
		return "", register.ErrLinkDropped
	}
	var (
		token string
		err   error
	)
	switch t.config.Flavor {
	case FlavorLab:
		token, err = t.labLogin(ctx, a)
	default:
		token, err = t.syncLogin(ctx, a)
	}
	if err != nil {
		return "", err
	}

	gps := gpsOff
	if t.config.GPS {
		gps = gpsOn
	}
	if _, err := a.WriteIfChanged(ctx, RegGPSEnable, []byte{gps}, true); err != nil && wire.IsTransport(err) {
		return "", err
	}
	t.debugLog("logged in", "flavor", t.config.Flavor.String())
	return token, nil
}

func readNonce(ctx context.Context, a *register.Access, addr uint16) ([]byte, error) {
	raw, err := a.Read(ctx, addr)
	if err != nil {
		return nil, err
	}
	if len(raw) != handshake.NonceSize {
		return nil, fmt.Errorf("%w: nonce at 0x%04x has %d bytes", wire.ErrAuthenticationFailed, addr, len(raw))
	}
	return raw, nil
}

func (t *Transport) syncLogin(ctx context.Context, a *register.Access) (string, error) {
	raw, err := readNonce(ctx, a, RegSyncNonce)
	if err != nil {
		return "", err
	}
	resp, err := handshake.SyncResponse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", wire.ErrAuthenticationFailed, err)
	}
	if err := a.Write(ctx, RegSyncCommand, resp.Command, true); err != nil {
		return "", err
	}
	if err := a.Write(ctx, RegSyncConfirm, resp.Confirm, true); err != nil {
		return "", err
	}

	if t.config.SyncClockOnLogin {
		if err := a.Write(ctx, RegSyncClock, ClockData(t.now()), true); err != nil {
			return "", err
		}
	}
	name, err := a.Read(ctx, RegSyncName)
	if err != nil {
		return "", err
	}
	if _, err := a.Read(ctx, RegSyncStatus); err != nil {
		return "", err
	}

	t.mu.Lock()
	t.info = Info{Name: CString(name)}
	t.mu.Unlock()
	return hex.EncodeToString(raw), nil
}

func (t *Transport) labLogin(ctx context.Context, a *register.Access) (string, error) {
	raw, err := readNonce(ctx, a, RegLabNonce)
	if err != nil {
		return "", err
	}
	resp, err := handshake.LabResponse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", wire.ErrAuthenticationFailed, err)
	}
	for _, w := range []struct {
		addr uint16
		data []byte
	}{
		{RegLabCommand, resp.Command},
		{RegLabIdentity, []byte(t.config.AppIdentity)},
		{RegLabConfirm, resp.Confirm},
	} {
		if err := a.Write(ctx, w.addr, w.data, false); err != nil {
			return "", err
		}
	}

	info := Info{}
	for _, r := range []struct {
		addr uint16
		dst  *string
	}{
		{RegLabName, &info.Name},
		{RegModel, &info.Model},
		{RegFirmware, &info.Firmware},
		{RegLens, &info.Lens},
	} {
		data, err := a.Read(ctx, r.addr)
		if err != nil {
			return "", err
		}
		*r.dst = CString(data)
	}
	if data, err := a.Read(ctx, RegCardStatus); err == nil {
		info.Cards = ParseCardStatus(data)
	} else if wire.IsTransport(err) {
		return "", err
	}

	t.mu.Lock()
	t.info = info
	t.mu.Unlock()
	return hex.EncodeToString(raw), nil
}

// Invalidate drops the register catalog. It runs under the session lock.
func (t *Transport) Invalidate() {
	if a := t.Access(); a != nil {
		a.Invalidate()
	}
}

// Close disconnects the link.
func (t *Transport) Close() error {
	t.mu.Lock()
	link := t.link
	t.link = nil
	t.access = nil
	t.mu.Unlock()
	if link == nil {
		return nil
	}
	return link.Close()
}

// Dispatch implements interaction.Dispatcher on the current link.
func (t *Transport) Dispatch(ctx context.Context, call interaction.Call) (*interaction.Result, error) {
	a := t.Access()
	if a == nil {
		return nil, fmt.Errorf("%s: %w", call.Target(), register.ErrLinkDropped)
	}
	return a.Dispatch(ctx, call)
}

func (t *Transport) notify(handle uint16, data []byte) {
	if a := t.Access(); a != nil {
		a.HandleNotification(handle, data)
	}
}

func (t *Transport) publish(addr uint16, data []byte) {
	t.config.Feed.Publish(events.Event{Topic: events.TopicNotification, Address: addr, Data: data})
}

func (t *Transport) disconnected() {
	t.mu.RLock()
	fn := t.loss
	t.mu.RUnlock()
	t.debugLog("device disconnected")
	if fn != nil {
		// Teardown closes the link; keep it off the signal goroutine.
		go fn(register.ErrLinkDropped)
	}
}

func (t *Transport) debugLog(msg string, args ...any) {
	if t.config.Logger != nil {
		t.config.Logger.Debug(msg, args...)
	}
}

// CString decodes a NUL terminated register string.
func CString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data)
}

// ParseCardStatus decodes the "SD1,1,SD2,0" card status register.
func ParseCardStatus(data []byte) map[string]string {
	fields := strings.Split(CString(data), ",")
	out := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		out[fields[i]] = fields[i+1]
	}
	return out
}

// ClockData packs t as the clock register value: year, month, day, hour,
// minute, second, a zero byte and the UTC offset in minutes, little endian.
func ClockData(t time.Time) []byte {
	_, offset := t.Zone()
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Year                 uint16
		Month, Day           uint8
		Hour, Minute, Second uint8
		Pad                  uint8
		Offset               int16
	}{
		uint16(t.Year()), uint8(t.Month()), uint8(t.Day()),
		uint8(t.Hour()), uint8(t.Minute()), uint8(t.Second()),
		0, int16(offset / 60),
	})
	return buf.Bytes()
}

var (
	_ connection.Transport   = (*Transport)(nil)
	_ interaction.Dispatcher = (*Transport)(nil)
)
