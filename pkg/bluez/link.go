package bluez

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"

	"github.com/lumix-remote/lumix-go/pkg/register"
)

// resolvePoll is how often Connect checks ServicesResolved.
const resolvePoll = 100 * time.Millisecond

// ErrDisconnected is returned by a Link after the device went away.
var ErrDisconnected = errors.New("bluez: device disconnected")

// Link is a connected device. It implements register.Link.
type Link struct {
	client *Client
	device dbus.ObjectPath

	mu     sync.RWMutex
	chars  map[uint16]dbus.ObjectPath
	closed bool

	onNotify     func(handle uint16, data []byte)
	onDisconnect func()

	sigCh chan *dbus.Signal
	match []dbus.MatchOption
	done  chan struct{}
	once  sync.Once
}

// LinkHandlers receives link events. Both run on the signal goroutine.
type LinkHandlers struct {
	Notify     func(handle uint16, data []byte)
	Disconnect func()
}

// Connect connects to address and waits until its services are resolved.
func (c *Client) Connect(ctx context.Context, address string, h LinkHandlers) (*Link, error) {
	path := DevicePath(c.adapter, address)
	dev := c.object(path)

	if err := dev.CallWithContext(ctx, deviceIface+".Connect", 0).Err; err != nil {
		return nil, wrapf(ctx, err, "device-connect", "Cannot connect to %s", address)
	}

	for {
		v, err := dev.GetProperty(deviceIface + ".ServicesResolved")
		if err == nil {
			if resolved, _ := v.Value().(bool); resolved {
				break
			}
		}
		select {
		case <-ctx.Done():
			_ = dev.Call(deviceIface+".Disconnect", 0).Err
			return nil, wrapf(ctx, ctx.Err(), "services-resolved", "Services of %s not resolved", address)
		case <-time.After(resolvePoll):
		}
	}

	l := &Link{
		client:       c,
		device:       path,
		onNotify:     h.Notify,
		onDisconnect: h.Disconnect,
		sigCh:        make(chan *dbus.Signal, 64),
		done:         make(chan struct{}),
		match: []dbus.MatchOption{
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace(path),
		},
	}
	c.conn.Signal(l.sigCh)
	if err := c.conn.AddMatchSignal(l.match...); err != nil {
		c.conn.RemoveSignal(l.sigCh)
		_ = dev.Call(deviceIface+".Disconnect", 0).Err
		return nil, wrap(ctx, err, "add-match", "Cannot watch device properties")
	}
	go l.watch()
	c.debugLog("device connected", "address", address)
	return l, nil
}

// watch dispatches PropertiesChanged signals until Close.
func (l *Link) watch() {
	for {
		select {
		case <-l.done:
			return
		case sig, ok := <-l.sigCh:
			if !ok {
				return
			}
			l.handleSignal(sig)
		}
	}
}

func (l *Link) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != propertiesSignal || len(sig.Body) < 2 {
		return
	}
	if !strings.HasPrefix(string(sig.Path), string(l.device)) {
		return
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)

	switch iface {
	case gattCharIface:
		v, ok := changed["Value"]
		if !ok || l.onNotify == nil {
			return
		}
		data, _ := v.Value().([]byte)
		if handle, ok := HandleFromPath(sig.Path); ok {
			l.onNotify(handle, data)
		}
	case deviceIface:
		v, ok := changed["Connected"]
		if !ok || sig.Path != l.device {
			return
		}
		if connected, _ := v.Value().(bool); !connected {
			l.markClosed()
			if l.onDisconnect != nil {
				l.onDisconnect()
			}
		}
	}
}

func (l *Link) markClosed() {
	l.mu.Lock()
	l.closed = true
	l.chars = nil
	l.mu.Unlock()
}

// Characteristics lists the GATT characteristics of the device.
func (l *Link) Characteristics(ctx context.Context) ([]register.Characteristic, error) {
	objs, err := l.client.managedObjects(ctx)
	if err != nil {
		return nil, err
	}
	prefix := string(l.device) + "/"
	chars := map[uint16]dbus.ObjectPath{}
	var out []register.Characteristic
	for path, ifaces := range objs {
		props, ok := ifaces[gattCharIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		handle, ok := HandleFromPath(path)
		if !ok {
			continue
		}
		var flags []string
		if v, ok := props["Flags"]; ok {
			flags, _ = v.Value().([]string)
		}
		var uuid string
		if v, ok := props["UUID"]; ok {
			uuid, _ = v.Value().(string)
		}
		chars[handle] = path
		out = append(out, register.Characteristic{Handle: handle, UUID: uuid, Caps: CapsFromFlags(flags)})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrDisconnected
	}
	l.chars = chars
	return out, nil
}

func (l *Link) charPath(handle uint16) (dbus.ObjectPath, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return "", ErrDisconnected
	}
	p, ok := l.chars[handle]
	if !ok {
		return "", ErrDisconnected
	}
	return p, nil
}

// Read reads the characteristic at handle.
func (l *Link) Read(ctx context.Context, handle uint16) ([]byte, error) {
	path, err := l.charPath(handle)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = l.client.object(path).CallWithContext(ctx, gattCharIface+".ReadValue", 0, map[string]dbus.Variant{}).Store(&data)
	if err != nil {
		return nil, wrapf(ctx, err, "read-value", "Cannot read handle 0x%04x", handle)
	}
	return data, nil
}

// Write writes the characteristic at handle. withResponse selects a write
// request over a write command.
func (l *Link) Write(ctx context.Context, handle uint16, data []byte, withResponse bool) error {
	path, err := l.charPath(handle)
	if err != nil {
		return err
	}
	kind := "command"
	if withResponse {
		kind = "request"
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant(kind)}
	if err := l.client.object(path).CallWithContext(ctx, gattCharIface+".WriteValue", 0, data, opts).Err; err != nil {
		return wrapf(ctx, err, "write-value", "Cannot write handle 0x%04x", handle)
	}
	return nil
}

// Subscribe starts notifications on handle.
func (l *Link) Subscribe(ctx context.Context, handle uint16) error {
	path, err := l.charPath(handle)
	if err != nil {
		return err
	}
	if err := l.client.object(path).CallWithContext(ctx, gattCharIface+".StartNotify", 0).Err; err != nil {
		return wrapf(ctx, err, "start-notify", "Cannot subscribe handle 0x%04x", handle)
	}
	return nil
}

// Close disconnects the device and stops the signal goroutine.
func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		_ = l.client.conn.RemoveMatchSignal(l.match...)
		l.client.conn.RemoveSignal(l.sigCh)
		l.markClosed()
		err = l.client.object(l.device).Call(deviceIface+".Disconnect", 0).Err
	})
	return err
}

var _ register.Link = (*Link)(nil)
