package bluez

import (
	"context"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	dbus "github.com/godbus/dbus/v5"

	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Scan runs discovery until a device whose name starts with prefix shows up
// or ctx ends. Devices BlueZ already knows are matched first.
func (c *Client) Scan(ctx context.Context, prefix string) (Device, error) {
	sigCh := make(chan *dbus.Signal, 16)
	c.conn.Signal(sigCh)
	defer c.conn.RemoveSignal(sigCh)

	match := []dbus.MatchOption{
		dbus.WithMatchInterface(objManagerIface),
		dbus.WithMatchMember("InterfacesAdded"),
	}
	if err := c.conn.AddMatchSignal(match...); err != nil {
		return Device{}, wrap(ctx, err, "add-match", "Cannot watch for new devices")
	}
	defer func() { _ = c.conn.RemoveMatchSignal(match...) }()

	adapter := c.object(c.adapter)
	if err := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		c.debugLog("StartDiscovery failed", "error", err)
	}
	defer func() { _ = adapter.Call(adapterIface+".StopDiscovery", 0).Err }()

	objs, err := c.managedObjects(ctx)
	if err != nil {
		return Device{}, err
	}
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), string(c.adapter)+"/") {
			continue
		}
		if d := deviceFromProps(path, props); strings.HasPrefix(d.Name, prefix) {
			c.debugLog("device found", "name", d.Name, "address", d.Address)
			return d, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return Device{}, fault.Wrap(wire.ErrDeviceNotFound,
				fctx.With(ctx, "error_at", "scan", "prefix", prefix),
				ftag.With(ftag.NotFound),
				fmsg.With("No device advertised the expected name"),
			)
		case sig, ok := <-sigCh:
			if !ok {
				return Device{}, wire.ErrDeviceNotFound
			}
			if sig == nil || sig.Name != objManagerIface+".InterfacesAdded" || len(sig.Body) < 2 {
				continue
			}
			path, _ := sig.Body[0].(dbus.ObjectPath)
			ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
			props, ok := ifaces[deviceIface]
			if !ok {
				continue
			}
			if d := deviceFromProps(path, props); strings.HasPrefix(d.Name, prefix) {
				c.debugLog("device found", "name", d.Name, "address", d.Address)
				return d, nil
			}
		}
	}
}
