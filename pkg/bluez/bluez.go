package bluez

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	dbus "github.com/godbus/dbus/v5"

	"github.com/lumix-remote/lumix-go/pkg/register"
)

const (
	service          = "org.bluez"
	adapterIface     = "org.bluez.Adapter1"
	deviceIface      = "org.bluez.Device1"
	gattCharIface    = "org.bluez.GattCharacteristic1"
	objManagerIface  = "org.freedesktop.DBus.ObjectManager"
	propertiesIface  = "org.freedesktop.DBus.Properties"
	propertiesSignal = propertiesIface + ".PropertiesChanged"
)

// DefaultAdapter is used when Config.Adapter is empty.
const DefaultAdapter = "hci0"

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Config configures a Client.
type Config struct {
	// Adapter is the controller name, e.g. "hci0".
	Adapter string

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger
}

// Client talks to BlueZ on the system bus.
type Client struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	logger  *slog.Logger
}

// Open connects to the system bus.
func Open(cfg Config) (*Client, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, wrap(context.Background(), err, "system-bus", "Cannot connect to the system D-Bus")
	}
	name := cfg.Adapter
	if name == "" {
		name = DefaultAdapter
	}
	return &Client{
		conn:    conn,
		adapter: dbus.ObjectPath("/org/bluez/" + name),
		logger:  cfg.Logger,
	}, nil
}

// Close releases the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Device is a discovered peripheral.
type Device struct {
	Path    dbus.ObjectPath
	Address string
	Name    string
}

func (c *Client) object(path dbus.ObjectPath) dbus.BusObject {
	return c.conn.Object(service, path)
}

func (c *Client) managedObjects(ctx context.Context) (managedObjects, error) {
	var objs managedObjects
	err := c.object("/").CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0).Store(&objs)
	if err != nil {
		return nil, wrap(ctx, err, "get-managed-objects", "Cannot list BlueZ objects")
	}
	return objs, nil
}

// DevicePath returns the object path of address under adapter.
func DevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_"))
}

// HandleFromPath extracts the declaration handle from a characteristic
// object path such as ".../service0028/char0029".
func HandleFromPath(path dbus.ObjectPath) (uint16, bool) {
	s := string(path)
	i := strings.LastIndex(s, "/char")
	if i < 0 {
		return 0, false
	}
	suffix := s[i+len("/char"):]
	if strings.Contains(suffix, "/") || suffix == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(suffix, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// CapsFromFlags maps GattCharacteristic1 Flags onto register capabilities.
func CapsFromFlags(flags []string) register.Capability {
	var caps register.Capability
	for _, f := range flags {
		switch f {
		case "read":
			caps |= register.CapRead
		case "write":
			caps |= register.CapWrite
		case "write-without-response":
			caps |= register.CapWriteNoResponse
		case "notify", "indicate":
			caps |= register.CapNotify
		}
	}
	return caps
}

func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) Device {
	d := Device{Path: path}
	if v, ok := props["Address"]; ok {
		d.Address, _ = v.Value().(string)
	}
	if v, ok := props["Name"]; ok {
		d.Name, _ = v.Value().(string)
	} else if v, ok := props["Alias"]; ok {
		d.Name, _ = v.Value().(string)
	}
	return d
}

func wrap(ctx context.Context, err error, at, msg string) error {
	return fault.Wrap(err,
		fctx.With(ctx, "error_at", at),
		ftag.With(ftag.Internal),
		fmsg.With(msg),
	)
}

func wrapf(ctx context.Context, err error, at, format string, args ...any) error {
	return wrap(ctx, err, at, fmt.Sprintf(format, args...))
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
