package hostwifi

import (
	"context"
	"fmt"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/Wifx/gonetworkmanager"
)

// scanSettle is how long NetworkManager gets to refresh its list after a
// scan request.
const scanSettle = 3 * time.Second

// NetworkManager is the Backend on the NetworkManager D-Bus API.
type NetworkManager struct {
	nm    gonetworkmanager.NetworkManager
	iface string
}

// OpenNetworkManager connects to NetworkManager. iface selects the wireless
// interface; empty picks the first one.
func OpenNetworkManager(iface string) (*NetworkManager, error) {
	nm, err := gonetworkmanager.NewNetworkManager()
	if err != nil {
		return nil, wrap(context.Background(), err, "network-manager", "Cannot reach NetworkManager")
	}
	return &NetworkManager{nm: nm, iface: iface}, nil
}

func (n *NetworkManager) device(ctx context.Context) (gonetworkmanager.DeviceWireless, error) {
	devices, err := n.nm.GetDevices()
	if err != nil {
		return nil, wrap(ctx, err, "get-devices", "Cannot list network devices")
	}
	for _, d := range devices {
		typ, err := d.GetPropertyDeviceType()
		if err != nil || typ != gonetworkmanager.NmDeviceTypeWifi {
			continue
		}
		if n.iface != "" {
			name, err := d.GetPropertyInterface()
			if err != nil || name != n.iface {
				continue
			}
		}
		w, err := gonetworkmanager.NewDeviceWireless(d.GetPath())
		if err != nil {
			return nil, wrap(ctx, err, "wireless-device", "Cannot open the wireless device")
		}
		return w, nil
	}
	if n.iface != "" {
		return nil, fmt.Errorf("no wireless device %s", n.iface)
	}
	return nil, fmt.Errorf("no wireless device")
}

// Scan implements Backend.
func (n *NetworkManager) Scan(ctx context.Context) ([]AccessPoint, error) {
	dev, err := n.device(ctx)
	if err != nil {
		return nil, err
	}
	// A refused scan (one is already running) leaves the cached list.
	if err := dev.RequestScan(); err == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(scanSettle):
		}
	}

	found, err := dev.GetAccessPoints()
	if err != nil {
		return nil, wrap(ctx, err, "access-points", "Cannot list access points")
	}
	aps := make([]AccessPoint, 0, len(found))
	for _, ap := range found {
		ssid, err := ap.GetPropertySSID()
		if err != nil || ssid == "" {
			continue
		}
		strength, _ := ap.GetPropertyStrength()
		aps = append(aps, AccessPoint{SSID: ssid, Strength: strength, Ref: ap})
	}
	return aps, nil
}

// Activate implements Backend.
func (n *NetworkManager) Activate(ctx context.Context, ap AccessPoint, psk string) (Activation, error) {
	nmAP, ok := ap.Ref.(gonetworkmanager.AccessPoint)
	if !ok {
		return nil, fmt.Errorf("access point %q was not found by this backend", ap.SSID)
	}
	dev, err := n.device(ctx)
	if err != nil {
		return nil, err
	}

	settings := map[string]map[string]interface{}{
		"connection": {
			"id":          ap.SSID,
			"type":        "802-11-wireless",
			"autoconnect": false,
		},
		"802-11-wireless": {
			"ssid": []byte(ap.SSID),
			"mode": "infrastructure",
		},
		"ipv4": {"method": "auto"},
		"ipv6": {"method": "ignore"},
	}
	if psk != "" {
		settings["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      psk,
		}
	}

	active, err := n.nm.AddAndActivateWirelessConnection(settings, dev, nmAP)
	if err != nil {
		return nil, wrap(ctx, err, "activate", "Cannot activate the camera network")
	}
	return activeConnection{active}, nil
}

type activeConnection struct {
	ac gonetworkmanager.ActiveConnection
}

func (a activeConnection) State() (State, error) {
	st, err := a.ac.GetPropertyState()
	if err != nil {
		return StateFailed, err
	}
	switch st {
	case gonetworkmanager.NmActiveConnectionStateActivated:
		return StateActivated, nil
	case gonetworkmanager.NmActiveConnectionStateDeactivating, gonetworkmanager.NmActiveConnectionStateDeactivated:
		return StateFailed, nil
	default:
		return StateActivating, nil
	}
}

func wrap(ctx context.Context, err error, at, msg string) error {
	return fault.Wrap(err,
		fctx.With(ctx, "error_at", at),
		ftag.With(ftag.Internal),
		fmsg.With(msg),
	)
}
