package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lumix-remote/lumix-go/pkg/blecontrol"
	"github.com/lumix-remote/lumix-go/pkg/connection"
	"github.com/lumix-remote/lumix-go/pkg/hostwifi"
	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wificontrol"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Errors returned by Remote.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnsupported    = errors.New("not supported on this transport")
	ErrClosed         = errors.New("remote closed")
	ErrAlreadyStarted = errors.New("remote already started")
)

// State is the lifecycle of a Remote, not of the camera session.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Remote.
type Config struct {
	// Transport selects BLE or Wi-Fi.
	Transport session.Transport

	// Address pins the device: a BLE MAC or a camera host. Empty means
	// discover.
	Address string

	Connection connection.Config
	Executor   interaction.Config

	// BLE configures the BLE transport. BLEAdapter replaces the BlueZ
	// adapter opened on Adapter.
	BLE        blecontrol.Config
	Adapter    string
	BLEAdapter blecontrol.Adapter

	// WiFi configures the Wi-Fi transport, its control and its monitor.
	WiFi    wificontrol.Config
	Control wificontrol.ControlConfig
	Monitor wificontrol.MonitorConfig

	// HostWiFi configures joining the host to the camera access point.
	// HostNetwork replaces the NetworkManager backend opened on
	// HostInterface at first use.
	HostWiFi      hostwifi.Config
	HostInterface string
	HostNetwork   hostwifi.Backend

	// FeedCapacity is the per-subscriber event buffer.
	FeedCapacity int

	// StateFile remembers the last camera per transport. Empty disables it.
	StateFile string

	// Protocol receives protocol events. May be nil.
	Protocol log.Logger

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a Wi-Fi remote with auto-connect.
func DefaultConfig() Config {
	return Config{
		Transport:  session.TransportWiFi,
		Connection: connection.DefaultConfig(),
		Executor:   interaction.DefaultConfig(),
		BLE:        blecontrol.DefaultConfig(),
		WiFi:       wificontrol.DefaultConfig(),
		Monitor:    wificontrol.DefaultMonitorConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Transport {
	case session.TransportBLE, session.TransportWiFi:
	default:
		return fmt.Errorf("%w: transport %d", wire.ErrInvalidParameter, c.Transport)
	}
	if c.Connection.ConnectTimeout < 0 || c.Connection.DiscoveryTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", wire.ErrInvalidParameter)
	}
	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("%w: negative retry count", wire.ErrInvalidParameter)
	}
	return nil
}

// Handler runs a command with its positional arguments.
type Handler func(ctx context.Context, args []string) (any, error)

// Command is one entry of the command table.
type Command struct {
	Name  string
	Usage string
	Help  string

	// MinArgs and MaxArgs bound the argument count. MaxArgs < 0 means no
	// upper bound.
	MinArgs int
	MaxArgs int

	Run Handler
}

// RawCommand is an uninterpreted cam.cgi call.
type RawCommand struct {
	Mode   string
	Type   string
	Value  string
	Value2 string
}

// RawRegister is an uninterpreted register access. Data nil means read.
type RawRegister struct {
	Address uint16
	Data    []byte
	Ack     bool
}
