// Package config loads the lumix-remote configuration file.
//
// The file is YAML. Every field is optional; missing fields keep the
// defaults from Default. Command line flags are applied on top by the
// binaries through Override.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lumix-remote/lumix-go/pkg/blecontrol"
	"github.com/lumix-remote/lumix-go/pkg/connection"
	"github.com/lumix-remote/lumix-go/pkg/remote"
	"github.com/lumix-remote/lumix-go/pkg/session"
)

// File is the configuration file layout.
type File struct {
	Transport  string `yaml:"transport"`
	Address    string `yaml:"address"`
	DeviceName string `yaml:"device_name"`
	StateFile  string `yaml:"state_file"`

	AutoConnect      bool          `yaml:"auto_connect"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	Reconnect        Reconnect     `yaml:"reconnect"`

	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	BLE  BLE  `yaml:"ble"`
	WiFi WiFi `yaml:"wifi"`
	Host Host `yaml:"host"`
	Log  Log  `yaml:"log"`
}

// Reconnect is the auto-connect cadence.
type Reconnect struct {
	Interval    time.Duration `yaml:"interval"`
	Exponential bool          `yaml:"exponential"`
}

// BLE configures the BLE transport.
type BLE struct {
	Adapter   string `yaml:"adapter"`
	Flavor    string `yaml:"flavor"`
	SyncClock bool   `yaml:"sync_clock"`
	GPS       bool   `yaml:"gps"`
}

// WiFi configures the Wi-Fi transport.
type WiFi struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	MaxMissed    int           `yaml:"max_missed"`
	Events       bool          `yaml:"events"`
	Listen       string        `yaml:"listen"`
	DragInterval time.Duration `yaml:"drag_interval"`
}

// Host configures joining this host to the camera access point.
type Host struct {
	Interface   string        `yaml:"interface"`
	JoinTimeout time.Duration `yaml:"join_timeout"`
}

// Log configures logging.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Protocol is a file receiving the CBOR protocol log. Empty disables it.
	Protocol string `yaml:"protocol"`
}

// LoadError reports a configuration file that cannot be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Default returns the built-in configuration.
func Default() *File {
	rc := remote.DefaultConfig()
	mc := rc.Monitor
	return &File{
		Transport:        "wifi",
		AutoConnect:      true,
		DiscoveryTimeout: connection.DefaultDiscoveryTimeout,
		ConnectTimeout:   connection.DefaultConnectTimeout,
		Reconnect:        Reconnect{Interval: connection.DefaultInterval},
		MaxRetries:       rc.Executor.MaxRetries,
		RetryDelay:       rc.Executor.RetryDelay,
		BLE: BLE{
			Flavor:    blecontrol.FlavorSync.String(),
			SyncClock: true,
		},
		WiFi: WiFi{
			PollInterval: mc.Keepalive.Interval,
			PollTimeout:  mc.Keepalive.Timeout,
			MaxMissed:    mc.Keepalive.MaxMissed,
			Events:       true,
			Listen:       mc.Listener.Addr,
		},
		Log: Log{Level: "info"},
	}
}

// Parse reads a configuration from YAML on top of the defaults.
func Parse(data []byte) (*File, error) {
	f := Default()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads the configuration file at path. An empty path returns the
// defaults.
func Load(path string) (*File, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	f, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, err
	}
	return f, nil
}

// Validate checks field values.
func (f *File) Validate() error {
	if _, err := f.SessionTransport(); err != nil {
		return err
	}
	if _, ok := blecontrol.ParseFlavor(f.BLE.Flavor); !ok {
		return &LoadError{Message: fmt.Sprintf("unknown BLE flavor %q (use: sync, lab)", f.BLE.Flavor)}
	}
	if _, err := ParseLevel(f.Log.Level); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"discovery_timeout":  f.DiscoveryTimeout,
		"connect_timeout":    f.ConnectTimeout,
		"reconnect.interval": f.Reconnect.Interval,
		"wifi.poll_interval": f.WiFi.PollInterval,
		"wifi.poll_timeout":  f.WiFi.PollTimeout,
	} {
		if d <= 0 {
			return &LoadError{Message: fmt.Sprintf("%s must be positive", name)}
		}
	}
	if f.MaxRetries < 0 || f.RetryDelay < 0 || f.WiFi.DragInterval < 0 || f.Host.JoinTimeout < 0 {
		return &LoadError{Message: "max_retries, retry_delay, wifi.drag_interval and host.join_timeout must not be negative"}
	}
	if f.WiFi.MaxMissed < 1 {
		return &LoadError{Message: "wifi.max_missed must be at least 1"}
	}
	return nil
}

// SessionTransport maps the transport name.
func (f *File) SessionTransport() (session.Transport, error) {
	switch strings.ToLower(f.Transport) {
	case "wifi", "wi-fi", "http":
		return session.TransportWiFi, nil
	case "ble", "bluetooth":
		return session.TransportBLE, nil
	}
	return 0, &LoadError{Message: fmt.Sprintf("unknown transport %q (use: wifi, ble)", f.Transport)}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, &LoadError{Message: fmt.Sprintf("unknown log level %q (use: debug, info, warn, error)", s)}
}

// Remote builds the remote configuration. The file must be valid.
func (f *File) Remote() (remote.Config, error) {
	if err := f.Validate(); err != nil {
		return remote.Config{}, err
	}
	rc := remote.DefaultConfig()
	rc.Transport, _ = f.SessionTransport()
	rc.Address = f.Address
	rc.StateFile = f.StateFile

	rc.Connection.AutoConnect = f.AutoConnect
	rc.Connection.DiscoveryTimeout = f.DiscoveryTimeout
	rc.Connection.ConnectTimeout = f.ConnectTimeout
	rc.Connection.Backoff = connection.FixedBackoff(f.Reconnect.Interval)
	if f.Reconnect.Exponential {
		rc.Connection.Backoff = connection.ExponentialBackoff(f.Reconnect.Interval)
	}
	rc.Executor.MaxRetries = f.MaxRetries
	rc.Executor.RetryDelay = f.RetryDelay

	rc.Adapter = f.BLE.Adapter
	rc.BLE.Flavor, _ = blecontrol.ParseFlavor(f.BLE.Flavor)
	rc.BLE.SyncClockOnLogin = f.BLE.SyncClock
	rc.BLE.GPS = f.BLE.GPS

	if f.DeviceName != "" {
		rc.WiFi.DeviceName = f.DeviceName
	}
	rc.Monitor.Keepalive.Interval = f.WiFi.PollInterval
	rc.Monitor.Keepalive.Timeout = f.WiFi.PollTimeout
	rc.Monitor.Keepalive.MaxMissed = f.WiFi.MaxMissed
	rc.Monitor.Events = f.WiFi.Events
	if f.WiFi.Listen != "" {
		rc.Monitor.Listener.Addr = f.WiFi.Listen
	}
	rc.Control.DragInterval = f.WiFi.DragInterval

	rc.HostInterface = f.Host.Interface
	rc.HostWiFi.Timeout = f.Host.JoinTimeout
	return rc, nil
}
