package config

import (
	"flag"
	"time"
)

// Flags holds command line values that override the file. Only flags the
// user actually set are applied.
type Flags struct {
	Path        string
	Transport   string
	Address     string
	LogLevel    string
	Protocol    string
	AutoConnect bool
	Flavor      string
	Events      bool
	Poll        time.Duration
	StateFile   string

	fs *flag.FlagSet
}

// Register defines the flags on fs.
func (fl *Flags) Register(fs *flag.FlagSet) {
	fl.fs = fs
	fs.StringVar(&fl.Path, "config", "", "Configuration file path")
	fs.StringVar(&fl.Transport, "transport", "wifi", "Transport: wifi, ble")
	fs.StringVar(&fl.Address, "address", "", "Camera host or BLE address (empty: discover)")
	fs.StringVar(&fl.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&fl.Protocol, "protocol-log", "", "Write the CBOR protocol log to this file")
	fs.BoolVar(&fl.AutoConnect, "auto-connect", true, "Reconnect automatically after a loss")
	fs.StringVar(&fl.Flavor, "ble-flavor", "sync", "BLE login flavor: sync, lab")
	fs.BoolVar(&fl.Events, "events", true, "Subscribe to pushed camera events (wifi)")
	fs.DurationVar(&fl.Poll, "poll", 2*time.Second, "State poll interval (wifi)")
	fs.StringVar(&fl.StateFile, "state-file", "", "Remember the last camera in this file")
}

// Load reads the file named by -config and applies the set flags.
func (fl *Flags) Load() (*File, error) {
	f, err := Load(fl.Path)
	if err != nil {
		return nil, err
	}
	fl.Override(f)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Override copies every explicitly set flag into f.
func (fl *Flags) Override(f *File) {
	set := map[string]bool{}
	if fl.fs != nil {
		fl.fs.Visit(func(fg *flag.Flag) { set[fg.Name] = true })
	}
	if set["transport"] {
		f.Transport = fl.Transport
	}
	if set["address"] {
		f.Address = fl.Address
	}
	if set["log-level"] {
		f.Log.Level = fl.LogLevel
	}
	if set["protocol-log"] {
		f.Log.Protocol = fl.Protocol
	}
	if set["auto-connect"] {
		f.AutoConnect = fl.AutoConnect
	}
	if set["ble-flavor"] {
		f.BLE.Flavor = fl.Flavor
	}
	if set["events"] {
		f.WiFi.Events = fl.Events
	}
	if set["poll"] {
		f.WiFi.PollInterval = fl.Poll
	}
	if set["state-file"] {
		f.StateFile = fl.StateFile
	}
}
