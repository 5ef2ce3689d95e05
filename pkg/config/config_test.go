package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumix-remote/lumix-go/pkg/blecontrol"
	"github.com/lumix-remote/lumix-go/pkg/session"
)

func TestDefaultIsValid(t *testing.T) {
	f := Default()
	require.NoError(t, f.Validate())

	rc, err := f.Remote()
	require.NoError(t, err)
	assert.Equal(t, session.TransportWiFi, rc.Transport)
	assert.True(t, rc.Connection.AutoConnect)
	assert.Equal(t, 2*time.Second, rc.Connection.Backoff.Initial)
	assert.Equal(t, 1.0, rc.Connection.Backoff.Multiplier)
	assert.Equal(t, 10, rc.Executor.MaxRetries)
	assert.Equal(t, 3, rc.Monitor.Keepalive.MaxMissed)
	assert.True(t, rc.Monitor.Events)
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(`
transport: ble
address: "AA:BB:CC:DD:EE:FF"
state_file: /var/lib/lumix/cameras.json
auto_connect: false
reconnect:
  interval: 500ms
  exponential: true
max_retries: 4
ble:
  adapter: hci1
  flavor: lab
  gps: true
wifi:
  poll_interval: 5s
host:
  interface: wlan1
  join_timeout: 45s
log:
  level: debug
`))
	require.NoError(t, err)

	rc, err := f.Remote()
	require.NoError(t, err)
	assert.Equal(t, session.TransportBLE, rc.Transport)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", rc.Address)
	assert.Equal(t, "/var/lib/lumix/cameras.json", rc.StateFile)
	assert.False(t, rc.Connection.AutoConnect)
	assert.Equal(t, 500*time.Millisecond, rc.Connection.Backoff.Initial)
	assert.Equal(t, 2.0, rc.Connection.Backoff.Multiplier)
	assert.Equal(t, 4, rc.Executor.MaxRetries)
	assert.Equal(t, "hci1", rc.Adapter)
	assert.Equal(t, blecontrol.FlavorLab, rc.BLE.Flavor)
	assert.True(t, rc.BLE.GPS)
	assert.True(t, rc.BLE.SyncClockOnLogin)
	assert.Equal(t, 5*time.Second, rc.Monitor.Keepalive.Interval)
	assert.Equal(t, "wlan1", rc.HostInterface)
	assert.Equal(t, 45*time.Second, rc.HostWiFi.Timeout)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"transport":  "transport: usb",
		"flavor":     "ble: {flavor: pro}",
		"level":      "log: {level: loud}",
		"timeout":    "connect_timeout: 0s",
		"max missed": "wifi: {max_missed: 0}",
		"retries":    "max_retries: -1",
		"yaml":       "transport: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			var le *LoadError
			assert.True(t, errors.As(err, &le), "err = %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "wifi", f.Transport)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: {level: loud}"), 0o600))
	_, err = Load(path)
	require.True(t, errors.As(err, &le))
	assert.Equal(t, path, le.File)
}

func TestFlagsOverrideOnlySetValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.yaml")
	require.NoError(t, os.WriteFile(path, []byte("address: 10.0.0.5\nwifi: {events: false}\n"), 0o600))

	var fl Flags
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fl.Register(fs)
	require.NoError(t, fs.Parse([]string{"-config", path, "-log-level", "debug", "-poll", "1s"}))

	f, err := fl.Load()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", f.Address)
	assert.False(t, f.WiFi.Events)
	assert.Equal(t, "debug", f.Log.Level)
	assert.Equal(t, time.Second, f.WiFi.PollInterval)

	require.NoError(t, fs.Parse([]string{"-transport", "zigbee"}))
	_, err = fl.Load()
	assert.Error(t, err)
}
