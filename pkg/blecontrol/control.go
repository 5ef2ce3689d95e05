package blecontrol

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/register"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Executor runs device calls. *interaction.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, call interaction.Call, opts ...interaction.Option) (*interaction.Result, error)
}

// Control is the BLE command vocabulary. Every command runs through the
// executor and so waits for Ready and holds the command slot.
type Control struct {
	exec Executor
	t    *Transport

	gpsMu  sync.Mutex
	gpsSeq uint32
}

// NewControl creates the command set for t.
func NewControl(exec Executor, t *Transport) *Control {
	return &Control{exec: exec, t: t, gpsSeq: gpsHeaderStart}
}

func (c *Control) write(ctx context.Context, addr uint16, values ...[]byte) error {
	for _, v := range values {
		if _, err := c.exec.Execute(ctx, register.WriteCall(addr, v)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Control) read(ctx context.Context, addr uint16) ([]byte, error) {
	res, err := c.exec.Execute(ctx, register.ReadCall(addr))
	if err != nil {
		return nil, err
	}
	data, _ := res.Payload.([]byte)
	return data, nil
}

// Capture takes a picture: half press, half release, press, release.
func (c *Control) Capture(ctx context.Context) error {
	return c.write(ctx, RegShutter,
		[]byte{shutterHalfPress}, []byte{shutterHalfRelease},
		[]byte{shutterPress}, []byte{shutterRelease})
}

// ShutterPress presses the shutter and holds it.
func (c *Control) ShutterPress(ctx context.Context) error {
	return c.write(ctx, RegShutter, []byte{shutterPress})
}

// ShutterRelease releases the shutter.
func (c *Control) ShutterRelease(ctx context.Context) error {
	return c.write(ctx, RegShutter, []byte{shutterRelease})
}

// ToggleVideo starts or stops a recording.
func (c *Control) ToggleVideo(ctx context.Context) error {
	return c.write(ctx, RegShutter, []byte{videoPress}, []byte{videoRelease})
}

func (c *Control) readString(ctx context.Context, addr uint16) (string, error) {
	data, err := c.read(ctx, addr)
	if err != nil {
		return "", err
	}
	return CString(data), nil
}

// CameraName reads the camera name.
func (c *Control) CameraName(ctx context.Context) (string, error) {
	return c.readString(ctx, c.t.Flavor().nameRegister())
}

// Model reads the camera model.
func (c *Control) Model(ctx context.Context) (string, error) {
	return c.readString(ctx, RegModel)
}

// Firmware reads the firmware version.
func (c *Control) Firmware(ctx context.Context) (string, error) {
	return c.readString(ctx, RegFirmware)
}

// Lens reads the lens description.
func (c *Control) Lens(ctx context.Context) (string, error) {
	return c.readString(ctx, RegLens)
}

// CardStatus reads the memory card slots, e.g. {"SD1": "1", "SD2": "0"}.
func (c *Control) CardStatus(ctx context.Context) (map[string]string, error) {
	data, err := c.read(ctx, RegCardStatus)
	if err != nil {
		return nil, err
	}
	return ParseCardStatus(data), nil
}

// ActivateAccessPoint asks the camera to open its Wi-Fi access point.
func (c *Control) ActivateAccessPoint(ctx context.Context) error {
	if c.t.Flavor() == FlavorLab {
		return c.write(ctx, RegLabAP, []byte{apActivate})
	}
	if err := c.write(ctx, RegAPControl, []byte{apActivate}); err != nil {
		return err
	}
	return c.write(ctx, RegWiFiMode, []byte{wifiModeAP})
}

// JoinAccessPoint asks the camera to join the network ssid.
func (c *Control) JoinAccessPoint(ctx context.Context, ssid string) error {
	if len(ssid) == 0 || len(ssid) >= SSIDSize {
		return fmt.Errorf("%w: SSID must be 1 to %d bytes", wire.ErrInvalidParameter, SSIDSize-1)
	}
	data := make([]byte, SSIDSize)
	copy(data, ssid)
	if err := c.write(ctx, RegAPSSID, data); err != nil {
		return err
	}
	return c.write(ctx, RegAPControl, []byte{apJoin})
}

// LeaveAccessPoint switches the camera back from client mode.
func (c *Control) LeaveAccessPoint(ctx context.Context) error {
	if err := c.write(ctx, RegAPControl, []byte{apLeave}); err != nil {
		return err
	}
	return c.write(ctx, RegWiFiMode, []byte{wifiModeClient})
}

// SetWiFi5GHz selects the access point band.
func (c *Control) SetWiFi5GHz(ctx context.Context, enabled bool) error {
	v := byte(0x01)
	if enabled {
		v = 0x02
	}
	_, err := c.exec.Execute(ctx, register.WriteNoAckCall(RegWiFiBand, []byte{v}))
	return err
}

// SyncClock writes now to the camera clock.
func (c *Control) SyncClock(ctx context.Context, now time.Time) error {
	return c.write(ctx, c.t.Flavor().clockRegister(), ClockData(now))
}

// SetGPS enables or disables position forwarding on the camera.
func (c *Control) SetGPS(ctx context.Context, enabled bool) error {
	v := gpsOff
	if enabled {
		v = gpsOn
	}
	return c.write(ctx, RegGPSEnable, []byte{v})
}

// SendPosition sends one GPS packet.
func (c *Control) SendPosition(ctx context.Context, lat, lon float64) error {
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return fmt.Errorf("%w: position %f,%f", wire.ErrInvalidParameter, lat, lon)
	}
	c.gpsMu.Lock()
	c.gpsSeq++
	seq := c.gpsSeq
	c.gpsMu.Unlock()
	return c.write(ctx, RegGPSData, GPSPacket(seq, lat, lon))
}

// GPSPacket packs a position: sequence header, latitude and longitude in
// 1e-7 degrees and a fixed trailer, little endian.
func GPSPacket(seq uint32, lat, lon float64) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, [4]int32{
		int32(seq),
		int32(math.Round(lat * 1e7)),
		int32(math.Round(lon * 1e7)),
		gpsTrailer,
	})
	return buf.Bytes()
}

// Read reads an arbitrary register.
func (c *Control) Read(ctx context.Context, addr uint16) ([]byte, error) {
	return c.read(ctx, addr)
}

// Write writes an arbitrary register, with or without acknowledgement.
func (c *Control) Write(ctx context.Context, addr uint16, data []byte, ack bool) error {
	call := register.WriteCall(addr, data)
	if !ack {
		call = register.WriteNoAckCall(addr, data)
	}
	_, err := c.exec.Execute(ctx, call)
	return err
}
